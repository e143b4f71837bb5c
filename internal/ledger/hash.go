package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"ticket-ledger/models"
)

// encMode produces Core Deterministic CBOR: the same logical block always
// encodes to the same bytes, which is what the hashes commit to.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
}

// Keys holds the key material derived from the ledger secret. Each purpose
// gets its own key so a signature for one can never be replayed as another.
type Keys struct {
	Block       [32]byte
	Transaction [32]byte
	Payload     [32]byte
}

const (
	infoBlock       = "ticket-ledger block hash v1"
	infoTransaction = "ticket-ledger transaction signature v1"
	infoPayload     = "ticket-ledger qr payload v1"
)

func DeriveKeys(secret []byte) (Keys, error) {
	if len(secret) == 0 {
		return Keys{}, errors.New("ledger: empty secret")
	}

	var keys Keys
	for _, k := range []struct {
		info string
		dst  []byte
	}{
		{infoBlock, keys.Block[:]},
		{infoTransaction, keys.Transaction[:]},
		{infoPayload, keys.Payload[:]},
	} {
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(k.info)), k.dst); err != nil {
			return Keys{}, fmt.Errorf("ledger: derive %s key: %w", k.info, err)
		}
	}
	return keys, nil
}

type txPreimage struct {
	TicketID          string `cbor:"1,keyasint"`
	TimestampMs       int64  `cbor:"2,keyasint"`
	Action            string `cbor:"3,keyasint"`
	FromUserID        string `cbor:"4,keyasint,omitempty"`
	ToUserID          string `cbor:"5,keyasint,omitempty"`
	EventID           string `cbor:"6,keyasint"`
	Outcome           string `cbor:"7,keyasint,omitempty"`
	RegistrationToken string `cbor:"8,keyasint,omitempty"`
}

type signedTx struct {
	Body      txPreimage `cbor:"1,keyasint"`
	Signature string     `cbor:"2,keyasint"`
}

type blockPreimage struct {
	Index        int64      `cbor:"1,keyasint"`
	PreviousHash string     `cbor:"2,keyasint"`
	TimestampMs  int64      `cbor:"3,keyasint"`
	Transactions []signedTx `cbor:"4,keyasint"`
	Nonce        int64      `cbor:"5,keyasint"`
}

func preimageOf(tx models.LedgerTransaction) txPreimage {
	return txPreimage{
		TicketID:          tx.TicketID,
		TimestampMs:       tx.Timestamp.UnixMilli(),
		Action:            string(tx.Action),
		FromUserID:        tx.FromUserID,
		ToUserID:          tx.ToUserID,
		EventID:           tx.EventID,
		Outcome:           tx.Outcome,
		RegistrationToken: tx.RegistrationToken,
	}
}

// hasher computes transaction signatures and block hashes.
type hasher struct {
	keys Keys
}

// Sign returns the keyed BLAKE3 hash of every transaction field except the
// signature itself.
func (h hasher) Sign(tx models.LedgerTransaction) (string, error) {
	data, err := encMode.Marshal(preimageOf(tx))
	if err != nil {
		return "", fmt.Errorf("ledger: encode transaction: %w", err)
	}
	return keyedHash(h.keys.Transaction, data)
}

// HashBlock commits to index, previous hash, timestamp, the signed
// transactions and the nonce. The block's own Hash field is ignored.
func (h hasher) HashBlock(b models.LedgerBlock) (string, error) {
	pre := blockPreimage{
		Index:        b.Index,
		PreviousHash: b.PreviousHash,
		TimestampMs:  b.Timestamp.UnixMilli(),
		Transactions: make([]signedTx, 0, len(b.Transactions)),
		Nonce:        b.Nonce,
	}
	for _, tx := range b.Transactions {
		pre.Transactions = append(pre.Transactions, signedTx{Body: preimageOf(tx), Signature: tx.Signature})
	}

	data, err := encMode.Marshal(pre)
	if err != nil {
		return "", fmt.Errorf("ledger: encode block %d: %w", b.Index, err)
	}
	return keyedHash(h.keys.Block, data)
}

func keyedHash(key [32]byte, data []byte) (string, error) {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		return "", fmt.Errorf("ledger: keyed hash: %w", err)
	}
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

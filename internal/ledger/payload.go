package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ticket-ledger/models"
	"ticket-ledger/utils"
)

// PayloadClaims is the content of a ticket QR code. The subject is the
// ticket id.
type PayloadClaims struct {
	EventID string `json:"eid"`
	UserID  string `json:"uid"`
	jwt.RegisteredClaims
}

func (c *PayloadClaims) TicketID() string { return c.Subject }

type PayloadReason string

const (
	PayloadOK             PayloadReason = "ok"
	PayloadMalformed      PayloadReason = "malformed"
	PayloadBadSignature   PayloadReason = "bad_signature"
	PayloadTicketMismatch PayloadReason = "ticket_mismatch"
	PayloadExpired        PayloadReason = "expired"
	PayloadAlreadyUsed    PayloadReason = "already_used"
)

type PayloadCheck struct {
	Valid  bool           `json:"valid"`
	Reason PayloadReason  `json:"reason"`
	Claims *PayloadClaims `json:"claims,omitempty"`
	UsedAt *time.Time     `json:"usedAt,omitempty"`
}

type payloadSigner struct {
	key []byte
	ttl time.Duration
}

// issue signs an HS256 token valid until ttl after the later of now and the
// event start.
func (s payloadSigner) issue(t *models.Ticket, eventStartsAt, now time.Time) (string, error) {
	nonce, err := utils.GenerateCode(4)
	if err != nil {
		return "", fmt.Errorf("ledger: payload nonce: %w", err)
	}

	validFrom := now
	if eventStartsAt.After(now) {
		validFrom = eventStartsAt
	}

	claims := PayloadClaims{
		EventID: t.EventID,
		UserID:  t.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   t.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(validFrom.Add(s.ttl)),
			ID:        nonce,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("ledger: sign payload: %w", err)
	}
	return signed, nil
}

// parse reports the first failing check: structure, signature, subject,
// then expiry.
func (s payloadSigner) parse(ticketID, payload string, now time.Time) (*PayloadClaims, PayloadReason) {
	if payload == "" {
		return nil, PayloadMalformed
	}

	claims := &PayloadClaims{}
	_, err := jwt.ParseWithClaims(payload, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(ticketID),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	switch {
	case err == nil:
		return claims, PayloadOK
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, PayloadBadSignature
	case errors.Is(err, jwt.ErrTokenInvalidSubject):
		return claims, PayloadTicketMismatch
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, PayloadExpired
	default:
		return nil, PayloadMalformed
	}
}

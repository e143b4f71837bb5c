// Package ledger keeps the append-only, hash-chained audit log of ticket
// events and signs the QR payloads printed on tickets.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
	"ticket-ledger/utils"
)

// Ledger is the contract business components depend on.
type Ledger interface {
	AddTransaction(tx models.LedgerTransaction) error
	ProcessPendingTransactions(ctx context.Context) (*models.LedgerBlock, error)
	VerifyChain() (int, bool)
	TicketHistory(ticketID string) []models.LedgerTransaction
	UsageOf(ticketID string) (time.Time, bool)
	IssueTicketPayload(t *models.Ticket, eventStartsAt time.Time) (string, error)
	VerifyTicketPayload(ticketID, payload string, now time.Time) PayloadCheck
}

// BlockStore persists blocks. AppendBlock must refuse to overwrite an
// existing index with status.ErrVersionConflict.
type BlockStore interface {
	AppendBlock(ctx context.Context, b models.LedgerBlock) error
	LoadBlocks(ctx context.Context) ([]models.LedgerBlock, error)
}

type Config struct {
	Secret     []byte
	PayloadTTL time.Duration
}

// Chain is the Ledger implementation. The in-memory chain mirrors the
// persisted blocks; pending transactions live only in memory until a flush.
type Chain struct {
	store  BlockStore
	hasher hasher
	signer payloadSigner
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	blocks   []models.LedgerBlock
	pending  []models.LedgerTransaction
	byTicket map[string][]models.LedgerTransaction
}

var _ Ledger = (*Chain)(nil)

func NewChain(store BlockStore, cfg Config) (*Chain, error) {
	keys, err := DeriveKeys(cfg.Secret)
	if err != nil {
		return nil, err
	}
	if cfg.PayloadTTL <= 0 {
		cfg.PayloadTTL = 72 * time.Hour
	}

	return &Chain{
		store:    store,
		hasher:   hasher{keys: keys},
		signer:   payloadSigner{key: keys.Payload[:], ttl: cfg.PayloadTTL},
		now:      utils.Now,
		logger:   slog.Default().With("component", "ledger"),
		byTicket: make(map[string][]models.LedgerTransaction),
	}, nil
}

// Load replaces the in-memory chain with the persisted one, writing a genesis
// block first when the store is empty. A chain that fails verification is
// still loaded so it can be inspected; the failure is logged and exported.
func (c *Chain) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.reloadLocked(ctx); err != nil {
		return err
	}
	if err := c.ensureGenesisLocked(ctx); err != nil {
		return err
	}

	badIndex, ok := c.verifyLocked()
	monitoring.RecordChainValid(ok)
	if !ok {
		c.logger.Error("Ledger chain failed verification on load", "block_index", badIndex, "height", len(c.blocks))
	} else {
		c.logger.Info("Ledger loaded", "height", len(c.blocks))
	}
	return nil
}

func (c *Chain) reloadLocked(ctx context.Context) error {
	blocks, err := c.store.LoadBlocks(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load blocks: %w", err)
	}

	c.blocks = blocks
	c.byTicket = make(map[string][]models.LedgerTransaction)
	for _, b := range blocks {
		c.indexLocked(b.Transactions)
	}
	return nil
}

func (c *Chain) ensureGenesisLocked(ctx context.Context) error {
	if len(c.blocks) > 0 {
		return nil
	}

	genesis := models.LedgerBlock{
		Index:        0,
		Timestamp:    c.now(),
		PreviousHash: models.GenesisPreviousHash,
		Transactions: []models.LedgerTransaction{},
	}
	hash, err := c.hasher.HashBlock(genesis)
	if err != nil {
		return err
	}
	genesis.Hash = hash

	err = c.store.AppendBlock(ctx, genesis)
	if errors.Is(err, status.ErrVersionConflict) {
		// Another process wrote genesis first.
		return c.reloadLocked(ctx)
	}
	if err != nil {
		return status.Wrap(status.KindLedgerWriteFailed, "ledger: persist genesis block", err)
	}

	c.blocks = append(c.blocks, genesis)
	return nil
}

// AddTransaction signs tx and queues it for the next block.
func (c *Chain) AddTransaction(tx models.LedgerTransaction) error {
	if tx.TicketID == "" {
		return status.New(status.KindInvalidRequest, "ledger: transaction without ticket id")
	}
	if !tx.Action.Valid() {
		return status.New(status.KindInvalidRequest, fmt.Sprintf("ledger: unknown action %q", tx.Action))
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = c.now()
	} else {
		tx.Timestamp = tx.Timestamp.UTC().Truncate(time.Millisecond)
	}

	sig, err := c.hasher.Sign(tx)
	if err != nil {
		return err
	}
	tx.Signature = sig

	c.mu.Lock()
	c.pending = append(c.pending, tx)
	pending := len(c.pending)
	c.mu.Unlock()

	monitoring.RecordPending(pending)
	return nil
}

// ProcessPendingTransactions seals every pending transaction into one block.
// It returns nil when there is nothing to seal. When persistence fails the
// transactions stay pending for the next attempt.
func (c *Chain) ProcessPendingTransactions(ctx context.Context) (*models.LedgerBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil, nil
	}
	if err := c.ensureGenesisLocked(ctx); err != nil {
		return nil, err
	}

	block, err := c.sealLocked(ctx)
	if errors.Is(err, status.ErrVersionConflict) {
		// Another writer extended the chain; rebase on top of it once.
		c.logger.Warn("Ledger head moved, reloading chain", "height", len(c.blocks))
		if err := c.reloadLocked(ctx); err != nil {
			return nil, err
		}
		block, err = c.sealLocked(ctx)
	}
	if err != nil {
		return nil, status.Wrap(status.KindLedgerWriteFailed, "ledger: persist block", err)
	}

	c.blocks = append(c.blocks, *block)
	c.indexLocked(block.Transactions)
	c.pending = nil
	monitoring.RecordBlock(0)

	c.logger.Debug("Ledger block appended", "index", block.Index, "transactions", len(block.Transactions))
	out := cloneBlock(*block)
	return &out, nil
}

func (c *Chain) sealLocked(ctx context.Context) (*models.LedgerBlock, error) {
	if len(c.blocks) == 0 {
		return nil, errors.New("ledger: chain has no genesis block")
	}
	prev := c.blocks[len(c.blocks)-1]
	block := models.LedgerBlock{
		Index:        prev.Index + 1,
		Timestamp:    c.now(),
		PreviousHash: prev.Hash,
		Nonce:        0,
		Transactions: append([]models.LedgerTransaction(nil), c.pending...),
	}

	hash, err := c.hasher.HashBlock(block)
	if err != nil {
		return nil, err
	}
	block.Hash = hash

	if err := c.store.AppendBlock(ctx, block); err != nil {
		return nil, err
	}
	return &block, nil
}

// VerifyChain walks the chain from genesis and returns the index of the first
// block that fails, or -1 and true when the whole chain is intact.
func (c *Chain) VerifyChain() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.verifyLocked()
}

func (c *Chain) verifyLocked() (int, bool) {
	for i, b := range c.blocks {
		if b.Index != int64(i) {
			return i, false
		}
		if i == 0 {
			if b.PreviousHash != models.GenesisPreviousHash {
				return i, false
			}
		} else if b.PreviousHash != c.blocks[i-1].Hash {
			return i, false
		}

		for _, tx := range b.Transactions {
			sig, err := c.hasher.Sign(tx)
			if err != nil || sig != tx.Signature {
				return i, false
			}
		}

		hash, err := c.hasher.HashBlock(b)
		if err != nil || hash != b.Hash {
			return i, false
		}
	}
	return -1, true
}

func (c *Chain) Blocks() []models.LedgerBlock {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.LedgerBlock, len(c.blocks))
	for i, b := range c.blocks {
		out[i] = cloneBlock(b)
	}
	return out
}

func (c *Chain) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.blocks)
}

func (c *Chain) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// TicketHistory returns committed then pending transactions for a ticket in
// the order they were recorded.
func (c *Chain) TicketHistory(ticketID string) []models.LedgerTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := append([]models.LedgerTransaction(nil), c.byTicket[ticketID]...)
	for _, tx := range c.pending {
		if tx.TicketID == ticketID {
			history = append(history, tx)
		}
	}
	return history
}

// UsageOf reports when the ledger last recorded a use of the ticket.
func (c *Chain) UsageOf(ticketID string) (time.Time, bool) {
	history := c.TicketHistory(ticketID)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Action == models.ActionUse {
			return history[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

func (c *Chain) IssueTicketPayload(t *models.Ticket, eventStartsAt time.Time) (string, error) {
	return c.signer.issue(t, eventStartsAt, c.now())
}

// VerifyTicketPayload checks a scanned payload against the ticket id and the
// ledger's own record of use.
func (c *Chain) VerifyTicketPayload(ticketID, payload string, now time.Time) PayloadCheck {
	claims, reason := c.signer.parse(ticketID, payload, now)
	if reason != PayloadOK {
		return PayloadCheck{Valid: false, Reason: reason, Claims: claims}
	}

	if usedAt, used := c.UsageOf(ticketID); used {
		return PayloadCheck{Valid: false, Reason: PayloadAlreadyUsed, Claims: claims, UsedAt: &usedAt}
	}
	return PayloadCheck{Valid: true, Reason: PayloadOK, Claims: claims}
}

func (c *Chain) indexLocked(txs []models.LedgerTransaction) {
	for _, tx := range txs {
		c.byTicket[tx.TicketID] = append(c.byTicket[tx.TicketID], tx)
	}
}

func cloneBlock(b models.LedgerBlock) models.LedgerBlock {
	b.Transactions = append([]models.LedgerTransaction(nil), b.Transactions...)
	return b
}

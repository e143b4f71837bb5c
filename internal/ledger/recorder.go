package ledger

import (
	"context"
	"errors"
	"log/slog"

	"ticket-ledger/models"
	"ticket-ledger/monitoring"
	"ticket-ledger/utils"
)

// Recorder writes ledger entries on behalf of business operations. Ledger
// failures are logged and counted, never returned. Flushes go through a
// circuit breaker.
type Recorder struct {
	ledger  Ledger
	breaker *utils.CircuitBreaker
	logger  *slog.Logger
}

func NewRecorder(l Ledger, settings utils.BreakerSettings) *Recorder {
	return &Recorder{
		ledger:  l,
		breaker: utils.NewCircuitBreaker("ledger", settings),
		logger:  slog.Default().With("component", "ledger"),
	}
}

func (r *Recorder) Ledger() Ledger { return r.ledger }

func (r *Recorder) Record(txs ...models.LedgerTransaction) {
	for _, tx := range txs {
		if err := r.ledger.AddTransaction(tx); err != nil {
			monitoring.RecordLedgerFailure("add_transaction")
			r.logger.Error("Failed to record ledger transaction",
				"error", err, "ticket_id", tx.TicketID, "action", tx.Action)
		}
	}
}

// Flush seals pending transactions into a block. It returns the new block,
// or nil when nothing was sealed.
func (r *Recorder) Flush(ctx context.Context) *models.LedgerBlock {
	result, err := r.breaker.Execute(ctx, func() (any, error) {
		return r.ledger.ProcessPendingTransactions(ctx)
	})
	if err != nil {
		op := "flush"
		if errors.Is(err, utils.ErrOpenState) || errors.Is(err, utils.ErrTooManyRequests) {
			op = "breaker_open"
		}
		monitoring.RecordLedgerFailure(op)
		r.logger.Error("Failed to flush ledger", "error", err, "breaker_state", r.breaker.State().String())
		return nil
	}

	block, _ := result.(*models.LedgerBlock)
	return block
}

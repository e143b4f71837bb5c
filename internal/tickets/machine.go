// Package tickets drives tickets through their lifecycle: purchase,
// verification at the gate, cancellation and transfer.
package tickets

import (
	"context"
	"log/slog"
	"time"

	"ticket-ledger/internal/cache"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/notify"
	"ticket-ledger/internal/policy"
	"ticket-ledger/internal/repository"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
	"ticket-ledger/utils"
)

const (
	DefaultFutureSkewTolerance = 5 * time.Minute

	capacityAttempts = 5
)

// LimitChecker decides whether a user may acquire more tickets.
type LimitChecker interface {
	CheckPurchaseLimits(ctx context.Context, userID, eventID string, quantity int) (policy.Decision, error)
}

type Config struct {
	// FutureSkewTolerance bounds how far in the future a recorded usage
	// timestamp may be before it is reported as suspicious.
	FutureSkewTolerance time.Duration
}

type Machine struct {
	events        *repository.EventRepository
	registrations *repository.RegistrationRepository
	tickets       *repository.TicketRepository
	payments      *repository.PaymentRepository
	recorder      *ledger.Recorder
	limits        LimitChecker
	cache         cache.UserCache
	notifier      notify.Notifier
	cfg           Config
	now           func() time.Time
	logger        *slog.Logger
}

func NewMachine(repos *repository.Repositories, recorder *ledger.Recorder, limits LimitChecker, userCache cache.UserCache, notifier notify.Notifier, cfg Config) *Machine {
	if cfg.FutureSkewTolerance <= 0 {
		cfg.FutureSkewTolerance = DefaultFutureSkewTolerance
	}
	if userCache == nil {
		userCache = cache.NopCache{}
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Machine{
		events:        repos.Events,
		registrations: repos.Registrations,
		tickets:       repos.Tickets,
		payments:      repos.Payments,
		recorder:      recorder,
		limits:        limits,
		cache:         userCache,
		notifier:      notifier,
		cfg:           cfg,
		now:           utils.Now,
		logger:        slog.Default().With("component", "tickets"),
	}
}

func (m *Machine) checkLimits(ctx context.Context, userID, eventID string, quantity int) error {
	decision, err := m.limits.CheckPurchaseLimits(ctx, userID, eventID, quantity)
	if err != nil {
		return err
	}
	return decision.Err()
}

// ListUserTickets returns every ticket held by userID, served from the user
// cache when possible.
func (m *Machine) ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	if userID == "" {
		return nil, status.ErrUnauthenticated
	}
	if cached, ok := m.cache.GetTickets(ctx, userID); ok {
		return cached, nil
	}

	tickets, err := m.tickets.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.cache.SetTickets(ctx, userID, tickets)
	return tickets, nil
}

// History returns the ledger trail of a ticket. Only its holder or an
// operator may read it.
func (m *Machine) History(ctx context.Context, actor models.Actor, ticketID string) ([]models.LedgerTransaction, error) {
	t, err := m.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !actor.IsOperator() && t.UserID != actor.UserID {
		return nil, status.New(status.KindForbidden, "ticket belongs to another user")
	}
	return m.recorder.Ledger().TicketHistory(ticketID), nil
}

func (m *Machine) notify(ctx context.Context, userID string, body map[string]any) {
	if err := m.notifier.Notify(ctx, userID, body); err != nil {
		m.logger.Warn("Failed to notify user", "error", err, "user_id", userID, "type", body["type"])
	}
}

// Package allocation runs lottery sign-ups and the lottery draw.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/notify"
	"ticket-ledger/internal/repository"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
	"ticket-ledger/utils"
)

const (
	DefaultMaxPerUser = 2
	DefaultLeaseTTL   = 10 * time.Minute

	finishAttempts = 3
)

type Config struct {
	// MaxPerUser caps the tickets one user can win across all zones of an event.
	MaxPerUser int
	// LeaseTTL is how long a running draw claim blocks other operators.
	LeaseTTL time.Duration
}

type Engine struct {
	events        *repository.EventRepository
	registrations *repository.RegistrationRepository
	tickets       *repository.TicketRepository
	recorder      *ledger.Recorder
	notifier      notify.Notifier
	shuffler      Shuffler
	cfg           Config
	now           func() time.Time
	logger        *slog.Logger
}

func NewEngine(repos *repository.Repositories, recorder *ledger.Recorder, notifier notify.Notifier, cfg Config) *Engine {
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = DefaultMaxPerUser
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Engine{
		events:        repos.Events,
		registrations: repos.Registrations,
		tickets:       repos.Tickets,
		recorder:      recorder,
		notifier:      notifier,
		shuffler:      CryptoShuffler{},
		cfg:           cfg,
		now:           utils.Now,
		logger:        slog.Default().With("component", "allocation"),
	}
}

type RegisterRequest struct {
	EventID  string `json:"eventId"`
	ZoneName string `json:"zoneName"`
	Quantity int    `json:"quantity"`
}

// Register signs a user up for an event's lottery. A user holds at most one
// registration per event.
func (e *Engine) Register(ctx context.Context, userID string, req RegisterRequest) (*models.Registration, error) {
	if userID == "" {
		return nil, status.ErrUnauthenticated
	}
	if req.EventID == "" || req.ZoneName == "" {
		return nil, status.New(status.KindInvalidRequest, "eventId and zoneName are required")
	}
	if req.Quantity < 1 || req.Quantity > e.cfg.MaxPerUser {
		return nil, status.New(status.KindInvalidRequest,
			fmt.Sprintf("quantity must be between 1 and %d", e.cfg.MaxPerUser))
	}

	event, err := e.events.Get(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if !event.IsDrawMode {
		return nil, status.New(status.KindInvalidRequest, fmt.Sprintf("event %s is not a lottery event", event.ID))
	}
	if event.IsDrawn || event.DrawState != models.DrawIdle {
		return nil, status.New(status.KindInvalidState, "lottery registration is closed")
	}
	if _, ok := event.Zones[req.ZoneName]; !ok {
		return nil, status.New(status.KindInvalidRequest, fmt.Sprintf("zone %s does not exist", req.ZoneName))
	}

	existing, err := e.registrations.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, reg := range existing {
		if reg.EventID == event.ID {
			return nil, status.New(status.KindInvalidState, "already registered for this event")
		}
	}

	reg := &models.Registration{
		Token:     uuid.NewString(),
		UserID:    userID,
		EventID:   event.ID,
		ZoneName:  req.ZoneName,
		Quantity:  req.Quantity,
		Status:    models.RegistrationRegistered,
		CreatedAt: e.now(),
	}
	if err := e.registrations.Create(ctx, reg); err != nil {
		return nil, err
	}

	e.logger.Info("Lottery registration created", "event_id", event.ID, "user_id", userID, "zone", req.ZoneName, "quantity", req.Quantity)
	return reg, nil
}

// Draw runs the lottery for a draw-mode event. On a failure after the draw
// was claimed it returns the partial result together with the error.
func (e *Engine) Draw(ctx context.Context, eventID string, operator models.Actor) (*DrawResult, error) {
	started := time.Now()
	result, err := e.draw(ctx, eventID, operator)

	outcome := "ok"
	if err != nil {
		outcome = string(status.KindOf(err))
	}
	monitoring.RecordDraw(outcome, time.Since(started))
	return result, err
}

func (e *Engine) draw(ctx context.Context, eventID string, operator models.Actor) (*DrawResult, error) {
	if !operator.IsOperator() {
		return nil, status.New(status.KindForbidden, "only operators can run the lottery draw")
	}
	if eventID == "" {
		return nil, status.New(status.KindInvalidRequest, "eventId is required")
	}

	event, err := e.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsDrawMode {
		return nil, status.New(status.KindInvalidRequest, fmt.Sprintf("event %s is not a lottery event", eventID))
	}
	if event.IsDrawn || event.DrawState == models.DrawCompleted {
		return nil, status.New(status.KindAlreadyDrawn, fmt.Sprintf("lottery for event %s has already been drawn", eventID))
	}

	regs, err := e.registrations.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	resumed := event.DrawState == models.DrawRunning
	if !resumed && eligible(regs) == 0 {
		return nil, status.New(status.KindNoEligibleEntrants, "no eligible registrations for this event")
	}

	if err := e.claim(ctx, event); err != nil {
		return nil, err
	}
	logger := e.logger.With("event_id", eventID, "operator", operator.UserID)
	logger.Info("Lottery draw started", "registrations", len(regs), "resumed", resumed)

	result := newDrawResult(eventID, resumed)
	capacity := make(map[string]int, len(event.Zones))
	seats := make(map[string]int, len(event.Zones))
	for name, z := range event.Zones {
		capacity[name] = z.Remaining
		seats[name] = z.SeatsIssued
	}

	// A resumed draw already granted some registrations before it stopped.
	perUser := make(map[string]int)
	for i := range regs {
		reg := &regs[i]
		switch reg.Status {
		case models.RegistrationWon:
			capacity[reg.ZoneName] -= reg.Quantity
			seats[reg.ZoneName] += reg.Quantity
			perUser[reg.UserID] += reg.Quantity
			result.add(reg)
		case models.RegistrationLost:
			result.add(reg)
		}
	}

	var leftovers map[string][]models.Ticket
	if resumed {
		leftovers, err = e.recoverTickets(ctx, eventID, regs, seats)
		if err != nil {
			return result, status.Wrap(status.KindInternal, "lottery draw failed", err)
		}
	}

	order, err := e.shuffler.Permutation(len(regs))
	if err != nil {
		return result, status.Wrap(status.KindInternal, "lottery draw failed", err)
	}

	now := e.now()
	drawTicket := models.DrawTicketID(eventID)
	for _, i := range order {
		reg := &regs[i]
		if reg.Status.IsTerminal() {
			continue
		}

		_, zoneExists := event.Zones[reg.ZoneName]
		grant := zoneExists &&
			reg.Quantity > 0 &&
			capacity[reg.ZoneName] >= reg.Quantity &&
			perUser[reg.UserID]+reg.Quantity <= e.cfg.MaxPerUser

		outcome := models.OutcomeLost
		if grant {
			ids, err := e.mint(ctx, event, reg, seats, now)
			if err != nil {
				logger.Error("Failed to mint lottery tickets", "error", err, "registration", reg.Token)
				return result, status.Wrap(status.KindInternal, "lottery draw failed", err)
			}
			capacity[reg.ZoneName] -= reg.Quantity
			perUser[reg.UserID] += reg.Quantity
			reg.TicketIDs = ids
			reg.Status = models.RegistrationWon
			outcome = models.OutcomeWon
		} else {
			if err := e.discard(ctx, leftovers[reg.Token], now); err != nil {
				logger.Error("Failed to cancel leftover tickets", "error", err, "registration", reg.Token)
				return result, status.Wrap(status.KindInternal, "lottery draw failed", err)
			}
			reg.Status = models.RegistrationLost
		}
		reg.DrawnAt = &now

		if err := e.registrations.SaveIfVersion(ctx, reg); err != nil {
			logger.Error("Failed to save registration", "error", err, "registration", reg.Token)
			return result, status.Wrap(status.KindInternal, "lottery draw failed", err)
		}

		for _, id := range reg.TicketIDs {
			e.recorder.Record(models.LedgerTransaction{
				TicketID:          id,
				Timestamp:         now,
				Action:            models.ActionCreate,
				ToUserID:          reg.UserID,
				EventID:           eventID,
				RegistrationToken: reg.Token,
			})
		}
		e.recorder.Record(models.LedgerTransaction{
			TicketID:          drawTicket,
			Timestamp:         now,
			Action:            models.ActionAllocate,
			ToUserID:          reg.UserID,
			EventID:           eventID,
			Outcome:           outcome,
			RegistrationToken: reg.Token,
		})

		if grant {
			monitoring.RecordMinted(reg.ZoneName, reg.Quantity)
		}
		monitoring.RecordEntry(outcome)
		result.add(reg)
	}

	if err := e.finish(ctx, event, capacity, seats, now); err != nil {
		logger.Error("Failed to complete lottery draw", "error", err)
		return result, err
	}

	e.recorder.Flush(ctx)
	e.recorder.Record(models.LedgerTransaction{
		TicketID:   drawTicket,
		Timestamp:  now,
		Action:     models.ActionDrawComplete,
		FromUserID: operator.UserID,
		EventID:    eventID,
	})
	e.recorder.Flush(ctx)

	failed := notify.Broadcast(ctx, e.notifier, resultMessages(eventID, result))
	logger.Info("Lottery draw completed",
		"total", result.Stats.Total,
		"winners", result.Stats.Winners,
		"losers", result.Stats.Losers,
		"tickets_minted", result.Stats.TicketsMinted,
		"notify_failures", failed)

	return result, nil
}

// claim marks the draw running with a CAS on the event. A running claim
// younger than the lease belongs to someone else.
func (e *Engine) claim(ctx context.Context, event *models.Event) error {
	now := e.now()
	if event.DrawState == models.DrawRunning && event.DrawStartedAt != nil &&
		now.Sub(*event.DrawStartedAt) < e.cfg.LeaseTTL {
		return status.New(status.KindAlreadyDrawn, "lottery draw already in progress")
	}

	event.DrawState = models.DrawRunning
	event.DrawStartedAt = &now
	if err := e.events.SaveIfVersion(ctx, event); err != nil {
		if errors.Is(err, status.ErrVersionConflict) {
			return status.Wrap(status.KindAlreadyDrawn, "lottery draw already in progress", err)
		}
		return fmt.Errorf("claim draw: %w", err)
	}
	return nil
}

// mint creates the reserved tickets of a winning registration. Ticket ids
// derive from the registration token so a resumed draw overwrites rather
// than duplicates.
func (e *Engine) mint(ctx context.Context, event *models.Event, reg *models.Registration, seats map[string]int, now time.Time) ([]string, error) {
	ids := make([]string, 0, reg.Quantity)
	next := seats[reg.ZoneName]
	for n := 1; n <= reg.Quantity; n++ {
		next++
		t := &models.Ticket{
			ID:                models.LotteryTicketID(reg.Token, n),
			EventID:           event.ID,
			UserID:            reg.UserID,
			Zone:              reg.ZoneName,
			SeatNumber:        models.SeatNumber(reg.ZoneName, next),
			Status:            models.TicketReserved,
			RegistrationToken: reg.Token,
			CreatedAt:         now,
		}
		payload, err := e.recorder.Ledger().IssueTicketPayload(t, event.StartsAt)
		if err != nil {
			return nil, err
		}
		t.QRPayload = payload

		if err := e.tickets.Save(ctx, t); err != nil {
			return nil, err
		}
		ids = append(ids, t.ID)
	}
	seats[reg.ZoneName] = next
	return ids, nil
}

// recoverTickets inspects what an interrupted run stored. Seat counters move
// past every seat already printed, and tickets of registrations that were
// never marked are returned by registration token.
func (e *Engine) recoverTickets(ctx context.Context, eventID string, regs []models.Registration, seats map[string]int) (map[string][]models.Ticket, error) {
	stored, err := e.tickets.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	open := make(map[string]bool)
	for _, reg := range regs {
		if !reg.Status.IsTerminal() {
			open[reg.Token] = true
		}
	}

	leftovers := make(map[string][]models.Ticket)
	for _, t := range stored {
		if n, ok := models.SeatOrdinal(t.Zone, t.SeatNumber); ok && n > seats[t.Zone] {
			seats[t.Zone] = n
		}
		if open[t.RegistrationToken] && t.Status == models.TicketReserved {
			leftovers[t.RegistrationToken] = append(leftovers[t.RegistrationToken], t)
		}
	}
	return leftovers, nil
}

// discard cancels tickets minted for a registration that ended up losing.
// Their seat numbers are not reused.
func (e *Engine) discard(ctx context.Context, tickets []models.Ticket, now time.Time) error {
	for i := range tickets {
		t := &tickets[i]
		t.Status = models.TicketCancelled
		t.CancelledAt = &now
		if err := e.tickets.SaveIfVersion(ctx, t); err != nil {
			return err
		}
		e.logger.Warn("Cancelled ticket left by an interrupted draw", "ticket_id", t.ID, "seat", t.SeatNumber)
	}
	return nil
}

// finish commits the zone counters and closes the draw.
func (e *Engine) finish(ctx context.Context, event *models.Event, capacity, seats map[string]int, now time.Time) error {
	for attempt := 1; ; attempt++ {
		for name, z := range event.Zones {
			z.Remaining = capacity[name]
			z.SeatsIssued = seats[name]
			event.Zones[name] = z
		}
		event.IsDrawn = true
		event.DrawState = models.DrawCompleted
		event.DrawnAt = &now

		err := e.events.SaveIfVersion(ctx, event)
		if err == nil {
			return nil
		}
		if !errors.Is(err, status.ErrVersionConflict) || attempt == finishAttempts {
			return status.Wrap(status.KindInternal, "lottery draw failed", err)
		}

		fresh, err := e.events.Get(ctx, event.ID)
		if err != nil {
			return status.Wrap(status.KindInternal, "lottery draw failed", err)
		}
		if fresh.IsDrawn {
			return status.New(status.KindAlreadyDrawn, fmt.Sprintf("lottery for event %s has already been drawn", event.ID))
		}
		*event = *fresh
	}
}

func eligible(regs []models.Registration) int {
	n := 0
	for _, reg := range regs {
		if reg.Status == models.RegistrationRegistered || reg.Status == models.RegistrationDrawn {
			n++
		}
	}
	return n
}

func resultMessages(eventID string, result *DrawResult) []notify.Message {
	msgs := make([]notify.Message, 0, len(result.Results))
	for _, r := range result.Results {
		body := map[string]any{
			"type":              notify.TypeLotteryResult,
			"eventId":           eventID,
			"registrationToken": r.RegistrationToken,
			"result":            r.Result,
		}
		if len(r.TicketIDs) > 0 {
			body["ticketIds"] = r.TicketIDs
		}
		msgs = append(msgs, notify.Message{UserID: r.UserID, Body: body})
	}
	return msgs
}

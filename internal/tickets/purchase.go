package tickets

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
	"ticket-ledger/utils"
)

const (
	FlowLottery = "lottery"
	FlowDirect  = "direct"

	paymentCompleted = "completed"
)

type PurchaseRequest struct {
	RegistrationToken string          `json:"registrationToken"`
	PaymentMethod     string          `json:"paymentMethod"`
	PaymentType       string          `json:"paymentType"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	Quantity          int             `json:"quantity"`
}

type DirectPurchaseRequest struct {
	EventID       string          `json:"eventId"`
	ZoneName      string          `json:"zoneName"`
	Quantity      int             `json:"quantity"`
	PaymentMethod string          `json:"paymentMethod"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

type PurchaseResult struct {
	PaymentID string          `json:"paymentId"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Tickets   []models.Ticket `json:"tickets"`
}

// PurchaseLottery pays for the reserved tickets of a winning registration.
func (m *Machine) PurchaseLottery(ctx context.Context, userID string, req PurchaseRequest) (*PurchaseResult, error) {
	result, err := m.purchaseLottery(ctx, userID, req)
	monitoring.RecordPurchase(FlowLottery, purchaseOutcome(err))
	return result, err
}

func (m *Machine) purchaseLottery(ctx context.Context, userID string, req PurchaseRequest) (*PurchaseResult, error) {
	if userID == "" {
		return nil, status.ErrUnauthenticated
	}
	if req.RegistrationToken == "" {
		return nil, status.New(status.KindInvalidRequest, "registrationToken is required")
	}

	reg, err := m.registrations.Get(ctx, req.RegistrationToken)
	if err != nil {
		return nil, err
	}
	if reg.UserID != userID {
		return nil, status.New(status.KindForbidden, "registration belongs to another user")
	}
	if reg.Status != models.RegistrationWon {
		return nil, status.New(status.KindInvalidState, "registration did not win the lottery")
	}
	if reg.PaymentStatus == models.PaymentPaid {
		return nil, status.New(status.KindInvalidState, "registration is already paid")
	}
	if req.Quantity != 0 && req.Quantity != reg.Quantity {
		return nil, status.New(status.KindInvalidRequest,
			fmt.Sprintf("quantity %d does not match the %d tickets won", req.Quantity, reg.Quantity))
	}

	event, err := m.events.Get(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	amount, err := checkAmount(event, reg.ZoneName, reg.Quantity, req.TotalAmount)
	if err != nil {
		return nil, err
	}

	tickets, err := m.tickets.ListByRegistration(ctx, reg.Token)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, status.New(status.KindInvalidState, "registration has no reserved tickets")
	}

	// Tickets sold by an earlier attempt already count against the user, so
	// only the ones still reserved are checked.
	pending := 0
	for _, t := range tickets {
		if t.Status != models.TicketSold {
			pending++
		}
	}
	if pending > 0 {
		if err := m.checkLimits(ctx, userID, reg.EventID, pending); err != nil {
			return nil, err
		}
	}

	now := m.now()
	payment, err := m.lotteryPayment(ctx, &models.PaymentRecord{
		ID:                models.LotteryPaymentID(reg.Token),
		RegistrationToken: reg.Token,
		UserID:            userID,
		EventID:           reg.EventID,
		TicketIDs:         reg.TicketIDs,
		Amount:            amount,
		Method:            req.PaymentMethod,
		Type:              req.PaymentType,
		CreatedAt:         now,
	})
	if err != nil {
		return nil, err
	}

	for i := range tickets {
		t := &tickets[i]
		if t.Status == models.TicketSold {
			continue
		}
		if err := checkTransition(t, models.TicketSold); err != nil {
			return nil, err
		}
		t.Status = models.TicketSold
		t.SoldAt = &now
		if err := m.tickets.SaveIfVersion(ctx, t); err != nil {
			if errors.Is(err, status.ErrVersionConflict) {
				return nil, status.Wrap(status.KindInvalidState, fmt.Sprintf("ticket %s changed during purchase", t.ID), err)
			}
			return nil, err
		}
	}

	if err := m.registrations.MarkPaid(ctx, reg.Token); err != nil {
		return nil, err
	}

	for _, t := range tickets {
		m.recorder.Record(models.LedgerTransaction{
			TicketID:          t.ID,
			Timestamp:         now,
			Action:            models.ActionTransfer,
			FromUserID:        models.SystemUserID,
			ToUserID:          userID,
			EventID:           t.EventID,
			RegistrationToken: reg.Token,
		})
	}
	m.cache.Invalidate(ctx, userID)
	m.recorder.Flush(ctx)

	m.logger.Info("Lottery tickets purchased", "user_id", userID, "registration", reg.Token, "tickets", len(tickets), "payment_id", payment.ID)
	return &PurchaseResult{PaymentID: payment.ID, Reference: payment.Reference, Amount: amount, Tickets: tickets}, nil
}

// PurchaseDirect sells tickets straight from a zone's inventory.
func (m *Machine) PurchaseDirect(ctx context.Context, userID string, req DirectPurchaseRequest) (*PurchaseResult, error) {
	result, err := m.purchaseDirect(ctx, userID, req)
	monitoring.RecordPurchase(FlowDirect, purchaseOutcome(err))
	return result, err
}

func (m *Machine) purchaseDirect(ctx context.Context, userID string, req DirectPurchaseRequest) (*PurchaseResult, error) {
	if userID == "" {
		return nil, status.ErrUnauthenticated
	}
	if req.EventID == "" || req.ZoneName == "" {
		return nil, status.New(status.KindInvalidRequest, "eventId and zoneName are required")
	}
	if req.Quantity < 1 {
		return nil, status.New(status.KindInvalidRequest, "quantity must be at least 1")
	}

	event, err := m.events.Get(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if event.IsDrawMode {
		return nil, status.New(status.KindInvalidRequest, "lottery events are sold through the draw")
	}
	amount, err := checkAmount(event, req.ZoneName, req.Quantity, req.TotalAmount)
	if err != nil {
		return nil, err
	}
	if err := m.checkLimits(ctx, userID, event.ID, req.Quantity); err != nil {
		return nil, err
	}

	event, firstSeat, err := m.claimSeats(ctx, event, req.ZoneName, req.Quantity)
	if err != nil {
		return nil, err
	}

	now := m.now()
	tickets := make([]models.Ticket, 0, req.Quantity)
	ids := make([]string, 0, req.Quantity)
	for n := 0; n < req.Quantity; n++ {
		t := models.Ticket{
			ID:         "TKT-" + uuid.NewString(),
			EventID:    event.ID,
			UserID:     userID,
			Zone:       req.ZoneName,
			SeatNumber: models.SeatNumber(req.ZoneName, firstSeat+n),
			Status:     models.TicketSold,
			CreatedAt:  now,
			SoldAt:     &now,
		}
		payload, err := m.recorder.Ledger().IssueTicketPayload(&t, event.StartsAt)
		if err != nil {
			return nil, status.Wrap(status.KindInternal, "issue ticket payload", err)
		}
		t.QRPayload = payload
		if err := m.tickets.Save(ctx, &t); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
		ids = append(ids, t.ID)
	}

	payment, err := m.recordPayment(ctx, &models.PaymentRecord{
		UserID:    userID,
		EventID:   event.ID,
		TicketIDs: ids,
		Amount:    amount,
		Method:    req.PaymentMethod,
		Type:      "full",
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	for _, t := range tickets {
		m.recorder.Record(models.LedgerTransaction{
			TicketID:   t.ID,
			Timestamp:  now,
			Action:     models.ActionCreate,
			FromUserID: models.SystemUserID,
			ToUserID:   userID,
			EventID:    t.EventID,
		})
	}
	monitoring.RecordMinted(req.ZoneName, len(tickets))
	m.cache.Invalidate(ctx, userID)
	m.recorder.Flush(ctx)

	m.logger.Info("Direct tickets purchased", "user_id", userID, "event_id", event.ID, "zone", req.ZoneName, "tickets", len(tickets))
	return &PurchaseResult{PaymentID: payment.ID, Reference: payment.Reference, Amount: amount, Tickets: tickets}, nil
}

// claimSeats takes quantity seats out of the zone with a CAS on the event,
// reloading on conflict. It returns the first claimed seat number.
func (m *Machine) claimSeats(ctx context.Context, event *models.Event, zoneName string, quantity int) (*models.Event, int, error) {
	for attempt := 1; ; attempt++ {
		zone := event.Zones[zoneName]
		if zone.Remaining < quantity {
			return nil, 0, status.New(status.KindLimitExceeded,
				fmt.Sprintf("only %d seats left in zone %s", zone.Remaining, zoneName))
		}
		first := zone.SeatsIssued + 1
		zone.Remaining -= quantity
		zone.SeatsIssued += quantity
		event.Zones[zoneName] = zone

		err := m.events.SaveIfVersion(ctx, event)
		if err == nil {
			return event, first, nil
		}
		if !errors.Is(err, status.ErrVersionConflict) {
			return nil, 0, err
		}
		if attempt == capacityAttempts {
			return nil, 0, status.Wrap(status.KindInternal, "zone inventory is too contended, try again", err)
		}

		event, err = m.events.Get(ctx, event.ID)
		if err != nil {
			return nil, 0, err
		}
	}
}

// lotteryPayment returns the payment an earlier attempt already stored for
// the registration, or records p.
func (m *Machine) lotteryPayment(ctx context.Context, p *models.PaymentRecord) (*models.PaymentRecord, error) {
	existing, err := m.payments.Get(ctx, p.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, status.ErrNotFound) {
		return nil, err
	}
	return m.recordPayment(ctx, p)
}

func (m *Machine) recordPayment(ctx context.Context, p *models.PaymentRecord) (*models.PaymentRecord, error) {
	ref, err := utils.GenerateCode(6)
	if err != nil {
		return nil, status.Wrap(status.KindInternal, "generate payment reference", err)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Reference = "PAY-" + ref
	p.Status = paymentCompleted
	if err := m.payments.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// checkAmount prices quantity seats of a zone. A zero amount means the
// client did not quote one.
func checkAmount(event *models.Event, zoneName string, quantity int, quoted decimal.Decimal) (decimal.Decimal, error) {
	zone, ok := event.Zones[zoneName]
	if !ok {
		return decimal.Zero, status.New(status.KindInvalidRequest, fmt.Sprintf("zone %s does not exist", zoneName))
	}
	expected := zone.Price.Mul(decimal.NewFromInt(int64(quantity)))
	if !quoted.IsZero() && !quoted.Equal(expected) {
		return decimal.Zero, status.New(status.KindInvalidRequest,
			fmt.Sprintf("totalAmount %s does not match price %s", quoted.String(), expected.String()))
	}
	return expected, nil
}

func purchaseOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(status.KindOf(err))
}

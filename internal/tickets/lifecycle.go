package tickets

import (
	"context"
	"errors"

	"ticket-ledger/internal/notify"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
)

// Cancel voids a ticket. The seat is not returned to the zone.
func (m *Machine) Cancel(ctx context.Context, actor models.Actor, ticketID, reason string) (*models.Ticket, error) {
	t, err := m.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !actor.IsOperator() && t.UserID != actor.UserID {
		return nil, status.New(status.KindForbidden, "ticket belongs to another user")
	}
	if err := checkTransition(t, models.TicketCancelled); err != nil {
		return nil, err
	}

	now := m.now()
	t.Status = models.TicketCancelled
	t.CancelledAt = &now
	if err := m.saveTicket(ctx, t); err != nil {
		return nil, err
	}

	m.recorder.Record(models.LedgerTransaction{
		TicketID:   t.ID,
		Timestamp:  now,
		Action:     models.ActionCancel,
		FromUserID: t.UserID,
		ToUserID:   models.SystemUserID,
		EventID:    t.EventID,
	})
	m.recorder.Flush(ctx)
	m.cache.Invalidate(ctx, t.UserID)

	m.logger.Info("Ticket cancelled", "ticket_id", t.ID, "by", actor.UserID, "reason", reason)
	return t, nil
}

// Transfer hands a sold ticket to another user and re-issues its QR code so
// the previous holder's copy stops verifying.
func (m *Machine) Transfer(ctx context.Context, fromUserID, ticketID, toUserID string) (*models.Ticket, error) {
	if toUserID == "" {
		return nil, status.New(status.KindInvalidRequest, "toUserId is required")
	}
	if toUserID == fromUserID {
		return nil, status.New(status.KindInvalidRequest, "cannot transfer a ticket to yourself")
	}

	t, err := m.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.UserID != fromUserID {
		return nil, status.New(status.KindForbidden, "ticket belongs to another user")
	}
	if t.Status != models.TicketSold {
		return nil, status.New(status.KindInvalidState, "only sold tickets can be transferred")
	}

	event, err := m.events.Get(ctx, t.EventID)
	if err != nil {
		return nil, err
	}
	if err := m.checkLimits(ctx, toUserID, t.EventID, 1); err != nil {
		return nil, err
	}

	now := m.now()
	t.UserID = toUserID
	t.TransferredAt = &now
	payload, err := m.recorder.Ledger().IssueTicketPayload(t, event.StartsAt)
	if err != nil {
		return nil, status.Wrap(status.KindInternal, "issue ticket payload", err)
	}
	t.QRPayload = payload
	if err := m.saveTicket(ctx, t); err != nil {
		return nil, err
	}

	m.recorder.Record(models.LedgerTransaction{
		TicketID:   t.ID,
		Timestamp:  now,
		Action:     models.ActionTransfer,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		EventID:    t.EventID,
	})
	m.recorder.Flush(ctx)
	m.cache.Invalidate(ctx, fromUserID, toUserID)
	m.notify(ctx, toUserID, map[string]any{
		"type":       notify.TypeTicketTransferred,
		"ticketId":   t.ID,
		"eventId":    t.EventID,
		"fromUserId": fromUserID,
	})

	m.logger.Info("Ticket transferred", "ticket_id", t.ID, "from", fromUserID, "to", toUserID)
	return t, nil
}

func (m *Machine) saveTicket(ctx context.Context, t *models.Ticket) error {
	err := m.tickets.SaveIfVersion(ctx, t)
	if errors.Is(err, status.ErrVersionConflict) {
		return status.Wrap(status.KindRaceDetected, "ticket was changed by another request", err)
	}
	return err
}

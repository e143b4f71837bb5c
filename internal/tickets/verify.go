package tickets

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/notify"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
)

const (
	OutcomeValid         = "valid"
	OutcomeMarkedUsed    = "marked_used"
	OutcomeAlreadyUsed   = "already_used"
	OutcomeCancelled     = "cancelled"
	OutcomeNotPurchased  = "not_purchased"
	OutcomeOwnerMismatch = "owner_mismatch"
	OutcomeRace          = "race_detected"
)

type VerifyRequest struct {
	QRData          string     `json:"qrData"`
	CheckOnly       bool       `json:"checkOnly"`
	ClientTimestamp *time.Time `json:"timestamp,omitempty"`

	// MarkUsed and VerifierID come from the caller's credentials, never the body.
	MarkUsed   bool   `json:"-"`
	VerifierID string `json:"-"`
}

type TicketDetails struct {
	TicketID   string `json:"ticketId"`
	EventID    string `json:"eventId"`
	Zone       string `json:"zone"`
	SeatNumber string `json:"seatNumber"`
	UserID     string `json:"userId"`
}

type VerifyResult struct {
	Verified                bool                `json:"verified"`
	Status                  models.TicketStatus `json:"status"`
	Message                 string              `json:"message"`
	Outcome                 string              `json:"outcome"`
	Details                 *TicketDetails      `json:"details,omitempty"`
	UsedAt                  *time.Time          `json:"usedAt,omitempty"`
	VerificationCount       int                 `json:"verificationCount"`
	HasSuspiciousFutureDate bool                `json:"hasSuspiciousFutureDate,omitempty"`
	RequestID               string              `json:"requestId,omitempty"`
}

var payloadMessages = map[ledger.PayloadReason]string{
	ledger.PayloadMalformed:      "QR code is not readable",
	ledger.PayloadBadSignature:   "QR code signature is invalid",
	ledger.PayloadTicketMismatch: "QR code belongs to a different ticket",
	ledger.PayloadExpired:        "QR code has expired",
	ledger.PayloadAlreadyUsed:    "ticket already used",
}

// Verify checks a scanned ticket and, for operators, marks it used. The
// result always carries the ticket context so staff can decide manually.
// When another scanner wins the race the result comes back together with a
// RaceDetected error.
func (m *Machine) Verify(ctx context.Context, ticketID string, req VerifyRequest) (*VerifyResult, error) {
	if ticketID == "" {
		return nil, status.New(status.KindInvalidRequest, "ticket id is required")
	}

	t, err := m.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	result, err := m.verify(ctx, t, req, now)
	if result != nil {
		monitoring.RecordVerification(result.Outcome)
	}
	return result, err
}

func (m *Machine) verify(ctx context.Context, t *models.Ticket, req VerifyRequest, now time.Time) (*VerifyResult, error) {
	result := m.describe(t, now)

	switch t.Status {
	case models.TicketUsed:
		result.Outcome = OutcomeAlreadyUsed
		result.Message = "ticket already used"
		return result, nil
	case models.TicketCancelled:
		result.Outcome = OutcomeCancelled
		result.Message = "ticket has been cancelled"
		return result, nil
	case models.TicketReserved:
		result.Outcome = OutcomeNotPurchased
		result.Message = "ticket has not been paid for"
		return result, nil
	}

	check := m.recorder.Ledger().VerifyTicketPayload(t.ID, req.QRData, now)
	if !check.Valid {
		result.Outcome = string(check.Reason)
		result.Message = payloadMessages[check.Reason]
		if check.UsedAt != nil {
			result.UsedAt, result.HasSuspiciousFutureDate = m.normalizeUsage(*check.UsedAt, now)
		}
		return result, nil
	}
	if check.Claims.UserID != t.UserID {
		result.Outcome = OutcomeOwnerMismatch
		result.Message = "QR code was issued to a previous holder"
		return result, nil
	}

	if req.CheckOnly || !req.MarkUsed {
		result.Verified = true
		result.Outcome = OutcomeValid
		result.Message = "ticket is valid"
		return result, nil
	}
	return m.markUsed(ctx, t.ID, req, now)
}

// markUsed re-reads the ticket and commits the use with a CAS on the version
// it saw, so two scanners can never both succeed.
func (m *Machine) markUsed(ctx context.Context, ticketID string, req VerifyRequest, now time.Time) (*VerifyResult, error) {
	requestID := uuid.NewString()

	fresh, err := m.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if fresh.Status.IsTerminal() {
		return m.raceResult(fresh, requestID, now), status.ErrRaceDetected
	}
	if err := checkTransition(fresh, models.TicketUsed); err != nil {
		return nil, err
	}

	info := models.VerificationInfo{
		LastVerified:    now,
		UsageTimestamp:  &now,
		VerifiedBy:      req.VerifierID,
		RequestID:       requestID,
		ClientTimestamp: req.ClientTimestamp,
	}
	if fresh.VerificationInfo != nil {
		info.VerificationCount = fresh.VerificationInfo.VerificationCount
	}
	info.VerificationCount++

	previous := *fresh
	fresh.Status = models.TicketUsed
	fresh.VerificationInfo = &info
	if err := m.tickets.SaveIfVersion(ctx, fresh); err != nil {
		if errors.Is(err, status.ErrVersionConflict) {
			m.logger.Warn("Concurrent verification detected", "ticket_id", ticketID, "request_id", requestID)
			return m.raceResult(&previous, requestID, now), status.Wrap(status.KindRaceDetected, status.ErrRaceDetected.Message, err)
		}
		return nil, err
	}

	m.recorder.Record(models.LedgerTransaction{
		TicketID:   fresh.ID,
		Timestamp:  now,
		Action:     models.ActionUse,
		FromUserID: fresh.UserID,
		ToUserID:   fresh.UserID,
		EventID:    fresh.EventID,
	})
	m.recorder.Flush(ctx)
	m.cache.Invalidate(ctx, fresh.UserID)
	m.notify(ctx, fresh.UserID, map[string]any{
		"type":     notify.TypeTicketUsed,
		"ticketId": fresh.ID,
		"eventId":  fresh.EventID,
		"usedAt":   now,
	})

	m.logger.Info("Ticket marked used", "ticket_id", fresh.ID, "verifier", req.VerifierID, "request_id", requestID)

	result := m.describe(fresh, now)
	result.Verified = true
	result.Outcome = OutcomeMarkedUsed
	result.Message = "ticket verified and marked as used"
	result.RequestID = requestID
	return result, nil
}

func (m *Machine) raceResult(t *models.Ticket, requestID string, now time.Time) *VerifyResult {
	result := m.describe(t, now)
	result.Outcome = OutcomeRace
	result.Message = status.ErrRaceDetected.Message
	result.RequestID = requestID
	return result
}

func (m *Machine) describe(t *models.Ticket, now time.Time) *VerifyResult {
	result := &VerifyResult{
		Status: t.Status,
		Details: &TicketDetails{
			TicketID:   t.ID,
			EventID:    t.EventID,
			Zone:       t.Zone,
			SeatNumber: t.SeatNumber,
			UserID:     t.UserID,
		},
	}
	if info := t.VerificationInfo; info != nil {
		result.VerificationCount = info.VerificationCount
		if info.UsageTimestamp != nil {
			result.UsedAt, result.HasSuspiciousFutureDate = m.normalizeUsage(*info.UsageTimestamp, now)
		}
	}
	return result
}

// normalizeUsage clamps usage timestamps recorded too far in the future to
// now and flags them.
func (m *Machine) normalizeUsage(usedAt, now time.Time) (*time.Time, bool) {
	if usedAt.After(now.Add(m.cfg.FutureSkewTolerance)) {
		m.logger.Warn("Ticket usage timestamp is in the future", "used_at", usedAt, "now", now)
		return &now, true
	}
	return &usedAt, false
}

// Package policy decides how many tickets a user may hold.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
)

const (
	DefaultEventLimit  = 2
	DefaultGlobalLimit = 5
)

// LevelFromScore buckets a 0-100 fraud score.
func LevelFromScore(score int) models.RiskLevel {
	switch {
	case score >= 80:
		return models.RiskVeryHigh
	case score >= 60:
		return models.RiskHigh
	case score >= 30:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// Limit returns the per-event ticket cap for a risk level. An empty or
// unknown level means there is no risk signal and defaultLimit applies.
func Limit(level models.RiskLevel, defaultLimit int) int {
	switch level {
	case models.RiskVeryHigh, models.RiskHigh:
		return 1
	case models.RiskMedium:
		return 2
	case models.RiskLow:
		return 4
	default:
		return defaultLimit
	}
}

// levelOf resolves the effective risk level of a profile.
func levelOf(p *models.RiskProfile) models.RiskLevel {
	if p == nil {
		return ""
	}
	if p.RiskLevel != "" {
		return p.RiskLevel
	}
	if p.RiskScore != nil {
		return LevelFromScore(*p.RiskScore)
	}
	return ""
}

type ProfileSource interface {
	Get(ctx context.Context, userID string) (*models.RiskProfile, error)
}

type TicketCounter interface {
	CountPurchased(ctx context.Context, userID string) (int, map[string]int, error)
}

type Config struct {
	DefaultEventLimit     int
	MaxTicketsPerUser     int
	FailOpenOnPolicyError bool
}

const (
	ReasonEventLimit  = "event_limit"
	ReasonGlobalLimit = "global_limit"
	ReasonPolicyError = "policy_error"
)

type Decision struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
	RiskLevel   string `json:"riskLevel,omitempty"`
	EventLimit  int    `json:"eventLimit"`
	EventCount  int    `json:"eventCount"`
	GlobalLimit int    `json:"globalLimit"`
	GlobalCount int    `json:"globalCount"`
	FailedOpen  bool   `json:"failedOpen,omitempty"`
}

// Err converts a denial into a LimitExceeded error. It returns nil when the
// decision allows the purchase.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonGlobalLimit:
		return status.New(status.KindLimitExceeded,
			fmt.Sprintf("ticket limit reached: %d of %d tickets across all events", d.GlobalCount, d.GlobalLimit))
	default:
		return status.New(status.KindLimitExceeded,
			fmt.Sprintf("ticket limit reached: %d of %d tickets for this event", d.EventCount, d.EventLimit))
	}
}

type Policy struct {
	profiles ProfileSource
	tickets  TicketCounter
	cfg      Config
	logger   *slog.Logger
}

func New(profiles ProfileSource, tickets TicketCounter, cfg Config) *Policy {
	if cfg.DefaultEventLimit <= 0 {
		cfg.DefaultEventLimit = DefaultEventLimit
	}
	if cfg.MaxTicketsPerUser <= 0 {
		cfg.MaxTicketsPerUser = DefaultGlobalLimit
	}
	return &Policy{
		profiles: profiles,
		tickets:  tickets,
		cfg:      cfg,
		logger:   slog.Default().With("component", "policy"),
	}
}

// CheckPurchaseLimits decides whether userID may acquire quantity more
// tickets for eventID. A missing risk profile is not an error.
func (p *Policy) CheckPurchaseLimits(ctx context.Context, userID, eventID string, quantity int) (Decision, error) {
	profile, err := p.profiles.Get(ctx, userID)
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return p.onError(userID, eventID, fmt.Errorf("load risk profile: %w", err))
	}

	level := levelOf(profile)
	d := Decision{
		RiskLevel:   string(level),
		EventLimit:  Limit(level, p.cfg.DefaultEventLimit),
		GlobalLimit: p.cfg.MaxTicketsPerUser,
	}

	total, perEvent, err := p.tickets.CountPurchased(ctx, userID)
	if err != nil {
		return p.onError(userID, eventID, fmt.Errorf("count tickets: %w", err))
	}
	d.EventCount = perEvent[eventID]
	d.GlobalCount = total

	switch {
	case d.EventCount+quantity > d.EventLimit:
		d.Reason = ReasonEventLimit
	case d.GlobalCount+quantity > d.GlobalLimit:
		d.Reason = ReasonGlobalLimit
	default:
		d.Allowed = true
	}

	if !d.Allowed {
		p.logger.Info("Purchase limit reached",
			"user_id", userID, "event_id", eventID, "quantity", quantity,
			"reason", d.Reason, "risk_level", d.RiskLevel)
	}
	return d, nil
}

func (p *Policy) onError(userID, eventID string, err error) (Decision, error) {
	if !p.cfg.FailOpenOnPolicyError {
		p.logger.Error("Purchase limit check failed", "error", err, "user_id", userID, "event_id", eventID)
		return Decision{Reason: ReasonPolicyError}, status.Wrap(status.KindInternal, "purchase limit check failed", err)
	}

	monitoring.RecordPolicyFailOpen()
	p.logger.Warn("Purchase limit check failed, allowing purchase", "error", err, "user_id", userID, "event_id", eventID)
	return Decision{Allowed: true, Reason: ReasonPolicyError, FailedOpen: true}, nil
}

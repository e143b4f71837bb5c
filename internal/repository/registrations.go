package repository

import (
	"context"
	"fmt"

	"ticket-ledger/internal/store"
	"ticket-ledger/models"
)

type RegistrationRepository struct {
	store store.Store
}

func (r *RegistrationRepository) Get(ctx context.Context, token string) (*models.Registration, error) {
	var reg models.Registration
	version, err := get(ctx, r.store, CollRegistrations, "registration", token, &reg)
	if err != nil {
		return nil, err
	}
	reg.Version = version
	return &reg, nil
}

// Create stores a new registration and fails if the token is taken.
func (r *RegistrationRepository) Create(ctx context.Context, reg *models.Registration) error {
	version, err := r.store.CompareAndSwap(ctx, CollRegistrations, reg.Token, 0, reg)
	if err != nil {
		return fmt.Errorf("create registration %s: %w", reg.Token, err)
	}
	reg.Version = version
	return nil
}

func (r *RegistrationRepository) SaveIfVersion(ctx context.Context, reg *models.Registration) error {
	version, err := r.store.CompareAndSwap(ctx, CollRegistrations, reg.Token, reg.Version, reg)
	if err != nil {
		return fmt.Errorf("save registration %s: %w", reg.Token, err)
	}
	reg.Version = version
	return nil
}

func (r *RegistrationRepository) MarkPaid(ctx context.Context, token string) error {
	_, err := r.store.Update(ctx, CollRegistrations, token, map[string]any{"paymentStatus": models.PaymentPaid})
	if err != nil {
		return fmt.Errorf("mark registration %s paid: %w", token, err)
	}
	return nil
}

func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]models.Registration, error) {
	return query(ctx, r.store, CollRegistrations, "eventId", eventID, setRegistrationVersion)
}

func (r *RegistrationRepository) ListByUser(ctx context.Context, userID string) ([]models.Registration, error) {
	return query(ctx, r.store, CollRegistrations, "userId", userID, setRegistrationVersion)
}

func setRegistrationVersion(reg *models.Registration, v int64) { reg.Version = v }

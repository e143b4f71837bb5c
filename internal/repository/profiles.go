package repository

import (
	"context"
	"fmt"

	"ticket-ledger/internal/store"
	"ticket-ledger/models"
)

type ProfileRepository struct {
	store store.Store
}

// Get returns the risk profile of a user. A user without a profile yields a
// not-found error.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (*models.RiskProfile, error) {
	var p models.RiskProfile
	if _, err := get(ctx, r.store, CollProfiles, "risk profile", userID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepository) Save(ctx context.Context, p *models.RiskProfile) error {
	if _, err := r.store.Put(ctx, CollProfiles, p.UserID, p); err != nil {
		return fmt.Errorf("save risk profile %s: %w", p.UserID, err)
	}
	return nil
}

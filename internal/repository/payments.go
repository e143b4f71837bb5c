package repository

import (
	"context"
	"fmt"

	"ticket-ledger/internal/store"
	"ticket-ledger/models"
)

type PaymentRepository struct {
	store store.Store
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	if _, err := get(ctx, r.store, CollPayments, "payment", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) Save(ctx context.Context, p *models.PaymentRecord) error {
	if _, err := r.store.Put(ctx, CollPayments, p.ID, p); err != nil {
		return fmt.Errorf("save payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string) ([]models.PaymentRecord, error) {
	return query(ctx, r.store, CollPayments, "userId", userID, func(*models.PaymentRecord, int64) {})
}

package repository

import (
	"context"
	"fmt"

	"ticket-ledger/internal/store"
	"ticket-ledger/models"
)

type EventRepository struct {
	store store.Store
}

func (r *EventRepository) Get(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	version, err := get(ctx, r.store, CollEvents, "event", id, &e)
	if err != nil {
		return nil, err
	}
	e.Version = version
	return &e, nil
}

func (r *EventRepository) Save(ctx context.Context, e *models.Event) error {
	version, err := r.store.Put(ctx, CollEvents, e.ID, e)
	if err != nil {
		return fmt.Errorf("save event %s: %w", e.ID, err)
	}
	e.Version = version
	return nil
}

// SaveIfVersion writes e only if nobody changed it since it was read.
// On success e.Version holds the new version.
func (r *EventRepository) SaveIfVersion(ctx context.Context, e *models.Event) error {
	version, err := r.store.CompareAndSwap(ctx, CollEvents, e.ID, e.Version, e)
	if err != nil {
		return fmt.Errorf("save event %s: %w", e.ID, err)
	}
	e.Version = version
	return nil
}

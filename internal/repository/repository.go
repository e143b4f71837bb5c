// Package repository maps domain models onto the document store.
package repository

import (
	"context"
	"errors"
	"fmt"

	"ticket-ledger/internal/status"
	"ticket-ledger/internal/store"
)

const (
	CollEvents        = "events"
	CollRegistrations = "registrations"
	CollTickets       = "tickets"
	CollPayments      = "payments"
	CollBlocks        = "blocks"
	CollProfiles      = "profiles"
)

type Repositories struct {
	Events        *EventRepository
	Registrations *RegistrationRepository
	Tickets       *TicketRepository
	Payments      *PaymentRepository
	Blocks        *BlockRepository
	Profiles      *ProfileRepository
	Store         store.Store
}

func New(s store.Store) *Repositories {
	return &Repositories{
		Events:        &EventRepository{store: s},
		Registrations: &RegistrationRepository{store: s},
		Tickets:       &TicketRepository{store: s},
		Payments:      &PaymentRepository{store: s},
		Blocks:        &BlockRepository{store: s},
		Profiles:      &ProfileRepository{store: s},
		Store:         s,
	}
}

// get loads and decodes one document, turning a missing id into a
// classified not-found error naming the entity.
func get(ctx context.Context, s store.Store, collection, entity, id string, v any) (int64, error) {
	doc, err := s.Get(ctx, collection, id)
	if errors.Is(err, status.ErrNotFound) {
		return 0, status.Wrap(status.KindNotFound, fmt.Sprintf("%s %s not found", entity, id), err)
	}
	if err != nil {
		return 0, fmt.Errorf("load %s %s: %w", entity, id, err)
	}
	if err := doc.Decode(v); err != nil {
		return 0, err
	}
	return doc.Version, nil
}

func query[T any](ctx context.Context, s store.Store, collection, index, value string, version func(*T, int64)) ([]T, error) {
	docs, err := s.QueryByIndex(ctx, collection, index, value)
	if err != nil {
		return nil, fmt.Errorf("list %s by %s: %w", collection, index, err)
	}

	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err := doc.Decode(&item); err != nil {
			return nil, err
		}
		version(&item, doc.Version)
		out = append(out, item)
	}
	return out, nil
}

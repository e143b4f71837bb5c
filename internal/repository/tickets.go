package repository

import (
	"context"
	"fmt"

	"ticket-ledger/internal/store"
	"ticket-ledger/models"
)

type TicketRepository struct {
	store store.Store
}

func (r *TicketRepository) Get(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	version, err := get(ctx, r.store, CollTickets, "ticket", id, &t)
	if err != nil {
		return nil, err
	}
	t.Version = version
	return &t, nil
}

func (r *TicketRepository) Save(ctx context.Context, t *models.Ticket) error {
	version, err := r.store.Put(ctx, CollTickets, t.ID, t)
	if err != nil {
		return fmt.Errorf("save ticket %s: %w", t.ID, err)
	}
	t.Version = version
	return nil
}

func (r *TicketRepository) SaveIfVersion(ctx context.Context, t *models.Ticket) error {
	version, err := r.store.CompareAndSwap(ctx, CollTickets, t.ID, t.Version, t)
	if err != nil {
		return fmt.Errorf("save ticket %s: %w", t.ID, err)
	}
	t.Version = version
	return nil
}

func (r *TicketRepository) ListByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	return query(ctx, r.store, CollTickets, "userId", userID, setTicketVersion)
}

func (r *TicketRepository) ListByEvent(ctx context.Context, eventID string) ([]models.Ticket, error) {
	return query(ctx, r.store, CollTickets, "eventId", eventID, setTicketVersion)
}

func (r *TicketRepository) ListByRegistration(ctx context.Context, token string) ([]models.Ticket, error) {
	return query(ctx, r.store, CollTickets, "registrationToken", token, setTicketVersion)
}

// CountPurchased returns how many purchased tickets the user holds in total
// and per event.
func (r *TicketRepository) CountPurchased(ctx context.Context, userID string) (int, map[string]int, error) {
	tickets, err := r.ListByUser(ctx, userID)
	if err != nil {
		return 0, nil, err
	}

	total := 0
	perEvent := make(map[string]int)
	for _, t := range tickets {
		if !t.Status.IsPurchased() {
			continue
		}
		total++
		perEvent[t.EventID]++
	}
	return total, perEvent, nil
}

func setTicketVersion(t *models.Ticket, v int64) { t.Version = v }

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-ledger/internal/status"
	"ticket-ledger/internal/store"
	"ticket-ledger/models"
)

func newRepos() *Repositories {
	return New(store.NewMemoryStore(store.DefaultSchema()))
}

func TestEventRepository_SaveIfVersion(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()

	event := &models.Event{
		ID:         "evt-1",
		IsDrawMode: true,
		Zones:      map[string]models.Zone{"A": {Name: "A", Capacity: 3, Remaining: 3, Price: decimal.NewFromInt(50)}},
	}
	require.NoError(t, repos.Events.Save(ctx, event))
	assert.Equal(t, int64(1), event.Version)

	first, err := repos.Events.Get(ctx, "evt-1")
	require.NoError(t, err)
	second, err := repos.Events.Get(ctx, "evt-1")
	require.NoError(t, err)

	first.DrawState = models.DrawRunning
	require.NoError(t, repos.Events.SaveIfVersion(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.DrawState = models.DrawRunning
	err = repos.Events.SaveIfVersion(ctx, second)
	assert.ErrorIs(t, err, status.ErrVersionConflict)
}

func TestEventRepository_NotFound(t *testing.T) {
	_, err := newRepos().Events.Get(context.Background(), "nope")

	assert.ErrorIs(t, err, status.ErrNotFound)
	assert.Equal(t, "event nope not found", status.Message(err))
}

func TestRegistrationRepository(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()

	for _, reg := range []*models.Registration{
		{Token: "r1", UserID: "u1", EventID: "evt-1", ZoneName: "A", Quantity: 1, Status: models.RegistrationRegistered},
		{Token: "r2", UserID: "u2", EventID: "evt-1", ZoneName: "A", Quantity: 2, Status: models.RegistrationRegistered},
		{Token: "r3", UserID: "u1", EventID: "evt-2", ZoneName: "B", Quantity: 1, Status: models.RegistrationRegistered},
	} {
		require.NoError(t, repos.Registrations.Create(ctx, reg))
	}

	err := repos.Registrations.Create(ctx, &models.Registration{Token: "r1"})
	assert.ErrorIs(t, err, status.ErrVersionConflict)

	byEvent, err := repos.Registrations.ListByEvent(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, byEvent, 2)
	assert.Equal(t, "r1", byEvent[0].Token)
	assert.Equal(t, int64(1), byEvent[0].Version)

	byUser, err := repos.Registrations.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	require.NoError(t, repos.Registrations.MarkPaid(ctx, "r2"))
	reg, err := repos.Registrations.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, reg.PaymentStatus)
	assert.Equal(t, 2, reg.Quantity)
}

func TestTicketRepository_CountPurchased(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()

	for _, tk := range []*models.Ticket{
		{ID: "t1", UserID: "u1", EventID: "evt-1", Status: models.TicketSold},
		{ID: "t2", UserID: "u1", EventID: "evt-1", Status: models.TicketUsed},
		{ID: "t3", UserID: "u1", EventID: "evt-2", Status: models.TicketAvailable},
		{ID: "t4", UserID: "u1", EventID: "evt-2", Status: models.TicketReserved},
		{ID: "t5", UserID: "u1", EventID: "evt-2", Status: models.TicketCancelled},
		{ID: "t6", UserID: "u2", EventID: "evt-1", Status: models.TicketSold},
	} {
		require.NoError(t, repos.Tickets.Save(ctx, tk))
	}

	total, perEvent, err := repos.Tickets.CountPurchased(ctx, "u1")

	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, map[string]int{"evt-1": 2, "evt-2": 1}, perEvent)
}

func TestTicketRepository_ListByRegistration(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()

	require.NoError(t, repos.Tickets.Save(ctx, &models.Ticket{ID: "r1-1", RegistrationToken: "r1", Status: models.TicketReserved}))
	require.NoError(t, repos.Tickets.Save(ctx, &models.Ticket{ID: "r1-2", RegistrationToken: "r1", Status: models.TicketReserved}))
	require.NoError(t, repos.Tickets.Save(ctx, &models.Ticket{ID: "TKT-x", Status: models.TicketSold}))

	tickets, err := repos.Tickets.ListByRegistration(ctx, "r1")

	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "r1-1", tickets[0].ID)
	assert.Equal(t, "r1-2", tickets[1].ID)
}

func TestBlockRepository(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	blocks, err := repos.Blocks.LoadBlocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, blocks)

	require.NoError(t, repos.Blocks.AppendBlock(ctx, models.LedgerBlock{Index: 0, Timestamp: now, PreviousHash: "0", Hash: "h0"}))
	require.NoError(t, repos.Blocks.AppendBlock(ctx, models.LedgerBlock{Index: 1, Timestamp: now, PreviousHash: "h0", Hash: "h1"}))

	err = repos.Blocks.AppendBlock(ctx, models.LedgerBlock{Index: 1, PreviousHash: "h0", Hash: "other"})
	assert.ErrorIs(t, err, status.ErrVersionConflict)

	blocks, err = repos.Blocks.LoadBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "h1", blocks[1].Hash)
	assert.True(t, blocks[0].Timestamp.Equal(now))
}

func TestProfileRepository(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()
	score := 72

	_, err := repos.Profiles.Get(ctx, "u1")
	assert.ErrorIs(t, err, status.ErrNotFound)

	require.NoError(t, repos.Profiles.Save(ctx, &models.RiskProfile{UserID: "u1", RiskScore: &score}))
	p, err := repos.Profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 72, *p.RiskScore)
}

func TestPaymentRepository(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()

	require.NoError(t, repos.Payments.Save(ctx, &models.PaymentRecord{ID: "p1", UserID: "u1", Amount: decimal.RequireFromString("99.80")}))

	payments, err := repos.Payments.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].Amount.Equal(decimal.RequireFromString("99.8")))
}

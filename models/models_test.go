package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeatNumber(t *testing.T) {
	assert.Equal(t, "A-001", SeatNumber("A", 1))
	assert.Equal(t, "VIP-042", SeatNumber("VIP", 42))
	assert.Equal(t, "B-1000", SeatNumber("B", 1000))
}

func TestSeatOrdinal(t *testing.T) {
	n, ok := SeatOrdinal("A", "A-007")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	n, ok = SeatOrdinal("B", SeatNumber("B", 1000))
	assert.True(t, ok)
	assert.Equal(t, 1000, n)

	for _, seat := range []string{"B-001", "A-", "A-x1", "A-000", "AA-001"} {
		_, ok := SeatOrdinal("A", seat)
		assert.False(t, ok, seat)
	}
}

func TestLotteryTicketID(t *testing.T) {
	assert.Equal(t, "reg-abc-1", LotteryTicketID("reg-abc", 1))
	assert.Equal(t, "reg-abc-2", LotteryTicketID("reg-abc", 2))
}

func TestTicketStatusPredicates(t *testing.T) {
	tests := []struct {
		status    TicketStatus
		terminal  bool
		purchased bool
	}{
		{TicketReserved, false, false},
		{TicketAvailable, false, true},
		{TicketSold, false, true},
		{TicketUsed, true, true},
		{TicketCancelled, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.purchased, tt.status.IsPurchased())
		})
	}
}

func TestRegistrationStatusIsTerminal(t *testing.T) {
	assert.False(t, RegistrationRegistered.IsTerminal())
	assert.False(t, RegistrationDrawn.IsTerminal())
	assert.True(t, RegistrationWon.IsTerminal())
	assert.True(t, RegistrationLost.IsTerminal())
}

func TestLedgerActionValid(t *testing.T) {
	for _, a := range []LedgerAction{ActionCreate, ActionTransfer, ActionUse, ActionVerify, ActionCancel, ActionAllocate, ActionDrawComplete} {
		assert.True(t, a.Valid(), a)
	}
	assert.False(t, LedgerAction("refund").Valid())
	assert.False(t, LedgerAction("").Valid())
}

func TestEvent_VersionIsNotSerialized(t *testing.T) {
	event := Event{
		ID:         "evt-1",
		StartsAt:   time.Date(2026, 11, 1, 19, 0, 0, 0, time.UTC),
		IsDrawMode: true,
		Zones: map[string]Zone{
			"A": {Name: "A", Capacity: 3, Remaining: 3, Price: decimal.RequireFromString("49.90")},
		},
		Version: 7,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Version")

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(0), decoded.Version)
	assert.True(t, decoded.Zones["A"].Price.Equal(decimal.RequireFromString("49.9")))
	assert.True(t, decoded.StartsAt.Equal(event.StartsAt))
}

func TestActorIsOperator(t *testing.T) {
	assert.True(t, Actor{UserID: "op", Role: RoleOperator}.IsOperator())
	assert.False(t, Actor{UserID: "u", Role: RoleUser}.IsOperator())
	assert.False(t, Actor{}.IsOperator())
}

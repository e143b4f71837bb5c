package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"
)

type mockProfiles struct{ mock.Mock }

func (m *mockProfiles) Get(ctx context.Context, userID string) (*models.RiskProfile, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*models.RiskProfile)
	return p, args.Error(1)
}

type mockCounter struct{ mock.Mock }

func (m *mockCounter) CountPurchased(ctx context.Context, userID string) (int, map[string]int, error) {
	args := m.Called(ctx, userID)
	perEvent, _ := args.Get(1).(map[string]int)
	return args.Int(0), perEvent, args.Error(2)
}

func intPtr(v int) *int { return &v }

func TestLevelFromScore(t *testing.T) {
	tests := []struct {
		score    int
		expected models.RiskLevel
	}{
		{100, models.RiskVeryHigh},
		{80, models.RiskVeryHigh},
		{79, models.RiskHigh},
		{60, models.RiskHigh},
		{59, models.RiskMedium},
		{30, models.RiskMedium},
		{29, models.RiskLow},
		{0, models.RiskLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, LevelFromScore(tt.score), "score %d", tt.score)
	}
}

func TestLimit(t *testing.T) {
	assert.Equal(t, 1, Limit(models.RiskVeryHigh, 2))
	assert.Equal(t, 1, Limit(models.RiskHigh, 2))
	assert.Equal(t, 2, Limit(models.RiskMedium, 2))
	assert.Equal(t, 4, Limit(models.RiskLow, 2))
	assert.Equal(t, 2, Limit("", 2))
	assert.Equal(t, 3, Limit("unknown", 3))
}

func TestCheckPurchaseLimits(t *testing.T) {
	ctx := context.Background()
	notFound := status.New(status.KindNotFound, "risk profile u1 not found")

	tests := []struct {
		name          string
		profile       *models.RiskProfile
		profileErr    error
		total         int
		perEvent      map[string]int
		quantity      int
		allowed       bool
		reason        string
		expectedLimit int
	}{
		{
			name:          "no profile uses default limit",
			profileErr:    notFound,
			quantity:      2,
			allowed:       true,
			expectedLimit: 2,
		},
		{
			name:          "no profile over default limit",
			profileErr:    notFound,
			total:         1,
			perEvent:      map[string]int{"evt-1": 1},
			quantity:      2,
			reason:        ReasonEventLimit,
			expectedLimit: 2,
		},
		{
			name:          "high risk score allows one",
			profile:       &models.RiskProfile{UserID: "u1", RiskScore: intPtr(65)},
			quantity:      2,
			reason:        ReasonEventLimit,
			expectedLimit: 1,
		},
		{
			name:          "level wins over score",
			profile:       &models.RiskProfile{UserID: "u1", RiskScore: intPtr(95), RiskLevel: models.RiskLow},
			quantity:      4,
			allowed:       true,
			expectedLimit: 4,
		},
		{
			name:          "global cap across events",
			profile:       &models.RiskProfile{UserID: "u1", RiskLevel: models.RiskLow},
			total:         4,
			perEvent:      map[string]int{"evt-2": 4},
			quantity:      2,
			reason:        ReasonGlobalLimit,
			expectedLimit: 4,
		},
		{
			name:          "exactly at global cap",
			profile:       &models.RiskProfile{UserID: "u1", RiskLevel: models.RiskLow},
			total:         3,
			perEvent:      map[string]int{"evt-2": 3},
			quantity:      2,
			allowed:       true,
			expectedLimit: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiles := &mockProfiles{}
			counter := &mockCounter{}
			profiles.On("Get", ctx, "u1").Return(tt.profile, tt.profileErr)
			counter.On("CountPurchased", ctx, "u1").Return(tt.total, tt.perEvent, nil)

			p := New(profiles, counter, Config{DefaultEventLimit: 2, MaxTicketsPerUser: 5})
			d, err := p.CheckPurchaseLimits(ctx, "u1", "evt-1", tt.quantity)

			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.expectedLimit, d.EventLimit)
			assert.Equal(t, 5, d.GlobalLimit)
			if tt.allowed {
				assert.NoError(t, d.Err())
			} else {
				assert.ErrorIs(t, d.Err(), status.ErrLimitExceeded)
			}
			profiles.AssertExpectations(t)
			counter.AssertExpectations(t)
		})
	}
}

func TestCheckPurchaseLimits_FailOpen(t *testing.T) {
	ctx := context.Background()
	profiles := &mockProfiles{}
	counter := &mockCounter{}
	profiles.On("Get", ctx, "u1").Return(nil, errors.New("redis down"))

	p := New(profiles, counter, Config{FailOpenOnPolicyError: true})
	d, err := p.CheckPurchaseLimits(ctx, "u1", "evt-1", 1)

	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.FailedOpen)
	counter.AssertNotCalled(t, "CountPurchased", mock.Anything, mock.Anything)
}

func TestCheckPurchaseLimits_FailClosed(t *testing.T) {
	ctx := context.Background()
	profiles := &mockProfiles{}
	counter := &mockCounter{}
	profiles.On("Get", ctx, "u1").Return(nil, status.New(status.KindNotFound, "no profile"))
	counter.On("CountPurchased", ctx, "u1").Return(0, nil, errors.New("query timeout"))

	p := New(profiles, counter, Config{FailOpenOnPolicyError: false})
	d, err := p.CheckPurchaseLimits(ctx, "u1", "evt-1", 1)

	assert.Error(t, err)
	assert.Equal(t, status.KindInternal, status.KindOf(err))
	assert.False(t, d.Allowed)
}

package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets breaker tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(settings BreakerSettings) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", settings)
	cb.now = clock.Now
	cb.toNewGeneration(clock.Now())
	return cb, clock
}

func fail() (any, error) { return nil, errors.New("failure") }
func succeed() (any, error) { return "ok", nil }

// Circuit Breaker Tests

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("ledger", BreakerSettings{})

	assert.Equal(t, "ledger", cb.Name())
	assert.Equal(t, DefaultBreakerSettings(), cb.settings)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb, _ := newTestBreaker(BreakerSettings{})

	result, err := cb.Execute(context.Background(), succeed)

	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().Requests)
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
}

func TestCircuitBreaker_ExecuteFailure(t *testing.T) {
	cb, _ := newTestBreaker(BreakerSettings{})

	expectedError := errors.New("test error")
	result, err := cb.Execute(context.Background(), func() (any, error) {
		return nil, expectedError
	})

	assert.Equal(t, expectedError, err)
	assert.Nil(t, result)
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TripsAfterFailureRatio(t *testing.T) {
	cb, _ := newTestBreaker(BreakerSettings{MinRequests: 5, FailureRatio: 0.6})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, succeed)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, fail)
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(ctx, func() (any, error) {
		t.Fatal("request must not run while the breaker is open")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpenState)
}

func TestCircuitBreaker_DoesNotTripBelowMinRequests(t *testing.T) {
	cb, _ := newTestBreaker(BreakerSettings{MinRequests: 10})

	for i := 0; i < 9; i++ {
		cb.Execute(context.Background(), fail)
	}

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb, clock := newTestBreaker(BreakerSettings{MinRequests: 2, Timeout: time.Minute})
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Minute + time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(ctx, succeed)
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(BreakerSettings{MinRequests: 2, Timeout: time.Minute})
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	clock.Advance(2 * time.Minute)

	_, err := cb.Execute(ctx, fail)
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsRequests(t *testing.T) {
	cb, clock := newTestBreaker(BreakerSettings{MinRequests: 2, Timeout: time.Minute, MaxHalfOpenRequests: 1})
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	clock.Advance(2 * time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		cb.Execute(ctx, func() (any, error) {
			close(started)
			<-release
			return "ok", nil
		})
	}()

	<-started
	_, err := cb.Execute(ctx, succeed)
	assert.ErrorIs(t, err, ErrTooManyRequests)

	close(release)
	<-done
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IntervalClearsCounts(t *testing.T) {
	cb, clock := newTestBreaker(BreakerSettings{MinRequests: 3, Interval: time.Minute})
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	clock.Advance(2 * time.Minute)
	cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
}

func TestCircuitBreaker_ContextErrorsDoNotCount(t *testing.T) {
	cb, _ := newTestBreaker(BreakerSettings{MinRequests: 1})

	_, err := cb.Execute(context.Background(), func() (any, error) {
		return nil, context.DeadlineExceeded
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateClosed, cb.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cb.Execute(ctx, func() (any, error) {
		t.Fatal("request must not run with a cancelled context")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(BreakerSettings{})

	assert.Panics(t, func() {
		cb.Execute(context.Background(), func() (any, error) {
			panic("boom")
		})
	})
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb, _ := newTestBreaker(BreakerSettings{MinRequests: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				cb.Execute(context.Background(), succeed)
			} else {
				cb.Execute(context.Background(), fail)
			}
		}(i)
	}
	wg.Wait()

	counts := cb.Counts()
	assert.Equal(t, uint32(50), counts.Requests)
	assert.Equal(t, uint32(25), counts.TotalSuccesses)
	assert.Equal(t, uint32(25), counts.TotalFailures)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

// Random helpers

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(6)

	require.NoError(t, err)
	assert.Len(t, code, 12)
	assert.Regexp(t, "^[0-9A-F]+$", code)
}

func TestRandomIntnStaysInRange(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		v, err := RandomIntn(4)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 4)
		seen[v] = true
	}
	assert.Len(t, seen, 4)
}

func TestNowIsMillisecondUTC(t *testing.T) {
	now := Now()

	assert.Equal(t, time.UTC, now.Location())
	assert.Equal(t, 0, now.Nanosecond()%int(time.Millisecond))
}

// Redis Client Tests

func TestRedisHealthCheck_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")

	err := RedisHealthCheck(context.Background(), db)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHealthCheck_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetErr(errors.New("connection failed"))

	err := RedisHealthCheck(context.Background(), db)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")
	assert.Contains(t, err.Error(), "connection failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func BenchmarkCircuitBreaker_Execute_Success(b *testing.B) {
	cb := NewCircuitBreaker("benchmark", BreakerSettings{})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(ctx, succeed)
	}
}

package utils

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrOpenState       = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests when circuit breaker is half open")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// BreakerSettings tunes a CircuitBreaker. Zero values fall back to the
// defaults of DefaultBreakerSettings.
type BreakerSettings struct {
	// MaxHalfOpenRequests is how many trial requests are let through while half open.
	MaxHalfOpenRequests uint32
	// MinRequests is the sample size required before the breaker may trip.
	MinRequests  uint32
	FailureRatio float64
	// Interval clears the closed-state counts periodically.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxHalfOpenRequests: 1,
		MinRequests:         5,
		FailureRatio:        0.6,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
	}
}

type CircuitBreaker struct {
	name     string
	settings BreakerSettings
	now      func() time.Time

	mutex      sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

func NewCircuitBreaker(name string, settings BreakerSettings) *CircuitBreaker {
	defaults := DefaultBreakerSettings()
	if settings.MaxHalfOpenRequests == 0 {
		settings.MaxHalfOpenRequests = defaults.MaxHalfOpenRequests
	}
	if settings.MinRequests == 0 {
		settings.MinRequests = defaults.MinRequests
	}
	if settings.FailureRatio <= 0 {
		settings.FailureRatio = defaults.FailureRatio
	}
	if settings.Interval <= 0 {
		settings.Interval = defaults.Interval
	}
	if settings.Timeout <= 0 {
		settings.Timeout = defaults.Timeout
	}

	cb := &CircuitBreaker{
		name:     name,
		settings: settings,
		now:      time.Now,
		state:    StateClosed,
	}
	cb.toNewGeneration(cb.now())
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state, _ := cb.currentState(cb.now())
	return state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.counts
}

// Execute runs req unless the breaker is open. A context error returned by
// req is not counted as a failure of the protected dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, req func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	generation, err := cb.beforeRequest()
	if err != nil {
		return nil, err
	}

	defer func() {
		if e := recover(); e != nil {
			cb.afterRequest(generation, false)
			panic(e)
		}
	}()

	result, err := req()
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		cb.afterRequest(generation, true)
		return result, err
	}
	cb.afterRequest(generation, err == nil)
	return result, err
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state, generation := cb.currentState(cb.now())

	if state == StateOpen {
		return generation, ErrOpenState
	} else if state == StateHalfOpen && cb.counts.Requests >= cb.settings.MaxHalfOpenRequests {
		return generation, ErrTooManyRequests
	}

	cb.counts.Requests++
	return generation, nil
}

func (cb *CircuitBreaker) afterRequest(before uint64, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	state, generation := cb.currentState(now)
	if generation != before {
		return
	}

	if success {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	cb.counts.TotalSuccesses++
	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0

	if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.settings.MaxHalfOpenRequests {
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch state {
	case StateClosed:
		if cb.readyToTrip() {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) readyToTrip() bool {
	return cb.counts.Requests >= cb.settings.MinRequests &&
		float64(cb.counts.TotalFailures)/float64(cb.counts.Requests) >= cb.settings.FailureRatio
}

func (cb *CircuitBreaker) currentState(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.toNewGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.toNewGeneration(now)

	slog.Warn("Circuit breaker state changed", "breaker", cb.name, "from", prev.String(), "to", state.String())
}

func (cb *CircuitBreaker) toNewGeneration(now time.Time) {
	cb.generation++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		cb.expiry = now.Add(cb.settings.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.settings.Timeout)
	default:
		cb.expiry = time.Time{}
	}
}

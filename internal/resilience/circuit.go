// Package resilience guards Nearby Search calls against a failing places
// provider. Failures go straight back to the caller; the breaker only
// decides whether the next request is sent at all.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the breaker's view of the places provider.
type CircuitState int

const (
	// CircuitClosed sends every search upstream.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects searches without contacting the provider.
	CircuitOpen
	// CircuitHalfOpen lets searches through until they prove the provider is back.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen rejects a search while the provider is considered down.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls when the provider is taken out of rotation.
type CircuitBreakerConfig struct {
	// Name labels the provider in metrics and state-change callbacks.
	Name string

	// FailureThreshold is how many tripping errors in a row open the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is the cool-down after the last tripping error before a
	// search is let through again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is how many searches must succeed after the
	// cool-down before the circuit closes. Default: 1.
	HalfOpenMaxProbes int

	// ShouldTrip classifies errors. Nil means transient provider errors
	// (timeouts, 5xx, rate limiting) trip and caller cancellation does not.
	ShouldTrip func(err error) bool

	// OnStateChange observes every transition, e.g. to update a gauge.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the settings used for Nearby Search.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:              "places",
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker tracks consecutive provider failures. Safe for concurrent
// use by the per-type fetch goroutines.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	lastTripAt          time.Time
	probeSuccesses      int

	nowFunc func() time.Time
}

// NewCircuitBreaker applies defaults for zero fields and starts closed.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = tripsOnProviderError
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

func tripsOnProviderError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return IsTransient(err)
}

// Execute runs fn unless the circuit is open, and records its outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for calls that return a value, such as one Nearby
// Search page.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}

	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// Name returns the provider label.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// State reports the current state. An open circuit whose cool-down has
// elapsed reads as half-open even before the next search arrives.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.cooledDown() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.probeSuccesses = 0
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// Counters returns the consecutive failure count and the stored state.
func (cb *CircuitBreaker) Counters() (consecutiveFailures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures, cb.state
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.nowFunc().Sub(cb.lastTripAt) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if !cb.cooledDown() {
		return ErrCircuitOpen
	}
	cb.transition(CircuitHalfOpen)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.cfg.ShouldTrip(err) {
		cb.consecutiveFailures++
		cb.lastTripAt = cb.nowFunc()

		switch cb.state {
		case CircuitClosed:
			if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
				cb.transition(CircuitOpen)
			}
		case CircuitHalfOpen:
			// The provider is still failing; restart the cool-down.
			cb.probeSuccesses = 0
			cb.transition(CircuitOpen)
		}
		return
	}

	// Success, or an error that says nothing about provider health.
	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures = 0
	case CircuitHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.HalfOpenMaxProbes {
			cb.consecutiveFailures = 0
			cb.probeSuccesses = 0
			cb.transition(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// Package circuitbreaker protects the simulated payment provider from
// a retry storm once it starts failing: enough consecutive
// authorization failures trip the breaker and every call is rejected
// up front for resetTimeout instead of adding to the pile-up.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker guards calls to the payment provider. maxFailures
// consecutive Execute errors trip it open; after resetTimeout it lets
// one call through (half-open) to probe whether the provider recovered.
type CircuitBreaker struct {
	maxFailures     int
	resetTimeout    time.Duration
	failureCount    int
	lastFailureTime time.Time
	state           State
	onStateChange   func(State)
	mu              sync.RWMutex
}

// ErrProviderUnavailable is returned by Execute while the breaker is
// open: the provider is presumed down and the call is rejected without
// being attempted.
var ErrProviderUnavailable = errors.New("provider circuit open: authorization calls suspended")

// NewCircuitBreaker builds a breaker for the provider authorization
// call. onStateChange, if non-nil, is invoked whenever the breaker's
// state changes, so callers can mirror it into a metric.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, onStateChange func(State)) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:   maxFailures,
		resetTimeout:  resetTimeout,
		state:         StateClosed,
		onStateChange: onStateChange,
	}
}

func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onStateChange != nil {
		cb.onStateChange(s)
	}
}

func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailureTime) > cb.resetTimeout {
			cb.setState(StateHalfOpen)
			cb.failureCount = 0
		} else {
			return ErrProviderUnavailable
		}
	}

	err := fn()

	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = time.Now()

		if cb.failureCount >= cb.maxFailures {
			cb.setState(StateOpen)
		} else if cb.state == StateHalfOpen {
			cb.setState(StateOpen)
		}
		return err
	}

	switch cb.state {
	case StateHalfOpen:
		cb.setState(StateClosed)
		cb.failureCount = 0
	case StateClosed:
		cb.failureCount = 0
	}

	return nil
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

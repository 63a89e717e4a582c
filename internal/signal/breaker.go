package signal

import (
	"errors"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	StateClosed   BreakerState = 0 // Normal operation: requests pass through
	StateOpen     BreakerState = 1 // Circuit tripped: requests rejected immediately
	StateHalfOpen BreakerState = 2 // Testing: one request allowed through to probe
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the provider's circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker guards a live provider endpoint.
// After maxFailures consecutive failures, the breaker opens and rejects all
// calls for resetTimeout. After the timeout one probe call is let through: if
// it succeeds the breaker closes, if it fails it reopens. Calls arriving while
// the probe is in flight are rejected.
type Breaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	probing      bool

	now func() time.Time

	// OnStateChange is called on state transitions (optional).
	OnStateChange func(from, to BreakerState)
}

// NewBreaker creates a circuit breaker.
// maxFailures <= 0 disables tripping.
func NewBreaker(maxFailures int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Execute runs fn through the circuit breaker.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) <= b.resetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen {
			b.transition(StateOpen)
		} else if b.maxFailures > 0 && b.failures >= b.maxFailures && b.state == StateClosed {
			b.transition(StateOpen)
		}
		return err
	}

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
	return nil
}

// CurrentState returns the current circuit breaker state.
func (b *Breaker) CurrentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}

package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents a circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name
func (s State) String() string {
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

// OpenError is returned when a breaker rejects a call without invoking the
// operation. RetryAfter is the remaining time until the next probe window;
// it is zero when the breaker is already probing at capacity.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker '%s' is open, retry after %s", e.Name, e.RetryAfter)
	}
	return fmt.Sprintf("circuit breaker '%s' is open", e.Name)
}

// BreakerConfig controls a circuit breaker's thresholds and timing
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the consecutive half-open success count that closes it.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before admitting probes.
	Timeout time.Duration
	// HalfOpenMaxCalls caps concurrent probes while half-open.
	HalfOpenMaxCalls int
	// OnStateChange is invoked after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerConfig returns the breaker defaults used per provider
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return c
}

// CircuitBreaker is a long-lived closed/open/half-open state machine guarding
// one logical downstream. It performs no I/O and is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	halfOpenCalls int
	lastFailure   time.Time
}

// NewCircuitBreaker creates a circuit breaker in the closed state
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: StateClosed,
	}
}

// Name returns the breaker name
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current state, applying the lazy open-to-half-open check
// so callers never observe a stale open state past its timeout.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.Timeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs op if the breaker admits the call. While open, calls are
// rejected with *OpenError without invoking op; the open-to-half-open
// transition is checked lazily on the next call rather than by a timer.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	admitted, transition, err := b.admit()
	b.notify(transition)
	if err != nil {
		return err
	}

	opErr := op(ctx)

	if opErr != nil {
		transition = b.onFailure(admitted)
	} else {
		transition = b.onSuccess(admitted)
	}
	b.notify(transition)

	return opErr
}

// Reset forces the breaker to closed, clearing all counters
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.halfOpenCalls = 0
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(&stateChange{from: from, to: StateClosed})
	}
}

// ForceOpen forces the breaker open, an operational kill-switch. The breaker
// re-enters half-open after Timeout as usual.
func (b *CircuitBreaker) ForceOpen() {
	b.mu.Lock()
	from := b.state
	b.state = StateOpen
	b.failures = 0
	b.successes = 0
	b.halfOpenCalls = 0
	b.lastFailure = b.now()
	b.mu.Unlock()

	if from != StateOpen {
		b.notify(&stateChange{from: from, to: StateOpen})
	}
}

type stateChange struct {
	from State
	to   State
}

// halfOpenAdmission distinguishes a probe call whose completion must release
// a half-open slot from an ordinary closed-state call.
type admission int

const (
	admissionClosed admission = iota
	admissionHalfOpen
)

// admit performs the check-then-act admission atomically under the lock
func (b *CircuitBreaker) admit() (admission, *stateChange, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var transition *stateChange

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed < b.cfg.Timeout {
			return 0, nil, &OpenError{Name: b.name, RetryAfter: b.cfg.Timeout - elapsed}
		}
		transition = &stateChange{from: StateOpen, to: StateHalfOpen}
		b.state = StateHalfOpen
		b.successes = 0
		b.halfOpenCalls = 0
	}

	if b.state == StateHalfOpen {
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return 0, transition, &OpenError{Name: b.name}
		}
		b.halfOpenCalls++
		return admissionHalfOpen, transition, nil
	}

	return admissionClosed, transition, nil
}

func (b *CircuitBreaker) onFailure(adm admission) *stateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	if adm == admissionHalfOpen && b.halfOpenCalls > 0 {
		b.halfOpenCalls--
	}
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		// Any half-open failure reopens immediately.
		b.state = StateOpen
		b.failures = 0
		b.successes = 0
		b.halfOpenCalls = 0
		return &stateChange{from: StateHalfOpen, to: StateOpen}
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.failures = 0
			return &stateChange{from: StateClosed, to: StateOpen}
		}
	}
	return nil
}

func (b *CircuitBreaker) onSuccess(adm admission) *stateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	if adm == admissionHalfOpen && b.halfOpenCalls > 0 {
		b.halfOpenCalls--
	}

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.halfOpenCalls = 0
			return &stateChange{from: StateHalfOpen, to: StateClosed}
		}
	case StateClosed:
		b.failures = 0
	}
	return nil
}

// notify fires the state-change callback outside the breaker lock
func (b *CircuitBreaker) notify(transition *stateChange) {
	if transition == nil || b.cfg.OnStateChange == nil {
		return
	}
	b.cfg.OnStateChange(b.name, transition.from, transition.to)
}

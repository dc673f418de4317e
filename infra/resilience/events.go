// Package resilience provides the retry and circuit-breaker machinery that
// guards every gateway call: bounded retries with exponential backoff and
// jitter, a per-downstream closed/open/half-open circuit breaker, and an
// executor composing both around an arbitrary operation.
package resilience

import "time"

// EventType identifies a resilience event
type EventType string

const (
	EventRetryAttempt    EventType = "retry_attempt"
	EventBreakerOpened   EventType = "breaker_opened"
	EventBreakerHalfOpen EventType = "breaker_half_open"
	EventBreakerClosed   EventType = "breaker_closed"
	EventBreakerRejected EventType = "breaker_rejected"
)

// Event describes one observable resilience occurrence: a scheduled retry or
// a breaker state transition.
type Event struct {
	Type    EventType
	Breaker string
	Attempt int
	Delay   time.Duration
	Err     error
	From    State
	To      State
	At      time.Time
}

// Observer receives resilience events. Absence of an observer must not change
// behavior; all emit paths tolerate a nil Observer.
type Observer interface {
	OnEvent(event Event)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(event Event)

// OnEvent implements Observer
func (f ObserverFunc) OnEvent(event Event) {
	f(event)
}

func emit(obs Observer, event Event) {
	if obs == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	obs.OnEvent(event)
}

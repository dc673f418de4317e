package resilience

import (
	"context"
	"time"
)

// Executor composes a circuit breaker and a retry policy around an
// operation. Either half may be absent: a nil Breaker skips admission
// control, a nil Retry runs a single attempt. The breaker records one
// outcome per overall retrying operation, not one per internal attempt, so
// breaker sensitivity does not depend on retry configuration.
type Executor struct {
	Breaker  *CircuitBreaker
	Retry    *RetryConfig
	Observer Observer
}

// Execute runs op through ex's breaker and retry policy
func Execute[T any](ctx context.Context, ex Executor, op func(context.Context) (T, error)) (T, error) {
	var result T

	run := func(ctx context.Context) error {
		var err error
		result, err = retryOp(ctx, ex, op)
		return err
	}

	if ex.Breaker == nil {
		err := run(ctx)
		return result, err
	}

	err := ex.Breaker.Execute(ctx, run)
	if openErr, ok := err.(*OpenError); ok {
		emit(ex.Observer, Event{
			Type:    EventBreakerRejected,
			Breaker: ex.Breaker.Name(),
			Err:     openErr,
		})
	}
	return result, err
}

func retryOp[T any](ctx context.Context, ex Executor, op func(context.Context) (T, error)) (T, error) {
	if ex.Retry == nil {
		return op(ctx)
	}

	name := ""
	if ex.Breaker != nil {
		name = ex.Breaker.Name()
	}
	obs := func(attempt int, err error, delay time.Duration) {
		emit(ex.Observer, Event{
			Type:    EventRetryAttempt,
			Breaker: name,
			Attempt: attempt,
			Delay:   delay,
			Err:     err,
		})
	}

	return Do(ctx, *ex.Retry, obs, op)
}

// StateChangeEmitter returns an OnStateChange callback that forwards breaker
// transitions to obs as events.
func StateChangeEmitter(obs Observer) func(name string, from, to State) {
	return func(name string, from, to State) {
		eventType := EventBreakerClosed
		switch to {
		case StateOpen:
			eventType = EventBreakerOpened
		case StateHalfOpen:
			eventType = EventBreakerHalfOpen
		}
		emit(obs, Event{
			Type:    eventType,
			Breaker: name,
			From:    from,
			To:      to,
		})
	}
}

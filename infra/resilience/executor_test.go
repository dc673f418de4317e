package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) OnEvent(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) byType(eventType EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestExecute_RetryOnly(t *testing.T) {
	cfg := fastRetryConfig(3)
	calls := 0

	result, err := Execute(context.Background(), Executor{Retry: &cfg}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 2, calls)
}

func TestExecute_BreakerOnly(t *testing.T) {
	b := NewCircuitBreaker("pay", BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	ex := Executor{Breaker: b}

	_, err := Execute(context.Background(), ex, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)

	invoked := false
	_, err = Execute(context.Background(), ex, func(ctx context.Context) (int, error) {
		invoked = true
		return 1, nil
	})
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.False(t, invoked)
}

func TestExecute_NeitherConfigured(t *testing.T) {
	result, err := Execute(context.Background(), Executor{}, func(ctx context.Context) (string, error) {
		return "plain", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "plain", result)
}

// A multi-attempt retry sequence counts as one breaker outcome, so the
// breaker only opens after FailureThreshold whole operations fail.
func TestExecute_RetrySequenceCountsOnceAgainstBreaker(t *testing.T) {
	cfg := fastRetryConfig(3)
	b := NewCircuitBreaker("pay", BreakerConfig{FailureThreshold: 2, Timeout: time.Hour})
	ex := Executor{Breaker: b, Retry: &cfg}

	attempts := 0
	op := func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("down")
	}

	_, err := Execute(context.Background(), ex, op)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, StateClosed, b.State(), "three failed attempts are one breaker failure")

	_, err = Execute(context.Background(), ex, op)
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestExecute_EmitsRetryAndRejectionEvents(t *testing.T) {
	obs := &recordingObserver{}
	cfg := fastRetryConfig(2)
	b := NewCircuitBreaker("iyzico", BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	ex := Executor{Breaker: b, Retry: &cfg, Observer: obs}

	op := func(ctx context.Context) (int, error) { return 0, errors.New("down") }

	_, err := Execute(context.Background(), ex, op)
	require.Error(t, err)

	retries := obs.byType(EventRetryAttempt)
	require.Len(t, retries, 1)
	assert.Equal(t, "iyzico", retries[0].Breaker)
	assert.Equal(t, 1, retries[0].Attempt)

	_, err = Execute(context.Background(), ex, op)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	require.Len(t, obs.byType(EventBreakerRejected), 1)
}

func TestStateChangeEmitter(t *testing.T) {
	obs := &recordingObserver{}
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 1
	cfg.Timeout = time.Second
	cfg.OnStateChange = StateChangeEmitter(obs)

	b := NewCircuitBreaker("paytr", cfg)
	now := time.Now()
	b.now = func() time.Time { return now }

	require.Error(t, b.Execute(context.Background(), fail))
	now = now.Add(2 * time.Second)
	require.NoError(t, b.Execute(context.Background(), succeed))

	assert.Len(t, obs.byType(EventBreakerOpened), 1)
	assert.Len(t, obs.byType(EventBreakerHalfOpen), 1)
	assert.Len(t, obs.byType(EventBreakerClosed), 1)
}

func TestBreakerRegistry(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	a := reg.Get("iyzico")
	b := reg.Get("paytr")
	assert.NotSame(t, a, b)
	assert.Same(t, a, reg.Get("iyzico"))
	assert.ElementsMatch(t, []string{"iyzico", "paytr"}, reg.Names())

	a.ForceOpen()
	b.ForceOpen()
	reg.ResetAll()
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, StateClosed, b.State())
}

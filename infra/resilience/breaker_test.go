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

var errDownstream = errors.New("downstream failure")

func newTestBreaker(cfg BreakerConfig) (*CircuitBreaker, *time.Time) {
	b := NewCircuitBreaker("test", cfg)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func fail(ctx context.Context) error    { return errDownstream }
func succeed(ctx context.Context) error { return nil }

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(context.Background(), fail), errDownstream)
	}
	assert.Equal(t, StateOpen, b.State())

	// Next call is rejected without invoking the operation.
	invoked := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.False(t, invoked)
	assert.Equal(t, "test", openErr.Name)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, openErr.RetryAfter, time.Minute)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, Timeout: time.Minute})

	require.Error(t, b.Execute(context.Background(), fail))
	require.Error(t, b.Execute(context.Background(), fail))
	require.NoError(t, b.Execute(context.Background(), succeed))
	require.Error(t, b.Execute(context.Background(), fail))
	require.Error(t, b.Execute(context.Background(), fail))

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 30 * time.Second})

	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, StateOpen, b.State())

	*now = now.Add(31 * time.Second)

	// Next call is admitted as a half-open probe.
	require.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, StateHalfOpen, b.State())

	// Second consecutive success closes the breaker.
	require.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 30 * time.Second})

	require.Error(t, b.Execute(context.Background(), fail))
	*now = now.Add(31 * time.Second)

	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, StateOpen, b.State())

	var openErr *OpenError
	require.ErrorAs(t, b.Execute(context.Background(), succeed), &openErr)
}

func TestBreaker_HalfOpenConcurrencyCap(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 5, Timeout: time.Second, HalfOpenMaxCalls: 2})

	require.Error(t, b.Execute(context.Background(), fail))
	*now = now.Add(2 * time.Second)

	const burst = 20
	release := make(chan struct{})
	started := make(chan struct{}, burst)

	var mu sync.Mutex
	admitted, rejected := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func(ctx context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else {
				rejected++
			}
		}()
	}

	// Wait for both probes to block inside the operation and for every other
	// call to be rejected before releasing the probes.
	<-started
	<-started
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := rejected == burst-2
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, 2, admitted)
	assert.Equal(t, burst-2, rejected)
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Execute(context.Background(), succeed))
}

func TestBreaker_ForceOpen(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 5, Timeout: time.Hour})

	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())

	var openErr *OpenError
	require.ErrorAs(t, b.Execute(context.Background(), succeed), &openErr)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	var mu sync.Mutex

	cfg := BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+">"+to.String())
			mu.Unlock()
		},
	}
	b, now := newTestBreaker(cfg)

	require.Error(t, b.Execute(context.Background(), fail))
	*now = now.Add(2 * time.Second)
	require.NoError(t, b.Execute(context.Background(), succeed))

	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}

func TestOpenError_Message(t *testing.T) {
	err := &OpenError{Name: "iyzico", RetryAfter: 5 * time.Second}
	assert.Contains(t, err.Error(), "iyzico")
	assert.Contains(t, err.Error(), "5s")

	noWindow := &OpenError{Name: "iyzico"}
	assert.Equal(t, "circuit breaker 'iyzico' is open", noWindow.Error())
}

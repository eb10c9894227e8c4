package errors

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a circuit breaker with max 3 failures
	cb := NewCircuitBreaker("test",
		WithMaxFailures(3),
		WithResetTimeout(1*time.Second),
	)

	// When: recording 3 failures
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error {
			return errors.New("error")
		})
	}

	// Then: circuit is open and rejects without calling fn
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	// Given: a tripped breaker with a controllable clock
	cb := NewCircuitBreaker("test", WithMaxFailures(2), WithResetTimeout(time.Minute))
	now := time.Now()
	cb.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errors.New("error") })
	}
	require.Equal(t, StateOpen, cb.State())

	// When: the reset timeout elapses
	now = now.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Then: the probe is let through and success closes the circuit
	err := cb.Execute(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReOpens(t *testing.T) {
	// Given: a circuit in half-open state
	cb := NewCircuitBreaker("test", WithMaxFailures(2), WithResetTimeout(time.Minute))
	now := time.Now()
	cb.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errors.New("error") })
	}
	now = now.Add(2 * time.Minute)

	// When: the probe fails
	_ = cb.Execute(func() error { return errors.New("still failing") })

	// Then: circuit reopens
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	// Given: a half-open breaker whose probe is still running
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(time.Minute))
	now := time.Now()
	cb.now = func() time.Time { return now }
	_ = cb.Execute(func() error { return errors.New("error") })
	now = now.Add(2 * time.Minute)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	// When: a second call arrives during the probe
	err := cb.Execute(func() error { return nil })

	// Then: it is rejected, and the probe's success closes the circuit
	assert.ErrorIs(t, err, ErrCircuitOpen)
	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(5))

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("error") })
	}
	require.Equal(t, 3, cb.Failures())

	err := cb.Execute(func() error { return nil })

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_FailurePredicateIgnoresCallerErrors(t *testing.T) {
	// Given: a breaker that only counts retryable failures
	cb := NewCircuitBreaker("embedder",
		WithMaxFailures(1),
		WithFailurePredicate(IsRetryable),
	)

	// When: a non-retryable error is returned
	err := cb.Execute(func() error { return NewInputTooLongError(0, nil) })

	// Then: the error surfaces but the circuit stays closed
	assert.True(t, IsInputTooLong(err))
	assert.Equal(t, StateClosed, cb.State())

	// And: a retryable error trips it
	_ = cb.Execute(func() error { return NewEmbeddingError(true, nil) })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitExecute_ReturnsResult(t *testing.T) {
	cb := NewCircuitBreaker("test")

	got, err := CircuitExecute(cb, func() ([]int, error) { return []int{1, 2}, nil })

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(100))

	var wg sync.WaitGroup
	var calls atomic.Int32

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				calls.Add(1)
				if i%2 == 0 {
					return nil
				}
				return errors.New("error")
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), calls.Load())
}

func TestNewCircuitBreaker_DefaultValues(t *testing.T) {
	cb := NewCircuitBreaker("embedder")

	assert.Equal(t, "embedder", cb.Name())
	assert.Equal(t, 5, cb.maxFailures)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

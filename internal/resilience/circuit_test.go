package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(threshold int, reset time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := testBreaker(3, time.Minute)
	fail := func(ctx context.Context) error { return eris.New("down") }

	for range 3 {
		_ = cb.Execute(context.Background(), fail)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), fail)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := testBreaker(3, time.Minute)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("down") })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("down") })
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("down") })
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := testBreaker(1, 10*time.Millisecond)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("down") })
	assert.Equal(t, CircuitOpen, cb.State())

	// Pretend the reset timeout elapsed.
	cb.nowFunc = func() time.Time { return time.Now().Add(time.Second) }
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := testBreaker(1, 10*time.Millisecond)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("down") })

	cb.nowFunc = func() time.Time { return time.Now().Add(time.Second) }
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("still down") })

	cb.nowFunc = time.Now
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_ShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       IsTransient,
	})

	// Permanent errors do not trip the breaker.
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("bad request") })
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return NewTransientError(eris.New("503"), 503)
	})
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestExecuteVal(t *testing.T) {
	cb := testBreaker(1, time.Minute)
	val, err := ExecuteVal(context.Background(), cb, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)

	_, _ = ExecuteVal(context.Background(), cb, func(ctx context.Context) (int, error) {
		return 0, eris.New("down")
	})
	_, err = ExecuteVal(context.Background(), cb, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := testBreaker(1, time.Minute)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return eris.New("down") })
	assert.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestDLQEntry_CanRetry(t *testing.T) {
	e := &DLQEntry{RetryCount: 2, MaxRetries: 3}
	assert.True(t, e.CanRetry())
	e.RetryCount = 3
	assert.False(t, e.CanRetry())
}

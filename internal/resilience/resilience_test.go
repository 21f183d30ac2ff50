package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = Transient(errors.New("gateway busy"), http.StatusServiceUnavailable)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{Attempts: attempts, Backoff: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("bad request")))
	assert.True(t, IsTransient(errFlaky))
	assert.True(t, IsTransient(eris.Wrap(errFlaky, "transfer: post")))
	assert.True(t, IsTransient(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
}

func TestRetryableStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 404, 409, 422} {
		assert.False(t, RetryableStatus(code), "status %d", code)
	}
}

func TestCheckResponse(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CheckResponse(&http.Response{StatusCode: 201}, "svc"))

	err := CheckResponse(&http.Response{StatusCode: 503}, "svc")
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	err = CheckResponse(&http.Response{StatusCode: 422}, "svc")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "422")
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), fastRetry(3), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	t.Parallel()

	calls := 0
	permanent := errors.New("insufficient funds")
	err := Retry(context.Background(), fastRetry(5), "op", func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), fastRetry(4), "op", func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryConfig{Attempts: 10, Backoff: time.Hour, MaxDelay: time.Hour}, "op", func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryConfig_Delay(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{Attempts: 5, Backoff: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, cfg.delay(0))
	assert.Equal(t, 200*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 300*time.Millisecond, cfg.delay(2))
	assert.Equal(t, 300*time.Millisecond, cfg.delay(40))

	cfg.Jitter = 0.5
	for range 50 {
		d := cfg.delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := NewBreaker("gateway", BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	fail := func(context.Context) error { return errFlaky }

	assert.ErrorIs(t, b.Call(context.Background(), fail), errFlaky)
	assert.Equal(t, Closed, b.State())
	assert.ErrorIs(t, b.Call(context.Background(), fail), errFlaky)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Call(context.Background(), func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	b := NewBreaker("gateway", BreakerConfig{Threshold: 1})
	err := b.Call(context.Background(), func(context.Context) error { return errors.New("rejected") })
	assert.Error(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_000, 0)
	b := NewBreaker("ethos", BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second})
	b.now = func() time.Time { return now }

	_ = b.Call(context.Background(), func(context.Context) error { return errFlaky })
	require.Equal(t, Open, b.State())

	now = now.Add(10 * time.Second)
	assert.Equal(t, HalfOpen, b.State())

	// a failed trial request reopens
	_ = b.Call(context.Background(), func(context.Context) error { return errFlaky })
	assert.Equal(t, Open, b.State())

	now = now.Add(10 * time.Second)
	require.NoError(t, b.Call(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, Closed, b.State())
}

func TestGuard(t *testing.T) {
	t.Parallel()

	b := NewBreaker("gateway", BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	calls := 0
	err := Guard(context.Background(), b, fastRetry(5), "transfer", func(context.Context) error {
		calls++
		return errFlaky
	})
	// the breaker opens after two failures and ErrOpen is not retried
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 2, calls)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

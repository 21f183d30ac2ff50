package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls exponential backoff with jitter.
type RetryConfig struct {
	// Attempts counts the first try. 1 disables retries.
	Attempts int           `yaml:"attempts" mapstructure:"attempts"`
	Backoff  time.Duration `yaml:"backoff" mapstructure:"backoff"`
	MaxDelay time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	// Jitter is the +/- fraction applied to each delay.
	Jitter float64 `yaml:"jitter" mapstructure:"jitter"`
}

// DefaultRetry is three attempts starting at 200ms.
func DefaultRetry() RetryConfig {
	return RetryConfig{Attempts: 3, Backoff: 200 * time.Millisecond, MaxDelay: 5 * time.Second, Jitter: 0.2}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetry()
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.Backoff <= 0 {
		c.Backoff = d.Backoff
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// delay returns the wait before retry number n (0-based).
func (c RetryConfig) delay(n int) time.Duration {
	d := c.MaxDelay
	if n < 32 {
		d = c.Backoff << n
	}
	if d <= 0 || d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * c.Jitter * float64(d))
	}
	return max(d, 0)
}

// Retry runs fn until it succeeds, returns a permanent error, the attempts
// run out or ctx is done. It returns the last error.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()

	var err error
	for n := range cfg.Attempts {
		if err = fn(ctx); err == nil || !IsTransient(err) || ctx.Err() != nil {
			return err
		}
		if n == cfg.Attempts-1 {
			break
		}

		wait := cfg.delay(n)
		zap.L().Warn("retrying call",
			zap.String("component", "resilience"),
			zap.String("operation", op),
			zap.Int("attempt", n+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

// Guard combines a breaker with retries: each attempt passes through b.
func Guard(ctx context.Context, b *Breaker, cfg RetryConfig, op string, fn func(context.Context) error) error {
	return Retry(ctx, cfg, op, func(ctx context.Context) error {
		return b.Call(ctx, fn)
	})
}

package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
)

// BackoffConfig controls the delay curve and the retry budget. The delay
// before retry n (counting from zero) is Factor * Base^n, capped at MaxDelay
// and spread by +/- JitterFraction. MaxAttempts of zero never gives up.
type BackoffConfig struct {
	Base           float64
	Factor         time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	JitterFraction float64
}

func defaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:     2,
		Factor:   100 * time.Millisecond,
		MaxDelay: 10 * time.Second,
	}
}

// Backoff retries transient failures of one dependency. A Backoff is safe for
// sequential reuse; the orchestrator owns one per dependency.
type Backoff struct {
	cfg     BackoffConfig
	breaker *CircuitBreaker
	onRetry func(operation string, attempt int, err error)
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// NewBackoff creates a Backoff with cfg, filling in defaults for zero values.
// breaker may be nil.
func NewBackoff(cfg BackoffConfig, breaker *CircuitBreaker) *Backoff {
	defaults := defaultBackoffConfig()
	if cfg.Base < 1 {
		cfg.Base = defaults.Base
	}
	if cfg.Factor <= 0 {
		cfg.Factor = defaults.Factor
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	return &Backoff{
		cfg:     cfg,
		breaker: breaker,
		sleep:   sleepContext,
		logger:  slog.Default().With("component", "backoff"),
	}
}

// OnRetry registers a hook invoked before every retry sleep.
func (b *Backoff) OnRetry(fn func(operation string, attempt int, err error)) *Backoff {
	b.onRetry = fn
	return b
}

// Breaker returns the circuit breaker guarding calls, or nil.
func (b *Backoff) Breaker() *CircuitBreaker {
	return b.breaker
}

// Do calls fn until it succeeds, returns a non-transient error, the context
// is done, or the retry budget is spent. In the last case the returned error
// matches both ErrRetryExhausted and the last failure.
func (b *Backoff) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	logger := b.logger.With("operation", operation)
	for attempt := 0; ; attempt++ {
		err := b.call(ctx, fn)
		if err == nil {
			if attempt > 0 {
				logger.Info("succeeded after retry", "attempts", attempt+1)
			}
			return nil
		}
		if !apperrors.IsTransient(err) {
			return err
		}
		if b.cfg.MaxAttempts > 0 && attempt+1 >= b.cfg.MaxAttempts {
			logger.Error("retry budget exhausted", "attempts", attempt+1, "error", err)
			return fmt.Errorf("%s: %w after %d attempts: %w", operation, apperrors.ErrRetryExhausted, attempt+1, err)
		}
		delay := b.Delay(attempt)
		logger.Warn("operation failed, retrying", "attempt", attempt+1, "max_attempts", b.cfg.MaxAttempts, "error", err, "next_delay", delay)
		if b.onRetry != nil {
			b.onRetry(operation, attempt+1, err)
		}
		if err := b.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: retry aborted during backoff: %w", operation, err)
		}
	}
}

func (b *Backoff) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.breaker == nil {
		return fn(ctx)
	}
	return b.breaker.Execute(func() error { return fn(ctx) })
}

// Delay returns the pause before retry number attempt (zero-based).
func (b *Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.cfg.Factor) * math.Pow(b.cfg.Base, float64(attempt))
	if b.cfg.JitterFraction > 0 {
		delay += delay * b.cfg.JitterFraction * (2*rand.Float64() - 1)
	}
	if delay > float64(b.cfg.MaxDelay) || math.IsInf(delay, 1) {
		delay = float64(b.cfg.MaxDelay)
	}
	if delay < 0 {
		delay = float64(b.cfg.Factor)
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

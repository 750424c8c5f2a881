package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
)

// WithTimeout runs fn with a derived context that is cancelled after the
// given timeout. Hitting the limit while the parent context is still live is
// reported as a transient unavailability of name, so a surrounding Backoff
// retries it.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()
	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && timeoutCtx.Err() != nil {
			return apperrors.Unavailable(name, fmt.Errorf("timed out after %v: %v", timeout, err))
		}
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return apperrors.Unavailable(name, fmt.Errorf("timed out after %v", timeout))
	}
}

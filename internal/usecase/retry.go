package usecase

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const defaultCallTimeout = 30 * time.Second

// retryBackoff allows one extra attempt after a transient failure.
var retryBackoff = func() retry.Backoff {
	return retry.WithMaxRetries(1, retry.NewConstant(200*time.Millisecond))
}

// isTransient reports whether an external call is worth repeating.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if status, ok := upstreamStatusCode(err); ok {
		return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	}
	return false
}

// callExternal runs fn with its own timeout, repeating it once on a transient
// failure while the parent context is still alive.
func callExternal[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	var out T
	err := retry.Do(ctx, retryBackoff(), func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		v, err := fn(callCtx)
		if err != nil {
			if ctx.Err() == nil && isTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = v
		return nil
	})
	return out, err
}

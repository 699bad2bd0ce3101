package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"

	"msgpack-rpc/message"
)

// RetryMiddleware retries calls that failed with a timeout or rate_limited
// error from the peer, sleeping baseDelay, 2*baseDelay, 4*baseDelay... between attempts.
// Other errors are returned immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger hclog.Logger) CallMiddleware {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(next InvokeFunc) InvokeFunc {
		return func(ctx context.Context, method string, args []any) (any, error) {
			result, err := next(ctx, method, args)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) {
					return result, err
				}
				logger.Debug("retrying call", "method", method, "attempt", i+1, "error", err)

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)): // Exponential backoff
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				result, err = next(ctx, method, args)
			}
			return result, err
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, &message.RPCError{Kind: message.KindTimeout}) ||
		errors.Is(err, &message.RPCError{Kind: message.KindRateLimited})
}

package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"msgpack-rpc/message"
)

// ErrRateLimited is returned for calls rejected by RateLimitMiddleware.
var ErrRateLimited = &message.RPCError{Kind: message.KindRateLimited, Message: "rate limit exceeded"}

// RateLimitMiddleware creates a token bucket limiter shared by every session of a server.
// Rejected Requests get a rate_limited error Response; rejected Notifications are dropped.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call, resp message.Responder) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, call, resp)
		}
	}
}

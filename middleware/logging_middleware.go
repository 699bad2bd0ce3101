package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"

	"msgpack-rpc/message"
)

// LoggingMiddleware logs every dispatched call. For Requests the duration runs
// until the Response is emitted, which may be after the handler returns.
func LoggingMiddleware(logger hclog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call, resp message.Responder) error {
			start := time.Now()
			if resp != nil {
				resp = &hookResponder{inner: resp, onReply: func(failed bool, err error) {
					logger.Debug("call completed", "method", call.Method, "id", call.ID,
						"duration", time.Since(start), "failed", failed)
					if err != nil {
						logger.Warn("reply not sent", "method", call.Method, "id", call.ID, "error", err)
					}
				}}
			}

			err := next(ctx, call, resp)
			if call.Notification {
				logger.Debug("notification handled", "method", call.Method, "duration", time.Since(start))
			}
			switch {
			case err == nil:
			case errors.Is(err, &message.RPCError{Kind: message.KindMethodNotFound}):
				logger.Debug("unknown method", "method", call.Method, "notification", call.Notification)
			default:
				logger.Error("handler returned error", "method", call.Method, "error", err)
			}
			return err
		}
	}
}

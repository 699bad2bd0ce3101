package middleware

import (
	"context"
	"fmt"
	"time"

	"msgpack-rpc/message"
)

// TimeOutMiddleware answers a Request with a timeout error if the handler has
// not replied within timeout. A reply attempted afterwards gets
// message.ErrAlreadyReplied. For Requests the handler's context is canceled
// at the deadline or once the reply is sent, whichever comes first. For
// Notifications there is no reply, so the context lives until the deadline
// even if the handler returns earlier.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call, resp message.Responder) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			if resp == nil {
				err := next(ctx, call, nil)
				time.AfterFunc(timeout, cancel)
				return err
			}

			timer := time.AfterFunc(timeout, func() {
				defer cancel()
				resp.Error(&message.RPCError{
					Kind:    message.KindTimeout,
					Message: fmt.Sprintf("%s did not reply within %s", call.Method, timeout),
				})
			})
			wrapped := &hookResponder{inner: resp, onReply: func(bool, error) {
				timer.Stop()
				cancel()
			}}

			err := next(ctx, call, wrapped)
			if err != nil {
				timer.Stop()
				cancel()
			}
			return err
		}
	}
}

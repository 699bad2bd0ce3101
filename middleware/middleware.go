// Package middleware wraps handlers on the server side and invocations on the
// client side.
//
// Both chains follow the onion model:
//
//	Chain(A, B, C)(h) → A(B(C(h)))
//	Execution order: A.before → B.before → C.before → h → C.after → B.after → A.after
//
// Server handlers may reply after they return, so middleware that cares about
// the reply (logging, timeouts) wraps the Responder instead of looking at the
// handler's return value alone.
package middleware

import (
	"context"
	"errors"

	"msgpack-rpc/message"
)

// HandlerFunc handles one inbound Request or Notification. resp is nil for
// Notifications. Returning an error before replying sends an error Response.
type HandlerFunc func(ctx context.Context, call *message.Call, resp message.Responder) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// InvokeFunc performs one outgoing call.
type InvokeFunc func(ctx context.Context, method string, args []any) (any, error)

type CallMiddleware func(next InvokeFunc) InvokeFunc

// ChainCalls combines several client-side middlewares into one.
func ChainCalls(middlewares ...CallMiddleware) CallMiddleware {
	return func(next InvokeFunc) InvokeFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// hookResponder forwards replies to the wrapped Responder and runs onReply
// after the first successful one.
type hookResponder struct {
	inner   message.Responder
	onReply func(failed bool, err error)
}

func (h *hookResponder) Result(v any) error {
	err := h.inner.Result(v)
	if !errors.Is(err, message.ErrAlreadyReplied) {
		h.onReply(false, err)
	}
	return err
}

func (h *hookResponder) Error(v any) error {
	err := h.inner.Error(v)
	if !errors.Is(err, message.ErrAlreadyReplied) {
		h.onReply(true, err)
	}
	return err
}

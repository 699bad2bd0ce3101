package transport

import (
	"sync/atomic"

	"msgpack-rpc/message"
	"msgpack-rpc/protocol"
)

// responder is the single-use reply capability bound to one Request.
type responder struct {
	id      uint32
	session *Session
	replied atomic.Bool
}

func newResponder(s *Session, id uint32) *responder {
	return &responder{id: id, session: s}
}

func (r *responder) Result(v any) error {
	if !r.replied.CompareAndSwap(false, true) {
		return message.ErrAlreadyReplied
	}
	return r.send(message.NewResult(r.id, v))
}

func (r *responder) Error(v any) error {
	if !r.replied.CompareAndSwap(false, true) {
		return message.ErrAlreadyReplied
	}
	return r.send(message.NewError(r.id, message.ErrorValue(v)))
}

// send emits env. If the codec rejects it, a handler_error Response is sent
// in its place so the caller still gets exactly one reply; the encode error
// is returned to the handler either way.
func (r *responder) send(env *message.Envelope) error {
	err := r.session.reply(env)
	if err == nil || !protocol.IsEncodeError(err) {
		return err
	}
	r.session.logger.Error("cannot encode response", "id", r.id, "error", err)
	fallback := &message.RPCError{Kind: message.KindHandler, Message: "cannot encode response: " + err.Error()}
	if ferr := r.session.reply(message.NewError(r.id, fallback.Wire())); ferr != nil {
		r.session.logger.Warn("failed to send fallback error response", "id", r.id, "error", ferr)
	}
	return err
}

// Replied reports whether a Response has been emitted.
func (r *responder) Replied() bool {
	return r.replied.Load()
}

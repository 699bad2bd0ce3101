package message

import (
	"errors"
	"fmt"
)

// ErrAlreadyReplied is returned by a Responder that has already sent its Response.
var ErrAlreadyReplied = errors.New("responder: already replied")

// Error kinds carried in RPCError.Kind.
const (
	KindMethodNotFound = "method_not_found"
	KindHandler        = "handler_error"
	KindPanic          = "handler_panic"
	KindTimeout        = "timeout"
	KindRateLimited    = "rate_limited"
	KindRemote         = "remote" // Error value from a peer that does not use the kind/message shape
)

// RPCError is the structured error sent in a Response.
// On the wire it is a map: {"kind": Kind, "message": Message}.
type RPCError struct {
	Kind    string
	Message string
	Data    any // Original foreign error value, only set for KindRemote
}

func (e *RPCError) Error() string {
	if e.Kind == "" || e.Kind == KindRemote {
		return e.Message
	}
	return e.Kind + ": " + e.Message
}

// Is matches another *RPCError by kind, so errors.Is(err, &RPCError{Kind: KindTimeout}) works.
func (e *RPCError) Is(target error) bool {
	t, ok := target.(*RPCError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Wire returns the codec-friendly representation of the error.
func (e *RPCError) Wire() map[string]any {
	return map[string]any{"kind": e.Kind, "message": e.Message}
}

// MethodNotFound builds the error sent for a Request naming an unregistered method.
func MethodNotFound(method string) *RPCError {
	return &RPCError{Kind: KindMethodNotFound, Message: "method not found: " + method}
}

// ErrorValue converts whatever a handler passes to Responder.Error, or returns,
// into a value the codec can serialize. Go errors become {kind, message} maps;
// other values are sent unchanged.
func ErrorValue(v any) any {
	switch e := v.(type) {
	case nil:
		return (&RPCError{Kind: KindHandler, Message: "unknown error"}).Wire()
	case *RPCError:
		return e.Wire()
	case error:
		var rpcErr *RPCError
		if errors.As(e, &rpcErr) {
			return rpcErr.Wire()
		}
		return (&RPCError{Kind: KindHandler, Message: e.Error()}).Wire()
	}
	return v
}

// FromValue converts a decoded Response error value back into an *RPCError.
func FromValue(v any) *RPCError {
	switch e := v.(type) {
	case map[string]any:
		if rpcErr, ok := fromMap(func(k string) (any, bool) { x, ok := e[k]; return x, ok }); ok {
			return rpcErr
		}
	case map[any]any:
		if rpcErr, ok := fromMap(func(k string) (any, bool) { x, ok := e[k]; return x, ok }); ok {
			return rpcErr
		}
	case string:
		return &RPCError{Kind: KindRemote, Message: e, Data: v}
	case []byte:
		return &RPCError{Kind: KindRemote, Message: string(e), Data: v}
	}
	return &RPCError{Kind: KindRemote, Message: fmt.Sprint(v), Data: v}
}

func fromMap(get func(string) (any, bool)) (*RPCError, bool) {
	kind, ok := get("kind")
	if !ok {
		return nil, false
	}
	k, ok := asString(kind)
	if !ok {
		return nil, false
	}
	msg, _ := get("message")
	m, _ := asString(msg)
	return &RPCError{Kind: k, Message: m}, true
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

// UnmatchedResponseError reports a Response whose ID matches no pending call.
type UnmatchedResponseError struct {
	ID uint32
}

func (e *UnmatchedResponseError) Error() string {
	return fmt.Sprintf("unmatched response: no pending call with id %d", e.ID)
}

package protocol

import (
	"errors"
	"fmt"

	"msgpack-rpc/message"
)

// DecodeError reports bytes or values that cannot be read as an envelope.
// It is fatal to the connection: framing cannot be resynchronized.
type DecodeError struct {
	Reason string
	Err    error // Underlying codec error, if any
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// EncodeError reports an envelope the codec could not serialize. Nothing was
// written, so the stream is still usable.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return "encode: " + e.Err.Error()
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// IsEncodeError reports whether err is, or wraps, an *EncodeError.
func IsEncodeError(err error) bool {
	var ee *EncodeError
	return errors.As(err, &ee)
}

func malformed(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// ToWire converts an envelope into the positional array that goes on the wire.
func ToWire(env *message.Envelope) ([]any, error) {
	switch env.Type {
	case message.TypeRequest:
		return []any{int(message.TypeRequest), env.ID, env.Method, params(env.Params)}, nil
	case message.TypeResponse:
		return []any{int(message.TypeResponse), env.ID, env.Error, env.Result}, nil
	case message.TypeNotification:
		return []any{int(message.TypeNotification), env.Method, params(env.Params)}, nil
	}
	return nil, fmt.Errorf("protocol: cannot encode envelope of %s", env.Type)
}

func params(p []any) []any {
	if p == nil {
		return []any{}
	}
	return p
}

// FromWire validates a decoded value and converts it to an envelope.
//
// Checks, in order:
//  1. the value is an array of 3 or 4 elements
//  2. the first element is a known type tag
//  3. the length matches the tag
//  4. ids are non-negative integers that fit in 32 bits, methods are strings, params are arrays
func FromWire(v any) (*message.Envelope, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, malformed("expected array, got %T", v)
	}
	if len(arr) < 3 {
		return nil, malformed("array of %d elements is too short", len(arr))
	}

	tag, ok := message.ToInt64(arr[0])
	if !ok {
		return nil, malformed("type tag %v is not an integer", arr[0])
	}

	switch message.Type(tag) {
	case message.TypeRequest:
		if len(arr) != 4 {
			return nil, malformed("request has %d elements, want 4", len(arr))
		}
		id, err := callID(arr[1])
		if err != nil {
			return nil, err
		}
		method, err := methodName(arr[2])
		if err != nil {
			return nil, err
		}
		ps, err := paramList(arr[3])
		if err != nil {
			return nil, err
		}
		return &message.Envelope{Type: message.TypeRequest, ID: id, Method: method, Params: ps}, nil

	case message.TypeResponse:
		if len(arr) != 4 {
			return nil, malformed("response has %d elements, want 4", len(arr))
		}
		id, err := callID(arr[1])
		if err != nil {
			return nil, err
		}
		return &message.Envelope{Type: message.TypeResponse, ID: id, Error: arr[2], Result: arr[3]}, nil

	case message.TypeNotification:
		if len(arr) != 3 {
			return nil, malformed("notification has %d elements, want 3", len(arr))
		}
		method, err := methodName(arr[1])
		if err != nil {
			return nil, err
		}
		ps, err := paramList(arr[2])
		if err != nil {
			return nil, err
		}
		return &message.Envelope{Type: message.TypeNotification, Method: method, Params: ps}, nil
	}
	return nil, malformed("unknown type tag %d", tag)
}

func callID(v any) (uint32, error) {
	id, ok := message.ToInt64(v)
	if !ok || id < 0 || id > int64(^uint32(0)) {
		return 0, malformed("invalid call id %v", v)
	}
	return uint32(id), nil
}

func methodName(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return "", malformed("method name %v is not a string", v)
}

func paramList(v any) ([]any, error) {
	switch p := v.(type) {
	case []any:
		return p, nil
	case nil:
		return []any{}, nil
	}
	return nil, malformed("params %v is not an array", v)
}

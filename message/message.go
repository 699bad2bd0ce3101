// Package message defines the protocol envelopes exchanged between peers.
//
// Every unit on the wire is one Envelope. It is converted to a positional array
// by the protocol layer and serialized by the codec layer:
//
//	Request:      [0, id, method, params]
//	Response:     [1, id, error, result]
//	Notification: [2, method, params]
package message

import "fmt"

// Type distinguishes request, response, and notification envelopes.
type Type byte

const (
	TypeRequest      Type = 0 // Caller → callee, expects exactly one Response
	TypeResponse     Type = 1 // Callee → caller, answers the Request with the same ID
	TypeNotification Type = 2 // One-way, never answered
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeNotification:
		return "notification"
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// Envelope carries one protocol message.
//
//   - Request:      ID, Method and Params are set.
//   - Response:     ID is set; Error is non-nil if the call failed, otherwise Result holds the reply.
//   - Notification: Method and Params are set, ID is unused.
type Envelope struct {
	Type   Type
	ID     uint32 // Correlates a Request with its Response
	Method string
	Params []any
	Error  any // Any codec value; nil when absent
	Result any // Any codec value; nil when absent
}

// NewRequest builds a Request envelope.
func NewRequest(id uint32, method string, params []any) *Envelope {
	return &Envelope{Type: TypeRequest, ID: id, Method: method, Params: normalizeParams(params)}
}

// NewNotification builds a Notification envelope.
func NewNotification(method string, params []any) *Envelope {
	return &Envelope{Type: TypeNotification, Method: method, Params: normalizeParams(params)}
}

// NewResult builds a successful Response envelope.
func NewResult(id uint32, result any) *Envelope {
	return &Envelope{Type: TypeResponse, ID: id, Result: result}
}

// NewError builds a failed Response envelope. errValue must be non-nil.
func NewError(id uint32, errValue any) *Envelope {
	return &Envelope{Type: TypeResponse, ID: id, Error: errValue}
}

// Failed reports whether a Response carries an error.
func (e *Envelope) Failed() bool {
	return e.Type == TypeResponse && e.Error != nil
}

func (e *Envelope) String() string {
	switch e.Type {
	case TypeRequest:
		return fmt.Sprintf("request(id=%d method=%s params=%d)", e.ID, e.Method, len(e.Params))
	case TypeResponse:
		if e.Failed() {
			return fmt.Sprintf("response(id=%d error=%v)", e.ID, e.Error)
		}
		return fmt.Sprintf("response(id=%d)", e.ID)
	case TypeNotification:
		return fmt.Sprintf("notification(method=%s params=%d)", e.Method, len(e.Params))
	}
	return e.Type.String()
}

// params always go out as an array, never as nil
func normalizeParams(params []any) []any {
	if params == nil {
		return []any{}
	}
	return params
}

// Call describes one inbound Request or Notification as seen by a handler.
type Call struct {
	ID           uint32
	Method       string
	Params       []any
	Notification bool
}

// Responder is the single-use reply capability handed to a Request handler.
// The first Result or Error emits the Response; later calls return
// ErrAlreadyReplied. Notification handlers receive a nil Responder.
type Responder interface {
	Result(v any) error
	Error(v any) error
}

package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"msgpack-rpc/message"
)

var (
	// ErrClosed is returned for calls on a session that is closing or closed.
	// Pending calls failed by a dead connection wrap it together with the cause.
	ErrClosed = errors.New("msgpack-rpc: connection closed")

	// ErrDuplicateID is returned when a call ID is registered twice.
	ErrDuplicateID = errors.New("msgpack-rpc: duplicate call id")
)

// Result is what a pending call is completed with.
type Result struct {
	Value any
	Err   error
}

// PendingCall is one outstanding Request awaiting its Response.
type PendingCall struct {
	ID        uint32
	Method    string
	Created   time.Time
	done      chan Result // Buffered(1): completing never blocks the read loop
	abandoned bool
}

// Done delivers the call's result exactly once.
func (p *PendingCall) Done() <-chan Result {
	return p.done
}

// Registry correlates Responses with the Requests that produced them.
// It is safe for concurrent use: callers register from their own goroutines
// while the session's read loop resolves.
type Registry struct {
	mu      sync.Mutex
	pending map[uint32]*PendingCall
	closed  error
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[uint32]*PendingCall)}
}

// Register inserts a pending call. Register it BEFORE sending the Request,
// otherwise a fast Response can arrive before anyone is waiting for it.
func (r *Registry) Register(id uint32, method string) (*PendingCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed != nil {
		return nil, r.closed
	}
	if _, ok := r.pending[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	call := &PendingCall{
		ID:      id,
		Method:  method,
		Created: time.Now(),
		done:    make(chan Result, 1),
	}
	r.pending[id] = call
	return call, nil
}

// Contains reports whether id is still outstanding.
func (r *Registry) Contains(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// Resolve removes the pending call for id and completes it.
// A Response nobody is waiting for yields *message.UnmatchedResponseError.
// Responses to abandoned calls are dropped without error.
func (r *Registry) Resolve(id uint32, value any, err error) error {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return &message.UnmatchedResponseError{ID: id}
	}
	if call.abandoned {
		return nil
	}
	call.done <- Result{Value: value, Err: err}
	return nil
}

// Remove drops a pending call without completing it, e.g. when its Request
// could not be written.
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Abandon marks a call whose caller stopped waiting. The entry is kept so the
// late Response is recognised and dropped instead of being reported as unmatched.
func (r *Registry) Abandon(id uint32) {
	r.mu.Lock()
	if call, ok := r.pending[id]; ok {
		call.abandoned = true
	}
	r.mu.Unlock()
}

// FailAll completes every pending call with err and clears the registry.
// Later Register calls fail with err, so nothing can wait on a dead connection.
func (r *Registry) FailAll(err error) {
	r.mu.Lock()
	calls := r.pending
	r.pending = make(map[uint32]*PendingCall)
	if r.closed == nil {
		r.closed = err
	}
	r.mu.Unlock()

	for _, call := range calls {
		if !call.abandoned {
			call.done <- Result{Err: err}
		}
	}
}

// Len returns the number of outstanding calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

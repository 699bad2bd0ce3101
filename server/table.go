package server

import (
	"context"
	"errors"
	"sync"

	"msgpack-rpc/message"
)

// ErrServing is returned when handlers are registered after the server started serving.
var ErrServing = errors.New("msgpack-rpc: cannot register handlers while serving")

// Handler implements one method. params are the Request's positional
// arguments; resp is nil for Notifications. The handler may reply before or
// after returning, from any goroutine. Returning an error without replying
// sends an error Response.
type Handler func(ctx context.Context, params []any, resp message.Responder) error

// HandlerMap maps method names to handlers.
type HandlerMap map[string]Handler

// Sync adapts a function that computes its result synchronously.
// For Notifications the result is discarded.
func Sync(fn func(params []any) (any, error)) Handler {
	return func(ctx context.Context, params []any, resp message.Responder) error {
		result, err := fn(params)
		if err != nil {
			return err
		}
		if resp == nil {
			return nil
		}
		return resp.Result(result)
	}
}

// dispatchTable maps method names to handlers. It is written during setup and
// frozen when the server starts serving; after that lookups take no lock.
type dispatchTable struct {
	mu       sync.Mutex
	frozen   bool
	handlers map[string]Handler
}

func newDispatchTable() *dispatchTable {
	return &dispatchTable{handlers: make(map[string]Handler)}
}

// register stores h under method. Re-registering a method replaces the old handler.
func (t *dispatchTable) register(method string, h Handler) error {
	if h == nil {
		return errors.New("msgpack-rpc: nil handler for " + method)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return ErrServing
	}
	t.handlers[method] = h
	return nil
}

func (t *dispatchTable) freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

func (t *dispatchTable) lookup(method string) (Handler, bool) {
	h, ok := t.handlers[method]
	return h, ok
}

func (t *dispatchTable) methods() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	return names
}

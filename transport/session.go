// Package transport implements the per-connection session: request/response
// correlation for outgoing calls and dispatch of incoming ones.
//
// A Session owns one stream. A single goroutine (recvLoop) reads envelopes in
// order; Responses are routed to the waiting caller through the Registry, while
// every Request and Notification is dispatched on its own goroutine so a slow
// handler never stalls the connection.
//
//	caller-1 ──Call(id=1)──┐                          ┌── go dispatch(req id=7) ── resp.Result ──┐
//	caller-2 ──Call(id=2)──┼──→ Multiplexer ⇄ peer ⇄──┤                                          ├─→ Multiplexer
//	caller-3 ──Notify──────┘                          └── go dispatch(notification)              ┘
//
//	recvLoop: ←── response(id=2) → Registry.Resolve(2) → caller-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"msgpack-rpc/codec"
	"msgpack-rpc/message"
	"msgpack-rpc/protocol"
)

// State is the lifecycle stage of a session.
type State int32

const (
	StateConnecting State = iota // Created, not yet reading
	StateOpen                    // Reading and dispatching
	StateClosing                 // Failing pending calls and releasing the stream
	StateClosed                  // Terminal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Dispatcher routes an inbound Request or Notification to its handler.
// resp is nil for Notifications. A returned error is turned into an error
// Response unless the handler already replied.
type Dispatcher interface {
	Dispatch(ctx context.Context, call *message.Call, resp message.Responder) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, call *message.Call, resp message.Responder) error

func (f DispatcherFunc) Dispatch(ctx context.Context, call *message.Call, resp message.Responder) error {
	return f(ctx, call, resp)
}

// Config configures a Session.
type Config struct {
	Codec      codec.Codec  // nil selects msgpack
	Dispatcher Dispatcher   // nil means every Request is answered with method_not_found
	Logger     hclog.Logger // nil disables logging

	// OnError receives non-fatal anomalies (unmatched responses, failed
	// notification handlers) and the fatal error that ended the session.
	OnError func(error)
}

// Session drives one connection.
type Session struct {
	mux      *protocol.Multiplexer
	cfg      Config
	logger   hclog.Logger
	registry *Registry
	seq      atomic.Uint32 // Last issued call ID
	state    atomic.Int32

	// ctx is handed to handlers and canceled when the session closes.
	ctx    context.Context
	cancel context.CancelFunc

	handlers  sync.WaitGroup // In-flight handler invocations, added to only by recvLoop
	reading   atomic.Bool    // Set by Start
	readDone  chan struct{}  // Closed when recvLoop returns
	closeOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	err      error // Cause of the shutdown, nil for a local Close
	closeErr error
}

// NewSession wraps conn. The session does not read until Start is called.
func NewSession(conn io.ReadWriteCloser, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if nc, ok := conn.(net.Conn); ok && nc.RemoteAddr() != nil {
		logger = logger.With("remote", nc.RemoteAddr().String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		mux:      protocol.NewMultiplexer(conn, cfg.Codec),
		cfg:      cfg,
		logger:   logger,
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// Start moves the session to Open and begins reading.
func (s *Session) Start() error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return fmt.Errorf("session: cannot start in state %s", s.State())
	}
	s.reading.Store(true)
	go s.recvLoop()
	return nil
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns what ended the session: nil while open or after a local Close,
// otherwise the transport or decode error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending returns the number of calls awaiting a Response.
func (s *Session) Pending() int {
	return s.registry.Len()
}

// Call sends a Request and blocks until its Response arrives, ctx is done, or
// the connection dies. A Response carrying an error is returned as *message.RPCError.
func (s *Session) Call(ctx context.Context, method string, params []any) (any, error) {
	call, err := s.send(method, params)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-call.Done():
		return res.Value, res.Err
	case <-ctx.Done():
		s.registry.Abandon(call.ID)
		return nil, ctx.Err()
	}
}

// Go sends a Request and calls cb from another goroutine once it resolves.
func (s *Session) Go(method string, params []any, cb func(err error, result any)) {
	call, err := s.send(method, params)
	if err != nil {
		go cb(err, nil)
		return
	}
	go func() {
		res := <-call.Done()
		cb(res.Err, res.Value)
	}()
}

// Notify sends a Notification. Success means the bytes were written, nothing more.
func (s *Session) Notify(method string, params []any) error {
	if s.State() != StateOpen {
		return ErrClosed
	}
	if err := s.mux.Send(message.NewNotification(method, params)); err != nil {
		return fmt.Errorf("notify %s: %w", method, err)
	}
	return nil
}

// Close fails every pending call with ErrClosed and releases the stream.
func (s *Session) Close() error {
	s.shutdown(nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Wait blocks until the read loop has stopped and every handler it
// dispatched has returned. Call it after Close or once Done is closed.
func (s *Session) Wait() {
	if s.reading.Load() {
		<-s.readDone
	}
	s.handlers.Wait()
}

func (s *Session) send(method string, params []any) (*PendingCall, error) {
	if s.State() != StateOpen {
		return nil, ErrClosed
	}

	id := s.nextID()
	call, err := s.registry.Register(id, method)
	if err != nil {
		return nil, err
	}
	if err := s.mux.Send(message.NewRequest(id, method, params)); err != nil {
		s.registry.Remove(id)
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}
	s.logger.Trace("request sent", "id", id, "method", method)
	return call, nil
}

// nextID skips IDs still outstanding after the counter wraps.
func (s *Session) nextID() uint32 {
	for {
		id := s.seq.Add(1)
		if !s.registry.Contains(id) {
			return id
		}
	}
}

func (s *Session) recvLoop() {
	defer close(s.readDone)
	for {
		env, err := s.mux.Recv()
		if err != nil {
			s.shutdown(err)
			return
		}

		switch env.Type {
		case message.TypeRequest:
			s.handlers.Add(1)
			go s.handleRequest(env)
		case message.TypeNotification:
			s.handlers.Add(1)
			go s.handleNotification(env)
		case message.TypeResponse:
			s.handleResponse(env)
		}
	}
}

func (s *Session) handleResponse(env *message.Envelope) {
	var callErr error
	if env.Failed() {
		callErr = message.FromValue(env.Error)
	}
	if err := s.registry.Resolve(env.ID, env.Result, callErr); err != nil {
		s.logger.Warn("dropping response", "id", env.ID, "error", err)
		s.report(err)
	}
}

func (s *Session) handleRequest(env *message.Envelope) {
	defer s.handlers.Done()

	resp := newResponder(s, env.ID)
	call := &message.Call{ID: env.ID, Method: env.Method, Params: env.Params}
	err := s.dispatch(call, resp)
	if err == nil {
		// The handler replied already or will reply later.
		return
	}
	if resp.Replied() {
		s.logger.Error("handler failed after replying", "method", env.Method, "id", env.ID, "error", err)
		s.report(err)
		return
	}
	if rerr := resp.Error(err); rerr != nil && !errors.Is(rerr, message.ErrAlreadyReplied) {
		s.logger.Warn("failed to send error response", "method", env.Method, "id", env.ID, "error", rerr)
	}
}

func (s *Session) handleNotification(env *message.Envelope) {
	defer s.handlers.Done()

	call := &message.Call{Method: env.Method, Params: env.Params, Notification: true}
	err := s.dispatch(call, nil)
	if err == nil {
		return
	}
	if errors.Is(err, &message.RPCError{Kind: message.KindMethodNotFound}) {
		s.logger.Debug("ignoring notification for unknown method", "method", env.Method)
		return
	}
	s.logger.Error("notification handler failed", "method", env.Method, "error", err)
	s.report(fmt.Errorf("notification %s: %w", env.Method, err))
}

// dispatch runs the handler, turning a panic into a handler_panic error.
// resp must be passed as an untyped nil for Notifications.
func (s *Session) dispatch(call *message.Call, resp message.Responder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &message.RPCError{Kind: message.KindPanic, Message: fmt.Sprint(r)}
		}
	}()

	if s.cfg.Dispatcher == nil {
		return message.MethodNotFound(call.Method)
	}
	return s.cfg.Dispatcher.Dispatch(s.ctx, call, resp)
}

func (s *Session) reply(env *message.Envelope) error {
	if s.State() != StateOpen {
		return ErrClosed
	}
	if err := s.mux.Send(env); err != nil {
		return fmt.Errorf("reply %d: %w", env.ID, err)
	}
	return nil
}

// shutdown runs Closing → Closed once. cause is nil for a local Close.
func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.cancel()

		failure := ErrClosed
		if cause != nil && !isClosedConn(cause) {
			failure = fmt.Errorf("%w: %w", ErrClosed, cause)
			if protocol.IsDecodeError(cause) {
				s.logger.Error("closing session on malformed data", "error", cause)
			} else {
				s.logger.Warn("connection lost", "error", cause)
			}
			s.report(cause)
		} else {
			s.logger.Debug("session closed")
			cause = nil
		}
		s.registry.FailAll(failure)
		closeErr := s.mux.Close()

		s.mu.Lock()
		s.err = cause
		s.closeErr = closeErr
		s.mu.Unlock()

		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

func (s *Session) report(err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

// isClosedConn reports errors that only mean the stream ended.
func isClosedConn(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

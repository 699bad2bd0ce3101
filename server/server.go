// Package server implements the msgpack-rpc server: a dispatch table of named
// methods, a middleware chain, one session per connection, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → transport.Session (one goroutine reads envelopes)
//	  → for each Request/Notification: go Session.dispatch (parallel processing)
//	    → Server.Dispatch → Middleware Chain → businessHandler (table lookup) → Handler
//	      → Responder.Result/Error → Multiplexer.Send
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"msgpack-rpc/codec"
	"msgpack-rpc/message"
	"msgpack-rpc/middleware"
	"msgpack-rpc/registry"
	"msgpack-rpc/transport"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("msgpack-rpc: server closed")

// Server accepts connections and dispatches their calls to registered handlers.
type Server struct {
	table       *dispatchTable
	middlewares []middleware.Middleware // Applied in the order they were added
	handler     middleware.HandlerFunc  // middleware(middleware(...(businessHandler))), built once in Serve
	codec       codec.Codec
	logger      hclog.Logger
	onError     func(error)

	mu       sync.Mutex
	listener net.Listener
	sessions map[*transport.Session]struct{}
	serving  atomic.Bool
	shutdown atomic.Bool    // Set before the listener closes to suppress the Accept error
	inflight sync.WaitGroup // Handler invocations, waited on by Shutdown
	gate     sync.RWMutex   // Orders inflight.Add before Shutdown's Wait

	registry      registry.Registry // nil if not using discovery
	serviceName   string
	advertiseAddr string // Address registered in the registry; defaults to the listener address
	ttl           int64
}

// Option configures a Server.
type Option func(*Server)

// WithCodec selects the codec spoken on every connection. Default msgpack.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithLogger sets the logger. Default discards everything.
func WithLogger(logger hclog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithErrorHandler receives anomalies and session failures that are not
// returned to any caller: failed notification handlers, unmatched responses,
// connections lost to malformed data.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Server) { s.onError = fn }
}

// WithRegistry advertises the server under serviceName while it serves.
// An empty advertiseAddr uses the listener address.
func WithRegistry(reg registry.Registry, serviceName, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.serviceName = serviceName
		s.advertiseAddr = advertiseAddr
		s.ttl = ttl
	}
}

// NewServer creates a server with an empty dispatch table.
func NewServer(opts ...Option) *Server {
	s := &Server{
		table:    newDispatchTable(),
		codec:    codec.GetCodec(codec.CodecTypeMsgpack),
		logger:   hclog.NewNullLogger(),
		sessions: make(map[*transport.Session]struct{}),
		ttl:      10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a handler for method, replacing any previous one.
func (s *Server) Register(method string, h Handler) error {
	return s.table.register(method, h)
}

// SetHandler registers every entry of handlers.
func (s *Server) SetHandler(handlers HandlerMap) error {
	for method, h := range handlers {
		if err := s.Register(method, h); err != nil {
			return err
		}
	}
	return nil
}

// Methods lists the registered method names in no particular order.
func (s *Server) Methods() []string {
	return s.table.methods()
}

// Use registers a middleware. It has no effect once the server is serving.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Listen binds the listener without accepting yet.
func (s *Server) Listen(network, address string) (net.Addr, error) {
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		listener.Close()
		return nil, fmt.Errorf("msgpack-rpc: server already listening on %s", s.listener.Addr())
	}
	s.listener = listener
	return listener.Addr(), nil
}

// Addr returns the listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds address, calls onListening (if non-nil) once the
// listener is ready, and serves until Close.
func (s *Server) ListenAndServe(network, address string, onListening func(net.Addr)) error {
	addr, err := s.Listen(network, address)
	if err != nil {
		return err
	}
	if onListening != nil {
		onListening(addr)
	}
	return s.Serve()
}

// Serve freezes the dispatch table, registers with the registry (if any) and
// accepts connections until Close. It returns ErrServerClosed after Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("msgpack-rpc: Serve called before Listen")
	}
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("msgpack-rpc: server is already serving")
	}

	// A failed registration leaves the server as it was before Serve, so
	// handlers can still be added and Serve retried.
	if s.registry != nil {
		if s.advertiseAddr == "" {
			s.advertiseAddr = listener.Addr().String()
		}
		err := s.registry.Register(context.Background(), s.serviceName, registry.ServiceInstance{
			Addr:   s.advertiseAddr,
			Weight: 1,
			Codec:  s.codec.Type().String(),
		}, s.ttl)
		if err != nil {
			s.serving.Store(false)
			return fmt.Errorf("register %s: %w", s.serviceName, err)
		}
	}

	s.table.freeze()
	// Build the middleware chain once at startup (not per-request)
	s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)

	s.logger.Info("serving", "addr", listener.Addr().String(), "codec", s.codec.Type().String())

	// Accept loop: one session per connection
	for {
		conn, err := listener.Accept()
		if err != nil {
			// Close() closes the listener, which makes Accept fail; the flag
			// tells that apart from a real error.
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// handleConn runs one session until it closes.
func (s *Server) handleConn(conn net.Conn) {
	session := transport.NewSession(conn, transport.Config{
		Codec:      s.codec,
		Dispatcher: s,
		Logger:     s.logger.Named("session").With("remote", conn.RemoteAddr().String()),
		OnError:    s.onError,
	})

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		session.Close()
		return
	}
	s.sessions[session] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("accepted connection", "remote", conn.RemoteAddr().String())
	if err := session.Start(); err != nil {
		s.logger.Error("failed to start session", "error", err)
		session.Close()
	}
	<-session.Done()

	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
}

// Dispatch implements transport.Dispatcher for every session of this server.
// Calls arriving after Close are refused with ErrServerClosed.
func (s *Server) Dispatch(ctx context.Context, call *message.Call, resp message.Responder) error {
	s.gate.RLock()
	if s.shutdown.Load() {
		s.gate.RUnlock()
		return ErrServerClosed
	}
	s.inflight.Add(1)
	s.gate.RUnlock()
	defer s.inflight.Done()
	return s.handler(ctx, call, resp)
}

// businessHandler is the innermost handler of the middleware chain: it looks
// the method up in the dispatch table and calls it.
func (s *Server) businessHandler(ctx context.Context, call *message.Call, resp message.Responder) error {
	h, ok := s.table.lookup(call.Method)
	if !ok {
		return message.MethodNotFound(call.Method)
	}
	return h(ctx, call.Params, resp)
}

// Close stops accepting connections, deregisters from the registry and closes
// every session, failing their pending calls.
func (s *Server) Close() error {
	// Set the flag BEFORE closing the listener so Serve sees it.
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	var result error
	if s.registry != nil && s.serving.Load() {
		if err := s.registry.Deregister(context.Background(), s.serviceName, s.advertiseAddr); err != nil {
			result = multierror.Append(result, fmt.Errorf("deregister: %w", err))
		}
	}

	s.mu.Lock()
	listener := s.listener
	sessions := make([]*transport.Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("close listener: %w", err))
		}
	}
	for _, session := range sessions {
		if err := session.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Shutdown closes the server and waits for running handlers to return, or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Close()

	// Dispatches that passed the shutdown check have called Add by the time
	// the write lock is granted; later ones are refused.
	s.gate.Lock()
	s.gate.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return multierror.Append(err, fmt.Errorf("waiting for handlers: %w", ctx.Err()))
	}
}

// SessionCount returns the number of open connections.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

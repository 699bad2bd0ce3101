// Package client implements the calling side of msgpack-rpc.
//
// A Client owns one connection. Many goroutines may Invoke at once; each call
// gets its own ID and the replies are matched back regardless of the order
// the server answers in.
package client

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/hashicorp/go-hclog"

	"msgpack-rpc/codec"
	"msgpack-rpc/middleware"
	"msgpack-rpc/transport"
)

type options struct {
	codec       codec.Codec
	logger      hclog.Logger
	onError     func(error)
	middlewares []middleware.CallMiddleware
}

// Option configures a Client.
type Option func(*options)

// WithCodec selects the codec; it must match the server's. Default msgpack.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the logger. Default discards everything.
func WithLogger(logger hclog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithErrorHandler receives anomalies such as responses matching no call.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithMiddleware wraps every Invoke, outermost first.
func WithMiddleware(mws ...middleware.CallMiddleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// Client issues calls and notifications over one connection.
type Client struct {
	session *transport.Session
	logger  hclog.Logger

	mu          sync.RWMutex
	middlewares []middleware.CallMiddleware
	invoke      middleware.InvokeFunc // middleware(...(session.Call))
}

// Dial connects to address and starts the session.
func Dial(ctx context.Context, network, address string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts...)
}

// NewClient starts a session on an already established stream.
func NewClient(conn io.ReadWriteCloser, opts ...Option) (*Client, error) {
	o := options{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	session := transport.NewSession(conn, transport.Config{
		Codec:   o.codec,
		Logger:  o.logger.Named("session"),
		OnError: o.onError,
	})
	if err := session.Start(); err != nil {
		session.Close()
		return nil, err
	}

	c := &Client{
		session:     session,
		logger:      o.logger,
		middlewares: o.middlewares,
	}
	c.build()
	return c, nil
}

// Use appends a middleware to the invoke chain.
func (c *Client) Use(mw middleware.CallMiddleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, mw)
	c.buildLocked()
}

func (c *Client) build() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buildLocked()
}

func (c *Client) buildLocked() {
	c.invoke = middleware.ChainCalls(c.middlewares...)(c.session.Call)
}

// Invoke calls method with args and waits for the result.
//
// A failed call returns *message.RPCError. If ctx ends first the call is
// abandoned and ctx.Err() is returned; if the connection dies the error wraps
// transport.ErrClosed.
func (c *Client) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	c.mu.RLock()
	invoke := c.invoke
	c.mu.RUnlock()
	return invoke(ctx, method, args)
}

// Go calls method asynchronously and runs cb with the outcome. Without
// middleware the Request is written before Go returns.
func (c *Client) Go(method string, cb func(err error, result any), args ...any) {
	c.mu.RLock()
	direct := len(c.middlewares) == 0
	invoke := c.invoke
	c.mu.RUnlock()

	if direct {
		c.session.Go(method, args, cb)
		return
	}
	go func() {
		result, err := invoke(context.Background(), method, args)
		cb(err, result)
	}()
}

// Notify sends a one-way message. There is no confirmation that the server
// received or handled it.
func (c *Client) Notify(method string, args ...any) error {
	return c.session.Notify(method, args)
}

// Close ends the connection; pending calls fail with transport.ErrClosed.
func (c *Client) Close() error {
	return c.session.Close()
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.session.Done()
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	return c.session.Err()
}

// State returns the session's lifecycle stage.
func (c *Client) State() transport.State {
	return c.session.State()
}

package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgpack-rpc/message"
)

// recorder is a Responder that keeps the first reply, like the real one.
type recorder struct {
	mu      sync.Mutex
	replies int
	result  any
	errVal  any
	done    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) Result(v any) error { return r.reply(v, nil) }
func (r *recorder) Error(v any) error { return r.reply(nil, v) }

func (r *recorder) reply(result, errVal any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replies > 0 {
		return message.ErrAlreadyReplied
	}
	r.replies++
	r.result, r.errVal = result, errVal
	close(r.done)
	return nil
}

// echoHandler replies immediately
func echoHandler(ctx context.Context, call *message.Call, resp message.Responder) error {
	if resp == nil {
		return nil
	}
	return resp.Result("ok")
}

// slowHandler replies after 200ms from another goroutine
func slowHandler(ctx context.Context, call *message.Call, resp message.Responder) error {
	go func() {
		time.Sleep(200 * time.Millisecond)
		resp.Result("late")
	}()
	return nil
}

func addCall() *message.Call {
	return &message.Call{ID: 1, Method: "add", Params: []any{1, 2}}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(hclog.NewNullLogger())(echoHandler)

	resp := newRecorder()
	require.NoError(t, handler(context.Background(), addCall(), resp))
	assert.Equal(t, "ok", resp.result)

	// Notifications pass through without a responder.
	require.NoError(t, handler(context.Background(), &message.Call{Method: "temperature", Notification: true}, nil))
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := newRecorder()
	require.NoError(t, handler(context.Background(), addCall(), resp))
	assert.Nil(t, resp.errVal)
	assert.Equal(t, "ok", resp.result)
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := newRecorder()
	require.NoError(t, handler(context.Background(), addCall(), resp))

	select {
	case <-resp.done:
	case <-time.After(time.Second):
		t.Fatal("timeout reply was never sent")
	}
	rpcErr, ok := resp.errVal.(*message.RPCError)
	require.True(t, ok, "got %T", resp.errVal)
	assert.Equal(t, message.KindTimeout, rpcErr.Kind)

	// The handler's late reply is refused.
	time.Sleep(250 * time.Millisecond)
	resp.mu.Lock()
	assert.Equal(t, 1, resp.replies)
	resp.mu.Unlock()
}

func TestTimeoutCancelsNotificationContextAtDeadline(t *testing.T) {
	const timeout = 50 * time.Millisecond
	var handlerCtx context.Context
	handler := TimeOutMiddleware(timeout)(func(ctx context.Context, call *message.Call, resp message.Responder) error {
		handlerCtx = ctx
		return nil
	})

	start := time.Now()
	require.NoError(t, handler(context.Background(), &message.Call{Method: "wait", Notification: true}, nil))
	require.NoError(t, handlerCtx.Err(), "context canceled as soon as the handler returned")

	select {
	case <-handlerCtx.Done():
		assert.GreaterOrEqual(t, time.Since(start), timeout)
		assert.ErrorIs(t, handlerCtx.Err(), context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("context was not canceled at the deadline")
	}
}

func TestTimeoutCancelsRequestContextOnReply(t *testing.T) {
	var handlerCtx context.Context
	handler := TimeOutMiddleware(time.Minute)(func(ctx context.Context, call *message.Call, resp message.Responder) error {
		handlerCtx = ctx
		return resp.Result("done")
	})

	resp := newRecorder()
	require.NoError(t, handler(context.Background(), addCall(), resp))
	assert.ErrorIs(t, handlerCtx.Err(), context.Canceled)
	assert.Equal(t, "done", resp.result)
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → the first 2 pass, the 3rd is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		require.NoError(t, handler(context.Background(), addCall(), newRecorder()), "request %d should pass", i)
	}

	err := handler(context.Background(), addCall(), newRecorder())
	assert.ErrorIs(t, err, &message.RPCError{Kind: message.KindRateLimited})
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, call *message.Call, resp message.Responder) error {
				order = append(order, name)
				return next(ctx, call, resp)
			}
		}
	}

	chained := Chain(mark("A"), LoggingMiddleware(hclog.NewNullLogger()), mark("B"), TimeOutMiddleware(500*time.Millisecond))
	resp := newRecorder()
	require.NoError(t, chained(echoHandler)(context.Background(), addCall(), resp))
	assert.Equal(t, []string{"A", "B"}, order)
	assert.Equal(t, "ok", resp.result)
}

func TestRetry(t *testing.T) {
	attempts := 0
	flaky := func(ctx context.Context, method string, args []any) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, &message.RPCError{Kind: message.KindRateLimited, Message: "slow down"}
		}
		return "done", nil
	}

	result, err := RetryMiddleware(3, time.Millisecond, nil)(flaky)(context.Background(), "m", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnOtherErrors(t *testing.T) {
	attempts := 0
	broken := func(ctx context.Context, method string, args []any) (any, error) {
		attempts++
		return nil, message.MethodNotFound(method)
	}

	_, err := ChainCalls(RetryMiddleware(5, time.Millisecond, nil))(broken)(context.Background(), "m", nil)
	assert.ErrorIs(t, err, &message.RPCError{Kind: message.KindMethodNotFound})
	assert.Equal(t, 1, attempts)
}

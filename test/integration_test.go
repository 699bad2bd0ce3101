package test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgpack-rpc/client"
	"msgpack-rpc/codec"
	"msgpack-rpc/loadbalance"
	"msgpack-rpc/message"
	"msgpack-rpc/middleware"
	"msgpack-rpc/registry"
	"msgpack-rpc/server"
)

type notified struct {
	value     float64
	responder message.Responder
}

// demoServer registers add, smush and temperature. Temperature notifications
// are forwarded to the returned channel.
func demoServer(t testing.TB, opts ...server.Option) (*server.Server, <-chan notified) {
	temps := make(chan notified, 4)
	s := server.NewServer(opts...)
	err := s.SetHandler(server.HandlerMap{
		"add": func(ctx context.Context, params []any, resp message.Responder) error {
			a, _ := message.ToInt64(params[0])
			b, _ := message.ToInt64(params[1])
			return resp.Result(a + b)
		},
		"smush": func(ctx context.Context, params []any, resp message.Responder) error {
			obj, ok := message.ToMap(params[0])
			if !ok {
				return errors.New("smush expects an object")
			}
			var sum int64
			for k, v := range obj {
				key, err := strconv.ParseInt(k, 10, 64)
				if err != nil {
					return err
				}
				n, _ := message.ToInt64(v)
				sum += key + n
			}
			return resp.Result(sum)
		},
		"temperature": func(ctx context.Context, params []any, resp message.Responder) error {
			v, _ := message.ToFloat64(params[0])
			temps <- notified{value: v, responder: resp}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s, temps
}

func serve(t testing.TB, s *server.Server) string {
	addr, err := s.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return addr.String()
}

// TestEndToEnd runs the reference scenario over both codecs.
// Client → Session → Codec → Server → Middleware → Handler → Responder
func TestEndToEnd(t *testing.T) {
	for _, typ := range []codec.CodecType{codec.CodecTypeMsgpack, codec.CodecTypeJSON} {
		t.Run(typ.String(), func(t *testing.T) {
			c := codec.GetCodec(typ)
			logger := hclog.New(&hclog.LoggerOptions{Name: "e2e", Level: hclog.Debug, Output: hclog.DefaultOutput})

			s, temps := demoServer(t, server.WithCodec(c), server.WithLogger(logger))
			s.Use(middleware.LoggingMiddleware(logger))
			s.Use(middleware.TimeOutMiddleware(time.Second))
			addr := serve(t, s)

			cli, err := client.Dial(context.Background(), "tcp", addr, client.WithCodec(c))
			require.NoError(t, err)
			defer cli.Close()

			result, err := cli.Invoke(context.Background(), "add", 5, 7)
			require.NoError(t, err)
			n, _ := message.ToInt64(result)
			assert.Equal(t, int64(12), n)

			require.NoError(t, cli.Notify("temperature", 102.1))
			select {
			case got := <-temps:
				assert.Equal(t, 102.1, got.value)
				assert.Nil(t, got.responder)
			case <-time.After(2 * time.Second):
				t.Fatal("temperature notification never arrived")
			}

			result, err = cli.Invoke(context.Background(), "smush", map[int]int{1: 2, 3: 4, 5: 6})
			require.NoError(t, err)
			n, _ = message.ToInt64(result)
			assert.Equal(t, int64(21), n)

			_, err = cli.Invoke(context.Background(), "doesNotExist", 1)
			assert.ErrorIs(t, err, &message.RPCError{Kind: message.KindMethodNotFound})

			assert.Empty(t, temps, "temperature handled more than once")
		})
	}
}

// TestDiscoveryWithEtcd runs two servers advertised through etcd and spreads
// calls over them with each balancer. It is skipped without a local etcd.
func TestDiscoveryWithEtcd(t *testing.T) {
	reg, err := registry.NewEtcdRegistry([]string{"127.0.0.1:2379"})
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	defer reg.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.Discover(ctx, "probe"); err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}

	const service = "e2e-calc"
	for i := 0; i < 2; i++ {
		s, _ := demoServer(t, server.WithRegistry(reg, service, "", 10))
		serve(t, s)
	}
	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), service)
		return len(instances) == 2
	}, 5*time.Second, 20*time.Millisecond)

	for _, name := range []string{"round_robin", "weighted_random", "consistent_hash"} {
		t.Run(name, func(t *testing.T) {
			bal, err := loadbalance.New(name, "caller-1")
			require.NoError(t, err)
			pool := client.NewPool(reg, bal, client.WithMiddleware(middleware.RetryMiddleware(3, 10*time.Millisecond, nil)))
			defer pool.Close()

			for i := 1; i <= 10; i++ {
				result, err := pool.Invoke(context.Background(), service, "add", i, i*10)
				require.NoError(t, err)
				n, _ := message.ToInt64(result)
				assert.Equal(t, int64(i+i*10), n)
			}
		})
	}
}

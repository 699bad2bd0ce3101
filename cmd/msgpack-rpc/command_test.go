package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgpack-rpc/codec"
	"msgpack-rpc/message"
	"msgpack-rpc/server"
)

func startServer(t *testing.T, opts ...server.Option) (string, <-chan []any) {
	t.Helper()
	notes := make(chan []any, 1)
	s := server.NewServer(opts...)
	require.NoError(t, s.SetHandler(server.HandlerMap{
		"add": server.Sync(func(params []any) (any, error) {
			a, _ := message.ToInt64(params[0])
			b, _ := message.ToInt64(params[1])
			return a + b, nil
		}),
		"echo": server.Sync(func(params []any) (any, error) { return params, nil }),
		"log": func(ctx context.Context, params []any, resp message.Responder) error {
			notes <- params
			return nil
		},
	}))
	addr, err := s.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return addr.String(), notes
}

func TestInvokeCommand(t *testing.T) {
	addr, _ := startServer(t)
	ui := cli.NewMockUi()
	cmd := newInvoke(ui)

	code := cmd.Run([]string{"-addr", addr, "add", "5", "7"})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	assert.Equal(t, "12", strings.TrimSpace(ui.OutputWriter.String()))
}

func TestInvokeCommandStructuredResult(t *testing.T) {
	addr, _ := startServer(t, server.WithCodec(codec.GetCodec(codec.CodecTypeJSON)))
	ui := cli.NewMockUi()
	cmd := newInvoke(ui)

	code := cmd.Run([]string{"-addr", addr, "-codec", "json", "echo", `{"1":2}`, "plain", "[1.5,true]"})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	assert.JSONEq(t, `[{"1":2},"plain",[1.5,true]]`, ui.OutputWriter.String())
}

func TestInvokeCommandErrors(t *testing.T) {
	addr, _ := startServer(t)

	ui := cli.NewMockUi()
	assert.Equal(t, 1, newInvoke(ui).Run([]string{"-addr", addr}))
	assert.Contains(t, ui.ErrorWriter.String(), "method name is required")

	ui = cli.NewMockUi()
	assert.Equal(t, 1, newInvoke(ui).Run([]string{"-addr", addr, "nope"}))
	assert.Contains(t, ui.ErrorWriter.String(), "method not found: nope")

	ui = cli.NewMockUi()
	assert.Equal(t, 1, newInvoke(ui).Run([]string{"-addr", addr, "-service", "calc", "add", "1", "2"}))
	assert.Contains(t, ui.ErrorWriter.String(), "registry.endpoints")
}

func TestNotifyCommand(t *testing.T) {
	addr, notes := startServer(t)
	ui := cli.NewMockUi()

	code := newNotify(ui).Run([]string{"-addr", addr, "log", "102.1", "hot"})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	assert.Empty(t, ui.OutputWriter.String())

	select {
	case params := <-notes:
		assert.Len(t, params, 2)
		f, _ := message.ToFloat64(params[0])
		assert.Equal(t, 102.1, f)
		s, _ := message.ToString(params[1])
		assert.Equal(t, "hot", s)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{"5", "-2.5", `"quoted"`, "bare", "null", `{"a":[1,2]}`, "1 2"})
	assert.Equal(t, []any{
		int64(5),
		-2.5,
		"quoted",
		"bare",
		nil,
		map[string]any{"a": []any{int64(1), int64(2)}},
		"1 2",
	}, got)
}

func TestToJSON(t *testing.T) {
	in := map[any]any{"k": []byte("v"), "n": []any{map[any]any{"x": int64(1)}}}
	assert.Equal(t, map[string]any{"k": "v", "n": []any{map[string]any{"x": int64(1)}}}, toJSON(in))
}

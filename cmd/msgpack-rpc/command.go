package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/cli"

	"msgpack-rpc/client"
	"msgpack-rpc/codec"
	"msgpack-rpc/config"
	"msgpack-rpc/loadbalance"
	"msgpack-rpc/message"
	"msgpack-rpc/registry"
)

// baseCommand holds the connection flags shared by every subcommand.
type baseCommand struct {
	UI    cli.Ui
	flags *flag.FlagSet

	configPath string
	addr       string
	codec      string
	service    string
	timeout    time.Duration
}

func (b *baseCommand) init(name string) {
	b.flags = flag.NewFlagSet(name, flag.ContinueOnError)
	b.flags.StringVar(&b.configPath, "config", "", "YAML configuration; supplies defaults for the other flags")
	b.flags.StringVar(&b.addr, "addr", "", "server address")
	b.flags.StringVar(&b.codec, "codec", "", "wire codec: msgpack or json")
	b.flags.StringVar(&b.service, "service", "", "discover the server through the configured etcd registry")
	b.flags.DurationVar(&b.timeout, "timeout", 10*time.Second, "how long to wait for the reply")
}

// parse parses flags and returns the method name and its decoded arguments.
func (b *baseCommand) parse(args []string) (string, []any, error) {
	if err := b.flags.Parse(args); err != nil {
		return "", nil, err
	}
	rest := b.flags.Args()
	if len(rest) == 0 {
		return "", nil, errors.New("a method name is required")
	}
	return rest[0], parseArgs(rest[1:]), nil
}

// connect dials the server named by the flags, or discovers one.
func (b *baseCommand) connect(ctx context.Context) (*client.Client, error) {
	cfg, err := config.Load(b.configPath)
	if err != nil {
		return nil, err
	}
	if b.addr != "" {
		cfg.Addr = b.addr
	}
	if b.codec != "" {
		cfg.Codec = b.codec
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []client.Option{client.WithLogger(cfg.Logger("msgpack-rpc").Named("client"))}
	if b.service == "" {
		opts = append(opts, client.WithCodec(codec.GetCodec(cfg.CodecType())))
		return client.Dial(ctx, cfg.Network, cfg.Addr, opts...)
	}

	if len(cfg.Registry.Endpoints) == 0 {
		return nil, errors.New("-service needs registry.endpoints in the configuration")
	}
	reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints)
	if err != nil {
		return nil, err
	}
	defer reg.Close()
	bal, err := loadbalance.New(cfg.Registry.Balancer, b.service)
	if err != nil {
		return nil, err
	}
	// The instance advertises its codec; an explicit -codec still wins.
	if b.codec != "" {
		opts = append(opts, client.WithCodec(codec.GetCodec(cfg.CodecType())))
	}
	return client.DialService(ctx, reg, bal, b.service, opts...)
}

// parseArgs decodes each argument as JSON, falling back to the raw string.
func parseArgs(args []string) []any {
	out := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		dec := json.NewDecoder(strings.NewReader(arg))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil || dec.More() {
			out = append(out, arg)
			continue
		}
		out = append(out, fromJSON(v))
	}
	return out
}

// fromJSON turns json.Number into int64 where possible so integers travel as integers.
func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = fromJSON(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = fromJSON(x[k])
		}
	}
	return v
}

// toJSON makes decoded msgpack values printable as JSON.
func toJSON(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = toJSON(x[i])
		}
		return out
	case map[string]any, map[any]any:
		m, ok := message.ToMap(x)
		if !ok {
			return fmt.Sprint(x)
		}
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = toJSON(val)
		}
		return out
	}
	return v
}

type invokeCommand struct {
	baseCommand
}

func newInvoke(ui cli.Ui) *invokeCommand {
	c := &invokeCommand{baseCommand{UI: ui}}
	c.init("invoke")
	return c
}

func (c *invokeCommand) Run(args []string) int {
	method, params, err := c.parse(args)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cl, err := c.connect(ctx)
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error connecting: %s", err))
		return 1
	}
	defer cl.Close()

	result, err := cl.Invoke(ctx, method, params...)
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error invoking %s: %s", method, err))
		return 1
	}

	out, err := json.MarshalIndent(toJSON(result), "", "  ")
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error formatting result: %s", err))
		return 1
	}
	c.UI.Output(string(out))
	return 0
}

func (c *invokeCommand) Synopsis() string { return "Call a method and print its result" }

func (c *invokeCommand) Help() string {
	return strings.TrimSpace(`
Usage: msgpack-rpc invoke [options] METHOD [ARG...]

  Sends a Request and prints the result as JSON. Each ARG is parsed as JSON;
  arguments that are not valid JSON are sent as strings.

      $ msgpack-rpc invoke -addr 127.0.0.1:18800 add 5 7
      $ msgpack-rpc invoke smush '{"1":2,"3":4}'
`)
}

type notifyCommand struct {
	baseCommand
}

func newNotify(ui cli.Ui) *notifyCommand {
	c := &notifyCommand{baseCommand{UI: ui}}
	c.init("notify")
	return c
}

func (c *notifyCommand) Run(args []string) int {
	method, params, err := c.parse(args)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cl, err := c.connect(ctx)
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error connecting: %s", err))
		return 1
	}
	defer cl.Close()

	if err := cl.Notify(method, params...); err != nil {
		c.UI.Error(fmt.Sprintf("Error notifying %s: %s", method, err))
		return 1
	}
	return 0
}

func (c *notifyCommand) Synopsis() string { return "Send a one-way notification" }

func (c *notifyCommand) Help() string {
	return strings.TrimSpace(`
Usage: msgpack-rpc notify [options] METHOD [ARG...]

  Sends a Notification. No reply is expected, so success only means the
  message was written.

      $ msgpack-rpc notify temperature 102.1
`)
}

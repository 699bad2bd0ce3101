package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"msgpack-rpc/message"
	"msgpack-rpc/server"
)

func demoHandlers(logger hclog.Logger) server.HandlerMap {
	return server.HandlerMap{
		"add":   server.Sync(add),
		"smush": server.Sync(smush),
		"echo": func(ctx context.Context, params []any, resp message.Responder) error {
			if resp == nil {
				return nil
			}
			return resp.Result(params)
		},
		"temperature": func(ctx context.Context, params []any, resp message.Responder) error {
			if len(params) != 1 {
				return fmt.Errorf("temperature expects 1 argument, got %d", len(params))
			}
			t, ok := message.ToFloat64(params[0])
			if !ok {
				return fmt.Errorf("temperature %v is not a number", params[0])
			}
			logger.Info("temperature reading", "value", t)
			if resp != nil {
				return resp.Result(nil)
			}
			return nil
		},
	}
}

// add sums two integers.
func add(params []any) (any, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("add expects 2 arguments, got %d", len(params))
	}
	a, ok1 := message.ToInt64(params[0])
	b, ok2 := message.ToInt64(params[1])
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("add expects integers, got %v and %v", params[0], params[1])
	}
	return a + b, nil
}

// smush adds every key, read as an integer, and every value of one object.
func smush(params []any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("smush expects 1 argument, got %d", len(params))
	}
	obj, ok := message.ToMap(params[0])
	if !ok {
		return nil, fmt.Errorf("smush expects an object, got %T", params[0])
	}
	var sum int64
	for k, v := range obj {
		key, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("smush key %q is not an integer", k)
		}
		n, ok := message.ToInt64(v)
		if !ok {
			return nil, fmt.Errorf("smush value for %q is not an integer", k)
		}
		sum += key + n
	}
	return sum, nil
}

package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"msgpack-rpc/codec"
	"msgpack-rpc/loadbalance"
	"msgpack-rpc/registry"
	"msgpack-rpc/transport"
)

// DialService discovers the instances of service, picks one with bal and dials it.
// The instance's advertised codec is used unless opts choose one.
func DialService(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, service string, opts ...Option) (*Client, error) {
	instance, err := pick(ctx, reg, bal, service)
	if err != nil {
		return nil, err
	}
	return dialInstance(ctx, instance, opts)
}

func pick(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, service string) (*registry.ServiceInstance, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", service, err)
	}
	instance, err := bal.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("pick %s: %w", service, err)
	}
	return instance, nil
}

func dialInstance(ctx context.Context, instance *registry.ServiceInstance, opts []Option) (*Client, error) {
	if instance.Codec != "" {
		typ, err := codec.ParseType(instance.Codec)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", instance.Addr, err)
		}
		opts = append([]Option{WithCodec(codec.GetCodec(typ))}, opts...)
	}
	return Dial(ctx, "tcp", instance.Addr, opts...)
}

// Pool keeps one multiplexed Client per server address and routes each call
// through the registry and balancer. Dead connections are redialed on next use.
type Pool struct {
	registry registry.Registry
	balancer loadbalance.Balancer
	opts     []Option

	mu      sync.Mutex
	clients map[string]*Client // addr → client
	closed  bool
}

func NewPool(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Pool {
	return &Pool{
		registry: reg,
		balancer: bal,
		opts:     opts,
		clients:  make(map[string]*Client),
	}
}

// Get returns a connected client for one instance of service.
func (p *Pool) Get(ctx context.Context, service string) (*Client, error) {
	instance, err := pick(ctx, p.registry, p.balancer, service)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if c, ok := p.clients[instance.Addr]; ok && c.State() == transport.StateOpen {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := dialInstance(ctx, instance, p.opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close()
		return nil, transport.ErrClosed
	}
	// Another goroutine may have dialed the same address meanwhile.
	if existing, ok := p.clients[instance.Addr]; ok && existing.State() == transport.StateOpen {
		c.Close()
		return existing, nil
	}
	p.clients[instance.Addr] = c
	return c, nil
}

// Invoke calls method on one instance of service.
func (p *Pool) Invoke(ctx context.Context, service, method string, args ...any) (any, error) {
	c, err := p.Get(ctx, service)
	if err != nil {
		return nil, err
	}
	return c.Invoke(ctx, method, args...)
}

// Notify sends a notification to one instance of service.
func (p *Pool) Notify(ctx context.Context, service, method string, args ...any) error {
	c, err := p.Get(ctx, service)
	if err != nil {
		return err
	}
	return c.Notify(method, args...)
}

// Close closes every pooled client.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.closed = true
	p.mu.Unlock()

	var result error
	for addr, c := range clients {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	return result
}

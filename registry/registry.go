// Package registry lets servers advertise themselves and clients find them.
package registry

import "context"

// ServiceInstance describes one reachable server.
type ServiceInstance struct {
	Addr    string
	Weight  int    // Weight for load balancing
	Version string
	Codec   string // Codec the server speaks, "msgpack" or "json"
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}

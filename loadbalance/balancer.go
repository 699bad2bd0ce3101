// Package loadbalance picks one server among the instances a registry returns.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless handlers, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Clients that should stick to one instance per key
package loadbalance

import (
	"fmt"
	"strings"

	"msgpack-rpc/registry"
)

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer for a configuration name. key is only used by "consistent_hash".
func New(name, key string) (Balancer, error) {
	switch strings.ToLower(name) {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(key), nil
	}
	return nil, fmt.Errorf("unknown balancer %q", name)
}

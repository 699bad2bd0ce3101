// Package config loads the YAML configuration shared by the server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"msgpack-rpc/codec"
	"msgpack-rpc/loadbalance"
)

type Config struct {
	Network        string          `yaml:"network"`
	Addr           string          `yaml:"addr"`
	Codec          string          `yaml:"codec"`     // msgpack or json
	LogLevel       string          `yaml:"log_level"` // trace, debug, info, warn, error
	HandlerTimeout time.Duration   `yaml:"handler_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Registry       RegistryConfig  `yaml:"registry"`
}

// RateLimitConfig configures the shared token bucket. Rate 0 disables it.
type RateLimitConfig struct {
	Rate  float64 `yaml:"rate"` // tokens per second
	Burst int     `yaml:"burst"`
}

// RegistryConfig configures etcd discovery. No endpoints means no registry.
type RegistryConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Service   string   `yaml:"service"`
	Advertise string   `yaml:"advertise"` // defaults to the listener address
	TTL       int64    `yaml:"ttl"`       // lease seconds
	Balancer  string   `yaml:"balancer"`  // round_robin, weighted_random, consistent_hash
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Network:        "tcp",
		Addr:           "127.0.0.1:18800",
		Codec:          "msgpack",
		LogLevel:       "info",
		HandlerTimeout: 30 * time.Second,
		Registry: RegistryConfig{
			Service:  "msgpack-rpc",
			TTL:      10,
			Balancer: "round_robin",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result error
	if c.Addr == "" {
		result = multierror.Append(result, errors.New("addr is required"))
	}
	switch c.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		result = multierror.Append(result, fmt.Errorf("unsupported network %q", c.Network))
	}
	if _, err := codec.ParseType(c.Codec); err != nil {
		result = multierror.Append(result, err)
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		result = multierror.Append(result, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.HandlerTimeout < 0 {
		result = multierror.Append(result, errors.New("handler_timeout must not be negative"))
	}
	if c.RateLimit.Rate < 0 {
		result = multierror.Append(result, errors.New("rate_limit.rate must not be negative"))
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst < 1 {
		result = multierror.Append(result, errors.New("rate_limit.burst must be at least 1"))
	}
	if len(c.Registry.Endpoints) > 0 {
		if c.Registry.Service == "" {
			result = multierror.Append(result, errors.New("registry.service is required with endpoints"))
		}
		if c.Registry.TTL <= 0 {
			result = multierror.Append(result, errors.New("registry.ttl must be positive"))
		}
		if _, err := loadbalance.New(c.Registry.Balancer, ""); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// CodecType returns the configured codec. Call Validate first.
func (c *Config) CodecType() codec.CodecType {
	t, _ := codec.ParseType(c.Codec)
	return t
}

// Logger builds the root logger at the configured level.
func (c *Config) Logger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: hclog.LevelFromString(c.LogLevel),
	})
}

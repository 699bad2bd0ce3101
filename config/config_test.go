package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgpack-rpc/codec"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, codec.CodecTypeMsgpack, cfg.CodecType())
	assert.Empty(t, cfg.Registry.Endpoints)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
addr: 0.0.0.0:9000
codec: json
log_level: debug
handler_timeout: 250ms
rate_limit:
  rate: 100
  burst: 20
registry:
  endpoints: [127.0.0.1:2379]
  service: calc
  balancer: consistent_hash
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Network, "unset fields keep their default")
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, codec.CodecTypeJSON, cfg.CodecType())
	assert.Equal(t, 250*time.Millisecond, cfg.HandlerTimeout)
	assert.Equal(t, RateLimitConfig{Rate: 100, Burst: 20}, cfg.RateLimit)
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.Registry.Endpoints)
	assert.Equal(t, int64(10), cfg.Registry.TTL)
	assert.Equal(t, hclog.Debug, cfg.Logger("test").GetLevel())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "addr: [unterminated"))
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(writeConfig(t, "codec: protobuf\nlog_level: loud\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown codec "protobuf"`)
	assert.ErrorContains(t, err, `unknown log level "loud"`)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no addr":          func(c *Config) { c.Addr = "" },
		"bad network":      func(c *Config) { c.Network = "udp" },
		"negative rate":    func(c *Config) { c.RateLimit.Rate = -1 },
		"zero burst":       func(c *Config) { c.RateLimit = RateLimitConfig{Rate: 5} },
		"negative ttl":     func(c *Config) { c.Registry.Endpoints = []string{"x"}; c.Registry.TTL = -1 },
		"no service":       func(c *Config) { c.Registry.Endpoints = []string{"x"}; c.Registry.Service = "" },
		"bad balancer":     func(c *Config) { c.Registry.Endpoints = []string{"x"}; c.Registry.Balancer = "random" },
		"negative timeout": func(c *Config) { c.HandlerTimeout = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// Command msgpack-rpc-server serves the demo methods add, smush, temperature
// and echo.
//
//	msgpack-rpc-server -config server.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"msgpack-rpc/codec"
	"msgpack-rpc/config"
	"msgpack-rpc/middleware"
	"msgpack-rpc/registry"
	"msgpack-rpc/server"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration")
	addr := flag.String("addr", "", "listen address, overrides the configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		hclog.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	logger := cfg.Logger("msgpack-rpc-server")

	if err := run(cfg, logger); err != nil && !errors.Is(err, server.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger hclog.Logger) error {
	s, closeRegistry, err := newServer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			logger.Warn("unclean shutdown", "error", err)
		}
	}()

	return s.ListenAndServe(cfg.Network, cfg.Addr, func(addr net.Addr) {
		logger.Info("listening", "addr", addr.String(), "methods", s.Methods())
	})
}

// newServer builds a server from cfg. The returned func releases the registry client.
func newServer(cfg *config.Config, logger hclog.Logger) (*server.Server, func(), error) {
	opts := []server.Option{
		server.WithCodec(codec.GetCodec(cfg.CodecType())),
		server.WithLogger(logger),
		server.WithErrorHandler(func(err error) {
			logger.Warn("session error", "error", err)
		}),
	}

	closeRegistry := func() {}
	if len(cfg.Registry.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints)
		if err != nil {
			return nil, nil, err
		}
		closeRegistry = func() { reg.Close() }
		opts = append(opts, server.WithRegistry(reg, cfg.Registry.Service, cfg.Registry.Advertise, cfg.Registry.TTL))
	}

	s := server.NewServer(opts...)
	s.Use(middleware.LoggingMiddleware(logger.Named("calls")))
	if cfg.RateLimit.Rate > 0 {
		s.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Rate, cfg.RateLimit.Burst))
	}
	if cfg.HandlerTimeout > 0 {
		s.Use(middleware.TimeOutMiddleware(cfg.HandlerTimeout))
	}
	if err := s.SetHandler(demoHandlers(logger.Named("demo"))); err != nil {
		closeRegistry()
		return nil, nil, err
	}
	return s, closeRegistry, nil
}

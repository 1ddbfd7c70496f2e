// The gateway daemon consumes the response queue, reassembles streamed
// generations, and persists finalized results. Embed the gateway package
// instead when dispatching from an existing API process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inferflow/inferflow/internal/config"
	"github.com/inferflow/inferflow/internal/gateway"
	"github.com/inferflow/inferflow/internal/logging"
	"github.com/inferflow/inferflow/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	conf := config.FromEnv()
	if err := conf.Validate(); err != nil {
		logger.Error("Invalid configuration", err, nil)
		os.Exit(1)
	}
	logger.Info("Starting gateway", logging.LogFields{"config": conf.String()})

	startMetricsServer(&conf, logger)

	g := gateway.New(&conf, logger, buildStore(&conf))
	if err := g.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Gateway stopped", err, nil)
		os.Exit(1)
	}
}

func newLogger() logging.ServiceLogger {
	return logging.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

func buildStore(conf *config.Config) store.Store {
	if conf.RedisAddr == "" {
		return store.NewMemoryStore()
	}
	return store.NewRedisStore(conf.RedisAddr, conf.RedisPassword, conf.RedisDB)
}

func startMetricsServer(conf *config.Config, logger logging.ServiceLogger) {
	if !conf.MetricsEnabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", conf.MetricsPort)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Metrics server stopped", err, logging.LogFields{"addr": addr})
		}
	}()
}

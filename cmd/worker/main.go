// The worker daemon consumes inference requests one at a time, streams the
// generation from the configured provider backend, and relays every chunk
// onto the response queue.
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
	"github.com/inferflow/inferflow/internal/logging"
	"github.com/inferflow/inferflow/internal/provider"
	"github.com/inferflow/inferflow/internal/relay"
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
	logger.Info("Starting worker", logging.LogFields{"config": conf.String()})

	startMetricsServer(&conf, logger)

	r := relay.New(&conf, logger, buildRouter(&conf))
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", err, nil)
		os.Exit(1)
	}
}

func newLogger() logging.ServiceLogger {
	return logging.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// buildRouter sends everything to the OpenAI-compatible server by default
// and routes the configured model names to Ollama's native API.
func buildRouter(conf *config.Config) *provider.Router {
	var fallback provider.Adapter
	if conf.VLLMURL != "" {
		fallback = provider.NewOpenAIAdapter(conf.VLLMURL, os.Getenv("INFERFLOW_VLLM_API_KEY"))
	}
	router := provider.NewRouter(fallback)
	if conf.OllamaURL != "" {
		ollama := provider.NewOllamaAdapter(conf.OllamaURL)
		for _, model := range conf.OllamaModels {
			router.Register(model, ollama)
		}
	}
	return router
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

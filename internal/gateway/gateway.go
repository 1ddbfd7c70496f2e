// Package gateway implements the business side of the streaming protocol:
// dispatching inference requests onto the work queue, reassembling the
// chunks workers stream back, and finalizing usage, cost, and persistence
// when the terminal chunk arrives.
package gateway

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/inferflow/inferflow/internal/broker"
	"github.com/inferflow/inferflow/internal/config"
	"github.com/inferflow/inferflow/internal/logging"
	"github.com/inferflow/inferflow/internal/metrics"
	"github.com/inferflow/inferflow/internal/store"
	"github.com/inferflow/inferflow/internal/usage"
)

// accumState holds the text accumulated for one in-flight correlation id.
// Created on the first chunk for an id, destroyed on the terminal chunk.
type accumState struct {
	text      []byte
	createdAt time.Time
	model     string
}

// Gateway owns the correlation registry, the per-id accumulation state, and
// the broker connection. Construct one per process and inject it wherever
// dispatch or lookup is needed; there is no package-level shared state.
type Gateway struct {
	conf   *config.Config
	conn   *broker.Connection
	logger logging.ServiceLogger
	store  store.Store
	costs  usage.CostTable
	tracer trace.Tracer

	registry *Registry

	mu        sync.Mutex
	accum     map[string]*accumState
	finalized map[string]time.Time
}

// New wires a Gateway from its collaborators. The connection is not opened
// until Init or Run.
func New(conf *config.Config, logger logging.ServiceLogger, st store.Store) *Gateway {
	cfg := conf.WithDefaults()

	g := &Gateway{
		conf:   &cfg,
		conn:   broker.NewConnection(&cfg, logging.NewWatermillAdapter(logger)),
		logger: logger,
		store:  st,
		costs: usage.CostTable{
			PromptPerMillion:     cfg.PromptCostPerMillion,
			CompletionPerMillion: cfg.CompletionCostPerMillion,
		},
		tracer:    otel.Tracer("inferflow-gateway"),
		accum:     make(map[string]*accumState),
		finalized: make(map[string]time.Time),
	}
	g.registry = NewRegistry(cfg.RegistryTTL, g.onRegistryEviction)
	return g
}

// Connection exposes the broker connection for supervision and tests.
func (g *Gateway) Connection() *broker.Connection {
	return g.conn
}

// Init runs the full initialization sequence: connect, declare both queues,
// attach the response consumer. Safe to call repeatedly; the reconnection
// supervisor re-runs it after a connection loss. Registered delivery
// targets survive the cycle.
func (g *Gateway) Init(ctx context.Context) error {
	if err := g.conn.Reconnect(ctx); err != nil {
		return err
	}
	if err := broker.DeclareTopology(g.conn, g.conf.RequestQueue, g.conf.ResponseQueue); err != nil {
		return err
	}

	msgs, err := g.conn.Subscribe(ctx, g.conf.ResponseQueue)
	if err != nil {
		return err
	}
	go g.consumeResponses(msgs)

	g.logger.Info("Gateway initialized", logging.LogFields{
		"request_queue":  g.conf.RequestQueue,
		"response_queue": g.conf.ResponseQueue,
	})
	return nil
}

// Run initializes the gateway and blocks supervising the connection until
// the context is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Init(ctx); err != nil {
		return err
	}
	sup := broker.NewSupervisor(g.conn, g.conf.ReconnectDelay, g.logger, g.Init)
	sup.Run(ctx)
	g.conn.Close()
	return nil
}

// onRegistryEviction notifies a target whose terminal chunk never arrived
// within the registry TTL. Accumulated text is kept: a late terminal chunk
// will still be persisted, just not delivered.
func (g *Gateway) onRegistryEviction(correlationID string, target DeliveryTarget) {
	metrics.RegistryEvictions.Inc()
	g.logger.Warn("Delivery target evicted before terminal chunk", logging.LogFields{
		"correlation_id": correlationID,
		"ttl":            g.conf.RegistryTTL.String(),
	})
	if target != nil {
		target.OnEnd(FinalResult{Status: StatusTimeout})
	}
}

// Package relay implements the worker side of the streaming protocol: it
// consumes inference requests from the work queue, streams the generation
// from a provider backend, and publishes every chunk onto the response queue
// tagged with the request's correlation id.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/inferflow/inferflow/internal/broker"
	"github.com/inferflow/inferflow/internal/config"
	"github.com/inferflow/inferflow/internal/logging"
	"github.com/inferflow/inferflow/internal/metrics"
	"github.com/inferflow/inferflow/internal/provider"
	"github.com/inferflow/inferflow/internal/wire"
)

// Relay consumes one request at a time (prefetch 1 on AMQP) so a worker
// never interleaves two generations.
type Relay struct {
	conf   *config.Config
	conn   *broker.Connection
	logger logging.ServiceLogger
	router *provider.Router
	tracer trace.Tracer

	mu       sync.Mutex
	attempts map[string]int
}

func New(conf *config.Config, logger logging.ServiceLogger, router *provider.Router) *Relay {
	cfg := conf.WithDefaults()
	return &Relay{
		conf:     &cfg,
		conn:     broker.NewConnection(&cfg, logging.NewWatermillAdapter(logger)),
		logger:   logger,
		router:   router,
		tracer:   otel.Tracer("inferflow-relay"),
		attempts: make(map[string]int),
	}
}

// Connection exposes the broker connection for supervision and tests.
func (r *Relay) Connection() *broker.Connection {
	return r.conn
}

// Init connects, declares the protocol queues, and attaches the request
// consumer. Re-run by the supervisor after a connection loss.
func (r *Relay) Init(ctx context.Context) error {
	if err := r.conn.Reconnect(ctx); err != nil {
		return err
	}
	if err := broker.DeclareTopology(r.conn, r.conf.RequestQueue, r.conf.ResponseQueue, r.conf.PoisonQueue); err != nil {
		return err
	}

	msgs, err := r.conn.Subscribe(ctx, r.conf.RequestQueue)
	if err != nil {
		return err
	}
	go r.consumeRequests(ctx, msgs)

	r.logger.Info("Relay initialized", logging.LogFields{
		"request_queue":  r.conf.RequestQueue,
		"response_queue": r.conf.ResponseQueue,
	})
	return nil
}

// Run initializes the relay and blocks supervising the connection until the
// context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Init(ctx); err != nil {
		return err
	}
	sup := broker.NewSupervisor(r.conn, r.conf.ReconnectDelay, r.logger, r.Init)
	sup.Run(ctx)
	r.conn.Close()
	return nil
}

func (r *Relay) consumeRequests(ctx context.Context, msgs <-chan *message.Message) {
	for msg := range msgs {
		r.handleRequest(ctx, msg)
	}
}

// handleRequest runs one generation end to end. Undecodable and empty
// requests are acknowledged and dropped; generation failures publish a
// terminal failure chunk and then either requeue the request or, past the
// delivery cap, park it on the poison queue.
func (r *Relay) handleRequest(ctx context.Context, msg *message.Message) {
	ctx, span := r.tracer.Start(ctx, "HandleInferenceRequest")
	defer span.End()

	req, err := wire.DecodeRequest(msg.Payload)
	if err != nil {
		metrics.MalformedMessages.WithLabelValues(r.conf.RequestQueue).Inc()
		r.logger.Error("Dropping undecodable request message", err, logging.LogFields{
			"message_uuid": msg.UUID,
		})
		msg.Ack()
		return
	}

	span.SetAttributes(
		attribute.String("correlation_id", req.CorrelationID),
		attribute.String("model", req.ModelName),
	)

	if len(req.PromptMessages) == 0 {
		r.logger.Info("Dropping request without prompt messages", logging.LogFields{
			"correlation_id": req.CorrelationID,
		})
		msg.Ack()
		return
	}

	if err := r.generate(ctx, req); err != nil {
		r.handleFailure(ctx, msg, req, err)
		return
	}

	r.clearAttempts(req.CorrelationID)
	msg.Ack()
}

// generate streams the generation and publishes every event as a response
// chunk. The terminal chunk carries the completed status and the provider's
// final usage counters.
func (r *Relay) generate(ctx context.Context, req *wire.Request) error {
	adapter, err := r.router.Route(req.ModelName)
	if err != nil {
		return err
	}

	return adapter.Stream(ctx, req.ModelName, req.PromptMessages, func(ev provider.Event) error {
		chunk := &wire.Chunk{
			CorrelationID: req.CorrelationID,
			Timestamp:     time.Now().UTC(),
			Result:        ev.Result,
		}
		if ev.Terminal {
			chunk.Status = wire.StatusCompleted
		}
		return r.publishChunk(ctx, chunk)
	})
}

// handleFailure tells the waiting caller the stream is over, then decides
// what happens to the request message itself.
func (r *Relay) handleFailure(ctx context.Context, msg *message.Message, req *wire.Request, genErr error) {
	r.logger.Error("Generation failed", genErr, logging.LogFields{
		"correlation_id": req.CorrelationID,
		"model":          req.ModelName,
	})

	failure := &wire.Chunk{
		CorrelationID: req.CorrelationID,
		Timestamp:     time.Now().UTC(),
		Status:        wire.StatusFailed,
		Error:         genErr.Error(),
	}
	if err := r.publishChunk(ctx, failure); err != nil {
		r.logger.Error("Publishing failure chunk failed", err, logging.LogFields{
			"correlation_id": req.CorrelationID,
		})
	}

	if r.conf.RequeueOnFailure && r.bumpAttempts(req.CorrelationID) < r.conf.MaxDeliveries {
		msg.Nack()
		return
	}

	if r.conf.RequeueOnFailure {
		if err := r.conn.Publish(ctx, r.conf.PoisonQueue, req.CorrelationID, msg.Payload); err != nil {
			r.logger.Error("Publishing to poison queue failed", err, logging.LogFields{
				"correlation_id": req.CorrelationID,
			})
		} else {
			metrics.PoisonedRequests.Inc()
		}
	}
	r.clearAttempts(req.CorrelationID)
	msg.Ack()
}

func (r *Relay) publishChunk(ctx context.Context, chunk *wire.Chunk) error {
	payload, err := wire.EncodeChunk(chunk)
	if err != nil {
		return err
	}
	if err := r.conn.Publish(ctx, r.conf.ResponseQueue, chunk.CorrelationID, payload); err != nil {
		return err
	}
	metrics.ChunksRelayed.Inc()
	return nil
}

// bumpAttempts counts deliveries in process memory. The cap is therefore
// per worker, not global; see Config.MaxDeliveries.
func (r *Relay) bumpAttempts(correlationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[correlationID]++
	return r.attempts[correlationID]
}

func (r *Relay) clearAttempts(correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, correlationID)
}

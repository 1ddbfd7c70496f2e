package gateway

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"

	"github.com/inferflow/inferflow/internal/logging"
	"github.com/inferflow/inferflow/internal/metrics"
	"github.com/inferflow/inferflow/internal/store"
	"github.com/inferflow/inferflow/internal/usage"
	"github.com/inferflow/inferflow/internal/wire"
)

// consumeResponses drains one subscription until its channel closes. On
// reconnection Init attaches a fresh loop; the old one exits when the old
// subscriber shuts down.
func (g *Gateway) consumeResponses(msgs <-chan *message.Message) {
	for msg := range msgs {
		g.handleResponseMessage(msg)
	}
}

// handleResponseMessage processes one response-queue delivery. Every path
// acknowledges the message: malformed payloads are dropped rather than
// redelivered, and a persistence failure at terminal time must not jam the
// pipeline.
func (g *Gateway) handleResponseMessage(msg *message.Message) {
	ctx, span := g.tracer.Start(msg.Context(), "HandleResponseChunk")
	defer span.End()

	chunk, err := wire.DecodeChunk(msg.Payload)
	if err != nil {
		metrics.MalformedMessages.WithLabelValues(g.conf.ResponseQueue).Inc()
		g.logger.Error("Dropping undecodable response message", err, logging.LogFields{
			"message_uuid": msg.UUID,
		})
		msg.Ack()
		return
	}

	span.SetAttributes(
		attribute.String("correlation_id", chunk.CorrelationID),
		attribute.Bool("terminal", chunk.IsTerminal()),
	)

	if chunk.IsTerminal() {
		g.finalize(ctx, chunk)
	} else {
		g.accumulate(chunk)
	}
	msg.Ack()
}

// accumulate appends the chunk's delta to the per-id state and forwards it
// to the registered delivery target, if any. Chunks for ids without a target
// are still accumulated so the result stays durable regardless of live
// client presence.
func (g *Gateway) accumulate(chunk *wire.Chunk) {
	delta := chunk.DeltaText()

	g.mu.Lock()
	state, ok := g.accum[chunk.CorrelationID]
	if !ok {
		state = &accumState{createdAt: time.Now()}
		g.accum[chunk.CorrelationID] = state
	}
	if state.model == "" {
		state.model = chunk.Result.Model
	}
	state.text = append(state.text, delta...)
	g.mu.Unlock()

	metrics.ChunksConsumed.WithLabelValues("false").Inc()

	if target, ok := g.registry.Lookup(chunk.CorrelationID); ok {
		target.OnChunk(delta)
	}
}

// finalize handles the terminal chunk exactly once per correlation id. The
// broker delivers at least once, so duplicate terminals are tolerated as
// no-ops: state already released, registry entry already gone.
func (g *Gateway) finalize(ctx context.Context, chunk *wire.Chunk) {
	id := chunk.CorrelationID

	g.mu.Lock()
	if _, done := g.finalized[id]; done {
		g.mu.Unlock()
		metrics.ChunksConsumed.WithLabelValues("true").Inc()
		g.logger.Debug("Ignoring duplicate terminal chunk", logging.LogFields{
			"correlation_id": id,
		})
		return
	}
	state, ok := g.accum[id]
	if !ok {
		state = &accumState{createdAt: time.Now()}
	}
	delete(g.accum, id)
	g.finalized[id] = time.Now()
	g.pruneFinalizedLocked()
	g.mu.Unlock()

	metrics.ChunksConsumed.WithLabelValues("true").Inc()

	status := StatusCompleted
	if chunk.Status == wire.StatusFailed {
		status = StatusFailed
	}

	model := state.model
	if model == "" {
		model = chunk.Result.Model
	}

	wall := time.Since(state.createdAt)
	record := g.costs.Compute(chunk.UsageOrZero(), wall, chunk.Result.TotalDuration)

	g.persist(ctx, id, string(state.text), status, chunk.Error, record)

	if target, registered := g.registry.Remove(id); registered && target != nil {
		target.OnEnd(FinalResult{
			Status: status,
			Error:  chunk.Error,
			Usage:  record,
		})
	}

	metrics.StreamsCompleted.WithLabelValues(status).Inc()
	metrics.PromptTokens.WithLabelValues(model).Add(float64(record.PromptTokens))
	metrics.CompletionTokens.WithLabelValues(model).Add(float64(record.CompletionTokens))
	metrics.StreamDuration.WithLabelValues(model).Observe(float64(record.WallDurationMs) / 1000)
	if record.TokensPerSecond > 0 {
		metrics.TokensPerSecond.WithLabelValues(model).Observe(record.TokensPerSecond)
	}

	g.logger.Info("Stream finalized", logging.LogFields{
		"correlation_id": id,
		"status":         status,
		"total_tokens":   record.TotalTokens,
		"total_cost":     record.TotalCost,
	})
}

// persist writes the finalized record through the durable store. Failures
// are logged, not retried: a lost write must not block acknowledgement or
// leak in-memory state.
func (g *Gateway) persist(ctx context.Context, id, text, status, errText string, record usage.Record) {
	if g.store == nil {
		return
	}

	update := store.Update{
		Response:    store.Ptr(text),
		Status:      store.Ptr(status),
		Result:      &record,
		IsCompleted: store.Ptr(true),
	}
	if errText != "" {
		update.Error = store.Ptr(errText)
	}

	if err := g.store.UpdateByID(ctx, id, update); err != nil {
		g.logger.Error("Persisting finalized record failed", err, logging.LogFields{
			"correlation_id": id,
			"status":         status,
		})
	}
}

// pruneFinalizedLocked drops idempotence guards old enough that the broker
// cannot still be redelivering their terminal chunk.
func (g *Gateway) pruneFinalizedLocked() {
	horizon := g.conf.RegistryTTL
	if horizon <= 0 {
		horizon = time.Hour
	}
	cutoff := time.Now().Add(-2 * horizon)
	for id, at := range g.finalized {
		if at.Before(cutoff) {
			delete(g.finalized, id)
		}
	}
}

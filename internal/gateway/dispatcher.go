package gateway

import (
	"context"
	"fmt"

	"github.com/inferflow/inferflow/internal/logging"
	"github.com/inferflow/inferflow/internal/metrics"
	"github.com/inferflow/inferflow/internal/wire"
)

// Dispatch publishes an inference request onto the request queue and, when a
// delivery target is supplied, registers it under the request's correlation
// id. Registration happens before the publish so a chunk can never arrive
// ahead of its target. On publish failure the registration is rolled back
// and the error returned; retry policy belongs to the caller.
func (g *Gateway) Dispatch(ctx context.Context, req *wire.Request, target DeliveryTarget) error {
	if err := req.Validate(); err != nil {
		return err
	}

	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return err
	}

	registered := false
	if target != nil {
		if err := g.registry.Register(req.CorrelationID, target); err != nil {
			return err
		}
		registered = true
	}

	if !g.conn.IsConnected() {
		g.logger.Warn("Broker connection not ready, reconnecting before dispatch", logging.LogFields{
			"correlation_id": req.CorrelationID,
		})
		if err := g.Init(ctx); err != nil {
			if registered {
				g.registry.Remove(req.CorrelationID)
			}
			metrics.DispatchFailures.Inc()
			return fmt.Errorf("gateway: reconnect before dispatch: %w", err)
		}
	}

	if err := g.conn.Publish(ctx, g.conf.RequestQueue, req.CorrelationID, payload); err != nil {
		if registered {
			g.registry.Remove(req.CorrelationID)
		}
		metrics.DispatchFailures.Inc()
		return fmt.Errorf("gateway: publishing request: %w", err)
	}

	metrics.DispatchedRequests.WithLabelValues(req.ModelName).Inc()
	g.logger.Debug("Inference request dispatched", logging.LogFields{
		"correlation_id": req.CorrelationID,
		"model":          req.ModelName,
	})
	return nil
}

// Package provider adapts the inference backends the worker streams from.
// Each adapter translates its backend's streaming format into the uniform
// event sequence the relay publishes onto the response queue.
package provider

import (
	"context"
	"fmt"

	"github.com/inferflow/inferflow/internal/wire"
)

// Event is one unit of streamed output. Exactly one terminal event ends a
// successful stream; its Result carries the final usage counters.
type Event struct {
	Delta    string
	Terminal bool
	Result   wire.ChunkResult
}

// EmitFunc receives events in stream order. Returning an error aborts the
// stream; the adapter propagates it unchanged.
type EmitFunc func(Event) error

// Adapter streams one generation from a backend. Implementations must emit
// a terminal event before returning nil, synthesizing one if the backend
// ends the stream without an explicit completion marker.
type Adapter interface {
	Stream(ctx context.Context, model string, prompts []wire.PromptMessage, emit EmitFunc) error
}

// Router picks the adapter for a model name, falling back to a default for
// models without an explicit route.
type Router struct {
	byModel  map[string]Adapter
	fallback Adapter
}

func NewRouter(fallback Adapter) *Router {
	return &Router{
		byModel:  make(map[string]Adapter),
		fallback: fallback,
	}
}

// Register routes a model name to a specific adapter, overriding the
// fallback.
func (r *Router) Register(model string, adapter Adapter) {
	r.byModel[model] = adapter
}

// Route returns the adapter responsible for the model.
func (r *Router) Route(model string) (Adapter, error) {
	if adapter, ok := r.byModel[model]; ok {
		return adapter, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("provider: no adapter for model %q", model)
}

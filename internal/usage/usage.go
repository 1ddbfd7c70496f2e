// Package usage derives token usage and cost metrics from provider-reported
// counters at terminal-chunk time.
package usage

import (
	"time"

	"github.com/inferflow/inferflow/internal/wire"
)

// Record is the finalized usage and cost summary persisted with a completed
// generation.
type Record struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	PromptCost       float64 `json:"prompt_cost"`
	CompletionCost   float64 `json:"completion_cost"`
	TotalCost        float64 `json:"total_cost"`
	WallDurationMs   int64   `json:"wall_duration_ms"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

// CostTable holds the fixed cost rates, expressed per million tokens.
type CostTable struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// Compute derives a Record from the provider counters. Duration comes from
// the provider-reported nanosecond total when present, otherwise from the
// wall-clock delta measured by the aggregator. Missing counters are zero.
func (t CostTable) Compute(u wire.Usage, wall time.Duration, providerNs int64) Record {
	duration := wall
	if providerNs > 0 {
		duration = time.Duration(providerNs)
	}

	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}

	rec := Record{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      total,
		PromptCost:       float64(u.PromptTokens) * t.PromptPerMillion / 1e6,
		CompletionCost:   float64(u.CompletionTokens) * t.CompletionPerMillion / 1e6,
		WallDurationMs:   duration.Milliseconds(),
	}
	rec.TotalCost = rec.PromptCost + rec.CompletionCost

	if secs := duration.Seconds(); secs > 0 {
		rec.TokensPerSecond = float64(u.CompletionTokens) / secs
	}
	return rec
}

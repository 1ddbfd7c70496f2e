package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/inferflow/inferflow/internal/wire"
)

func TestComputeCost(t *testing.T) {
	table := CostTable{PromptPerMillion: 1.0, CompletionPerMillion: 2.0}

	rec := table.Compute(wire.Usage{
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
	}, 2*time.Second, 0)

	assert.Equal(t, 100, rec.PromptTokens)
	assert.Equal(t, 50, rec.CompletionTokens)
	assert.Equal(t, 150, rec.TotalTokens)
	assert.InDelta(t, 0.0001, rec.PromptCost, 1e-12)
	assert.InDelta(t, 0.0001, rec.CompletionCost, 1e-12)
	assert.InDelta(t, 0.0002, rec.TotalCost, 1e-12)
	assert.Equal(t, int64(2000), rec.WallDurationMs)
	assert.InDelta(t, 25.0, rec.TokensPerSecond, 1e-9)
}

func TestComputePrefersProviderDuration(t *testing.T) {
	table := CostTable{}

	rec := table.Compute(wire.Usage{CompletionTokens: 10}, 30*time.Second, int64(time.Second))

	assert.Equal(t, int64(1000), rec.WallDurationMs)
	assert.InDelta(t, 10.0, rec.TokensPerSecond, 1e-9)
}

func TestComputeDerivesTotal(t *testing.T) {
	rec := CostTable{}.Compute(wire.Usage{PromptTokens: 7, CompletionTokens: 3}, time.Second, 0)
	assert.Equal(t, 10, rec.TotalTokens)
}

func TestComputeZeroUsage(t *testing.T) {
	rec := CostTable{PromptPerMillion: 5}.Compute(wire.Usage{}, 0, 0)

	assert.Zero(t, rec.TotalTokens)
	assert.Zero(t, rec.TotalCost)
	assert.Zero(t, rec.TokensPerSecond)
}

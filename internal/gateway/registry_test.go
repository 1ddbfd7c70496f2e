package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTarget collects everything delivered to it.
type recordingTarget struct {
	mu     sync.Mutex
	chunks []string
	ends   []FinalResult
}

func (r *recordingTarget) OnChunk(delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, delta)
}

func (r *recordingTarget) OnEnd(result FinalResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, result)
}

func (r *recordingTarget) snapshot() ([]string, []FinalResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chunks...), append([]FinalResult(nil), r.ends...)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry(0, nil)
	target := &recordingTarget{}

	require.NoError(t, reg.Register("id-1", target))
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Lookup("id-1")
	require.True(t, ok)
	assert.Same(t, target, got.(*recordingTarget))

	_, ok = reg.Lookup("id-2")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(0, nil)

	require.NoError(t, reg.Register("id-1", &recordingTarget{}))
	err := reg.Register("id-1", &recordingTarget{})
	assert.ErrorIs(t, err, ErrDuplicateCorrelationID)
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry(time.Minute, nil)
	target := &recordingTarget{}
	require.NoError(t, reg.Register("id-1", target))

	got, ok := reg.Remove("id-1")
	require.True(t, ok)
	assert.Same(t, target, got.(*recordingTarget))
	assert.Equal(t, 0, reg.Len())

	_, ok = reg.Remove("id-1")
	assert.False(t, ok)
}

func TestRegistryTTLEviction(t *testing.T) {
	evicted := make(chan string, 1)
	reg := NewRegistry(10*time.Millisecond, func(id string, _ DeliveryTarget) {
		evicted <- id
	})

	require.NoError(t, reg.Register("id-1", &recordingTarget{}))

	select {
	case id := <-evicted:
		assert.Equal(t, "id-1", id)
	case <-time.After(time.Second):
		t.Fatal("eviction callback never fired")
	}
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryRemoveStopsEviction(t *testing.T) {
	evicted := make(chan string, 1)
	reg := NewRegistry(20*time.Millisecond, func(id string, _ DeliveryTarget) {
		evicted <- id
	})

	require.NoError(t, reg.Register("id-1", &recordingTarget{}))
	_, ok := reg.Remove("id-1")
	require.True(t, ok)

	select {
	case <-evicted:
		t.Fatal("evicted a removed entry")
	case <-time.After(60 * time.Millisecond):
	}
}

package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferflow/inferflow/internal/broker"
	"github.com/inferflow/inferflow/internal/config"
	"github.com/inferflow/inferflow/internal/logging"
	"github.com/inferflow/inferflow/internal/metrics"
	"github.com/inferflow/inferflow/internal/store"
	"github.com/inferflow/inferflow/internal/wire"
)

// Drives the full recovery path: connection loss fires the supervisor, which
// re-runs Init (reconnect, queue declaration, consumer re-attach), after
// which dispatch and chunk delivery work again and targets registered before
// the outage still receive their terminal result.
func TestGatewayRecoversAfterConnectionLoss(t *testing.T) {
	closeSignal := make(chan error, 1)
	original := broker.GoChannelCloseNotify
	broker.GoChannelCloseNotify = func() <-chan error { return closeSignal }
	t.Cleanup(func() { broker.GoChannelCloseNotify = original })

	st := store.NewMemoryStore()
	g := New(&config.Config{
		Broker:         "channel",
		ReconnectDelay: 5 * time.Millisecond,
		RegistryTTL:    time.Minute,
	}, logging.Nop(), st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = g.Run(ctx)
		close(done)
	}()

	require.Eventually(t, g.conn.IsConnected, time.Second, time.Millisecond)

	// Round trip before the outage.
	before := &recordingTarget{}
	require.NoError(t, g.Dispatch(ctx, testRequest("pre-close"), before))
	publishResponse(t, g, contentChunkPayload("pre-close", "hi"))
	require.Eventually(t, func() bool {
		chunks, _ := before.snapshot()
		return len(chunks) == 1
	}, time.Second, time.Millisecond)

	reconnects := testutil.ToFloat64(metrics.Reconnects)
	closeSignal <- errors.New("connection reset")

	// The supervisor increments the counter only after Init succeeds, so
	// once it moves the consumer is re-attached and queues re-declared.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.Reconnects) > reconnects
	}, time.Second, time.Millisecond)

	// New dispatches flow over the fresh transport.
	after := &recordingTarget{}
	require.NoError(t, g.Dispatch(ctx, testRequest("post-close"), after))
	publishResponse(t, g, contentChunkPayload("post-close", "again"))
	publishResponse(t, g, terminalChunkPayload("post-close"))

	assert.Eventually(t, func() bool {
		chunks, ends := after.snapshot()
		return len(chunks) == 1 && len(ends) == 1
	}, time.Second, time.Millisecond)

	// The pre-outage registration survived the reconnect cycle.
	publishResponse(t, g, terminalChunkPayload("pre-close"))
	assert.Eventually(t, func() bool {
		_, ends := before.snapshot()
		return len(ends) == 1 && ends[0].Status == StatusCompleted
	}, time.Second, time.Millisecond)

	rec, err := st.GetByID(ctx, "post-close")
	require.NoError(t, err)
	assert.Equal(t, "again", rec.Response)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gateway did not stop on cancel")
	}
}

func publishResponse(t *testing.T, g *Gateway, payload []byte) {
	t.Helper()
	require.NoError(t, g.conn.Publish(context.Background(), g.conf.ResponseQueue, "test", payload))
}

func contentChunkPayload(id, delta string) []byte {
	choices := []wire.Choice{{Delta: wire.Delta{Content: delta}}}
	payload, err := wire.EncodeChunk(&wire.Chunk{
		CorrelationID: id,
		Timestamp:     time.Now().UTC(),
		Result:        wire.ChunkResult{Model: "m", Choices: &choices},
	})
	if err != nil {
		panic(err)
	}
	return payload
}

func terminalChunkPayload(id string) []byte {
	empty := []wire.Choice{}
	payload, err := wire.EncodeChunk(&wire.Chunk{
		CorrelationID: id,
		Timestamp:     time.Now().UTC(),
		Status:        wire.StatusCompleted,
		Result:        wire.ChunkResult{Choices: &empty},
	})
	if err != nil {
		panic(err)
	}
	return payload
}

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferflow/inferflow/internal/config"
)

func channelConfig() *config.Config {
	return &config.Config{Broker: "channel"}
}

func TestConnectionLifecycle(t *testing.T) {
	ctx := context.Background()
	conn := NewConnection(channelConfig(), nil)

	assert.False(t, conn.IsConnected())
	require.NoError(t, conn.Connect(ctx))
	assert.True(t, conn.IsConnected())

	assert.ErrorIs(t, conn.Connect(ctx), ErrAlreadyConnected)

	conn.Close()
	assert.False(t, conn.IsConnected())

	// Close is safe to repeat.
	conn.Close()
}

func TestConnectionReconnect(t *testing.T) {
	ctx := context.Background()
	conn := NewConnection(channelConfig(), nil)

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Reconnect(ctx))
	assert.True(t, conn.IsConnected())
	conn.Close()
}

func TestConnectionGuardsWhenNotConnected(t *testing.T) {
	ctx := context.Background()
	conn := NewConnection(channelConfig(), nil)

	err := conn.Publish(ctx, "q", "id", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = conn.Subscribe(ctx, "q")
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, conn.DeclareQueue("q"), ErrNotConnected)
}

func TestConnectionPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	conn := NewConnection(channelConfig(), nil)
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(conn.Close)

	msgs, err := conn.Subscribe(ctx, "roundtrip")
	require.NoError(t, err)

	go func() {
		_ = conn.Publish(ctx, "roundtrip", "corr-1", []byte("payload"))
	}()

	select {
	case msg := <-msgs:
		assert.Equal(t, "corr-1", msg.Metadata.Get(MetadataCorrelationID))
		assert.Equal(t, []byte("payload"), []byte(msg.Payload))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("message never arrived")
	}
}

func TestNotifyCloseNeverFiresForChannelTransport(t *testing.T) {
	ctx := context.Background()
	conn := NewConnection(channelConfig(), nil)
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(conn.Close)

	select {
	case <-conn.NotifyClose():
		t.Fatal("in-process transport reported a close")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBuildTransportUnknownBroker(t *testing.T) {
	_, err := buildTransport(&config.Config{Broker: "zmq"}, nil)
	assert.Error(t, err)

	_, err = buildTransport(nil, nil)
	assert.Error(t, err)
}

func TestDeclareTopologyIsNoOpForChannel(t *testing.T) {
	ctx := context.Background()
	conn := NewConnection(channelConfig(), nil)
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(conn.Close)

	assert.NoError(t, DeclareTopology(conn, "a", "b", "c"))
}

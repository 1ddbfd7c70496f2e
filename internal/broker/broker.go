// Package broker owns the connection to the message infrastructure: a
// publisher and a subscriber over independent channels, idempotent queue
// declaration, and the close notifications the reconnection supervisor
// listens on. Only one active connection is held at a time.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/inferflow/inferflow/internal/config"
	"github.com/inferflow/inferflow/internal/ids"
)

var (
	ErrNotConnected     = errors.New("broker: not connected")
	ErrAlreadyConnected = errors.New("broker: already connected")
)

// MetadataCorrelationID is the message metadata key carrying the correlation id.
const MetadataCorrelationID = "correlation_id"

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// closeNotify fires once with the connection-level error when the
	// underlying network session drops. Nil for transports that cannot
	// lose a connection (in-process channel).
	closeNotify <-chan error
}

// Connection wraps the configured transport behind connect/close guards.
// All publish and consume operations fail with ErrNotConnected until
// Connect succeeds.
type Connection struct {
	conf   *config.Config
	logger watermill.LoggerAdapter

	mu        sync.RWMutex
	transport *Transport
}

// NewConnection prepares a connection for the configured broker without
// touching the network. Call Connect before publishing or consuming.
func NewConnection(conf *config.Config, logger watermill.LoggerAdapter) *Connection {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Connection{conf: conf, logger: logger}
}

// Connect establishes the network session and opens the publish and consume
// channels. Fails fast if the broker is unreachable.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil {
		return ErrAlreadyConnected
	}

	t, err := buildTransport(c.conf, c.logger)
	if err != nil {
		return fmt.Errorf("broker: connect failed: %w", err)
	}
	c.transport = &t
	return nil
}

// IsConnected reports whether Connect has succeeded and Close has not been
// called since.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport != nil
}

// Reconnect closes any existing transport and establishes a fresh one.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.Close()
	return c.Connect(ctx)
}

// NotifyClose returns a channel that fires when the broker connection is
// lost. For transports without a network session the channel never fires.
func (c *Connection) NotifyClose() <-chan error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.transport == nil || c.transport.closeNotify == nil {
		return make(chan error)
	}
	return c.transport.closeNotify
}

// Publish sends a payload to the named queue with persistent delivery,
// tagging the message metadata with the correlation id.
func (c *Connection) Publish(ctx context.Context, queue, correlationID string, payload []byte) error {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()

	if t == nil {
		return ErrNotConnected
	}

	msg := message.NewMessage(ids.NewCorrelationID(), payload)
	msg.Metadata.Set(MetadataCorrelationID, correlationID)
	msg.SetContext(ctx)

	return t.Publisher.Publish(queue, msg)
}

// Subscribe attaches a consumer to the named queue. Messages must be acked
// or nacked by the caller.
func (c *Connection) Subscribe(ctx context.Context, queue string) (<-chan *message.Message, error) {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()

	if t == nil {
		return nil, ErrNotConnected
	}
	return t.Subscriber.Subscribe(ctx, queue)
}

// DeclareQueue declares a durable, non-exclusive queue. Idempotent: safe to
// call on every startup and reconnection. Transports that create topology
// lazily on subscribe treat this as a no-op.
func (c *Connection) DeclareQueue(queue string) error {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()

	if t == nil {
		return ErrNotConnected
	}

	initializer, ok := t.Subscriber.(message.SubscribeInitializer)
	if !ok {
		return nil
	}
	return initializer.SubscribeInitialize(queue)
}

// Close tears down both channels and the network session. Safe to call when
// not connected.
func (c *Connection) Close() {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	if t == nil {
		return
	}
	if err := t.Publisher.Close(); err != nil {
		c.logger.Error("Failed to close publisher", err, nil)
	}
	if err := t.Subscriber.Close(); err != nil {
		c.logger.Error("Failed to close subscriber", err, nil)
	}
}

func buildTransport(conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errors.New("broker: config is required")
	}

	switch conf.Broker {
	case "rabbitmq":
		return rabbitTransport(conf, logger)
	case "kafka":
		return kafkaTransport(conf, logger)
	case "nats":
		return natsTransport(conf, logger)
	case "channel", "":
		return channelTransport(conf, logger)
	default:
		return Transport{}, fmt.Errorf("broker: unknown broker %q", conf.Broker)
	}
}

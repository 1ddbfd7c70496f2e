package broker

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/inferflow/inferflow/internal/config"
)

var (
	AmqpConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	AmqpPublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	AmqpSubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
)

// rabbitTransport opens one AMQP connection and builds the publisher and
// subscriber on top of it, each with its own channel and acknowledgement
// state. Queues are durable, deliveries persistent, and the consumer channel
// runs with prefetch 1 so a worker finishes one request's streaming
// lifecycle before accepting the next.
func rabbitTransport(conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	conn, amqpConfig, err := setupAmqp(conf, logger)
	if err != nil {
		return Transport{}, err
	}
	publisher, err := AmqpPublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}
	subscriber, err := AmqpSubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return Transport{}, err
	}
	return Transport{
		Publisher:   publisher,
		Subscriber:  subscriber,
		closeNotify: amqpCloseNotify(conn),
	}, nil
}

func setupAmqp(conf *config.Config, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, amqp.Config, error) {
	amqpConfig := amqp.NewDurableQueueConfig(conf.RabbitMQURL)
	amqpConfig.Consume.Qos.PrefetchCount = 1

	amqpConn, err := AmqpConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   conf.RabbitMQURL,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, amqp.Config{}, err
	}
	return amqpConn, amqpConfig, nil
}

// amqpCloseNotify bridges the amqp091 close notification into a plain error
// channel the supervisor can select on.
func amqpCloseNotify(conn *amqp.ConnectionWrapper) <-chan error {
	notify := make(chan error, 1)
	raw := conn.Connection()
	if raw == nil {
		return notify
	}

	closed := raw.NotifyClose(make(chan *amqp091.Error, 1))
	go func() {
		err, ok := <-closed
		if !ok {
			return
		}
		if err != nil {
			notify <- err
		} else {
			notify <- ErrNotConnected
		}
	}()
	return notify
}

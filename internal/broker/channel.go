package broker

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/inferflow/inferflow/internal/config"
)

var (
	GoChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		pubSub := gochannel.NewGoChannel(cfg, logger)
		return pubSub, pubSub
	}

	// GoChannelCloseNotify supplies the close notification for the
	// in-process transport. There is no network session to lose, so it
	// returns nil by default; tests swap it to drive the supervisor.
	GoChannelCloseNotify = func() <-chan error { return nil }
)

// channelTransport runs the whole protocol in-process. Used by tests and the
// single-binary dev loop.
func channelTransport(_ *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	pub, sub := GoChannelFactory(gochannel.Config{}, logger)

	return Transport{
		Publisher:   pub,
		Subscriber:  sub,
		closeNotify: GoChannelCloseNotify(),
	}, nil
}

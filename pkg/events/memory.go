package events

import (
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ghuser/notifyhub/pkg/logger"
)

// NewMemoryTransport returns an in-process transport. Every subscriber gets
// every message, which makes it a faithful single-process stand-in for the
// network brokers.
func NewMemoryTransport(log logger.Logger) Transport {
	return NewGoChannelTransport(gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, NewLoggerAdapter(log)))
}

// NewGoChannelTransport wraps an existing GoChannel. Several buses built on
// the same GoChannel behave like several instances sharing one broker.
func NewGoChannelTransport(gc *gochannel.GoChannel) Transport {
	return Transport{
		Name:       "memory",
		Publisher:  gc,
		Subscriber: gc,
	}
}

// Package relay implements the fan-out signaling relay: a websocket hub
// keyed by channel and event, its client, an HTTP publish bridge and an
// in-process variant for tests and single-process play.
package relay

import (
	"context"
	"errors"
)

var (
	ErrClosed       = errors.New("relay connection closed")
	ErrBadRequest   = errors.New("channel and event are required")
	ErrNotConnected = errors.New("relay not connected")
)

// Delivery is one event received on a subscribed channel.
type Delivery struct {
	Channel string
	Event   string
	Data    []byte
}

// Publisher sends an event to every subscriber of channel.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, data []byte) error
}

// Subscriber opens subscriptions to a channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, events []string) (Subscription, error)
}

// Subscription receives the events of one channel.
type Subscription interface {
	// Ready yields the local socket id once the relay confirmed the subscription.
	Ready() <-chan string
	Deliveries() <-chan Delivery
	Close() error
}

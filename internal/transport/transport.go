// Package transport defines the pub/sub contract between notification
// fan-out and the live session gateway.
package transport

import "context"

// Subscription receives messages published to one channel until closed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Broker publishes to and subscribes on named channels. Messages published
// while no one is subscribed are dropped.
type Broker interface {
	Publish(ctx context.Context, channel string, msg []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

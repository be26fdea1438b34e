// Package redispubsub is a Broker on Redis PUBLISH/SUBSCRIBE, reaching
// subscribers on every instance connected to the same Redis.
package redispubsub

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/easy-alarm/internal/transport"
)

const defaultBuffer = 64

type Broker struct {
	client redis.UniversalClient
	buffer int
}

func NewBroker(client redis.UniversalClient) *Broker {
	return &Broker{client: client, buffer: defaultBuffer}
}

var _ transport.Broker = (*Broker)(nil)

func (b *Broker) Publish(ctx context.Context, channel string, msg []byte) error {
	if err := b.client.Publish(ctx, channel, msg).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", channel)
	}
	return nil
}

// Subscribe opens a dedicated Redis subscription and waits for the server to
// confirm it, so messages published after Subscribe returns are received.
func (b *Broker) Subscribe(ctx context.Context, channel string) (transport.Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrapf(err, "subscribe %s", channel)
	}

	s := &subscription{
		ps: ps,
		ch: make(chan []byte, b.buffer),
	}
	go s.pump()
	return s, nil
}

type subscription struct {
	ps   *redis.PubSub
	ch   chan []byte
	once sync.Once
}

func (s *subscription) pump() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		s.ch <- []byte(msg.Payload)
	}
}

func (s *subscription) Messages() <-chan []byte { return s.ch }

// Close ends the Redis subscription; the message channel closes once the
// pump drains.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
	})
	if err != nil {
		return errors.Wrap(err, "close subscription")
	}
	return nil
}

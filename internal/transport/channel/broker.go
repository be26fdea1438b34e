// Package channel is an in-process Broker built on Go channels. It only
// reaches subscribers in the same process.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/djlord-it/easy-alarm/internal/transport"
)

const (
	DefaultBuffer      = 64
	DefaultEmitTimeout = 100 * time.Millisecond
)

// MetricsSink records broker metrics. All methods must be non-blocking.
type MetricsSink interface {
	MessageDropped()
}

type Option func(*Broker)

// WithEmitTimeout bounds how long Publish waits on a full subscriber buffer
// before dropping the message for that subscriber.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *Broker) { b.emitTimeout = d }
}

func WithBuffer(n int) Option {
	return func(b *Broker) { b.buffer = n }
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *Broker) { b.metrics = sink }
}

type Broker struct {
	mu          sync.RWMutex
	subs        map[string]map[*subscription]struct{}
	buffer      int
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subs:        make(map[string]map[*subscription]struct{}),
		buffer:      DefaultBuffer,
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ transport.Broker = (*Broker)(nil)

func (b *Broker) Publish(ctx context.Context, channel string, msg []byte) error {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(ctx, msg, b.emitTimeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if b.metrics != nil {
				b.metrics.MessageDropped()
			}
		}
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, channel string) (transport.Subscription, error) {
	s := &subscription{
		broker:  b,
		channel: channel,
		ch:      make(chan []byte, b.buffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscription]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Subscribers returns the number of open subscriptions on channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *Broker) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[s.channel], s)
	if len(b.subs[s.channel]) == 0 {
		delete(b.subs, s.channel)
	}
}

type subscription struct {
	broker  *Broker
	channel string
	ch      chan []byte
	done    chan struct{}

	sendMu sync.Mutex
	once   sync.Once
	closed bool
}

type errDropped struct{}

func (errDropped) Error() string { return "subscriber buffer full" }

func (s *subscription) send(ctx context.Context, msg []byte, timeout time.Duration) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errDropped{}
	}
}

func (s *subscription) Messages() <-chan []byte { return s.ch }

// Close unsubscribes and closes the message channel. Safe to call twice.
func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.broker.remove(s)
		s.sendMu.Lock()
		s.closed = true
		close(s.ch)
		s.sendMu.Unlock()
	})
	return nil
}

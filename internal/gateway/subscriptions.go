package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/djlord-it/easy-alarm/internal/transport"
)

// listenerBuffer is how many notifications a slow session may lag behind
// before messages are dropped for it.
const listenerBuffer = 16

// MetricsSink records gateway metrics. All methods must be non-blocking.
type MetricsSink interface {
	SubscriptionOpened()
	SubscriptionClosed()
	SessionOpened(transport string)
	SessionClosed(transport string)
	MessageDropped()
}

// Listener is one session's view of a channel.
type Listener struct {
	channel string
	topic   *topic
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
}

// C delivers messages published on the channel.
func (l *Listener) C() <-chan []byte { return l.ch }

type topic struct {
	sub       transport.Subscription
	listeners map[*Listener]struct{}
	ready     chan struct{}
	err       error
}

// SubscriptionManager shares one broker subscription per channel between
// all local listeners. The first Acquire on a channel opens the
// subscription; the last Release closes it.
type SubscriptionManager struct {
	broker  transport.Broker
	logger  *zap.SugaredLogger
	metrics MetricsSink // optional, nil = disabled

	mu     sync.Mutex
	topics map[string]*topic
}

func NewSubscriptionManager(broker transport.Broker, logger *zap.SugaredLogger) *SubscriptionManager {
	return &SubscriptionManager{
		broker: broker,
		logger: logger.Named("subscriptions"),
		topics: make(map[string]*topic),
	}
}

func (m *SubscriptionManager) WithMetrics(sink MetricsSink) *SubscriptionManager {
	m.metrics = sink
	return m
}

// Acquire registers a listener on channel, opening the underlying
// subscription if this is the first one.
func (m *SubscriptionManager) Acquire(ctx context.Context, channel string) (*Listener, error) {
	m.mu.Lock()
	t, ok := m.topics[channel]
	opener := !ok
	if opener {
		t = &topic{listeners: make(map[*Listener]struct{}), ready: make(chan struct{})}
		m.topics[channel] = t
	}
	l := &Listener{
		channel: channel,
		topic:   t,
		ch:      make(chan []byte, listenerBuffer),
		done:    make(chan struct{}),
	}
	t.listeners[l] = struct{}{}
	m.mu.Unlock()

	if opener {
		sub, err := m.broker.Subscribe(ctx, channel)
		m.mu.Lock()
		t.sub, t.err = sub, err
		if err != nil {
			delete(m.topics, channel)
		}
		close(t.ready)
		m.mu.Unlock()

		if err != nil {
			m.logger.Warnw("subscribe failed", "channel", channel, "error", err)
			return nil, err
		}
		if m.metrics != nil {
			m.metrics.SubscriptionOpened()
		}
		m.logger.Debugw("subscription opened", "channel", channel)
		go m.pump(channel, t)
		return l, nil
	}

	select {
	case <-t.ready:
	case <-ctx.Done():
		m.Release(l)
		return nil, ctx.Err()
	}
	if t.err != nil {
		return nil, t.err
	}
	return l, nil
}

// Release removes l. Releasing the last listener on a channel closes the
// underlying subscription. Safe to call more than once.
func (m *SubscriptionManager) Release(l *Listener) {
	l.once.Do(func() {
		close(l.done)

		m.mu.Lock()
		t := l.topic
		delete(t.listeners, l)
		last := len(t.listeners) == 0 && m.topics[l.channel] == t
		if last {
			delete(m.topics, l.channel)
		}
		m.mu.Unlock()

		if !last {
			return
		}
		// A failed open has no subscription; ready is always closed by then
		// for listeners that returned from Acquire.
		<-t.ready
		if t.sub == nil {
			return
		}
		if err := t.sub.Close(); err != nil {
			m.logger.Warnw("closing subscription", "channel", l.channel, "error", err)
		}
		if m.metrics != nil {
			m.metrics.SubscriptionClosed()
		}
		m.logger.Debugw("subscription closed", "channel", l.channel)
	})
}

// RefCount returns the number of listeners on channel.
func (m *SubscriptionManager) RefCount(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.topics[channel]; ok {
		return len(t.listeners)
	}
	return 0
}

// Subscriptions returns the number of open underlying subscriptions.
func (m *SubscriptionManager) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics)
}

// pump forwards messages from the shared subscription to every listener
// until the subscription closes. A listener whose buffer is full misses the
// message rather than stalling the others.
func (m *SubscriptionManager) pump(channel string, t *topic) {
	for msg := range t.sub.Messages() {
		m.mu.Lock()
		targets := make([]*Listener, 0, len(t.listeners))
		for l := range t.listeners {
			targets = append(targets, l)
		}
		m.mu.Unlock()

		for _, l := range targets {
			select {
			case l.ch <- msg:
			case <-l.done:
			default:
				m.logger.Debugw("listener lagging, message dropped", "channel", channel)
				if m.metrics != nil {
					m.metrics.MessageDropped()
				}
			}
		}
	}
}

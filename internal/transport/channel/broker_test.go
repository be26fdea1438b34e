package channel

import (
	"context"
	"sync"
	"testing"
	"time"
)

type mockMetrics struct {
	mu      sync.Mutex
	dropped int
}

func (m *mockMetrics) MessageDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func receive(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	return ""
}

func TestBroker_PublishReachesOnlyChannelSubscribers(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	alice, _ := b.Subscribe(ctx, "alarms:user:alice")
	aliceToo, _ := b.Subscribe(ctx, "alarms:user:alice")
	bob, _ := b.Subscribe(ctx, "alarms:user:bob")
	defer alice.Close()
	defer aliceToo.Close()
	defer bob.Close()

	if err := b.Publish(ctx, "alarms:user:alice", []byte("ring")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := receive(t, alice.Messages()); got != "ring" {
		t.Errorf("alice got %q", got)
	}
	if got := receive(t, aliceToo.Messages()); got != "ring" {
		t.Errorf("second alice session got %q", got)
	}
	select {
	case msg := <-bob.Messages():
		t.Errorf("bob received %q", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBroker_PublishWithoutSubscribers(t *testing.T) {
	b := NewBroker()
	if err := b.Publish(context.Background(), "alarms:user:nobody", []byte("x")); err != nil {
		t.Errorf("Publish with no subscribers = %v, want nil", err)
	}
}

func TestBroker_FullBufferDrops(t *testing.T) {
	metrics := &mockMetrics{}
	b := NewBroker(WithBuffer(1), WithEmitTimeout(10*time.Millisecond), WithMetrics(metrics))
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "c")
	defer sub.Close()

	_ = b.Publish(ctx, "c", []byte("1"))
	_ = b.Publish(ctx, "c", []byte("2"))

	if got := receive(t, sub.Messages()); got != "1" {
		t.Errorf("first message = %q", got)
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.dropped != 1 {
		t.Errorf("dropped = %d, want 1", metrics.dropped)
	}
}

func TestBroker_CloseUnsubscribes(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "c")
	if b.Subscribers("c") != 1 {
		t.Fatalf("Subscribers = %d, want 1", b.Subscribers("c"))
	}

	_ = sub.Close()
	_ = sub.Close()

	if b.Subscribers("c") != 0 {
		t.Errorf("Subscribers after Close = %d, want 0", b.Subscribers("c"))
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("Messages channel should be closed")
	}
	if err := b.Publish(ctx, "c", []byte("late")); err != nil {
		t.Errorf("Publish after Close = %v", err)
	}
}

func TestBroker_ConcurrentPublishAndClose(t *testing.T) {
	b := NewBroker(WithEmitTimeout(time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		sub, _ := b.Subscribe(ctx, "c")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Publish(ctx, "c", []byte("m"))
			}
		}()
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			_ = sub.Close()
		}()
	}
	wg.Wait()

	if n := b.Subscribers("c"); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
}

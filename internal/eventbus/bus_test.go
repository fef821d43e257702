package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	t.Parallel()
	bus := New()

	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	bus.Publish(Event{Type: TypeWatchStarted, Data: "orders"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if e.Type != TypeWatchStarted {
				t.Fatalf("subscriber %s: type = %q, want %q", name, e.Type, TypeWatchStarted)
			}
			if e.Data != "orders" {
				t.Fatalf("subscriber %s: data = %v", name, e.Data)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %s: time not stamped", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: no event", name)
		}
	}
}

func TestPublishKeepsExplicitTimestamp(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.Publish(Event{Type: TypeDeliverySent, Time: stamp})

	e := <-ch
	if !e.Time.Equal(stamp) {
		t.Fatalf("time = %v, want %v", e.Time, stamp)
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Type: TypeDeliveryQueued, Data: 1})
	// Buffer is full; this must not block and must be dropped.
	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: TypeDeliveryQueued, Data: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	first := <-ch
	if first.Data != 1 {
		t.Fatalf("data = %v, want 1", first.Data)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event: %+v", e)
	default:
	}
}

func TestUnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, cancel := bus.Subscribe(1)

	cancel()
	cancel() // must not panic

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	bus.Publish(Event{Type: TypeWatchStopped})
}

func TestSubscribeDefaultsBuffer(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, cancel := bus.Subscribe(0)
	defer cancel()

	// With the default buffer a publish to an idle subscriber is retained.
	bus.Publish(Event{Type: TypeIdentityChanged})
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("event dropped despite default buffer")
	}
}

package eventbus

import (
	"sync"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Engine lifecycle event types published on the bus.
const (
	TypeDeliveryQueued   = "delivery.queued"
	TypeDeliverySent     = "delivery.sent"
	TypeDeliveryReplaced = "delivery.replaced"
	TypeDeliveryDropped  = "delivery.dropped"
	TypeDeliveryFailed   = "delivery.failed"
	TypeWatchStarted     = "watch.started"
	TypeWatchStopped     = "watch.stopped"
	TypeWatchError       = "watch.error"
	TypeIdentityChanged  = "identity.changed"
)

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{}
}

type sub struct {
	ch     chan Event
	closed bool
}

type memBus struct {
	mu   sync.Mutex
	subs []*sub
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Delivery happens under the lock so an unsubscribe cannot close a channel
	// mid-send. Sends are non-blocking, so the lock is held only briefly.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.closed {
			continue
		}
		select {
		case s.ch <- e:
		default:
			// Subscriber is slow; drop.
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			s.closed = true
			for i, cur := range b.subs {
				if cur == s {
					last := len(b.subs) - 1
					b.subs[i] = b.subs[last]
					b.subs[last] = nil
					b.subs = b.subs[:last]
					break
				}
			}
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, unsub
}

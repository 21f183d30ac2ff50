// Package events fans committed engine events out to in-process
// subscribers and websocket clients.
package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/model"
)

// Publisher receives events after their transaction has committed.
type Publisher interface {
	Publish(events ...model.Event)
}

// Nop drops events.
type Nop struct{}

func (Nop) Publish(...model.Event) {}

// DefaultBuffer is the channel size of a subscription.
const DefaultBuffer = 256

// Broker delivers each published event to every subscriber. A subscriber
// whose buffer is full misses the event; Publish never blocks.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]chan model.Event
	next   uint64
	closed bool

	dropped atomic.Uint64
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]chan model.Event)}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and may be called more than once.
func (b *Broker) Subscribe(buffer int) (<-chan model.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan model.Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

func (b *Broker) Publish(events ...model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ev := range events {
		for _, ch := range b.subs {
			select {
			case ch <- ev:
			default:
				b.dropped.Add(1)
				zap.L().Warn("event dropped for slow subscriber",
					zap.String("component", "events"),
					zap.Uint64("sequence", ev.Sequence),
				)
			}
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Package bus fans domain events out to in-process subscribers. Delivery is
// best effort: Publish never blocks on a slow subscriber.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Option configures a Bus.
type Option func(*Bus)

// WithDropHook registers fn to be called with the event kind each time a
// delivery is skipped. fn runs on the publisher's goroutine.
func WithDropHook(fn func(kind string)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// Bus routes events to subscribers by kind prefix.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	onDrop func(kind string)

	dropped atomic.Uint64
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(evt.Kind)
			}
		}
	}
}

// Emit publishes payload under kind, stamped with the current time. A nil
// Bus discards the event.
func (b *Bus) Emit(kind string, payload any) {
	if b == nil {
		return
	}
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe registers a buffered channel for events whose kind starts with
// prefix ("session.", "relay.", or a full kind). The returned cancel func
// stops delivery; it does not close the channel.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	s := &subscriber{prefix: prefix, ch: make(chan Event, bufSize)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() { b.remove(s) })
	}
}

func (b *Bus) remove(target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the total number of skipped deliveries.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

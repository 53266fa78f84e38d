// Package eventbus is the single-process, topic-keyed publish/subscribe
// used to fan bar, alert, signal, and scale-progress events out to
// downstream consumers. It generalizes the teacher's pair of fixed global
// channels (tradeChan, alertChan) into a registry of bounded per-topic
// rings so any component can open a new topic without touching main().
package eventbus

import (
	"log"
	"sync"
)

// Event is the envelope delivered to every subscriber of a topic.
type Event struct {
	Topic   string
	Payload any
}

// subscriber is one bounded channel plus a drop counter.
type subscriber struct {
	ch      chan Event
	dropped uint64
}

// Bus is a lock-free-ish MPMC per topic: publishers never block, slow
// subscribers drop their oldest buffered event on overflow.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	bufferSize  int
}

// New creates a Bus whose subscriber channels are each buffered to
// bufferSize events (default 256, matching the default backpressure
// window named for the event bus).
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		subscribers: make(map[string][]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a receive-only channel of events published to topic.
// The returned channel is closed when Unsubscribe is called with it, or
// never, for the lifetime of the process otherwise.
func (b *Bus) Subscribe(topic string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{ch: make(chan Event, b.bufferSize)}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	return sub.ch
}

// Unsubscribe removes and closes the given channel from topic, if present.
func (b *Bus) Unsubscribe(topic string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[topic]
	for i, sub := range subs {
		if sub.ch == ch {
			close(sub.ch)
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers payload to every subscriber of topic. Delivery is
// in-order per topic and best-effort: a full subscriber channel has its
// oldest buffered event dropped to make room, rather than blocking the
// publisher.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := b.subscribers[topic]
	b.mu.RUnlock()

	evt := Event{Topic: topic, Payload: payload}
	for _, sub := range subs {
		select {
		case sub.ch <- evt:
		default:
			select {
			case <-sub.ch:
				sub.dropped++
			default:
			}
			select {
			case sub.ch <- evt:
			default:
				log.Printf("eventbus: topic %q subscriber still full after drop, event lost", topic)
			}
		}
	}
}

// Dropped returns the number of dropped-oldest overflow events across all
// subscribers of topic, for observability.
func (b *Bus) Dropped(topic string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total uint64
	for _, sub := range b.subscribers[topic] {
		total += sub.dropped
	}
	return total
}

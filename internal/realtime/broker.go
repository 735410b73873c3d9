package realtime

import (
	"log/slog"
	"sync"

	"waitly/models"
)

const subscriberBuffer = 16

// Broker is the in-process change propagation channel. Topics are keyed
// by venue id or ticket id (models.VenueTopic / models.TicketTopic).
// Delivery is at-least-once: a slow subscriber loses its oldest pending
// event rather than blocking a publisher, so consumers must treat a later
// event as authoritative. Per-ticket ordering holds because each ticket
// has a single writer.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan models.ChangeEvent
	nextID int
	closed bool
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[int]chan models.ChangeEvent),
	}
}

// Subscribe registers a subscriber for a topic and returns its event
// channel plus a cancel func. Cancel is idempotent.
func (b *Broker) Subscribe(topic string) (<-chan models.ChangeEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan models.ChangeEvent)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++

	ch := make(chan models.ChangeEvent, subscriberBuffer)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan models.ChangeEvent)
	}
	b.subs[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subs[topic]; ok {
				if c, ok := subs[id]; ok {
					delete(subs, id)
					close(c)
					if len(subs) == 0 {
						delete(b.subs, topic)
					}
				}
			}
		})
	}

	return ch, cancel
}

// Publish fans an event out to every subscriber of the topic. When a
// subscriber's buffer is full the oldest pending event is dropped in
// favor of the new one.
func (b *Broker) Publish(topic string, event models.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
				slog.Warn("broker: dropping event for saturated subscriber", "topic", topic, "type", event.Type)
			}
		}
	}
}

// SubscriberCount reports the current number of subscribers for a topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for topic, subs := range b.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(b.subs, topic)
	}
}

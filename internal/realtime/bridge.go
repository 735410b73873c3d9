package realtime

import (
	"log/slog"
	"sync"

	pubnub "github.com/pubnub/go"

	"waitly/models"
	"waitly/monitoring"
)

// Bridge mirrors broker events for a topic onto the matching PubNub
// channel so browser and mobile clients receive the same change feed as
// in-process subscribers. One goroutine per watched topic; Stop tears
// them all down.
type Bridge struct {
	broker *Broker
	pubnub *pubnub.PubNub

	mu      sync.Mutex
	cancels map[string]func()
	wg      sync.WaitGroup
}

func NewBridge(broker *Broker, pn *pubnub.PubNub) *Bridge {
	return &Bridge{
		broker:  broker,
		pubnub:  pn,
		cancels: make(map[string]func()),
	}
}

// Watch starts mirroring a topic. Watching an already watched topic is a
// no-op.
func (b *Bridge) Watch(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.cancels[topic]; ok {
		return
	}

	ch, cancel := b.broker.Subscribe(topic)
	b.cancels[topic] = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			b.forward(topic, event)
		}
	}()
}

// Unwatch stops mirroring a topic.
func (b *Bridge) Unwatch(topic string) {
	b.mu.Lock()
	cancel, ok := b.cancels[topic]
	if ok {
		delete(b.cancels, topic)
	}
	b.mu.Unlock()

	if ok {
		cancel()
	}
}

func (b *Bridge) forward(topic string, event models.ChangeEvent) {
	if b.pubnub == nil {
		return
	}

	_, _, err := b.pubnub.Publish().
		Channel(topic).
		Message(event).
		Execute()
	if err != nil {
		// Best-effort side channel: log and count, never fail the transition.
		monitoring.TrackNotification("channel", "failed")
		slog.Error("bridge publish failed", "topic", topic, "type", event.Type, "error", err)
		return
	}
	monitoring.TrackNotification("channel", "sent")
}

// Stop unwatches everything and waits for the mirror goroutines.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancels := make([]func(), 0, len(b.cancels))
	for topic, cancel := range b.cancels {
		cancels = append(cancels, cancel)
		delete(b.cancels, topic)
	}
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	b.wg.Wait()
}

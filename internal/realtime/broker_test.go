package realtime

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitly/models"
)

func TestBroker_FanOut(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	first, cancelFirst := broker.Subscribe("venue:v1")
	defer cancelFirst()
	second, cancelSecond := broker.Subscribe("venue:v1")
	defer cancelSecond()
	other, cancelOther := broker.Subscribe("venue:v2")
	defer cancelOther()

	broker.Publish("venue:v1", models.ChangeEvent{Type: models.EventVenueUpdated})

	for _, ch := range []<-chan models.ChangeEvent{first, second} {
		select {
		case event := <-ch:
			assert.Equal(t, models.EventVenueUpdated, event.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}

	select {
	case <-other:
		t.Fatal("event leaked to an unrelated topic")
	default:
	}
}

func TestBroker_CancelIsIdempotent(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	_, cancel := broker.Subscribe("venue:v1")
	require.Equal(t, 1, broker.SubscriberCount("venue:v1"))

	cancel()
	cancel()

	assert.Equal(t, 0, broker.SubscriberCount("venue:v1"))

	// Publishing to a topic with no subscribers must not panic.
	broker.Publish("venue:v1", models.ChangeEvent{Type: models.EventVenueUpdated})
}

func TestBroker_SlowSubscriberDropsOldest(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	events, cancel := broker.Subscribe("venue:v1")
	defer cancel()

	published := subscriberBuffer + 4
	for i := 0; i < published; i++ {
		broker.Publish("venue:v1", models.ChangeEvent{
			Type:     models.EventQueuePosition,
			Position: i,
		})
	}

	// The buffer holds the newest subscriberBuffer events; the oldest
	// four were dropped.
	first := <-events
	assert.Equal(t, 4, first.Position)

	var last models.ChangeEvent
	for i := 0; i < subscriberBuffer-1; i++ {
		last = <-events
	}
	assert.Equal(t, published-1, last.Position)
}

func TestBroker_ConcurrentPublish(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	const topics = 8
	const perTopic = 50

	channels := make([]<-chan models.ChangeEvent, topics)
	for i := 0; i < topics; i++ {
		ch, cancel := broker.Subscribe(fmt.Sprintf("ticket:t%d", i))
		defer cancel()
		channels[i] = ch
	}

	var wg sync.WaitGroup
	received := make([]int, topics)
	for i := 0; i < topics; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range channels[i] {
				received[i]++
			}
		}(i)
	}

	var publishers sync.WaitGroup
	for i := 0; i < topics; i++ {
		publishers.Add(1)
		go func(i int) {
			defer publishers.Done()
			for j := 0; j < perTopic; j++ {
				broker.Publish(fmt.Sprintf("ticket:t%d", i), models.ChangeEvent{Type: models.EventTicketTransition})
				// Keep the consumer ahead of the buffer.
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	publishers.Wait()
	broker.Close()
	wg.Wait()

	for i, count := range received {
		assert.Equal(t, perTopic, count, "topic %d", i)
	}
}

func TestBroker_SubscribeAfterClose(t *testing.T) {
	broker := NewBroker()
	broker.Close()

	ch, cancel := broker.Subscribe("venue:v1")
	defer cancel()

	_, open := <-ch
	assert.False(t, open)
}

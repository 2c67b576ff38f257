package events_test

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/internal/events"
)

func TestPublishFansOutToChannelSubscribers(t *testing.T) {
	bus := events.NewBus(8, zerolog.Nop())
	channel := events.PriceChannel("0xcond")

	a, unsubA := bus.Subscribe(channel)
	b, unsubB := bus.Subscribe(channel)
	defer unsubA()
	defer unsubB()

	other, unsubOther := bus.Subscribe(events.PriceChannel("0xother"))
	defer unsubOther()

	bus.Publish(channel, "price_update", map[string]string{"price": "0.42"})

	for _, ch := range []<-chan events.Message{a, b} {
		select {
		case msg := <-ch:
			assert.Equal(t, channel, msg.Channel)
			assert.Equal(t, "price_update", msg.Type)
			assert.False(t, msg.SentAt.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive published message")
		}
	}

	select {
	case msg := <-other:
		t.Fatalf("unrelated channel received %v", msg)
	default:
	}
}

func TestUnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	bus := events.NewBus(8, zerolog.Nop())
	channel := events.OrderbookChannel("0xcond")

	msgs, unsub := bus.Subscribe(channel)
	require.Equal(t, 1, bus.SubscriberCount(channel))

	unsub()
	unsub()

	_, open := <-msgs
	assert.False(t, open, "unsubscribe must close the message channel")
	assert.Zero(t, bus.SubscriberCount(channel))
}

// Unsubscribing closes the message channel, so delivery and teardown must
// exclude each other or a publish sends on a closed channel and panics.
func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := events.NewBus(1, zerolog.Nop())
	channel := events.PriceChannel("0xcond")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				bus.Publish(channel, "price_update", nil)
			}
		}
	}()

	for i := 0; i < 500; i++ {
		msgs, unsub := bus.Subscribe(channel)
		// Drain one message if present, then tear down mid-stream
		select {
		case <-msgs:
		default:
		}
		unsub()
	}

	close(stop)
	wg.Wait()
	assert.Zero(t, bus.SubscriberCount(channel))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	bus := events.NewBus(1, zerolog.Nop())
	channel := events.PriceChannel("0xcond")

	msgs, unsub := bus.Subscribe(channel)
	defer unsub()

	// First publish fills the buffer; the second overflows and evicts
	bus.Publish(channel, "price_update", nil)
	bus.Publish(channel, "price_update", nil)

	assert.Zero(t, bus.SubscriberCount(channel))

	// The buffered message is still readable, then the channel closes
	<-msgs
	_, open := <-msgs
	assert.False(t, open)
}

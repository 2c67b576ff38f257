// Package events provides the in-process pub/sub bus for real-time market
// events. Channels follow a fixed naming scheme; the stream service is the
// single writer per channel.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Message is a published event on a named channel
type Message struct {
	Channel string      `json:"channel"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sentAt"`
}

// OrderbookChannel returns the depth channel name for a market
func OrderbookChannel(conditionID string) string {
	return fmt.Sprintf("market:%s:orderbook", conditionID)
}

// PriceChannel returns the price channel name for a market
func PriceChannel(conditionID string) string {
	return fmt.Sprintf("market:%s:price", conditionID)
}

// subscriber is one registered receiver on a channel
type subscriber struct {
	id string
	ch chan Message
}

// Bus fans out messages per channel to registered subscribers.
// Subscribers receive messages in publish order for their channel. Slow
// subscribers are dropped with a logged warning: the system prefers freshness
// over completeness for real-time price fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber // channel -> subscribers
	bufferSize  int
	nextID      int
	log         zerolog.Logger
}

// NewBus creates a bus with the given per-subscriber buffer size
func NewBus(bufferSize int, log zerolog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string][]subscriber),
		bufferSize:  bufferSize,
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a receiver on a channel. The returned unsubscribe
// function is idempotent and closes the message channel.
func (b *Bus) Subscribe(channel string) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscriber{
		id: fmt.Sprintf("sub-%d", b.nextID),
		ch: make(chan Message, b.bufferSize),
	}
	b.subscribers[channel] = append(b.subscribers[channel], sub)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.remove(channel, sub.id)
		})
	}
	return sub.ch, unsubscribe
}

// Publish delivers a message to every subscriber of the channel.
// A subscriber whose buffer is full is dropped.
func (b *Bus) Publish(channel, msgType string, payload interface{}) {
	msg := Message{
		Channel: channel,
		Type:    msgType,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	}

	// Sends happen under the read lock: remove closes channels under the
	// write lock, so a concurrent unsubscribe cannot close mid-send. The
	// sends never block (buffered channel, default case).
	b.mu.RLock()
	var dropped []string
	for _, sub := range b.subscribers[channel] {
		select {
		case sub.ch <- msg:
		default:
			dropped = append(dropped, sub.id)
		}
	}
	b.mu.RUnlock()

	for _, id := range dropped {
		b.log.Warn().
			Str("channel", channel).
			Str("subscriber", id).
			Msg("Dropping slow subscriber")
		b.remove(channel, id)
	}
}

// SubscriberCount returns the number of active subscribers on a channel
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}

func (b *Bus) remove(channel, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[channel]
	for i, sub := range subs {
		if sub.id == id {
			b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
	if len(b.subscribers[channel]) == 0 {
		delete(b.subscribers, channel)
	}
}

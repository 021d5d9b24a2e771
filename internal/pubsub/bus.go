package pubsub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Message is one published event
type Message struct {
	Topic   string
	Payload interface{}
}

// Publisher is the fire-and-forget publish side of the bus.
// Delivery is at-least-once from the publisher's perspective; a
// failing subscriber never affects the caller.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Subscriber receives messages for one topic
type Subscriber func(msg Message)

// Bus is an in-process topic bus. Subscribers run on their own
// goroutines so publishing never blocks on a slow consumer.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Subscriber
	log  zerolog.Logger
}

// NewBus creates an empty bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{subs: make(map[string][]Subscriber), log: log}
}

// Subscribe registers a handler for a topic
func (b *Bus) Subscribe(topic string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], fn)
}

// Publish delivers the payload to every subscriber of the topic
func (b *Bus) Publish(ctx context.Context, topic string, payload interface{}) error {
	b.mu.RLock()
	handlers := make([]Subscriber, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, fn := range handlers {
		go func(fn Subscriber) {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Str("topic", topic).Interface("panic", r).
						Msg("subscriber panicked")
				}
			}()
			fn(msg)
		}(fn)
	}
	return nil
}

// Close drops all subscriptions; messages published afterwards go
// nowhere
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]Subscriber)
}

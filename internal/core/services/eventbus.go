package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mbellgren/dispatchd/internal/core/domain"
)

// topicAll subscribes to every event regardless of topic.
const topicAll = "*"

// EventBus fans domain events out to in-process subscribers. Delivery is
// best-effort: a full subscriber channel drops the event rather than
// blocking the publisher.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan domain.Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan domain.Event),
	}
}

// Subscribe returns a channel receiving events for one topic.
func (b *EventBus) Subscribe(topic domain.EventTopic) (<-chan domain.Event, func()) {
	return b.subscribe(string(topic))
}

// SubscribeAll returns a channel receiving every published event.
func (b *EventBus) SubscribeAll() (<-chan domain.Event, func()) {
	return b.subscribe(topicAll)
}

func (b *EventBus) subscribe(key string) (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, 100)
	b.subs[key] = append(b.subs[key], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[key]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[key] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
	}

	return ch, unsub
}

// Publish delivers an event to topic and wildcard subscribers.
func (b *EventBus) Publish(e domain.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range []string{string(e.Topic), topicAll} {
		for _, ch := range b.subs[key] {
			select {
			case ch <- e:
			default:
				b.logger.Warn("event bus channel full, dropping event",
					"topic", e.Topic, "entity_id", e.EntityID)
			}
		}
	}
}

// Emit is shorthand for publishing a topic/entity/payload triple.
func (b *EventBus) Emit(topic domain.EventTopic, entityID string, payload map[string]any) {
	b.Publish(domain.Event{Topic: topic, EntityID: entityID, Payload: payload})
}

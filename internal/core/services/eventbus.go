package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypePhase  EventType = "phase"
	EventTypeStatus EventType = "status"
	EventTypeAgents EventType = "agents"
	EventTypeLog    EventType = "log"
)

// TopicAll receives every published event regardless of topic.
const TopicAll = "*"

type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"` // workflow id, or "agents"
	Type      EventType `json:"type"`
	Data      string    `json:"data"` // JSON payload or raw text
	Timestamp time.Time `json:"timestamp"`
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a topic
func (b *EventBus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subs[topic] = append(b.subs[topic], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[topic]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[topic] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of its topic and to TopicAll.
// It never blocks; full subscriber buffers drop the event.
func (b *EventBus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.subs[e.Topic], e)
	if e.Topic != TopicAll {
		b.deliver(b.subs[TopicAll], e)
	}
}

func (b *EventBus) deliver(subscribers []chan Event, e Event) {
	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "topic", e.Topic, "type", e.Type)
		}
	}
}

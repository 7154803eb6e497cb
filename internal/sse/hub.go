package sse

import (
	"log/slog"
	"sync"
)

// AllTopics subscribes to every topic.
const AllTopics = "*"

// Event represents a server-sent event to be published to subscribers.
type Event struct {
	Type string // "verdict", "stats"
	Data []byte // JSON payload
}

// Hub is a fan-out hub with per-topic subscriptions. Topics are verdict
// operations ("binary", "multiclass").
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{} // topic -> set of channels
	logger      *slog.Logger
}

// NewHub creates a new SSE hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan Event]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a subscriber for topic, or for everything with
// AllTopics. The returned cancel function must be called when the
// subscriber disconnects.
func (h *Hub) Subscribe(topic string) (chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	if h.subscribers[topic] == nil {
		h.subscribers[topic] = make(map[chan Event]struct{})
	}
	h.subscribers[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers[topic], ch)
			if len(h.subscribers[topic]) == 0 {
				delete(h.subscribers, topic)
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish sends an event to subscribers of topic and of AllTopics.
// A full subscriber channel drops the event.
func (h *Hub) Publish(topic string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.deliver(topic, h.subscribers[topic], event)
	if topic != AllTopics {
		h.deliver(topic, h.subscribers[AllTopics], event)
	}
}

func (h *Hub) deliver(topic string, subs map[chan Event]struct{}, event Event) {
	for ch := range subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn("sse: dropped event for slow client", "topic", topic)
		}
	}
}

// SubscriberCount returns the number of active subscribers for topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}

// Package events fans analysis progress out to every connected listener.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/pavelanni/qbank/internal/model"
)

// AnalysisTopic is the event name document analysis progress is published under.
const AnalysisTopic = "analysis-event"

const subscriberBuffer = 64

// Message is one published event.
type Message struct {
	Topic string              `json:"topic"`
	Event model.AnalysisEvent `json:"event"`
}

// Subscription receives published messages until cancelled.
type Subscription struct {
	ID string
	C  <-chan Message

	hub *Hub
	ch  chan Message
}

// Close detaches the subscription from its hub.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.ID)
}

// Hub is a publish/subscribe broker. Publish never blocks: a subscriber
// whose buffer is full misses the message.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Message
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Message)}
}

// Subscribe registers a new listener.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Message, subscriberBuffer)
	id := uuid.NewString()
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return &Subscription{ID: id, C: ch, hub: h, ch: ch}
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish sends ev to every subscriber.
func (h *Hub) Publish(topic string, ev model.AnalysisEvent) {
	msg := Message{Topic: topic, Event: ev}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			slog.Warn("dropping event for slow subscriber", "subscriber", id, "topic", topic)
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Package realtime is the broadcast channel: topic-addressed pub/sub to
// whoever is connected right now. Nothing is persisted; a subscriber that is
// offline when an event is published never sees it.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types published by the server.
const (
	EventNewMessage        = "new_message"
	EventMessagesDelivered = "messages_delivered"
	EventMessagesRead      = "messages_read"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventReactionAdded     = "reaction_added"
	EventReactionRemoved   = "reaction_removed"
	EventTaskUpdated       = "task_updated"
	EventTaskDeleted       = "task_deleted"
	EventConversationNew   = "conversation_created"
	EventTyping            = "typing"
	EventStopTyping        = "stop_typing"
)

type Event struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  any    `json:"data,omitempty"`
}

func ConversationTopic(id uuid.UUID) string { return "conversation:" + id.String() }

func UserTopic(id uuid.UUID) string { return "user:" + id.String() }

// Subscriber receives events for the topics it joined. Deliver must not
// block; it returns false when the event was dropped.
type Subscriber interface {
	Deliver(ev Event) bool
}

// Relay forwards locally published events to other server instances.
type Relay interface {
	Forward(ctx context.Context, ev Event) error
}

type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]struct{}
	relay  Relay
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[Subscriber]struct{}),
		logger: logger,
	}
}

// SetRelay attaches a cross-instance relay. Call before serving traffic.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

func (h *Hub) Subscribe(topic string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[Subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
}

func (h *Hub) Unsubscribe(topic string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.remove(topic, sub)
}

// UnsubscribeAll drops sub from every topic. Called when a connection closes.
func (h *Hub) UnsubscribeAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range h.topics {
		h.remove(topic, sub)
	}
}

func (h *Hub) remove(topic string, sub Subscriber) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// CloseAll ends every subscriber that holds a connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	seen := make(map[Subscriber]struct{})
	for _, subs := range h.topics {
		for s := range subs {
			seen[s] = struct{}{}
		}
	}
	h.mu.RUnlock()

	closed := 0
	for s := range seen {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
			closed++
		}
	}
	h.logger.Info("closed realtime connections", zap.Int("count", closed))
}

func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish delivers ev to local subscribers of topic and hands it to the
// relay, if any. Failures are logged; the caller's write has already
// happened and does not depend on anyone hearing about it.
func (h *Hub) Publish(ctx context.Context, topic string, ev Event) {
	ev.Topic = topic
	h.DeliverLocal(ev)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Forward(ctx, ev); err != nil {
		h.logger.Warn("relay event",
			zap.String("topic", topic),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}

// DeliverLocal fans ev out to this instance's subscribers of ev.Topic. The
// subscriber set is copied under the read lock and delivered to outside it.
func (h *Hub) DeliverLocal(ev Event) {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.topics[ev.Topic]))
	for s := range h.topics[ev.Topic] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, s := range subs {
		if !s.Deliver(ev) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Debug("dropped event for slow subscribers",
			zap.String("topic", ev.Topic),
			zap.String("type", ev.Type),
			zap.Int("dropped", dropped),
		)
	}
}

package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"construction_chat/internal/domain"
	"construction_chat/pkg/logger"
)

// Subscriber is anything the hub can fan frames out to.
type Subscriber interface {
	ID() string
	UserID() uuid.UUID
	Send(payload []byte) error
}

// Hub is the single-node delivery hub. Every subscriber is on its user
// channel from Register until Unregister, plus whatever conversation
// channels it subscribed to. Several subscribers per user are normal
// (tabs, devices); exclusion is always by subscriber id.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	channels    map[domain.Channel]map[string]Subscriber
	memberships map[string]map[domain.Channel]struct{}
	log         logger.Logger
}

func New(log logger.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]Subscriber),
		channels:    make(map[domain.Channel]map[string]Subscriber),
		memberships: make(map[string]map[domain.Channel]struct{}),
		log:         log,
	}
}

// Register tracks sub and joins it to its user channel.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	h.subscribers[sub.ID()] = sub
	h.memberships[sub.ID()] = make(map[domain.Channel]struct{})
	h.joinLocked(domain.UserChannel(sub.UserID()), sub)
	h.mu.Unlock()

	h.log.Debug("Push subscriber registered", "connection_id", sub.ID(), "user_id", sub.UserID())
}

// Unregister drops sub from every channel. Safe to call twice.
func (h *Hub) Unregister(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.ID()]; !ok {
		return
	}
	for ch := range h.memberships[sub.ID()] {
		h.leaveLocked(ch, sub.ID())
	}
	delete(h.memberships, sub.ID())
	delete(h.subscribers, sub.ID())
}

// Subscribe joins sub to a conversation channel. It reports false for an
// unregistered subscriber.
func (h *Hub) Subscribe(sub Subscriber, conversationID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.ID()]; !ok {
		return false
	}
	h.joinLocked(domain.ConversationChannel(conversationID), sub)
	return true
}

func (h *Hub) Unsubscribe(sub Subscriber, conversationID uuid.UUID) {
	h.mu.Lock()
	h.leaveLocked(domain.ConversationChannel(conversationID), sub.ID())
	h.mu.Unlock()
}

// Publish encodes event once and delivers it to every subscriber of ch
// except excludeID. Delivery is best effort; the count of accepted sends
// is returned.
func (h *Hub) Publish(ch domain.Channel, event domain.Event, excludeID string) int {
	payload, err := domain.EncodeEvent(event)
	if err != nil {
		h.log.Error("Refusing to publish invalid event", "channel", ch, "type", event.Type(), "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.channels[ch]))
	for id, sub := range h.channels[ch] {
		if id != excludeID {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	return deliver(targets, payload)
}

// PublishListUpdate delivers a conversation.changed signal on a user's
// personal channel. For message level changes, subscribers already viewing
// the conversation are skipped since they receive the full frame there.
func (h *Hub) PublishListUpdate(userID uuid.UUID, event domain.ConversationChanged, excludeID string) int {
	payload, err := domain.EncodeEvent(event)
	if err != nil {
		h.log.Error("Refusing to publish invalid list update", "user_id", userID, "error", err)
		return 0
	}

	skipViewers := event.Reason == domain.ChangeReasonMessage ||
		event.Reason == domain.ChangeReasonEdited ||
		event.Reason == domain.ChangeReasonDeleted
	viewing := domain.ConversationChannel(event.ConversationID)

	h.mu.RLock()
	var targets []Subscriber
	for id, sub := range h.channels[domain.UserChannel(userID)] {
		if id == excludeID {
			continue
		}
		if skipViewers {
			if _, ok := h.memberships[id][viewing]; ok {
				continue
			}
		}
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	return deliver(targets, payload)
}

// SendTo delivers one event to a single registered subscriber.
func (h *Hub) SendTo(subscriberID string, event domain.Event) bool {
	payload, err := domain.EncodeEvent(event)
	if err != nil {
		return false
	}
	h.mu.RLock()
	sub, ok := h.subscribers[subscriberID]
	h.mu.RUnlock()
	return ok && sub.Send(payload) == nil
}

// Subscribed reports whether subscriberID is on ch.
func (h *Hub) Subscribed(subscriberID string, ch domain.Channel) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[ch][subscriberID]
	return ok
}

// DropUser unsubscribes every connection of userID from a conversation,
// used when the user leaves or is removed from a group.
func (h *Hub) DropUser(userID, conversationID uuid.UUID) {
	ch := domain.ConversationChannel(conversationID)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.channels[ch] {
		if sub.UserID() == userID {
			h.leaveLocked(ch, id)
		}
	}
}

type Stats struct {
	Subscribers int `json:"subscribers"`
	Channels    int `json:"channels"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Subscribers: len(h.subscribers), Channels: len(h.channels)}
}

// Close unregisters everything and closes connections that can be closed.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[string]Subscriber)
	h.channels = make(map[domain.Channel]map[string]Subscriber)
	h.memberships = make(map[string]map[domain.Channel]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		if conn, ok := sub.(*Connection); ok {
			conn.Close(websocket.CloseGoingAway, "server shutdown")
		}
	}
}

func (h *Hub) joinLocked(ch domain.Channel, sub Subscriber) {
	members := h.channels[ch]
	if members == nil {
		members = make(map[string]Subscriber)
		h.channels[ch] = members
	}
	members[sub.ID()] = sub
	h.memberships[sub.ID()][ch] = struct{}{}
}

func (h *Hub) leaveLocked(ch domain.Channel, subscriberID string) {
	if members := h.channels[ch]; members != nil {
		delete(members, subscriberID)
		if len(members) == 0 {
			delete(h.channels, ch)
		}
	}
	if m := h.memberships[subscriberID]; m != nil {
		delete(m, ch)
	}
}

func deliver(targets []Subscriber, payload []byte) int {
	delivered := 0
	for _, sub := range targets {
		if err := sub.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Channel names a push channel. Every connection is on its user channel and
// on the conversation channels it is currently viewing.
type Channel string

const (
	conversationChannelPrefix = "conversation:"
	userChannelPrefix         = "user:"
)

func ConversationChannel(id uuid.UUID) Channel {
	return Channel(conversationChannelPrefix + id.String())
}

func UserChannel(id uuid.UUID) Channel {
	return Channel(userChannelPrefix + id.String())
}

// ConversationID extracts the conversation id of a conversation channel.
func (c Channel) ConversationID() (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(string(c), conversationChannelPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

type EventType string

const (
	EventConnected           EventType = "connected"
	EventMessagePushed       EventType = "message.pushed"
	EventMessageUpdated      EventType = "message.updated"
	EventMessageDeleted      EventType = "message.deleted"
	EventConversationChanged EventType = "conversation.changed"
	EventError               EventType = "error"

	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventPing        EventType = "ping"
	EventPong        EventType = "pong"
)

// Event is one tagged frame on the push channel.
type Event interface {
	Type() EventType
	Validate() error
}

// Envelope is the wire form of an Event.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Connected struct {
	ConnectionID string    `json:"connection_id"`
	UserID       uuid.UUID `json:"user_id"`
}

type MessagePushed struct {
	Channel Channel  `json:"channel"`
	Message *Message `json:"message"`
}

type MessageUpdated struct {
	Channel Channel  `json:"channel"`
	Message *Message `json:"message"`
}

type MessageDeleted struct {
	Channel        Channel   `json:"channel"`
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
}

type ChangeReason string

const (
	ChangeReasonMessage    ChangeReason = "message"
	ChangeReasonEdited     ChangeReason = "edited"
	ChangeReasonDeleted    ChangeReason = "deleted"
	ChangeReasonPinned     ChangeReason = "pinned"
	ChangeReasonMembership ChangeReason = "membership"
	ChangeReasonRemoved    ChangeReason = "removed"
	ChangeReasonRead       ChangeReason = "read"
)

// ConversationChanged is the light list-level signal sent to personal channels.
// SelfSent distinguishes "another tab of the author" from "a receiver".
type ConversationChanged struct {
	ConversationID uuid.UUID    `json:"conversation_id"`
	Reason         ChangeReason `json:"reason"`
	SelfSent       bool         `json:"self_sent"`
	LastMessage    *Message     `json:"last_message,omitempty"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Subscribe struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type Unsubscribe struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type Ping struct{}

type Pong struct{}

func (Connected) Type() EventType           { return EventConnected }
func (MessagePushed) Type() EventType       { return EventMessagePushed }
func (MessageUpdated) Type() EventType      { return EventMessageUpdated }
func (MessageDeleted) Type() EventType      { return EventMessageDeleted }
func (ConversationChanged) Type() EventType { return EventConversationChanged }
func (ErrorEvent) Type() EventType          { return EventError }
func (Subscribe) Type() EventType           { return EventSubscribe }
func (Unsubscribe) Type() EventType         { return EventUnsubscribe }
func (Ping) Type() EventType                { return EventPing }
func (Pong) Type() EventType                { return EventPong }

func (e Connected) Validate() error {
	if e.ConnectionID == "" {
		return fmt.Errorf("connected: empty connection id")
	}
	return nil
}

func (e MessagePushed) Validate() error {
	return validateMessageFrame("message.pushed", e.Channel, e.Message)
}

func (e MessageUpdated) Validate() error {
	return validateMessageFrame("message.updated", e.Channel, e.Message)
}

func (e MessageDeleted) Validate() error {
	if e.MessageID == uuid.Nil || e.ConversationID == uuid.Nil {
		return fmt.Errorf("message.deleted: missing ids")
	}
	return nil
}

func (e ConversationChanged) Validate() error {
	if e.ConversationID == uuid.Nil {
		return fmt.Errorf("conversation.changed: missing conversation id")
	}
	return nil
}

func (e ErrorEvent) Validate() error { return nil }

func (e Subscribe) Validate() error {
	if e.ConversationID == uuid.Nil {
		return fmt.Errorf("subscribe: missing conversation id")
	}
	return nil
}

func (e Unsubscribe) Validate() error {
	if e.ConversationID == uuid.Nil {
		return fmt.Errorf("unsubscribe: missing conversation id")
	}
	return nil
}

func (Ping) Validate() error { return nil }
func (Pong) Validate() error { return nil }

func validateMessageFrame(name string, ch Channel, m *Message) error {
	if m == nil {
		return fmt.Errorf("%s: missing message", name)
	}
	if m.ID == uuid.Nil || m.SenderID == uuid.Nil {
		return fmt.Errorf("%s: message without ids", name)
	}
	id, ok := ch.ConversationID()
	if !ok || id != m.ConversationID {
		return fmt.Errorf("%s: channel %q does not match message conversation", name, ch)
	}
	return nil
}

// EncodeEvent validates and serializes an event into its envelope form.
func EncodeEvent(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type(), err)
	}
	return json.Marshal(Envelope{Type: e.Type(), Payload: payload})
}

// DecodeEvent parses an envelope and returns the concrete, validated event.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var event Event
	switch env.Type {
	case EventConnected:
		event = decodeAs[Connected](env.Payload)
	case EventMessagePushed:
		event = decodeAs[MessagePushed](env.Payload)
	case EventMessageUpdated:
		event = decodeAs[MessageUpdated](env.Payload)
	case EventMessageDeleted:
		event = decodeAs[MessageDeleted](env.Payload)
	case EventConversationChanged:
		event = decodeAs[ConversationChanged](env.Payload)
	case EventError:
		event = decodeAs[ErrorEvent](env.Payload)
	case EventSubscribe:
		event = decodeAs[Subscribe](env.Payload)
	case EventUnsubscribe:
		event = decodeAs[Unsubscribe](env.Payload)
	case EventPing:
		return Ping{}, nil
	case EventPong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}

	if bad, ok := event.(badPayload); ok {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, bad.err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

type badPayload struct{ err error }

func (badPayload) Type() EventType   { return "" }
func (b badPayload) Validate() error { return b.err }

func decodeAs[T Event](payload json.RawMessage) Event {
	var v T
	if len(payload) == 0 {
		return badPayload{err: fmt.Errorf("empty payload")}
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return badPayload{err: err}
	}
	return v
}

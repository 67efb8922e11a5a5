package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID             int64                  `json:"id"`
	EventTime      time.Time              `json:"event_time"`
	ActorUserID    uuid.UUID              `json:"actor_user_id"`
	ConversationID *uuid.UUID             `json:"conversation_id,omitempty"`
	EventType      string                 `json:"event_type"`
	Payload        map[string]interface{} `json:"payload"`
}

const (
	EventTypeGroupCreated   = "GROUP_CREATED"
	EventTypeMemberAdded    = "MEMBER_ADDED"
	EventTypeMemberRemoved  = "MEMBER_REMOVED"
	EventTypeMessageEdited  = "MESSAGE_EDITED"
	EventTypeMessageDeleted = "MESSAGE_DELETED"
	EventTypeDirectDeleted  = "DIRECT_DELETED"
)

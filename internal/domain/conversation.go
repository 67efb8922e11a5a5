package domain

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

type ConversationKind string

const (
	ConversationKindDirect ConversationKind = "direct"
	ConversationKindGroup  ConversationKind = "group"
)

const (
	ParticipantRoleOwner  = "owner"
	ParticipantRoleAdmin  = "admin"
	ParticipantRoleMember = "member"
)

// Conversation covers both flavors. Direct conversations carry the canonical
// (low, high) participant pair; groups carry a name.
type Conversation struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	Kind          ConversationKind `json:"kind" db:"kind"`
	Name          *string          `json:"name,omitempty" db:"name"`
	DirectLow     *uuid.UUID       `json:"-" db:"direct_low"`
	DirectHigh    *uuid.UUID       `json:"-" db:"direct_high"`
	CreatedBy     uuid.UUID        `json:"created_by" db:"created_by"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
	LastMessageAt *time.Time       `json:"last_message_at,omitempty" db:"last_message_at"`
	Participants  []*Participant   `json:"participants,omitempty" db:"-"`
}

// Participant is one member of a conversation together with the member's
// private state: read cursor, pin and (direct only) soft-delete marker.
type Participant struct {
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	Role           string     `json:"role" db:"role"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	Pinned         bool       `json:"pinned" db:"pinned"`
	PinnedAt       *time.Time `json:"pinned_at,omitempty" db:"pinned_at"`
	JoinedAt       time.Time  `json:"joined_at" db:"joined_at"`
}

// CanonicalPair orders two user ids so that a direct conversation has exactly
// one identity regardless of who initiated it.
func CanonicalPair(a, b uuid.UUID) (low, high uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

func (c *Conversation) IsDirect() bool {
	return c.Kind == ConversationKindDirect
}

func (c *Conversation) Participant(userID uuid.UUID) *Participant {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (c *Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// CanManageMembers reports whether the role may add or remove group members.
func CanManageMembers(role string) bool {
	return role == ParticipantRoleOwner || role == ParticipantRoleAdmin
}

func ValidRole(role string) bool {
	switch role {
	case ParticipantRoleOwner, ParticipantRoleAdmin, ParticipantRoleMember:
		return true
	}
	return false
}

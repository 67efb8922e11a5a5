package domain

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID                 uuid.UUID        `json:"id" db:"id"`
	Kind               ConversationKind `json:"kind" db:"kind"`
	Name               *string          `json:"name,omitempty" db:"name"`
	PeerID             *uuid.UUID       `json:"peer_id,omitempty" db:"peer_id"`
	Pinned             bool             `json:"pinned" db:"pinned"`
	PinnedAt           *time.Time       `json:"pinned_at,omitempty" db:"pinned_at"`
	LastReadAt         *time.Time       `json:"last_read_at,omitempty" db:"last_read_at"`
	UnreadCount        int              `json:"unread_count" db:"unread_count"`
	LastMessageID      *uuid.UUID       `json:"last_message_id,omitempty" db:"last_message_id"`
	LastMessageSender  *uuid.UUID       `json:"last_message_sender_id,omitempty" db:"last_message_sender_id"`
	LastMessagePreview *string          `json:"last_message_preview,omitempty" db:"last_message_preview"`
	LastMessageAt      *time.Time       `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// ActivityAt is the recency key: last message time, or creation time if never messaged.
func (s *ConversationSummary) ActivityAt() time.Time {
	if s.LastMessageAt != nil {
		return *s.LastMessageAt
	}
	return s.CreatedAt
}

// IsUnread reports whether a message counts toward the reader's unread badge.
func IsUnread(m *Message, readerID uuid.UUID, lastReadAt *time.Time) bool {
	if m.SenderID == readerID {
		return false
	}
	return lastReadAt == nil || m.CreatedAt.After(*lastReadAt)
}

// UnreadCount counts messages authored by others after the read cursor.
// A nil cursor means nothing has been read yet.
func UnreadCount(messages []*Message, readerID uuid.UUID, lastReadAt *time.Time) int {
	count := 0
	for _, m := range messages {
		if IsUnread(m, readerID, lastReadAt) {
			count++
		}
	}
	return count
}

// SortConversations orders a list pinned-first, then by most recent activity.
// Pinned rows are ordered among themselves by activity as well.
func SortConversations(list []*ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		at, bt := a.ActivityAt(), b.ActivityAt()
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}

// HidesMessage reports whether a soft-deleted side no longer sees the message.
func (p *Participant) HidesMessage(m *Message) bool {
	return p.DeletedAt != nil && !m.CreatedAt.After(*p.DeletedAt)
}

// HidesConversation reports whether the participant's list should omit the
// conversation: it was deleted on this side and nothing arrived since.
func (p *Participant) HidesConversation(lastMessageAt *time.Time) bool {
	if p.DeletedAt == nil {
		return false
	}
	return lastMessageAt == nil || !lastMessageAt.After(*p.DeletedAt)
}

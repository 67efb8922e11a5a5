package domain

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "construction_chat/pkg/errors"
)

// MutationWindow is how long after creation a sender may edit or delete a message.
const MutationWindow = 30 * time.Minute

type Message struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	ConversationID uuid.UUID    `json:"conversation_id" db:"conversation_id"`
	SenderID       uuid.UUID    `json:"sender_id" db:"sender_id"`
	Content        string       `json:"content" db:"content"`
	Attachments    []Attachment `json:"attachments" db:"-"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// Attachment is owned by exactly one message and removed with it.
type Attachment struct {
	ID               uuid.UUID `json:"id" db:"id"`
	MessageID        uuid.UUID `json:"message_id" db:"message_id"`
	Filename         string    `json:"filename" db:"filename"`
	OriginalFilename string    `json:"original_filename" db:"original_filename"`
	MimeType         string    `json:"mime_type" db:"mime_type"`
	Size             int64     `json:"size" db:"size"`
	URL              string    `json:"url" db:"url"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// ValidateContent trims content and rejects a message that would be empty.
func ValidateContent(content string, attachmentCount int) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" && attachmentCount == 0 {
		return "", apperrors.ErrValidationFailed
	}
	return trimmed, nil
}

// CheckEdit applies the sender and time-window rules for editing.
func (m *Message) CheckEdit(callerID uuid.UUID, now time.Time, window time.Duration) error {
	if err := m.checkMutation(callerID, now, window); err != nil {
		return err
	}
	if len(m.Attachments) > 0 {
		return apperrors.ErrHasAttachments
	}
	return nil
}

// ApplyEdit replaces the content after the edit rules pass. Content is
// validated last so a caller who may not edit at all learns that first.
func (m *Message) ApplyEdit(callerID uuid.UUID, content string, now time.Time, window time.Duration) error {
	if err := m.CheckEdit(callerID, now, window); err != nil {
		return err
	}
	trimmed, err := ValidateContent(content, 0)
	if err != nil {
		return err
	}
	m.Content = trimmed
	m.UpdatedAt = now
	return nil
}

// CheckDelete applies the sender and time-window rules for deletion.
func (m *Message) CheckDelete(callerID uuid.UUID, now time.Time, window time.Duration) error {
	return m.checkMutation(callerID, now, window)
}

func (m *Message) checkMutation(callerID uuid.UUID, now time.Time, window time.Duration) error {
	if m.SenderID != callerID {
		return apperrors.ErrForbidden
	}
	if now.Sub(m.CreatedAt) > window {
		return apperrors.ErrExpired
	}
	return nil
}

// Before is the total order within a conversation: createdAt, then id.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return bytes.Compare(m.ID[:], other.ID[:]) < 0
}

// SortOldestFirst sorts messages in display order.
func SortOldestFirst(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
}

// SortNewestFirst sorts messages in storage/page order.
func SortNewestFirst(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[j].Before(messages[i])
	})
}

// Preview shortens content for conversation list rows.
func (m *Message) Preview(max int) string {
	content := strings.TrimSpace(m.Content)
	if content == "" && len(m.Attachments) > 0 {
		return "[" + m.Attachments[0].OriginalFilename + "]"
	}
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}

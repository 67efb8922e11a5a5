package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"construction_chat/internal/domain"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

// ListQuery selects one newest-first page of a conversation.
type ListQuery struct {
	ConversationID uuid.UUID
	Limit          int
	Offset         int

	// Before/BeforeID form an insert-stable cursor: only messages strictly
	// older than (Before, BeforeID) are returned. BeforeID may be nil.
	Before   *time.Time
	BeforeID *uuid.UUID

	// VisibleAfter hides messages created at or before it (a soft-deleted side).
	VisibleAfter *time.Time

	// MarkReadFor advances this participant's read cursor to MarkReadAt in the
	// same transaction as the page read.
	MarkReadFor *uuid.UUID
	MarkReadAt  time.Time
}

// MutationRequest carries the caller and clock a sender-only mutation is checked against.
type MutationRequest struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	CallerID       uuid.UUID
	Now            time.Time
	Window         time.Duration
}

type MessageRepository interface {
	// Append persists the message with its attachments and bumps the conversation's activity.
	Append(ctx context.Context, msg *domain.Message) error
	List(ctx context.Context, q ListQuery) ([]*domain.Message, error)
	GetByID(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error)
	// Update and Delete check sender and window against the locked row they then write.
	Update(ctx context.Context, req MutationRequest, content string) (*domain.Message, error)
	Delete(ctx context.Context, req MutationRequest) (*domain.Message, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

const messageColumns = `id, conversation_id, sender_id, content, created_at, updated_at`

const attachmentColumns = `id, message_id, filename, original_filename, mime_type, size, url, created_at`

func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO messages (`+messageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt, msg.UpdatedAt)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, a := range msg.Attachments {
			batch.Queue(`
				INSERT INTO attachments (id, message_id, position, filename, original_filename, mime_type, size, url, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, a.ID, msg.ID, i, a.Filename, a.OriginalFilename, a.MimeType, a.Size, a.URL, a.CreatedAt)
		}
		batch.Queue(`
			UPDATE conversations SET updated_at = $2, last_message_at = GREATEST(COALESCE(last_message_at, $2), $2)
			WHERE id = $1
		`, msg.ConversationID, msg.CreatedAt)

		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		r.log.Error("Failed to append message", "conversation_id", msg.ConversationID, "error", err)
		return err
	}
	return nil
}

func (r *messageRepository) List(ctx context.Context, q ListQuery) ([]*domain.Message, error) {
	var messages []*domain.Message

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query, args := buildListQuery(q)
		if err := pgxscan.Select(ctx, tx, &messages, query, args...); err != nil {
			return err
		}
		if err := loadAttachments(ctx, tx, messages); err != nil {
			return err
		}
		if q.MarkReadFor != nil {
			return markRead(ctx, tx, q.ConversationID, *q.MarkReadFor, q.MarkReadAt)
		}
		return nil
	})
	if err != nil {
		r.log.Error("Failed to list messages", "conversation_id", q.ConversationID, "error", err)
		return nil, err
	}
	return messages, nil
}

func buildListQuery(q ListQuery) (string, []interface{}) {
	conds := []string{"conversation_id = $1"}
	args := []interface{}{q.ConversationID}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.VisibleAfter != nil {
		conds = append(conds, "created_at > "+arg(*q.VisibleAfter))
	}
	if q.Before != nil {
		if q.BeforeID != nil {
			conds = append(conds, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(*q.Before), arg(*q.BeforeID)))
		} else {
			conds = append(conds, "created_at < "+arg(*q.Before))
		}
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT ` + arg(q.Limit) + ` OFFSET ` + arg(q.Offset)
	return query, args
}

func (r *messageRepository) GetByID(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error) {
	msg, err := getMessage(ctx, r.db, conversationID, messageID, false)
	if err != nil {
		if err != apperrors.ErrNotFound {
			r.log.Error("Failed to get message", "message_id", messageID, "error", err)
		}
		return nil, err
	}
	return msg, nil
}

func (r *messageRepository) Update(ctx context.Context, req MutationRequest, content string) (*domain.Message, error) {
	var msg *domain.Message

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		msg, err = getMessage(ctx, tx, req.ConversationID, req.MessageID, true)
		if err != nil {
			return err
		}
		if err := msg.ApplyEdit(req.CallerID, content, req.Now, req.Window); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE messages SET content = $2, updated_at = $3 WHERE id = $1`,
			msg.ID, msg.Content, msg.UpdatedAt,
		)
		return err
	})
	if err != nil {
		logMutationError(r.log, "Failed to update message", req.MessageID, err)
		return nil, err
	}
	return msg, nil
}

func (r *messageRepository) Delete(ctx context.Context, req MutationRequest) (*domain.Message, error) {
	var msg *domain.Message

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		msg, err = getMessage(ctx, tx, req.ConversationID, req.MessageID, true)
		if err != nil {
			return err
		}
		if err := msg.CheckDelete(req.CallerID, req.Now, req.Window); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, msg.ID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE conversations SET updated_at = $2,
				last_message_at = (SELECT MAX(created_at) FROM messages WHERE conversation_id = $1)
			WHERE id = $1
		`, msg.ConversationID, req.Now)
		return err
	})
	if err != nil {
		logMutationError(r.log, "Failed to delete message", req.MessageID, err)
		return nil, err
	}
	return msg, nil
}

func getMessage(ctx context.Context, db pgxscan.Querier, conversationID, messageID uuid.UUID, forUpdate bool) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND conversation_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	msg := &domain.Message{}
	if err := pgxscan.Get(ctx, db, msg, query, messageID, conversationID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if err := loadAttachments(ctx, db, []*domain.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func loadAttachments(ctx context.Context, db pgxscan.Querier, messages []*domain.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(messages))
	byID := make(map[uuid.UUID]*domain.Message, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		byID[m.ID] = m
		m.Attachments = []domain.Attachment{}
	}

	var attachments []domain.Attachment
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE message_id = ANY($1) ORDER BY message_id, position`
	if err := pgxscan.Select(ctx, db, &attachments, query, ids); err != nil {
		return err
	}
	for _, a := range attachments {
		if m, ok := byID[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return nil
}

func logMutationError(log logger.Logger, msg string, messageID uuid.UUID, err error) {
	switch err {
	case apperrors.ErrNotFound, apperrors.ErrForbidden, apperrors.ErrExpired, apperrors.ErrHasAttachments:
		log.Debug(msg, "message_id", messageID, "reason", err)
	default:
		log.Error(msg, "message_id", messageID, "error", err)
	}
}

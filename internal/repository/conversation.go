package repository

import (
	"context"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"construction_chat/internal/domain"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

type ConversationRepository interface {
	// GetOrCreateDirect returns the single direct conversation of the unordered
	// pair (a, b), creating it when absent. created reports which case happened.
	GetOrCreateDirect(ctx context.Context, a, b uuid.UUID, now time.Time) (conv *domain.Conversation, created bool, err error)
	CreateGroup(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error)
	AddParticipant(ctx context.Context, p *domain.Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error
	ListForUser(ctx context.Context, userID uuid.UUID, previewLength int) ([]*domain.ConversationSummary, error)
	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error
	SetPinned(ctx context.Context, conversationID, userID uuid.UUID, pinned bool, at time.Time) (*domain.Participant, error)
	SoftDelete(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error
}

type conversationRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewConversationRepository(db *pgxpool.Pool, log logger.Logger) ConversationRepository {
	return &conversationRepository{db: db, log: log}
}

const conversationColumns = `id, kind, name, direct_low, direct_high, created_by, created_at, updated_at, last_message_at`

const participantColumns = `conversation_id, user_id, role, last_read_at, deleted_at, pinned, pinned_at, joined_at`

func (r *conversationRepository) GetOrCreateDirect(ctx context.Context, a, b uuid.UUID, now time.Time) (*domain.Conversation, bool, error) {
	low, high := domain.CanonicalPair(a, b)
	created := false
	var id uuid.UUID

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO conversations (id, kind, direct_low, direct_high, created_by, created_at, updated_at)
			VALUES ($1, 'direct', $2, $3, $4, $5, $5)
			ON CONFLICT (direct_low, direct_high) DO NOTHING
			RETURNING id
		`
		err := tx.QueryRow(ctx, query, uuid.New(), low, high, a, now).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race or already present: the unique pair names the row.
			return tx.QueryRow(ctx,
				`SELECT id FROM conversations WHERE direct_low = $1 AND direct_high = $2`,
				low, high,
			).Scan(&id)
		}
		if err != nil {
			return err
		}

		created = true
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
			VALUES ($1, $2, 'member', $4), ($1, $3, 'member', $4)
		`, id, low, high, now)
		return err
	})
	if err != nil {
		r.log.Error("Failed to get or create direct conversation", "error", err)
		return nil, false, err
	}

	conv, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

func (r *conversationRepository) CreateGroup(ctx context.Context, conv *domain.Conversation) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (id, kind, name, created_by, created_at, updated_at)
			VALUES ($1, 'group', $2, $3, $4, $5)
		`, conv.ID, conv.Name, conv.CreatedBy, conv.CreatedAt, conv.UpdatedAt)
		if err != nil {
			return err
		}

		rows := make([][]interface{}, 0, len(conv.Participants))
		for _, p := range conv.Participants {
			rows = append(rows, []interface{}{p.ConversationID, p.UserID, p.Role, p.JoinedAt})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"conversation_participants"},
			[]string{"conversation_id", "user_id", "role", "joined_at"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
	if err != nil {
		r.log.Error("Failed to create group", "conversation_id", conv.ID, "error", err)
		return err
	}
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	if err := pgxscan.Get(ctx, r.db, conv, query, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperrors.ErrNotFound
		}
		r.log.Error("Failed to get conversation", "conversation_id", id, "error", err)
		return nil, err
	}

	query = `SELECT ` + participantColumns + ` FROM conversation_participants WHERE conversation_id = $1 ORDER BY joined_at, user_id`
	if err := pgxscan.Select(ctx, r.db, &conv.Participants, query, id); err != nil {
		r.log.Error("Failed to get participants", "conversation_id", id, "error", err)
		return nil, err
	}

	return conv, nil
}

func (r *conversationRepository) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error) {
	p := &domain.Participant{}
	query := `SELECT ` + participantColumns + ` FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2`
	if err := pgxscan.Get(ctx, r.db, p, query, conversationID, userID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperrors.ErrNotParticipant
		}
		r.log.Error("Failed to get participant", "conversation_id", conversationID, "error", err)
		return nil, err
	}
	return p, nil
}

func (r *conversationRepository) AddParticipant(ctx context.Context, p *domain.Participant) error {
	query := `
		INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, p.ConversationID, p.UserID, p.Role, p.JoinedAt); err != nil {
		r.log.Error("Failed to add participant", "conversation_id", p.ConversationID, "error", err)
		return err
	}
	return nil
}

func (r *conversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	)
	if err != nil {
		r.log.Error("Failed to remove participant", "conversation_id", conversationID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotParticipant
	}
	return nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, previewLength int) ([]*domain.ConversationSummary, error) {
	query := `
		SELECT
			c.id, c.kind, c.name,
			CASE WHEN c.kind = 'direct' THEN
				CASE WHEN c.direct_low = $1 THEN c.direct_high ELSE c.direct_low END
			END AS peer_id,
			p.pinned, p.pinned_at, p.last_read_at,
			(
				SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id
				  AND m.sender_id <> $1
				  AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)
				  AND (p.deleted_at IS NULL OR m.created_at > p.deleted_at)
			) AS unread_count,
			lm.id AS last_message_id,
			lm.sender_id AS last_message_sender_id,
			lm.content AS last_message_content,
			lm.first_file AS last_message_first_file,
			c.last_message_at, c.created_at, c.updated_at
		FROM conversation_participants p
		JOIN conversations c ON c.id = p.conversation_id
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.content,
				(SELECT a.original_filename FROM attachments a WHERE a.message_id = m.id ORDER BY a.position LIMIT 1) AS first_file
			FROM messages m
			WHERE m.conversation_id = c.id
			  AND (p.deleted_at IS NULL OR m.created_at > p.deleted_at)
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		) lm ON TRUE
		WHERE p.user_id = $1
		  AND (p.deleted_at IS NULL OR c.last_message_at > p.deleted_at)
		ORDER BY p.pinned DESC, COALESCE(c.last_message_at, c.created_at) DESC, c.id
	`

	var rows []*summaryRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, userID); err != nil {
		r.log.Error("Failed to list conversations", "user_id", userID, "error", err)
		return nil, err
	}
	list := make([]*domain.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		list = append(list, row.summary(previewLength))
	}
	return list, nil
}

// summaryRow carries the raw last message so its preview is cut by Message.Preview.
type summaryRow struct {
	domain.ConversationSummary
	LastMessageContent   *string `db:"last_message_content"`
	LastMessageFirstFile *string `db:"last_message_first_file"`
}

func (r *summaryRow) summary(previewLength int) *domain.ConversationSummary {
	s := r.ConversationSummary
	s.LastMessagePreview = nil
	if s.LastMessageID == nil {
		return &s
	}
	last := domain.Message{}
	if r.LastMessageContent != nil {
		last.Content = *r.LastMessageContent
	}
	if r.LastMessageFirstFile != nil {
		last.Attachments = []domain.Attachment{{OriginalFilename: *r.LastMessageFirstFile}}
	}
	preview := last.Preview(previewLength)
	s.LastMessagePreview = &preview
	return &s
}

func (r *conversationRepository) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = $2
		WHERE m.conversation_id = $1
		  AND m.sender_id <> $2
		  AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)
		  AND (p.deleted_at IS NULL OR m.created_at > p.deleted_at)
	`
	var count int
	if err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(&count); err != nil {
		r.log.Error("Failed to count unread", "conversation_id", conversationID, "error", err)
		return 0, err
	}
	return count, nil
}

func (r *conversationRepository) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	if err := markRead(ctx, r.db, conversationID, userID, at); err != nil {
		r.log.Error("Failed to mark read", "conversation_id", conversationID, "error", err)
		return err
	}
	return nil
}

func (r *conversationRepository) SetPinned(ctx context.Context, conversationID, userID uuid.UUID, pinned bool, at time.Time) (*domain.Participant, error) {
	var pinnedAt *time.Time
	if pinned {
		pinnedAt = &at
	}

	p := &domain.Participant{}
	query := `
		UPDATE conversation_participants SET pinned = $3, pinned_at = $4
		WHERE conversation_id = $1 AND user_id = $2
		RETURNING ` + participantColumns
	if err := pgxscan.Get(ctx, r.db, p, query, conversationID, userID, pinned, pinnedAt); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperrors.ErrNotParticipant
		}
		r.log.Error("Failed to set pinned", "conversation_id", conversationID, "error", err)
		return nil, err
	}
	return p, nil
}

func (r *conversationRepository) SoftDelete(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversation_participants SET deleted_at = $3, pinned = FALSE, pinned_at = NULL
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID, at)
	if err != nil {
		r.log.Error("Failed to soft delete conversation", "conversation_id", conversationID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotParticipant
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

// markRead only moves the cursor forward.
func markRead(ctx context.Context, db execer, conversationID, userID uuid.UUID, at time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE conversation_participants SET last_read_at = $3
		WHERE conversation_id = $1 AND user_id = $2
		  AND (last_read_at IS NULL OR last_read_at < $3)
	`, conversationID, userID, at)
	return err
}

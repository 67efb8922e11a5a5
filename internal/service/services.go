package service

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"construction_chat/internal/config"
	"construction_chat/internal/domain"
	"construction_chat/internal/repository"
	"construction_chat/pkg/logger"
)

// Actor is the authenticated caller of an operation. ConnectionID names the
// push connection the request came from, if any; fan-out skips it.
type Actor struct {
	UserID       uuid.UUID
	ConnectionID string
}

// Notifier fans events out to connected clients.
type Notifier interface {
	Publish(ch domain.Channel, event domain.Event, excludeID string) int
	PublishListUpdate(userID uuid.UUID, event domain.ConversationChanged, excludeID string) int
	DropUser(userID, conversationID uuid.UUID)
}

// AttachmentStore holds attachment bytes outside the database.
type AttachmentStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (domain.Attachment, error)
	Remove(ctx context.Context, att domain.Attachment) error
}

// Clock is the server's single source of timestamps.
type Clock func() time.Time

// SystemClock truncates to microseconds so values survive a Postgres round trip.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type Services struct {
	Chat         ChatService
	Conversation ConversationService
	ReadState    ReadStateService
	RateLimit    RateLimitService
	Audit        AuditService
}

func NewServices(repos *repository.Repositories, notifier Notifier, files AttachmentStore, cfg *config.Config, log logger.Logger) *Services {
	audit := NewAuditService(repos.Audit, SystemClock, log)
	rateLimit := NewRateLimitService(repos.RateLimit, cfg.Redis.RateLimitEnabled, cfg.Chat.SendsPerMinute, log)

	return &Services{
		Chat:         NewChatService(repos.Conversation, repos.Message, notifier, files, rateLimit, audit, cfg.Chat, SystemClock, log),
		Conversation: NewConversationService(repos.Conversation, notifier, audit, SystemClock, log),
		ReadState:    NewReadStateService(repos.Conversation, notifier, cfg.Chat.PreviewLength, SystemClock, log),
		RateLimit:    rateLimit,
		Audit:        audit,
	}
}

// notifyParticipants sends a list-level change to every participant.
func notifyParticipants(n Notifier, conv *domain.Conversation, actor Actor, reason domain.ChangeReason, last *domain.Message) {
	for _, p := range conv.Participants {
		n.PublishListUpdate(p.UserID, domain.ConversationChanged{
			ConversationID: conv.ID,
			Reason:         reason,
			SelfSent:       p.UserID == actor.UserID,
			LastMessage:    last,
		}, actor.ConnectionID)
	}
}

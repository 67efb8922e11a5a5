package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"construction_chat/internal/config"
	"construction_chat/internal/domain"
	"construction_chat/internal/repository"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

// FileUpload is one attachment of an outgoing message.
type FileUpload struct {
	Name   string
	Reader io.Reader
}

type SendInput struct {
	Content string
	Files   []FileUpload
}

// PageRequest selects a page of history. Offset walks backward from the
// newest message; Before/BeforeID is the insert-stable alternative.
type PageRequest struct {
	Limit    int
	Offset   int
	Before   *time.Time
	BeforeID *uuid.UUID
}

func (p PageRequest) isFirst() bool {
	return p.Offset == 0 && p.Before == nil
}

// MessagePage is newest-first. HasMore is true when the page came back full.
type MessagePage struct {
	Messages []*domain.Message `json:"messages"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
	HasMore  bool              `json:"has_more"`
}

type ChatService interface {
	Send(ctx context.Context, actor Actor, conversationID uuid.UUID, in SendInput) (*domain.Message, error)
	// SendDirect sends to a user, creating the direct conversation on first contact.
	SendDirect(ctx context.Context, actor Actor, recipientID uuid.UUID, in SendInput) (*domain.Message, error)
	// ListMessages returns one page and marks the conversation read for the caller.
	ListMessages(ctx context.Context, actor Actor, conversationID uuid.UUID, page PageRequest) (*MessagePage, error)
	Edit(ctx context.Context, actor Actor, conversationID, messageID uuid.UUID, content string) (*domain.Message, error)
	Delete(ctx context.Context, actor Actor, conversationID, messageID uuid.UUID) error
}

type chatService struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	notifier         Notifier
	files            AttachmentStore
	rateLimit        RateLimitService
	audit            AuditService
	cfg              config.ChatConfig
	now              Clock
	log              logger.Logger
}

func NewChatService(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	notifier Notifier,
	files AttachmentStore,
	rateLimit RateLimitService,
	audit AuditService,
	cfg config.ChatConfig,
	now Clock,
	log logger.Logger,
) ChatService {
	return &chatService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		notifier:         notifier,
		files:            files,
		rateLimit:        rateLimit,
		audit:            audit,
		cfg:              cfg,
		now:              now,
		log:              log,
	}
}

func (s *chatService) Send(ctx context.Context, actor Actor, conversationID uuid.UUID, in SendInput) (*domain.Message, error) {
	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Participant(actor.UserID) == nil {
		return nil, apperrors.ErrNotParticipant
	}
	return s.send(ctx, actor, conv, in)
}

func (s *chatService) SendDirect(ctx context.Context, actor Actor, recipientID uuid.UUID, in SendInput) (*domain.Message, error) {
	if recipientID == actor.UserID || recipientID == uuid.Nil {
		return nil, fmt.Errorf("%w: cannot message yourself", apperrors.ErrValidationFailed)
	}
	if _, err := domain.ValidateContent(in.Content, len(in.Files)); err != nil {
		return nil, err
	}

	conv, created, err := s.conversationRepo.GetOrCreateDirect(ctx, actor.UserID, recipientID, s.now())
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("Direct conversation created", "conversation_id", conv.ID, "initiator", actor.UserID)
	}
	return s.send(ctx, actor, conv, in)
}

func (s *chatService) send(ctx context.Context, actor Actor, conv *domain.Conversation, in SendInput) (*domain.Message, error) {
	content, err := domain.ValidateContent(in.Content, len(in.Files))
	if err != nil {
		return nil, err
	}
	if len(in.Files) > s.cfg.MaxAttachments {
		return nil, fmt.Errorf("%w: at most %d attachments", apperrors.ErrValidationFailed, s.cfg.MaxAttachments)
	}
	if err := s.rateLimit.AllowSend(ctx, actor.UserID); err != nil {
		return nil, err
	}

	now := s.now()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       actor.UserID,
		Content:        content,
		Attachments:    []domain.Attachment{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, f := range in.Files {
		att, err := s.files.Save(ctx, f.Name, f.Reader)
		if err != nil {
			s.discardFiles(ctx, msg.Attachments)
			return nil, err
		}
		att.MessageID = msg.ID
		att.CreatedAt = now
		msg.Attachments = append(msg.Attachments, att)
	}

	if err := s.messageRepo.Append(ctx, msg); err != nil {
		s.discardFiles(ctx, msg.Attachments)
		return nil, err
	}

	s.log.Debug("Message sent", "message_id", msg.ID, "conversation_id", conv.ID, "attachments", len(msg.Attachments))

	s.notifier.Publish(domain.ConversationChannel(conv.ID), domain.MessagePushed{
		Channel: domain.ConversationChannel(conv.ID),
		Message: msg,
	}, actor.ConnectionID)
	notifyParticipants(s.notifier, conv, actor, domain.ChangeReasonMessage, msg)

	return msg, nil
}

func (s *chatService) ListMessages(ctx context.Context, actor Actor, conversationID uuid.UUID, page PageRequest) (*MessagePage, error) {
	participant, err := s.conversationRepo.GetParticipant(ctx, conversationID, actor.UserID)
	if err != nil {
		return nil, err
	}

	if page.Limit <= 0 {
		page.Limit = s.cfg.PageSize
	}
	if page.Limit > s.cfg.MaxPageSize {
		page.Limit = s.cfg.MaxPageSize
	}
	if page.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", apperrors.ErrBadRequest)
	}

	messages, err := s.messageRepo.List(ctx, repository.ListQuery{
		ConversationID: conversationID,
		Limit:          page.Limit,
		Offset:         page.Offset,
		Before:         page.Before,
		BeforeID:       page.BeforeID,
		VisibleAfter:   participant.DeletedAt,
		MarkReadFor:    &actor.UserID,
		MarkReadAt:     s.now(),
	})
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*domain.Message{}
	}

	if page.isFirst() {
		s.notifier.PublishListUpdate(actor.UserID, domain.ConversationChanged{
			ConversationID: conversationID,
			Reason:         domain.ChangeReasonRead,
			SelfSent:       true,
		}, actor.ConnectionID)
	}

	return &MessagePage{
		Messages: messages,
		Limit:    page.Limit,
		Offset:   page.Offset,
		HasMore:  len(messages) == page.Limit,
	}, nil
}

func (s *chatService) Edit(ctx context.Context, actor Actor, conversationID, messageID uuid.UUID, content string) (*domain.Message, error) {
	conv, err := s.participantConversation(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}

	msg, err := s.messageRepo.Update(ctx, s.mutation(actor, conversationID, messageID), content)
	if err != nil {
		return nil, err
	}

	_ = s.audit.LogEvent(ctx, actor.UserID, &conversationID, domain.EventTypeMessageEdited, map[string]interface{}{
		"message_id": msg.ID.String(),
	})

	s.notifier.Publish(domain.ConversationChannel(conversationID), domain.MessageUpdated{
		Channel: domain.ConversationChannel(conversationID),
		Message: msg,
	}, actor.ConnectionID)
	notifyParticipants(s.notifier, conv, actor, domain.ChangeReasonEdited, msg)

	return msg, nil
}

func (s *chatService) Delete(ctx context.Context, actor Actor, conversationID, messageID uuid.UUID) error {
	conv, err := s.participantConversation(ctx, actor, conversationID)
	if err != nil {
		return err
	}

	msg, err := s.messageRepo.Delete(ctx, s.mutation(actor, conversationID, messageID))
	if err != nil {
		return err
	}

	s.discardFiles(ctx, msg.Attachments)

	_ = s.audit.LogEvent(ctx, actor.UserID, &conversationID, domain.EventTypeMessageDeleted, map[string]interface{}{
		"message_id":  msg.ID.String(),
		"attachments": len(msg.Attachments),
	})

	s.notifier.Publish(domain.ConversationChannel(conversationID), domain.MessageDeleted{
		Channel:        domain.ConversationChannel(conversationID),
		ConversationID: conversationID,
		MessageID:      msg.ID,
	}, actor.ConnectionID)
	notifyParticipants(s.notifier, conv, actor, domain.ChangeReasonDeleted, nil)

	return nil
}

func (s *chatService) participantConversation(ctx context.Context, actor Actor, conversationID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Participant(actor.UserID) == nil {
		return nil, apperrors.ErrNotParticipant
	}
	return conv, nil
}

func (s *chatService) mutation(actor Actor, conversationID, messageID uuid.UUID) repository.MutationRequest {
	return repository.MutationRequest{
		ConversationID: conversationID,
		MessageID:      messageID,
		CallerID:       actor.UserID,
		Now:            s.now(),
		Window:         s.cfg.MutationWindow,
	}
}

func (s *chatService) discardFiles(ctx context.Context, attachments []domain.Attachment) {
	for _, att := range attachments {
		if err := s.files.Remove(ctx, att); err != nil {
			s.log.Warn("Orphaned attachment file", "filename", att.Filename, "error", err)
		}
	}
}

package service

import (
	"context"

	"github.com/google/uuid"

	"construction_chat/internal/domain"
	"construction_chat/internal/repository"
	"construction_chat/pkg/logger"
)

type AuditService interface {
	LogEvent(ctx context.Context, actorUserID uuid.UUID, conversationID *uuid.UUID, eventType string, payload map[string]interface{}) error
}

type auditService struct {
	auditRepo repository.AuditRepository
	now       Clock
	log       logger.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, now Clock, log logger.Logger) AuditService {
	return &auditService{
		auditRepo: auditRepo,
		now:       now,
		log:       log,
	}
}

func (s *auditService) LogEvent(ctx context.Context, actorUserID uuid.UUID, conversationID *uuid.UUID, eventType string, payload map[string]interface{}) error {
	if payload == nil {
		payload = make(map[string]interface{})
	}

	auditLog := &domain.AuditLog{
		EventTime:      s.now(),
		ActorUserID:    actorUserID,
		ConversationID: conversationID,
		EventType:      eventType,
		Payload:        payload,
	}

	if err := s.auditRepo.CreateLog(ctx, auditLog); err != nil {
		s.log.Warn("Audit event not recorded", "event_type", eventType, "error", err)
		return err
	}
	return nil
}

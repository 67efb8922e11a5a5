package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"construction_chat/internal/domain"
	"construction_chat/internal/repository"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

const maxGroupNameLength = 120

type ConversationService interface {
	GetOrCreateDirect(ctx context.Context, actor Actor, peerID uuid.UUID) (*domain.Conversation, error)
	CreateGroup(ctx context.Context, actor Actor, name string, memberIDs []uuid.UUID) (*domain.Conversation, error)
	AddMember(ctx context.Context, actor Actor, groupID, userID uuid.UUID, role string) (*domain.Conversation, error)
	// RemoveMember removes userID from the group; a member may always remove itself.
	RemoveMember(ctx context.Context, actor Actor, groupID, userID uuid.UUID) error
	Get(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error)
	// Authorize fails with ErrNotParticipant unless userID belongs to the conversation.
	Authorize(ctx context.Context, userID, conversationID uuid.UUID) error
	// DeleteDirect hides a direct conversation for the caller only.
	DeleteDirect(ctx context.Context, actor Actor, conversationID uuid.UUID) error
}

type conversationService struct {
	conversationRepo repository.ConversationRepository
	notifier         Notifier
	audit            AuditService
	now              Clock
	log              logger.Logger
}

func NewConversationService(conversationRepo repository.ConversationRepository, notifier Notifier, audit AuditService, now Clock, log logger.Logger) ConversationService {
	return &conversationService{
		conversationRepo: conversationRepo,
		notifier:         notifier,
		audit:            audit,
		now:              now,
		log:              log,
	}
}

func (s *conversationService) GetOrCreateDirect(ctx context.Context, actor Actor, peerID uuid.UUID) (*domain.Conversation, error) {
	if peerID == actor.UserID || peerID == uuid.Nil {
		return nil, fmt.Errorf("%w: direct conversation needs two distinct users", apperrors.ErrValidationFailed)
	}

	conv, created, err := s.conversationRepo.GetOrCreateDirect(ctx, actor.UserID, peerID, s.now())
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("Direct conversation created", "conversation_id", conv.ID, "initiator", actor.UserID)
	}
	return conv, nil
}

func (s *conversationService) CreateGroup(ctx context.Context, actor Actor, name string, memberIDs []uuid.UUID) (*domain.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxGroupNameLength {
		return nil, fmt.Errorf("%w: group name must be 1..%d characters", apperrors.ErrValidationFailed, maxGroupNameLength)
	}

	now := s.now()
	conv := &domain.Conversation{
		ID:        uuid.New(),
		Kind:      domain.ConversationKindGroup,
		Name:      &name,
		CreatedBy: actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	seen := map[uuid.UUID]bool{actor.UserID: true}
	conv.Participants = append(conv.Participants, &domain.Participant{
		ConversationID: conv.ID,
		UserID:         actor.UserID,
		Role:           domain.ParticipantRoleOwner,
		JoinedAt:       now,
	})
	for _, id := range memberIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		conv.Participants = append(conv.Participants, &domain.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           domain.ParticipantRoleMember,
			JoinedAt:       now,
		})
	}

	if err := s.conversationRepo.CreateGroup(ctx, conv); err != nil {
		return nil, err
	}

	_ = s.audit.LogEvent(ctx, actor.UserID, &conv.ID, domain.EventTypeGroupCreated, map[string]interface{}{
		"name":    name,
		"members": len(conv.Participants),
	})
	notifyParticipants(s.notifier, conv, actor, domain.ChangeReasonMembership, nil)

	s.log.Info("Group created", "conversation_id", conv.ID, "owner", actor.UserID, "members", len(conv.Participants))
	return conv, nil
}

func (s *conversationService) AddMember(ctx context.Context, actor Actor, groupID, userID uuid.UUID, role string) (*domain.Conversation, error) {
	if role == "" {
		role = domain.ParticipantRoleMember
	}
	if !domain.ValidRole(role) || role == domain.ParticipantRoleOwner || userID == uuid.Nil {
		return nil, fmt.Errorf("%w: invalid member", apperrors.ErrValidationFailed)
	}

	conv, err := s.managedGroup(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	if conv.Participant(userID) != nil {
		return conv, nil
	}

	err = s.conversationRepo.AddParticipant(ctx, &domain.Participant{
		ConversationID: groupID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       s.now(),
	})
	if err != nil {
		return nil, err
	}

	_ = s.audit.LogEvent(ctx, actor.UserID, &groupID, domain.EventTypeMemberAdded, map[string]interface{}{
		"user_id": userID.String(),
		"role":    role,
	})

	conv, err = s.conversationRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	notifyParticipants(s.notifier, conv, actor, domain.ChangeReasonMembership, nil)
	return conv, nil
}

func (s *conversationService) RemoveMember(ctx context.Context, actor Actor, groupID, userID uuid.UUID) error {
	conv, err := s.conversationRepo.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if conv.IsDirect() {
		return fmt.Errorf("%w: not a group", apperrors.ErrValidationFailed)
	}

	caller := conv.Participant(actor.UserID)
	if caller == nil {
		return apperrors.ErrNotParticipant
	}
	target := conv.Participant(userID)
	if target == nil {
		return apperrors.ErrNotFound
	}
	if target.Role == domain.ParticipantRoleOwner {
		return fmt.Errorf("%w: the owner cannot be removed", apperrors.ErrForbidden)
	}
	if userID != actor.UserID && !domain.CanManageMembers(caller.Role) {
		return apperrors.ErrForbidden
	}

	if err := s.conversationRepo.RemoveParticipant(ctx, groupID, userID); err != nil {
		return err
	}

	_ = s.audit.LogEvent(ctx, actor.UserID, &groupID, domain.EventTypeMemberRemoved, map[string]interface{}{
		"user_id": userID.String(),
	})

	s.notifier.DropUser(userID, groupID)
	s.notifier.PublishListUpdate(userID, domain.ConversationChanged{
		ConversationID: groupID,
		Reason:         domain.ChangeReasonRemoved,
		SelfSent:       userID == actor.UserID,
	}, actor.ConnectionID)

	if remaining, err := s.conversationRepo.GetByID(ctx, groupID); err == nil {
		notifyParticipants(s.notifier, remaining, actor, domain.ChangeReasonMembership, nil)
	}
	return nil
}

func (s *conversationService) Get(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Participant(userID) == nil {
		return nil, apperrors.ErrNotParticipant
	}
	return conv, nil
}

func (s *conversationService) Authorize(ctx context.Context, userID, conversationID uuid.UUID) error {
	_, err := s.conversationRepo.GetParticipant(ctx, conversationID, userID)
	if err == apperrors.ErrNotFound {
		return apperrors.ErrNotParticipant
	}
	return err
}

func (s *conversationService) DeleteDirect(ctx context.Context, actor Actor, conversationID uuid.UUID) error {
	conv, err := s.Get(ctx, actor.UserID, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsDirect() {
		return fmt.Errorf("%w: groups cannot be deleted", apperrors.ErrValidationFailed)
	}

	if err := s.conversationRepo.SoftDelete(ctx, conversationID, actor.UserID, s.now()); err != nil {
		return err
	}

	_ = s.audit.LogEvent(ctx, actor.UserID, &conversationID, domain.EventTypeDirectDeleted, nil)

	s.notifier.PublishListUpdate(actor.UserID, domain.ConversationChanged{
		ConversationID: conversationID,
		Reason:         domain.ChangeReasonRemoved,
		SelfSent:       true,
	}, actor.ConnectionID)
	return nil
}

func (s *conversationService) managedGroup(ctx context.Context, actor Actor, groupID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.conversationRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if conv.IsDirect() {
		return nil, fmt.Errorf("%w: not a group", apperrors.ErrValidationFailed)
	}
	caller := conv.Participant(actor.UserID)
	if caller == nil {
		return nil, apperrors.ErrNotParticipant
	}
	if !domain.CanManageMembers(caller.Role) {
		return nil, apperrors.ErrForbidden
	}
	return conv, nil
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"construction_chat/internal/domain"
	"construction_chat/internal/repository"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

// ParticipantState is the part of a participant's state a client may patch.
type ParticipantState struct {
	Pinned bool `json:"pinned"`
}

type ReadStateService interface {
	// List returns the caller's conversations, pinned first then by activity,
	// with unread counts derived at call time.
	List(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationSummary, error)
	Unread(ctx context.Context, userID, conversationID uuid.UUID) (int, error)
	SetPinned(ctx context.Context, actor Actor, conversationID uuid.UUID, pinned bool) (*domain.Participant, error)
	// PatchState applies an RFC 6902 patch to the caller's ParticipantState.
	PatchState(ctx context.Context, actor Actor, conversationID uuid.UUID, patch []byte) (*ParticipantState, error)
}

type readStateService struct {
	conversationRepo repository.ConversationRepository
	notifier         Notifier
	previewLength    int
	now              Clock
	log              logger.Logger
}

func NewReadStateService(conversationRepo repository.ConversationRepository, notifier Notifier, previewLength int, now Clock, log logger.Logger) ReadStateService {
	return &readStateService{
		conversationRepo: conversationRepo,
		notifier:         notifier,
		previewLength:    previewLength,
		now:              now,
		log:              log,
	}
}

func (s *readStateService) List(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationSummary, error) {
	list, err := s.conversationRepo.ListForUser(ctx, userID, s.previewLength)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*domain.ConversationSummary{}
	}
	return list, nil
}

func (s *readStateService) Unread(ctx context.Context, userID, conversationID uuid.UUID) (int, error) {
	if _, err := s.conversationRepo.GetParticipant(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.conversationRepo.UnreadCount(ctx, conversationID, userID)
}

func (s *readStateService) SetPinned(ctx context.Context, actor Actor, conversationID uuid.UUID, pinned bool) (*domain.Participant, error) {
	p, err := s.conversationRepo.SetPinned(ctx, conversationID, actor.UserID, pinned, s.now())
	if err != nil {
		return nil, err
	}

	s.notifier.PublishListUpdate(actor.UserID, domain.ConversationChanged{
		ConversationID: conversationID,
		Reason:         domain.ChangeReasonPinned,
		SelfSent:       true,
	}, actor.ConnectionID)
	return p, nil
}

func (s *readStateService) PatchState(ctx context.Context, actor Actor, conversationID uuid.UUID, patch []byte) (*ParticipantState, error) {
	current, err := s.conversationRepo.GetParticipant(ctx, conversationID, actor.UserID)
	if err != nil {
		return nil, err
	}

	doc, err := json.Marshal(ParticipantState{Pinned: current.Pinned})
	if err != nil {
		return nil, err
	}

	ops, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidationFailed, err)
	}
	patched, err := ops.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidationFailed, err)
	}

	var next ParticipantState
	dec := json.NewDecoder(bytes.NewReader(patched))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidationFailed, err)
	}

	if next.Pinned != current.Pinned {
		if _, err := s.SetPinned(ctx, actor, conversationID, next.Pinned); err != nil {
			return nil, err
		}
	}
	return &next, nil
}

package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"construction_chat/internal/domain"
	apperrors "construction_chat/pkg/errors"
)

// MemoryStore keeps conversations, messages and audit entries in process.
// Every operation runs under one lock, which gives the same check-then-write
// atomicity the Postgres stores get from row locks.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*domain.Conversation
	directPairs   map[[2]uuid.UUID]uuid.UUID
	messages      map[uuid.UUID][]*domain.Message
	audit         []*domain.AuditLog
	auditSeq      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		directPairs:   make(map[[2]uuid.UUID]uuid.UUID),
		messages:      make(map[uuid.UUID][]*domain.Message),
	}
}

func (s *MemoryStore) Conversations() ConversationRepository { return &memoryConversations{s} }
func (s *MemoryStore) Messages() MessageRepository           { return &memoryMessages{s} }
func (s *MemoryStore) Audit() AuditRepository                { return &memoryAudit{s} }

// AuditLogs returns a snapshot of recorded audit entries.
func (s *MemoryStore) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditLog, len(s.audit))
	for i, l := range s.audit {
		out[i] = *l
	}
	return out
}

type memoryConversations struct{ s *MemoryStore }

func (r *memoryConversations) GetOrCreateDirect(_ context.Context, a, b uuid.UUID, now time.Time) (*domain.Conversation, bool, error) {
	low, high := domain.CanonicalPair(a, b)
	key := [2]uuid.UUID{low, high}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if id, ok := r.s.directPairs[key]; ok {
		return cloneConversation(r.s.conversations[id]), false, nil
	}

	conv := &domain.Conversation{
		ID:         uuid.New(),
		Kind:       domain.ConversationKindDirect,
		DirectLow:  &low,
		DirectHigh: &high,
		CreatedBy:  a,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, id := range []uuid.UUID{low, high} {
		conv.Participants = append(conv.Participants, &domain.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           domain.ParticipantRoleMember,
			JoinedAt:       now,
		})
	}
	r.s.conversations[conv.ID] = conv
	r.s.directPairs[key] = conv.ID

	return cloneConversation(conv), true, nil
}

func (r *memoryConversations) CreateGroup(_ context.Context, conv *domain.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.conversations[conv.ID]; exists {
		return apperrors.ErrValidationFailed
	}
	r.s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (r *memoryConversations) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	conv, ok := r.s.conversations[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (r *memoryConversations) GetParticipant(_ context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, err := r.s.participant(conversationID, userID)
	if err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

func (r *memoryConversations) AddParticipant(_ context.Context, p *domain.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[p.ConversationID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if conv.Participant(p.UserID) != nil {
		return nil
	}
	cp := *p
	conv.Participants = append(conv.Participants, &cp)
	return nil
}

func (r *memoryConversations) RemoveParticipant(_ context.Context, conversationID, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[conversationID]
	if !ok {
		return apperrors.ErrNotFound
	}
	for i, p := range conv.Participants {
		if p.UserID == userID {
			conv.Participants = append(conv.Participants[:i], conv.Participants[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotParticipant
}

func (r *memoryConversations) ListForUser(_ context.Context, userID uuid.UUID, previewLength int) ([]*domain.ConversationSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var list []*domain.ConversationSummary
	for _, conv := range r.s.conversations {
		p := conv.Participant(userID)
		if p == nil || p.HidesConversation(conv.LastMessageAt) {
			continue
		}

		visible := r.s.visibleMessages(conv.ID, p)
		summary := &domain.ConversationSummary{
			ID:            conv.ID,
			Kind:          conv.Kind,
			Name:          conv.Name,
			Pinned:        p.Pinned,
			PinnedAt:      p.PinnedAt,
			LastReadAt:    p.LastReadAt,
			UnreadCount:   domain.UnreadCount(visible, userID, p.LastReadAt),
			LastMessageAt: conv.LastMessageAt,
			CreatedAt:     conv.CreatedAt,
			UpdatedAt:     conv.UpdatedAt,
		}
		if conv.IsDirect() {
			peer := *conv.DirectLow
			if peer == userID {
				peer = *conv.DirectHigh
			}
			summary.PeerID = &peer
		}
		if n := len(visible); n > 0 {
			last := visible[n-1]
			preview := last.Preview(previewLength)
			summary.LastMessageID = &last.ID
			summary.LastMessageSender = &last.SenderID
			summary.LastMessagePreview = &preview
		}
		list = append(list, summary)
	}

	domain.SortConversations(list)
	return list, nil
}

func (r *memoryConversations) UnreadCount(_ context.Context, conversationID, userID uuid.UUID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, err := r.s.participant(conversationID, userID)
	if err != nil {
		return 0, err
	}
	return domain.UnreadCount(r.s.visibleMessages(conversationID, p), userID, p.LastReadAt), nil
}

func (r *memoryConversations) MarkRead(_ context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.markRead(conversationID, userID, at)
}

func (r *memoryConversations) SetPinned(_ context.Context, conversationID, userID uuid.UUID, pinned bool, at time.Time) (*domain.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, err := r.s.participant(conversationID, userID)
	if err != nil {
		return nil, err
	}
	p.Pinned = pinned
	p.PinnedAt = nil
	if pinned {
		p.PinnedAt = &at
	}
	cp := *p
	return &cp, nil
}

func (r *memoryConversations) SoftDelete(_ context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, err := r.s.participant(conversationID, userID)
	if err != nil {
		return err
	}
	p.DeletedAt = &at
	p.Pinned = false
	p.PinnedAt = nil
	return nil
}

type memoryMessages struct{ s *MemoryStore }

func (r *memoryMessages) Append(_ context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[msg.ConversationID]
	if !ok {
		return apperrors.ErrNotFound
	}

	list := append(r.s.messages[msg.ConversationID], cloneMessage(msg))
	domain.SortOldestFirst(list)
	r.s.messages[msg.ConversationID] = list

	conv.UpdatedAt = msg.CreatedAt
	if conv.LastMessageAt == nil || msg.CreatedAt.After(*conv.LastMessageAt) {
		at := msg.CreatedAt
		conv.LastMessageAt = &at
	}
	return nil
}

func (r *memoryMessages) List(_ context.Context, q ListQuery) ([]*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.conversations[q.ConversationID]; !ok {
		return nil, apperrors.ErrNotFound
	}

	var cursor *domain.Message
	if q.Before != nil {
		cursor = &domain.Message{CreatedAt: *q.Before}
		if q.BeforeID != nil {
			cursor.ID = *q.BeforeID
		}
	}

	all := r.s.messages[q.ConversationID]
	page := make([]*domain.Message, 0, q.Limit)
	skipped := 0
	for i := len(all) - 1; i >= 0 && len(page) < q.Limit; i-- {
		m := all[i]
		if q.VisibleAfter != nil && !m.CreatedAt.After(*q.VisibleAfter) {
			break
		}
		if cursor != nil && !beforeCursor(m, cursor, q.BeforeID != nil) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		page = append(page, cloneMessage(m))
	}

	if q.MarkReadFor != nil {
		if err := r.s.markRead(q.ConversationID, *q.MarkReadFor, q.MarkReadAt); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func beforeCursor(m, cursor *domain.Message, withID bool) bool {
	if withID {
		return m.Before(cursor)
	}
	return m.CreatedAt.Before(cursor.CreatedAt)
}

func (r *memoryMessages) GetByID(_ context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	_, m := r.s.findMessage(conversationID, messageID)
	if m == nil {
		return nil, apperrors.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (r *memoryMessages) Update(_ context.Context, req MutationRequest, content string) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, m := r.s.findMessage(req.ConversationID, req.MessageID)
	if m == nil {
		return nil, apperrors.ErrNotFound
	}
	if err := m.ApplyEdit(req.CallerID, content, req.Now, req.Window); err != nil {
		return nil, err
	}
	return cloneMessage(m), nil
}

func (r *memoryMessages) Delete(_ context.Context, req MutationRequest) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i, m := r.s.findMessage(req.ConversationID, req.MessageID)
	if m == nil {
		return nil, apperrors.ErrNotFound
	}
	if err := m.CheckDelete(req.CallerID, req.Now, req.Window); err != nil {
		return nil, err
	}

	list := r.s.messages[req.ConversationID]
	list = append(list[:i], list[i+1:]...)
	r.s.messages[req.ConversationID] = list

	conv := r.s.conversations[req.ConversationID]
	conv.UpdatedAt = req.Now
	conv.LastMessageAt = nil
	if n := len(list); n > 0 {
		at := list[n-1].CreatedAt
		conv.LastMessageAt = &at
	}
	return m, nil
}

type memoryAudit struct{ s *MemoryStore }

func (r *memoryAudit) CreateLog(_ context.Context, log *domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.auditSeq++
	log.ID = r.s.auditSeq
	cp := *log
	r.s.audit = append(r.s.audit, &cp)
	return nil
}

func (s *MemoryStore) participant(conversationID, userID uuid.UUID) (*domain.Participant, error) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	p := conv.Participant(userID)
	if p == nil {
		return nil, apperrors.ErrNotParticipant
	}
	return p, nil
}

func (s *MemoryStore) markRead(conversationID, userID uuid.UUID, at time.Time) error {
	p, err := s.participant(conversationID, userID)
	if err != nil {
		return err
	}
	if p.LastReadAt == nil || p.LastReadAt.Before(at) {
		p.LastReadAt = &at
	}
	return nil
}

// visibleMessages returns the conversation's messages, oldest first, that p can still see.
func (s *MemoryStore) visibleMessages(conversationID uuid.UUID, p *domain.Participant) []*domain.Message {
	all := s.messages[conversationID]
	if p.DeletedAt == nil {
		return all
	}
	out := make([]*domain.Message, 0, len(all))
	for _, m := range all {
		if !p.HidesMessage(m) {
			out = append(out, m)
		}
	}
	return out
}

func (s *MemoryStore) findMessage(conversationID, messageID uuid.UUID) (int, *domain.Message) {
	for i, m := range s.messages[conversationID] {
		if m.ID == messageID {
			return i, m
		}
	}
	return -1, nil
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Participants = make([]*domain.Participant, len(c.Participants))
	for i, p := range c.Participants {
		pp := *p
		cp.Participants[i] = &pp
	}
	return &cp
}

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	cp.Attachments = append([]domain.Attachment{}, m.Attachments...)
	return &cp
}

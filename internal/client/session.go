package client

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"construction_chat/internal/domain"
	"construction_chat/pkg/logger"
)

// Session is one signed-in client: a push connection, the REST client that
// shares its connection id, and the conversations currently on screen.
type Session struct {
	api    *APIClient
	push   *PushConn
	selfID uuid.UUID
	log    logger.Logger

	// OnListChange receives conversation.changed signals for list badges.
	OnListChange func(domain.ConversationChanged)

	mu    sync.Mutex
	views map[uuid.UUID]*ConversationView
}

func NewSession(api *APIClient, pushOpts PushOptions, selfID uuid.UUID, log logger.Logger) *Session {
	next := pushOpts.OnConnected
	pushOpts.OnConnected = func(connectionID string) {
		api.SetConnectionID(connectionID)
		if next != nil {
			next(connectionID)
		}
	}

	return &Session{
		api:    api,
		push:   NewPushConn(pushOpts, log),
		selfID: selfID,
		log:    log,
		views:  make(map[uuid.UUID]*ConversationView),
	}
}

func (s *Session) API() *APIClient { return s.api }

func (s *Session) Push() *PushConn { return s.push }

// Run keeps the push connection alive and dispatches its events until ctx
// is done.
func (s *Session) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.push.Run(ctx) }()

	for event := range s.push.Events() {
		s.dispatch(ctx, event)
	}
	return <-errCh
}

func (s *Session) dispatch(ctx context.Context, event domain.Event) {
	switch ev := event.(type) {
	case domain.MessagePushed:
		s.forward(ev.Channel, ev)
	case domain.MessageUpdated:
		s.forward(ev.Channel, ev)
	case domain.MessageDeleted:
		s.forward(ev.Channel, ev)
	case domain.ConversationChanged:
		if s.OnListChange != nil {
			s.OnListChange(ev)
		}
	case Resync:
		s.log.Info("Push connection restored, resyncing", "connection_id", ev.ConnectionID)
		for _, v := range s.openViews() {
			if err := v.Resync(ctx); err != nil {
				s.log.Warn("Resync failed", "conversation_id", v.Engine.ConversationID(), "error", err)
			}
		}
	case domain.ErrorEvent:
		s.log.Warn("Push error", "code", ev.Code, "message", ev.Message)
	}
}

func (s *Session) forward(ch domain.Channel, event domain.Event) {
	id, ok := ch.ConversationID()
	if !ok {
		return
	}
	s.mu.Lock()
	v := s.views[id]
	s.mu.Unlock()
	if v != nil {
		v.Engine.HandleEvent(event)
	}
}

func (s *Session) openViews() []*ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]*ConversationView, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	return views
}

// ConversationView is an open conversation. Close releases its subscription.
type ConversationView struct {
	Engine *ReconciliationEngine
	Pages  *PaginationController

	session *Session
	once    sync.Once
}

// OpenConversation subscribes to the conversation and loads its newest page.
func (s *Session) OpenConversation(ctx context.Context, conversationID uuid.UUID, observer Observer, viewport Viewport, engineOpts EngineOptions, pageOpts PaginationOptions) (*ConversationView, error) {
	engine := NewReconciliationEngine(conversationID, s.selfID, s.api, observer, engineOpts, s.log)
	view := &ConversationView{
		Engine:  engine,
		Pages:   NewPaginationController(s.api, engine, viewport, pageOpts, s.log),
		session: s,
	}

	s.mu.Lock()
	if prev := s.views[conversationID]; prev != nil {
		prev.Engine.Close()
	}
	s.views[conversationID] = view
	s.mu.Unlock()

	if err := s.push.Subscribe(conversationID); err != nil {
		s.log.Warn("Subscribe failed, waiting for reconnect", "conversation_id", conversationID, "error", err)
	}
	if err := view.Pages.Open(ctx); err != nil {
		view.Close()
		return nil, err
	}
	return view, nil
}

// Resync pulls the newest page and merges whatever the socket missed.
func (v *ConversationView) Resync(ctx context.Context) error {
	page, err := v.session.api.ListMessages(ctx, v.Engine.ConversationID(), PageQuery{Limit: v.Pages.opts.PageSize})
	if err != nil {
		return err
	}
	v.Engine.Merge(page.Messages)
	return nil
}

func (v *ConversationView) Close() {
	v.once.Do(func() {
		id := v.Engine.ConversationID()
		s := v.session

		s.mu.Lock()
		current := s.views[id] == v
		if current {
			delete(s.views, id)
		}
		s.mu.Unlock()

		if current {
			if err := s.push.Unsubscribe(id); err != nil {
				s.log.Debug("Unsubscribe failed", "conversation_id", id, "error", err)
			}
		}
		v.Engine.Close()
	})
}

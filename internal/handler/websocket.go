package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"construction_chat/internal/domain"
	"construction_chat/internal/hub"
	"construction_chat/internal/middleware"
	"construction_chat/internal/service"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

const subscribeTimeout = 5 * time.Second

type WebSocketHandler struct {
	hub                 *hub.Hub
	conversationService service.ConversationService
	upgrader            websocket.Upgrader
	opts                hub.Options
	log                 logger.Logger
}

func NewWebSocketHandler(deliveryHub *hub.Hub, conversationService service.ConversationService, allowedOrigins []string, opts hub.Options, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:                 deliveryHub,
		conversationService: conversationService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		opts: opts,
		log:  log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket upgrades an authenticated request into a push connection.
// The connection always sits on its user channel and joins conversation
// channels on subscribe frames after a membership check.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(apperrors.ErrUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err)
		return
	}

	conn := hub.NewConnection(userID, ws, h.opts, h.log)
	h.hub.Register(conn)
	conn.Start()
	defer func() {
		h.hub.Unregister(conn)
		conn.Close(websocket.CloseNormalClosure, "")
	}()

	h.hub.SendTo(conn.ID(), domain.Connected{ConnectionID: conn.ID(), UserID: userID})
	h.log.Debug("Push connection opened", "connection_id", conn.ID(), "user_id", userID)

	ctx := c.Request.Context()
	_ = conn.ReadLoop(func(data []byte) {
		h.handleFrame(ctx, conn, data)
	})

	h.log.Debug("Push connection closed", "connection_id", conn.ID(), "user_id", userID)
}

func (h *WebSocketHandler) handleFrame(ctx context.Context, conn *hub.Connection, data []byte) {
	event, err := domain.DecodeEvent(data)
	if err != nil {
		h.sendError(conn, apperrors.ErrBadRequest, err.Error())
		return
	}

	switch e := event.(type) {
	case domain.Subscribe:
		checkCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
		defer cancel()
		if err := h.conversationService.Authorize(checkCtx, conn.UserID(), e.ConversationID); err != nil {
			h.sendError(conn, err, "cannot subscribe to "+e.ConversationID.String())
			return
		}
		h.hub.Subscribe(conn, e.ConversationID)
	case domain.Unsubscribe:
		h.hub.Unsubscribe(conn, e.ConversationID)
	case domain.Ping:
		h.hub.SendTo(conn.ID(), domain.Pong{})
	default:
		h.sendError(conn, apperrors.ErrBadRequest, "unexpected frame "+string(event.Type()))
	}
}

func (h *WebSocketHandler) sendError(conn *hub.Connection, err error, message string) {
	h.hub.SendTo(conn.ID(), domain.ErrorEvent{
		Code:    apperrors.CodeFromError(err),
		Message: message,
	})
}

package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"construction_chat/internal/config"
	"construction_chat/internal/hub"
	"construction_chat/internal/middleware"
	"construction_chat/internal/service"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	Chat         *ChatHandler
	Conversation *ConversationHandler
	Group        *GroupHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, deliveryHub *hub.Hub, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(deliveryHub),
		Chat:         NewChatHandler(services.Chat, cfg.Chat, log),
		Conversation: NewConversationHandler(services.Conversation, services.ReadState, log),
		Group:        NewGroupHandler(services.Conversation, log),
		WebSocket:    NewWebSocketHandler(deliveryHub, services.Conversation, cfg.Server.AllowedOrigins, pushOptions(cfg.Push), log),
	}
}

func pushOptions(cfg config.PushConfig) hub.Options {
	return hub.Options{
		SendBuffer:   cfg.SendBuffer,
		PingInterval: cfg.PingInterval,
		PongWait:     cfg.PongWait,
		WriteWait:    cfg.WriteWait,
		MaxFrameSize: cfg.MaxFrameSize,
	}
}

// currentActor builds the service actor from the auth and connection id middleware.
func currentActor(c *gin.Context) (service.Actor, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(apperrors.ErrUnauthorized)
		return service.Actor{}, false
	}
	return service.Actor{UserID: userID, ConnectionID: middleware.ConnectionIDFrom(c)}, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		_ = c.Error(fmt.Errorf("%w: invalid %s", apperrors.ErrBadRequest, name))
		return uuid.Nil, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err))
}

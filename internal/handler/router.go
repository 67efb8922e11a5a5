package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"construction_chat/internal/config"
	"construction_chat/internal/middleware"
	"construction_chat/pkg/logger"
)

// RouterOptions carries the middleware the API routes are wrapped in.
type RouterOptions struct {
	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
	// FilesDir is served read-only under cfg.Chat.AttachmentsURL when set.
	FilesDir string
}

func NewRouter(h *Handlers, cfg *config.Config, opts RouterOptions, log logger.Logger) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.ErrorHandler(log))

	router.GET("/health", h.Health.Check)
	if opts.FilesDir != "" {
		router.StaticFS(cfg.Chat.AttachmentsURL, http.Dir(opts.FilesDir))
	}
	router.GET("/ws", opts.Auth.RequireAuth(), h.WebSocket.HandleWebSocket)

	api := router.Group("/api/v1")
	api.Use(opts.Auth.RequireAuth())
	api.Use(middleware.ConnectionID())
	if opts.RateLimit != nil {
		api.Use(opts.RateLimit.Limit())
	}
	{
		conversations := api.Group("/conversations")
		{
			conversations.GET("", h.Conversation.List)
			conversations.GET("/:id", h.Conversation.Get)
			conversations.DELETE("/:id", h.Conversation.Delete)
			conversations.GET("/:id/unread", h.Conversation.Unread)
			conversations.PUT("/:id/pin", h.Conversation.SetPinned)
			conversations.PATCH("/:id/state", h.Conversation.PatchState)

			conversations.GET("/:id/messages", h.Chat.ListMessages)
			conversations.POST("/:id/messages", h.Chat.SendMessage)
			conversations.PUT("/:id/messages/:messageId", h.Chat.EditMessage)
			conversations.DELETE("/:id/messages/:messageId", h.Chat.DeleteMessage)
		}

		direct := api.Group("/direct")
		{
			direct.POST("/:userId", h.Conversation.GetOrCreateDirect)
			direct.POST("/:userId/messages", h.Chat.SendDirect)
		}

		groups := api.Group("/groups")
		{
			groups.POST("", h.Group.Create)
			groups.POST("/:id/members", h.Group.AddMember)
			groups.DELETE("/:id/members/:userId", h.Group.RemoveMember)
		}
	}

	return router
}

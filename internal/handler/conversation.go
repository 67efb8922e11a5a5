package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"construction_chat/internal/service"
	"construction_chat/pkg/logger"
)

type ConversationHandler struct {
	conversationService service.ConversationService
	readStateService    service.ReadStateService
	log                 logger.Logger
}

func NewConversationHandler(conversationService service.ConversationService, readStateService service.ReadStateService, log logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		readStateService:    readStateService,
		log:                 log,
	}
}

func (h *ConversationHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	list, err := h.readStateService.List(c.Request.Context(), actor.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	conv, err := h.conversationService.Get(c.Request.Context(), actor.UserID, conversationID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// GetOrCreateDirect returns the canonical direct conversation with :userId.
func (h *ConversationHandler) GetOrCreateDirect(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	peerID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}

	conv, err := h.conversationService.GetOrCreateDirect(c.Request.Context(), actor, peerID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Unread(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	count, err := h.readStateService.Unread(c.Request.Context(), actor.UserID, conversationID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "unread_count": count})
}

type SetPinnedRequest struct {
	Pinned *bool `json:"pinned" binding:"required"`
}

func (h *ConversationHandler) SetPinned(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req SetPinnedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	participant, err := h.readStateService.SetPinned(c.Request.Context(), actor, conversationID, *req.Pinned)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, participant)
}

// PatchState accepts an application/json-patch+json body against the
// caller's participant state.
func (h *ConversationHandler) PatchState(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	patch, err := io.ReadAll(io.LimitReader(c.Request.Body, 16<<10))
	if err != nil {
		badRequest(c, err)
		return
	}

	state, err := h.readStateService.PatchState(c.Request.Context(), actor, conversationID, patch)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// Delete soft-deletes a direct conversation for the caller only.
func (h *ConversationHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.conversationService.DeleteDirect(c.Request.Context(), actor, conversationID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

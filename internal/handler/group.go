package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"construction_chat/internal/domain"
	"construction_chat/internal/service"
	"construction_chat/pkg/logger"
)

type GroupHandler struct {
	conversationService service.ConversationService
	log                 logger.Logger
}

func NewGroupHandler(conversationService service.ConversationService, log logger.Logger) *GroupHandler {
	return &GroupHandler{
		conversationService: conversationService,
		log:                 log,
	}
}

type CreateGroupRequest struct {
	Name      string      `json:"name" binding:"required"`
	MemberIDs []uuid.UUID `json:"member_ids"`
}

func (h *GroupHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	conv, err := h.conversationService.CreateGroup(c.Request.Context(), actor, req.Name, req.MemberIDs)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, conv)
}

type AddMemberRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Role   string    `json:"role"`
}

func (h *GroupHandler) AddMember(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	groupID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Role == "" {
		req.Role = domain.ParticipantRoleMember
	}

	conv, err := h.conversationService.AddMember(c.Request.Context(), actor, groupID, req.UserID, req.Role)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

func (h *GroupHandler) RemoveMember(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	groupID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}

	if err := h.conversationService.RemoveMember(c.Request.Context(), actor, groupID, userID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

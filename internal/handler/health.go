package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"construction_chat/internal/hub"
)

type HealthHandler struct {
	hub *hub.Hub
}

func NewHealthHandler(deliveryHub *hub.Hub) *HealthHandler {
	return &HealthHandler{hub: deliveryHub}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "construction-chat",
		"push":    h.hub.Stats(),
	})
}

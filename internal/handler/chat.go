package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"construction_chat/internal/config"
	"construction_chat/internal/service"
	"construction_chat/pkg/logger"
)

type ChatHandler struct {
	chatService service.ChatService
	cfg         config.ChatConfig
	log         logger.Logger
}

func NewChatHandler(chatService service.ChatService, cfg config.ChatConfig, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		cfg:         cfg,
		log:         log,
	}
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	page, err := parsePageRequest(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.chatService.ListMessages(c.Request.Context(), actor, conversationID, page)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func parsePageRequest(c *gin.Context) (service.PageRequest, error) {
	var page service.PageRequest
	var err error

	if v := c.Query("limit"); v != "" {
		if page.Limit, err = strconv.Atoi(v); err != nil {
			return page, fmt.Errorf("invalid limit")
		}
	}
	if v := c.Query("offset"); v != "" {
		if page.Offset, err = strconv.Atoi(v); err != nil {
			return page, fmt.Errorf("invalid offset")
		}
	}
	if v := c.Query("before"); v != "" {
		before, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return page, fmt.Errorf("invalid before")
		}
		page.Before = &before
	}
	if v := c.Query("before_id"); v != "" {
		if page.Before == nil {
			return page, fmt.Errorf("before_id requires before")
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return page, fmt.Errorf("invalid before_id")
		}
		page.BeforeID = &id
	}
	return page, nil
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	h.send(c, func(in service.SendInput) (interface{}, error) {
		return h.chatService.Send(c.Request.Context(), actor, conversationID, in)
	})
}

func (h *ChatHandler) SendDirect(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	recipientID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}

	h.send(c, func(in service.SendInput) (interface{}, error) {
		return h.chatService.SendDirect(c.Request.Context(), actor, recipientID, in)
	})
}

// send decodes a JSON or multipart body and runs do with it.
func (h *ChatHandler) send(c *gin.Context, do func(service.SendInput) (interface{}, error)) {
	var in service.SendInput

	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes*int64(h.cfg.MaxAttachments)+1<<20)
		form, err := c.MultipartForm()
		if err != nil {
			badRequest(c, err)
			return
		}
		defer func() { _ = form.RemoveAll() }()

		files, closeAll, err := openUploads(form.File["files"])
		defer closeAll()
		if err != nil {
			badRequest(c, err)
			return
		}
		in.Files = files
		if values := form.Value["content"]; len(values) > 0 {
			in.Content = values[0]
		}
	} else {
		var req SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		in.Content = req.Content
	}

	message, err := do(in)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

func openUploads(headers []*multipart.FileHeader) ([]service.FileUpload, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}

	uploads := make([]service.FileUpload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		closers = append(closers, f)
		uploads = append(uploads, service.FileUpload{Name: fh.Filename, Reader: f})
	}
	return uploads, closeAll, nil
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *ChatHandler) EditMessage(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	messageID, ok := uuidParam(c, "messageId")
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	message, err := h.chatService.Edit(c.Request.Context(), actor, conversationID, messageID, req.Content)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, message)
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	messageID, ok := uuidParam(c, "messageId")
	if !ok {
		return
	}

	if err := h.chatService.Delete(c.Request.Context(), actor, conversationID, messageID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"construction_chat/internal/domain"
	apperrors "construction_chat/pkg/errors"
)

const headerConnectionID = "X-Connection-ID"

// RequestError is a failed API call. It unwraps to the sentinel named by
// its code, so callers can use errors.Is(err, apperrors.ErrExpired).
type RequestError struct {
	Status  int
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("api returned status %d (%s): %s", e.Status, e.Code, e.Message)
}

func (e *RequestError) Unwrap() error {
	return apperrors.FromCode(e.Code)
}

// Upload is an attachment held in memory so a failed send can be retried.
type Upload struct {
	Name string
	Data []byte
}

// PageQuery selects a page of history. Before/BeforeID switch to cursor mode.
type PageQuery struct {
	Limit    int
	Offset   int
	Before   *time.Time
	BeforeID *uuid.UUID
}

type MessagePage struct {
	Messages []*domain.Message `json:"messages"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
	HasMore  bool              `json:"has_more"`
}

// APIClient talks to the chat REST API as one user.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu           sync.RWMutex
	connectionID string
}

func NewAPIClient(baseURL, token string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
	}
}

// SetConnectionID tags later writes with the push connection they come from.
func (c *APIClient) SetConnectionID(id string) {
	c.mu.Lock()
	c.connectionID = id
	c.mu.Unlock()
}

func (c *APIClient) ListConversations(ctx context.Context) ([]*domain.ConversationSummary, error) {
	var out struct {
		Conversations []*domain.ConversationSummary `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/conversations", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *APIClient) GetOrCreateDirect(ctx context.Context, peerID uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/direct/"+peerID.String(), nil, http.StatusOK, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *APIClient) CreateGroup(ctx context.Context, name string, memberIDs []uuid.UUID) (*domain.Conversation, error) {
	body := map[string]interface{}{"name": name, "member_ids": memberIDs}
	var conv domain.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/groups", body, http.StatusCreated, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages fetches one page, newest first. Fetching marks the
// conversation read for this user.
func (c *APIClient) ListMessages(ctx context.Context, conversationID uuid.UUID, q PageQuery) (*MessagePage, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Before != nil {
		params.Set("before", q.Before.UTC().Format(time.RFC3339Nano))
		if q.BeforeID != nil {
			params.Set("before_id", q.BeforeID.String())
		}
	}

	path := "/api/v1/conversations/" + conversationID.String() + "/messages"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page MessagePage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *APIClient) Send(ctx context.Context, conversationID uuid.UUID, content string, files []Upload) (*domain.Message, error) {
	return c.send(ctx, "/api/v1/conversations/"+conversationID.String()+"/messages", content, files)
}

func (c *APIClient) SendDirect(ctx context.Context, recipientID uuid.UUID, content string, files []Upload) (*domain.Message, error) {
	return c.send(ctx, "/api/v1/direct/"+recipientID.String()+"/messages", content, files)
}

func (c *APIClient) send(ctx context.Context, path, content string, files []Upload) (*domain.Message, error) {
	var msg domain.Message
	if len(files) == 0 {
		body := map[string]string{"content": content}
		if err := c.doJSON(ctx, http.MethodPost, path, body, http.StatusCreated, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("content", content); err != nil {
		return nil, fmt.Errorf("failed to write form: %w", err)
	}
	for _, f := range files {
		part, err := form.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to write form: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to write form: %w", err)
	}

	if err := c.do(ctx, http.MethodPost, path, form.FormDataContentType(), &buf, http.StatusCreated, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *APIClient) Edit(ctx context.Context, conversationID, messageID uuid.UUID, content string) (*domain.Message, error) {
	path := "/api/v1/conversations/" + conversationID.String() + "/messages/" + messageID.String()
	var msg domain.Message
	if err := c.doJSON(ctx, http.MethodPut, path, map[string]string{"content": content}, http.StatusOK, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *APIClient) Delete(ctx context.Context, conversationID, messageID uuid.UUID) error {
	path := "/api/v1/conversations/" + conversationID.String() + "/messages/" + messageID.String()
	return c.doJSON(ctx, http.MethodDelete, path, nil, http.StatusNoContent, nil)
}

func (c *APIClient) Unread(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var out struct {
		UnreadCount int `json:"unread_count"`
	}
	path := "/api/v1/conversations/" + conversationID.String() + "/unread"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (c *APIClient) SetPinned(ctx context.Context, conversationID uuid.UUID, pinned bool) error {
	path := "/api/v1/conversations/" + conversationID.String() + "/pin"
	return c.doJSON(ctx, http.MethodPut, path, map[string]bool{"pinned": pinned}, http.StatusOK, nil)
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	return c.do(ctx, method, path, "application/json", reader, want, out)
}

func (c *APIClient) do(ctx context.Context, method, path, contentType string, body io.Reader, want int, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.RLock()
	if c.connectionID != "" {
		req.Header.Set(headerConnectionID, c.connectionID)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == "" {
		return &RequestError{Status: resp.StatusCode, Code: "internal", Message: string(raw)}
	}
	return &RequestError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}

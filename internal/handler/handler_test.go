package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"construction_chat/internal/config"
	"construction_chat/internal/domain"
	"construction_chat/internal/hub"
	"construction_chat/internal/middleware"
	"construction_chat/internal/repository"
	"construction_chat/internal/service"
	"construction_chat/internal/storage"
	"construction_chat/pkg/jwt"
	"construction_chat/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	tokens *jwt.Manager
	hub    *hub.Hub
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}},
		Chat: config.ChatConfig{
			PageSize:       50,
			MaxPageSize:    100,
			MutationWindow: 30 * time.Minute,
			AttachmentsDir: t.TempDir(),
			AttachmentsURL: "/files",
			MaxUploadBytes: 1 << 20,
			MaxAttachments: 3,
			PreviewLength:  120,
		},
		Push: config.PushConfig{
			SendBuffer:   64,
			PingInterval: time.Second,
			PongWait:     5 * time.Second,
			WriteWait:    time.Second,
			MaxFrameSize: 64 << 10,
		},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logger.Nop()
	cfg := testConfig(t)

	files, err := storage.NewLocal(cfg.Chat.AttachmentsDir, cfg.Chat.AttachmentsURL, cfg.Chat.MaxUploadBytes, log)
	require.NoError(t, err)

	deliveryHub := hub.New(log)
	services := service.NewServices(repository.NewMemoryRepositories(nil, log), deliveryHub, files, cfg, log)
	tokens := jwt.NewManager("test-secret", "test")

	router := NewRouter(NewHandlers(services, deliveryHub, cfg, log), cfg, RouterOptions{
		Auth:     middleware.NewAuthMiddleware(tokens, log),
		FilesDir: files.Dir(),
	}, log)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		deliveryHub.Close()
		srv.Close()
	})

	return &testServer{t: t, srv: srv, tokens: tokens, hub: deliveryHub}
}

func (s *testServer) token(userID uuid.UUID) string {
	token, err := s.tokens.Issue(userID, time.Hour)
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path string, userID uuid.UUID, body interface{}, headers ...string) *http.Response {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+s.token(userID))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) dial(userID uuid.UUID) *websocket.Conn {
	s.t.Helper()

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + s.token(userID)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	event, err := domain.DecodeEvent(data)
	require.NoError(t, err)
	return event
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, ws *websocket.Conn, want domain.EventType) domain.Event {
	t.Helper()
	for {
		event := readEvent(t, ws)
		if event.Type() == want {
			return event
		}
	}
}

func writeEvent(t *testing.T, ws *websocket.Conn, event domain.Event) {
	t.Helper()
	data, err := domain.EncodeEvent(event)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(http.MethodGet, "/health", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestAPIRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(http.MethodGet, "/api/v1/conversations", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendDirectCreatesConversationOnce(t *testing.T) {
	s := newTestServer(t)
	alice, bob := uuid.New(), uuid.New()

	resp := s.do(http.MethodPost, "/api/v1/direct/"+bob.String()+"/messages", alice, SendMessageRequest{Content: "  hi bob  "})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[domain.Message](t, resp)
	assert.Equal(t, "hi bob", first.Content)
	assert.Equal(t, alice, first.SenderID)

	resp = s.do(http.MethodPost, "/api/v1/direct/"+alice.String()+"/messages", bob, SendMessageRequest{Content: "hi alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := decode[domain.Message](t, resp)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	resp = s.do(http.MethodPost, "/api/v1/direct/"+bob.String(), alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decode[domain.Conversation](t, resp)
	assert.Equal(t, first.ConversationID, conv.ID)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(http.MethodPost, "/api/v1/direct/"+uuid.NewString()+"/messages", uuid.New(), SendMessageRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "validation_failed", body["code"])
}

func TestInvalidPathID(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(http.MethodGet, "/api/v1/conversations/not-a-uuid/messages", uuid.New(), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListMessagesPagesAndMarksRead(t *testing.T) {
	s := newTestServer(t)
	alice, bob := uuid.New(), uuid.New()

	var convID uuid.UUID
	for i := 0; i < 5; i++ {
		resp := s.do(http.MethodPost, "/api/v1/direct/"+bob.String()+"/messages", alice, SendMessageRequest{Content: "m"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		convID = decode[domain.Message](t, resp).ConversationID
	}

	resp := s.do(http.MethodGet, "/api/v1/conversations/"+convID.String()+"/unread", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, decode[map[string]interface{}](t, resp)["unread_count"])

	resp = s.do(http.MethodGet, "/api/v1/conversations/"+convID.String()+"/messages?limit=3", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[service.MessagePage](t, resp)
	assert.Len(t, page.Messages, 3)
	assert.True(t, page.HasMore)

	resp = s.do(http.MethodGet, "/api/v1/conversations/"+convID.String()+"/messages?limit=3&offset=3", bob, nil)
	page = decode[service.MessagePage](t, resp)
	assert.Len(t, page.Messages, 2)
	assert.False(t, page.HasMore)

	resp = s.do(http.MethodGet, "/api/v1/conversations/"+convID.String()+"/unread", bob, nil)
	assert.EqualValues(t, 0, decode[map[string]interface{}](t, resp)["unread_count"])

	resp = s.do(http.MethodGet, "/api/v1/conversations/"+convID.String()+"/messages", uuid.New(), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestListMessagesRejectsOrphanCursorID(t *testing.T) {
	s := newTestServer(t)

	path := "/api/v1/conversations/" + uuid.NewString() + "/messages?before_id=" + uuid.NewString()
	resp := s.do(http.MethodGet, path, uuid.New(), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEditAndDeleteRules(t *testing.T) {
	s := newTestServer(t)
	alice, bob := uuid.New(), uuid.New()

	resp := s.do(http.MethodPost, "/api/v1/direct/"+bob.String()+"/messages", alice, SendMessageRequest{Content: "draft"})
	msg := decode[domain.Message](t, resp)
	path := "/api/v1/conversations/" + msg.ConversationID.String() + "/messages/" + msg.ID.String()

	resp = s.do(http.MethodPut, path, bob, EditMessageRequest{Content: "hijack"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(http.MethodPut, path, alice, EditMessageRequest{Content: "final"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "final", decode[domain.Message](t, resp).Content)

	resp = s.do(http.MethodDelete, path, bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(http.MethodDelete, path, alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(http.MethodDelete, path, alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMultipartSendStoresAttachments(t *testing.T) {
	s := newTestServer(t)
	alice, bob := uuid.New(), uuid.New()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("content", "site photo"))
	part, err := form.CreateFormFile("files", "site.png")
	require.NoError(t, err)
	_, err = part.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/v1/direct/"+bob.String()+"/messages", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token(alice))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := decode[domain.Message](t, resp)
	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "image/png", att.MimeType)
	assert.Equal(t, "site.png", att.OriginalFilename)

	fileResp := s.do(http.MethodGet, att.URL, uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, fileResp.StatusCode)

	path := "/api/v1/conversations/" + msg.ConversationID.String() + "/messages/" + msg.ID.String()
	resp2 := s.do(http.MethodPut, path, alice, EditMessageRequest{Content: "renamed"})
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestConversationListPinAndSoftDelete(t *testing.T) {
	s := newTestServer(t)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	resp := s.do(http.MethodPost, "/api/v1/direct/"+bob.String()+"/messages", alice, SendMessageRequest{Content: "to bob"})
	withBob := decode[domain.Message](t, resp).ConversationID
	resp = s.do(http.MethodPost, "/api/v1/direct/"+carol.String()+"/messages", alice, SendMessageRequest{Content: "to carol"})
	withCarol := decode[domain.Message](t, resp).ConversationID

	pinned := true
	resp = s.do(http.MethodPut, "/api/v1/conversations/"+withBob.String()+"/pin", alice, SetPinnedRequest{Pinned: &pinned})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	type listBody struct {
		Conversations []domain.ConversationSummary `json:"conversations"`
	}
	resp = s.do(http.MethodGet, "/api/v1/conversations", alice, nil)
	list := decode[listBody](t, resp)
	require.Len(t, list.Conversations, 2)
	assert.Equal(t, withBob, list.Conversations[0].ID)
	assert.True(t, list.Conversations[0].Pinned)

	patch := []map[string]interface{}{{"op": "replace", "path": "/pinned", "value": false}}
	resp = s.do(http.MethodPatch, "/api/v1/conversations/"+withBob.String()+"/state", alice, patch)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[service.ParticipantState](t, resp).Pinned)

	resp = s.do(http.MethodGet, "/api/v1/conversations", alice, nil)
	list = decode[listBody](t, resp)
	require.Len(t, list.Conversations, 2)
	assert.Equal(t, withCarol, list.Conversations[0].ID)

	resp = s.do(http.MethodDelete, "/api/v1/conversations/"+withCarol.String(), alice, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(http.MethodGet, "/api/v1/conversations", alice, nil)
	list = decode[listBody](t, resp)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, withBob, list.Conversations[0].ID)

	resp = s.do(http.MethodGet, "/api/v1/conversations", carol, nil)
	list = decode[listBody](t, resp)
	assert.Len(t, list.Conversations, 1)
}

func TestGroupMembership(t *testing.T) {
	s := newTestServer(t)
	owner, member, outsider := uuid.New(), uuid.New(), uuid.New()

	resp := s.do(http.MethodPost, "/api/v1/groups", owner, CreateGroupRequest{Name: "Site 14", MemberIDs: []uuid.UUID{member}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	group := decode[domain.Conversation](t, resp)
	assert.Equal(t, domain.ConversationKindGroup, group.Kind)

	resp = s.do(http.MethodPost, "/api/v1/groups/"+group.ID.String()+"/members", member, AddMemberRequest{UserID: outsider})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(http.MethodPost, "/api/v1/groups/"+group.ID.String()+"/members", owner, AddMemberRequest{UserID: outsider})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	withOutsider := decode[domain.Conversation](t, resp)
	assert.NotNil(t, withOutsider.Participant(outsider))

	resp = s.do(http.MethodDelete, "/api/v1/groups/"+group.ID.String()+"/members/"+outsider.String(), outsider, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(http.MethodGet, "/api/v1/conversations/"+group.ID.String(), outsider, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPushDeliversToOtherTabsOnly(t *testing.T) {
	s := newTestServer(t)
	alice, bob := uuid.New(), uuid.New()

	resp := s.do(http.MethodPost, "/api/v1/direct/"+bob.String(), alice, nil)
	convID := decode[domain.Conversation](t, resp).ID

	tabOne := s.dial(alice)
	tabTwo := s.dial(alice)
	bobTab := s.dial(bob)

	connected := readEvent(t, tabOne).(domain.Connected)
	assert.Equal(t, alice, connected.UserID)
	readUntil(t, tabTwo, domain.EventConnected)
	readUntil(t, bobTab, domain.EventConnected)

	for _, ws := range []*websocket.Conn{tabOne, tabTwo, bobTab} {
		writeEvent(t, ws, domain.Subscribe{ConversationID: convID})
	}
	// A ping round trip proves each subscribe has been processed.
	for _, ws := range []*websocket.Conn{tabOne, tabTwo, bobTab} {
		writeEvent(t, ws, domain.Ping{})
		readUntil(t, ws, domain.EventPong)
	}

	resp = s.do(http.MethodPost, "/api/v1/conversations/"+convID.String()+"/messages", alice,
		SendMessageRequest{Content: "from tab one"}, middleware.HeaderConnectionID, connected.ConnectionID)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[domain.Message](t, resp)

	pushed := readUntil(t, tabTwo, domain.EventMessagePushed).(domain.MessagePushed)
	assert.Equal(t, sent.ID, pushed.Message.ID)
	pushed = readUntil(t, bobTab, domain.EventMessagePushed).(domain.MessagePushed)
	assert.Equal(t, sent.ID, pushed.Message.ID)

	// The originating tab gets nothing before its pong.
	writeEvent(t, tabOne, domain.Ping{})
	event := readEvent(t, tabOne)
	assert.Equal(t, domain.EventPong, event.Type())
}

func TestSubscribeRequiresMembership(t *testing.T) {
	s := newTestServer(t)
	alice, bob := uuid.New(), uuid.New()

	resp := s.do(http.MethodPost, "/api/v1/direct/"+bob.String(), alice, nil)
	convID := decode[domain.Conversation](t, resp).ID

	ws := s.dial(uuid.New())
	readUntil(t, ws, domain.EventConnected)
	writeEvent(t, ws, domain.Subscribe{ConversationID: convID})

	errEvent := readUntil(t, ws, domain.EventError).(domain.ErrorEvent)
	assert.Equal(t, "not_participant", errEvent.Code)
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	s := newTestServer(t)

	ws := s.dial(uuid.New())
	readUntil(t, ws, domain.EventConnected)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))

	errEvent := readUntil(t, ws, domain.EventError).(domain.ErrorEvent)
	assert.Equal(t, "bad_request", errEvent.Code)
}

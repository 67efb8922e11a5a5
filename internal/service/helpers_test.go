package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"construction_chat/internal/config"
	"construction_chat/internal/domain"
	"construction_chat/internal/repository"
	"construction_chat/pkg/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 3, 7, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type published struct {
	channel   domain.Channel
	user      uuid.UUID
	event     domain.Event
	excludeID string
}

type fakeNotifier struct {
	mu      sync.Mutex
	events  []published
	dropped []uuid.UUID
}

func (n *fakeNotifier) Publish(ch domain.Channel, event domain.Event, excludeID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{channel: ch, event: event, excludeID: excludeID})
	return 1
}

func (n *fakeNotifier) PublishListUpdate(userID uuid.UUID, event domain.ConversationChanged, excludeID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{channel: domain.UserChannel(userID), user: userID, event: event, excludeID: excludeID})
	return 1
}

func (n *fakeNotifier) DropUser(userID, _ uuid.UUID) {
	n.mu.Lock()
	n.dropped = append(n.dropped, userID)
	n.mu.Unlock()
}

func (n *fakeNotifier) ofType(t domain.EventType) []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []published
	for _, p := range n.events {
		if p.event.Type() == t {
			out = append(out, p)
		}
	}
	return out
}

func (n *fakeNotifier) reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}

type fakeFiles struct {
	mu      sync.Mutex
	saved   map[string][]byte
	removed []string
}

func (f *fakeFiles) Save(_ context.Context, name string, r io.Reader) (domain.Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.Attachment{}, err
	}
	id := uuid.New()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	f.saved[id.String()] = data
	return domain.Attachment{
		ID:               id,
		Filename:         id.String(),
		OriginalFilename: name,
		MimeType:         "application/octet-stream",
		Size:             int64(len(data)),
		URL:              "/files/" + id.String(),
	}, nil
}

func (f *fakeFiles) Remove(_ context.Context, att domain.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, att.Filename)
	f.removed = append(f.removed, att.Filename)
	return nil
}

type harness struct {
	store    *repository.MemoryStore
	clock    *fakeClock
	notifier *fakeNotifier
	files    *fakeFiles
	chat     ChatService
	convs    ConversationService
	reads    ReadStateService
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		PageSize:       50,
		MaxPageSize:    100,
		MutationWindow: domain.MutationWindow,
		MaxAttachments: 5,
		SendsPerMinute: 0,
		PreviewLength:  40,
	}
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithLimiter(t, nil)
}

func newHarnessWithLimiter(t *testing.T, limiter RateLimitService) *harness {
	t.Helper()
	log := logger.Nop()
	h := &harness{
		store:    repository.NewMemoryStore(),
		clock:    newFakeClock(),
		notifier: &fakeNotifier{},
		files:    &fakeFiles{},
	}
	if limiter == nil {
		limiter = NewRateLimitService(nil, false, 0, log)
	}
	audit := NewAuditService(h.store.Audit(), h.clock.Now, log)
	h.chat = NewChatService(h.store.Conversations(), h.store.Messages(), h.notifier, h.files, limiter, audit, testChatConfig(), h.clock.Now, log)
	h.convs = NewConversationService(h.store.Conversations(), h.notifier, audit, h.clock.Now, log)
	h.reads = NewReadStateService(h.store.Conversations(), h.notifier, 40, h.clock.Now, log)
	return h
}

func actor(id uuid.UUID) Actor {
	return Actor{UserID: id, ConnectionID: "conn-" + id.String()[:8]}
}

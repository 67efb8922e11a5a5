package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"construction_chat/internal/domain"
	"construction_chat/pkg/logger"
)

// Status is the lifecycle of an entry in the local message list.
type Status string

const (
	StatusSending   Status = "sending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

var (
	ErrUnknownItem = errors.New("no such local message")
	ErrNotFailed   = errors.New("only failed messages can be retried or discarded")
)

// Item is one row of the rendered conversation. Provisional rows carry a
// TempID until the server answers.
type Item struct {
	TempID  string
	Message domain.Message
	Status  Status
	Err     error
	// LocalFiles previews attachments that are not uploaded yet.
	LocalFiles []LocalFile
}

func (i Item) Provisional() bool { return i.Status != StatusConfirmed }

type LocalFile struct {
	Name string
	URL  string
	Size int
}

// Sender persists a message. *APIClient satisfies it.
type Sender interface {
	Send(ctx context.Context, conversationID uuid.UUID, content string, files []Upload) (*domain.Message, error)
}

// Observer is the view the engine drives. Calls happen outside engine locks.
type Observer interface {
	Render(items []Item)
	ScrollToBottom()
}

type EngineOptions struct {
	// Debounce coalesces bursts of inbound pushes into one render.
	Debounce time.Duration
	Now      func() time.Time
}

func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Debounce: 40 * time.Millisecond,
		Now:      time.Now,
	}
}

type entry struct {
	item  Item
	files []Upload
}

// ReconciliationEngine owns the local message list of one open conversation.
// It echoes sends optimistically, swaps them for server messages on success,
// and merges pushes from other connections.
type ReconciliationEngine struct {
	conversationID uuid.UUID
	selfID         uuid.UUID
	sender         Sender
	observer       Observer
	opts           EngineOptions
	log            logger.Logger

	mu         sync.Mutex
	entries    []*entry
	byTemp     map[string]*entry
	known      map[uuid.UUID]*entry
	inflight   int
	paginating bool
	closed     bool

	pending []*domain.Message
	timer   *time.Timer
}

func NewReconciliationEngine(conversationID, selfID uuid.UUID, sender Sender, observer Observer, opts EngineOptions, log logger.Logger) *ReconciliationEngine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultEngineOptions().Debounce
	}
	return &ReconciliationEngine{
		conversationID: conversationID,
		selfID:         selfID,
		sender:         sender,
		observer:       observer,
		opts:           opts,
		log:            log.With("conversation_id", conversationID),
		byTemp:         make(map[string]*entry),
		known:          make(map[uuid.UUID]*entry),
	}
}

func (e *ReconciliationEngine) ConversationID() uuid.UUID { return e.conversationID }

// Items returns a snapshot in display order.
func (e *ReconciliationEngine) Items() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Submit inserts a provisional message at the tail and persists it in the
// background. done yields the send result exactly once.
func (e *ReconciliationEngine) Submit(ctx context.Context, content string, files []Upload) (tempID string, done <-chan error) {
	tempID = "tmp-" + uuid.NewString()

	e.mu.Lock()
	en := &entry{
		item: Item{
			TempID: tempID,
			Message: domain.Message{
				ConversationID: e.conversationID,
				SenderID:       e.selfID,
				Content:        content,
				CreatedAt:      e.opts.Now(),
			},
			Status:     StatusSending,
			LocalFiles: localFiles(tempID, files),
		},
		files: files,
	}
	e.entries = append(e.entries, en)
	e.byTemp[tempID] = en
	e.inflight++
	items := e.snapshotLocked()
	e.mu.Unlock()

	e.observer.Render(items)
	e.observer.ScrollToBottom()

	return tempID, e.persist(ctx, en)
}

// Retry resends a failed provisional message on explicit user action.
func (e *ReconciliationEngine) Retry(ctx context.Context, tempID string) (<-chan error, error) {
	e.mu.Lock()
	en, ok := e.byTemp[tempID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrUnknownItem
	}
	if en.item.Status != StatusFailed {
		e.mu.Unlock()
		return nil, ErrNotFailed
	}
	en.item.Status = StatusSending
	en.item.Err = nil
	e.inflight++
	items := e.snapshotLocked()
	e.mu.Unlock()

	e.observer.Render(items)
	return e.persist(ctx, en), nil
}

// Discard drops a failed provisional message.
func (e *ReconciliationEngine) Discard(tempID string) error {
	e.mu.Lock()
	en, ok := e.byTemp[tempID]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownItem
	}
	if en.item.Status != StatusFailed {
		e.mu.Unlock()
		return ErrNotFailed
	}
	e.removeLocked(en)
	delete(e.byTemp, tempID)
	items := e.snapshotLocked()
	e.mu.Unlock()

	e.observer.Render(items)
	return nil
}

func (e *ReconciliationEngine) persist(ctx context.Context, en *entry) <-chan error {
	done := make(chan error, 1)
	content := en.item.Message.Content

	go func() {
		msg, err := e.sender.Send(ctx, e.conversationID, content, en.files)
		if err == nil && msg == nil {
			err = fmt.Errorf("empty send response")
		}
		e.settle(en, msg, err)
		done <- err
		close(done)
	}()
	return done
}

// settle applies the outcome of a send to its provisional entry. A confirmed
// message replaces the provisional one outright.
func (e *ReconciliationEngine) settle(en *entry, msg *domain.Message, err error) {
	e.mu.Lock()
	e.inflight--

	if e.closed {
		e.mu.Unlock()
		return
	}

	if err != nil {
		en.item.Status = StatusFailed
		en.item.Err = err
		items := e.snapshotLocked()
		e.mu.Unlock()
		e.log.Warn("Message send failed", "temp_id", en.item.TempID, "error", err)
		e.observer.Render(items)
		return
	}

	delete(e.byTemp, en.item.TempID)
	if _, seen := e.known[msg.ID]; seen {
		// A resync already pulled the canonical copy.
		e.removeLocked(en)
	} else {
		en.item = Item{Message: *msg, Status: StatusConfirmed}
		en.files = nil
		e.known[msg.ID] = en
		e.sortLocked()
	}
	items := e.snapshotLocked()
	e.mu.Unlock()

	e.observer.Render(items)
}

// HandleEvent applies one push event. Events for other conversations are ignored.
func (e *ReconciliationEngine) HandleEvent(event domain.Event) {
	switch ev := event.(type) {
	case domain.MessagePushed:
		if ev.Message == nil || ev.Message.ConversationID != e.conversationID {
			return
		}
		e.enqueue(ev.Message)
	case domain.MessageUpdated:
		if ev.Message == nil || ev.Message.ConversationID != e.conversationID {
			return
		}
		e.applyUpdate(ev.Message)
	case domain.MessageDeleted:
		if ev.ConversationID != e.conversationID {
			return
		}
		e.applyDelete(ev.MessageID)
	}
}

func (e *ReconciliationEngine) enqueue(msg *domain.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.pending = append(e.pending, msg)
	if e.timer == nil {
		e.timer = time.AfterFunc(e.opts.Debounce, e.Flush)
	}
}

// Flush merges every accumulated push in one render. It runs on the
// debounce timer and may be called directly.
func (e *ReconciliationEngine) Flush() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	batch := e.pending
	e.pending = nil
	if e.closed || len(batch) == 0 {
		e.mu.Unlock()
		return
	}

	added, changed := e.mergeLocked(batch)
	scroll := added > 0 && !e.paginating && e.inflight == 0
	items := e.snapshotLocked()
	e.mu.Unlock()

	if !changed {
		return
	}
	e.observer.Render(items)
	if scroll {
		e.observer.ScrollToBottom()
	}
}

// Merge folds server messages into the list without scrolling. It backs
// initial loads, older pages and resyncs.
func (e *ReconciliationEngine) Merge(messages []*domain.Message) int {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}
	added, changed := e.mergeLocked(messages)
	items := e.snapshotLocked()
	e.mu.Unlock()

	if changed {
		e.observer.Render(items)
	}
	return added
}

func (e *ReconciliationEngine) SetPaginating(on bool) {
	e.mu.Lock()
	e.paginating = on
	e.mu.Unlock()
}

func (e *ReconciliationEngine) Sending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight > 0
}

// Close stops the debounce timer. Later events and send results are ignored.
func (e *ReconciliationEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.pending = nil
}

func (e *ReconciliationEngine) applyUpdate(msg *domain.Message) {
	e.mu.Lock()
	// An edit can overtake its own push while the push waits for a flush.
	for i, m := range e.pending {
		if m.ID == msg.ID && msg.UpdatedAt.After(m.UpdatedAt) {
			e.pending[i] = msg
		}
	}
	en, ok := e.known[msg.ID]
	if !ok || e.closed {
		e.mu.Unlock()
		return
	}
	en.item.Message = *msg
	items := e.snapshotLocked()
	e.mu.Unlock()

	e.observer.Render(items)
}

func (e *ReconciliationEngine) applyDelete(messageID uuid.UUID) {
	e.mu.Lock()
	for i, m := range e.pending {
		if m.ID == messageID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			break
		}
	}
	en, ok := e.known[messageID]
	if !ok || e.closed {
		e.mu.Unlock()
		return
	}
	e.removeLocked(en)
	delete(e.known, messageID)
	items := e.snapshotLocked()
	e.mu.Unlock()

	e.observer.Render(items)
}

// mergeLocked adds messages whose ids are not yet known, refreshes known
// ones that carry a newer edit, and restores order. changed reports whether
// anything visible moved.
func (e *ReconciliationEngine) mergeLocked(messages []*domain.Message) (added int, changed bool) {
	for _, m := range messages {
		if m == nil || m.ConversationID != e.conversationID {
			continue
		}
		if en, ok := e.known[m.ID]; ok {
			if m.UpdatedAt.After(en.item.Message.UpdatedAt) {
				en.item.Message = *m
				changed = true
			}
			continue
		}
		en := &entry{item: Item{Message: *m, Status: StatusConfirmed}}
		e.entries = append(e.entries, en)
		e.known[m.ID] = en
		added++
	}
	if added > 0 {
		e.sortLocked()
		changed = true
	}
	return added, changed
}

// sortLocked orders confirmed messages by (createdAt, id) and keeps
// provisional ones at the tail in submission order.
func (e *ReconciliationEngine) sortLocked() {
	sort.SliceStable(e.entries, func(i, j int) bool {
		a, b := e.entries[i].item, e.entries[j].item
		if a.Provisional() != b.Provisional() {
			return !a.Provisional()
		}
		if a.Provisional() {
			return false
		}
		return a.Message.Before(&b.Message)
	})
}

func (e *ReconciliationEngine) removeLocked(target *entry) {
	for i, en := range e.entries {
		if en == target {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			return
		}
	}
}

func (e *ReconciliationEngine) snapshotLocked() []Item {
	items := make([]Item, len(e.entries))
	for i, en := range e.entries {
		items[i] = en.item
	}
	return items
}

func localFiles(tempID string, files []Upload) []LocalFile {
	if len(files) == 0 {
		return nil
	}
	out := make([]LocalFile, len(files))
	for i, f := range files {
		out[i] = LocalFile{
			Name: f.Name,
			URL:  fmt.Sprintf("local://%s/%d/%s", tempID, i, f.Name),
			Size: len(f.Data),
		}
	}
	return out
}

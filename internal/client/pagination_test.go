package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"construction_chat/internal/domain"
	"construction_chat/pkg/logger"
)

const (
	rowHeight    = 20.0
	clientHeight = 200.0
)

// testView lays every message out as one fixed-height row.
type testView struct {
	mu       sync.Mutex
	items    []Item
	top      float64
	onSetTop func()
}

func (v *testView) Render(items []Item) {
	v.mu.Lock()
	v.items = items
	v.mu.Unlock()
}

func (v *testView) ScrollToBottom() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.top = float64(len(v.items))*rowHeight - clientHeight
	if v.top < 0 {
		v.top = 0
	}
}

func (v *testView) ScrollTop() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

func (v *testView) ScrollHeight() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return float64(len(v.items)) * rowHeight
}

func (v *testView) SetScrollTop(top float64) {
	if v.onSetTop != nil {
		v.onSetTop()
	}
	v.mu.Lock()
	v.top = top
	v.mu.Unlock()
}

// topVisible returns the id of the row under the top edge.
func (v *testView) topVisible() uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.items[int(v.top/rowHeight)].Message.ID
}

type fakeLoader struct {
	mu      sync.Mutex
	history []*domain.Message // oldest first
	gate    chan struct{}
	fail    error
	queries []PageQuery
}

func newFakeLoader(convID uuid.UUID, n int) *fakeLoader {
	l := &fakeLoader{}
	for i := 0; i < n; i++ {
		l.history = append(l.history, serverMessage(convID, uuid.New(), time.Duration(i)*time.Second, "m"))
	}
	return l
}

func (l *fakeLoader) insert(m *domain.Message) {
	l.mu.Lock()
	l.history = append(l.history, m)
	l.mu.Unlock()
}

func (l *fakeLoader) ListMessages(_ context.Context, _ uuid.UUID, q PageQuery) (*MessagePage, error) {
	if l.gate != nil {
		<-l.gate
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, q)
	if l.fail != nil {
		err := l.fail
		l.fail = nil
		return nil, err
	}

	newest := make([]*domain.Message, 0, len(l.history))
	for i := len(l.history) - 1; i >= 0; i-- {
		m := l.history[i]
		if q.Before != nil {
			cursor := &domain.Message{CreatedAt: *q.Before, ID: *q.BeforeID}
			if !m.Before(cursor) {
				continue
			}
		}
		newest = append(newest, m)
	}

	start := q.Offset
	if q.Before != nil {
		start = 0
	}
	if start > len(newest) {
		start = len(newest)
	}
	end := start + q.Limit
	if end > len(newest) {
		end = len(newest)
	}
	page := newest[start:end]
	return &MessagePage{Messages: page, Limit: q.Limit, Offset: q.Offset, HasMore: len(page) == q.Limit}, nil
}

func newTestPagination(t *testing.T, n int, opts PaginationOptions) (*PaginationController, *ReconciliationEngine, *testView, *fakeLoader) {
	t.Helper()
	convID := uuid.New()
	view := &testView{}
	engine := NewReconciliationEngine(convID, uuid.New(), &fakeSender{}, view, EngineOptions{Debounce: time.Hour}, logger.Nop())
	t.Cleanup(engine.Close)
	loader := newFakeLoader(convID, n)
	return NewPaginationController(loader, engine, view, opts, logger.Nop()), engine, view, loader
}

func TestOpenLoadsNewestPageAtBottom(t *testing.T) {
	pc, engine, view, loader := newTestPagination(t, 123, DefaultPaginationOptions())

	require.NoError(t, pc.Open(context.Background()))

	items := engine.Items()
	require.Len(t, items, DefaultPageSize)
	assert.Equal(t, loader.history[122].ID, items[len(items)-1].Message.ID)
	assert.Equal(t, loader.history[73].ID, items[0].Message.ID)
	assert.True(t, pc.HasMore())
	assert.Equal(t, float64(DefaultPageSize)*rowHeight-clientHeight, view.ScrollTop())
}

func TestShortFirstPageEndsPagination(t *testing.T) {
	pc, _, _, _ := newTestPagination(t, 12, DefaultPaginationOptions())

	require.NoError(t, pc.Open(context.Background()))
	assert.False(t, pc.HasMore())

	loaded, err := pc.OnScroll(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestOnlyUpwardScrollNearTopLoads(t *testing.T) {
	pc, _, _, _ := newTestPagination(t, 123, DefaultPaginationOptions())
	require.NoError(t, pc.Open(context.Background()))
	ctx := context.Background()

	loaded, _ := pc.OnScroll(ctx, 900)
	assert.False(t, loaded, "downward")
	loaded, _ = pc.OnScroll(ctx, 400)
	assert.False(t, loaded, "upward but far from top")
	loaded, _ = pc.OnScroll(ctx, 120)
	assert.False(t, loaded, "just outside threshold")
	loaded, err := pc.OnScroll(ctx, 100)
	require.NoError(t, err)
	assert.True(t, loaded)
}

func TestBackwardLoadPreservesAnchor(t *testing.T) {
	pc, engine, view, _ := newTestPagination(t, 123, DefaultPaginationOptions())
	require.NoError(t, pc.Open(context.Background()))

	view.SetScrollTop(40)
	anchor := view.topVisible()
	oldHeight := view.ScrollHeight()

	loaded, err := pc.OnScroll(context.Background(), 40)
	require.NoError(t, err)
	require.True(t, loaded)

	require.Len(t, engine.Items(), 100)
	assert.Equal(t, 40+(view.ScrollHeight()-oldHeight), view.ScrollTop())
	assert.Equal(t, anchor, view.topVisible())
}

func walkToStart(t *testing.T, pc *PaginationController, between func()) {
	t.Helper()
	for i := 0; pc.HasMore(); i++ {
		require.Less(t, i, 20, "pagination never ended")
		if between != nil {
			between()
		}
		_, err := pc.OnScroll(context.Background(), 0)
		require.NoError(t, err)
		// Move away from the top so the next call reads as upward.
		_, _ = pc.OnScroll(context.Background(), 500)
	}
}

func historyIDs(messages []*domain.Message) []uuid.UUID {
	ids := make([]uuid.UUID, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	return ids
}

func itemIDs(items []Item) []uuid.UUID {
	ids := make([]uuid.UUID, len(items))
	for i, it := range items {
		ids[i] = it.Message.ID
	}
	return ids
}

func TestPagesConcatenateToFullHistory(t *testing.T) {
	pc, engine, _, loader := newTestPagination(t, 123, DefaultPaginationOptions())
	require.NoError(t, pc.Open(context.Background()))

	walkToStart(t, pc, nil)

	assert.Equal(t, historyIDs(loader.history), itemIDs(engine.Items()))
	assert.Equal(t, []int{0, 50, 100}, []int{loader.queries[0].Offset, loader.queries[1].Offset, loader.queries[2].Offset})
}

func TestPagingUnderConcurrentInserts(t *testing.T) {
	for _, cursor := range []bool{false, true} {
		opts := DefaultPaginationOptions()
		opts.Cursor = cursor
		pc, engine, _, loader := newTestPagination(t, 123, opts)
		require.NoError(t, pc.Open(context.Background()))

		convID := engine.ConversationID()
		n := 0
		walkToStart(t, pc, func() {
			n++
			m := serverMessage(convID, uuid.New(), time.Hour+time.Duration(n)*time.Second, "live")
			loader.insert(m)
			engine.HandleEvent(pushed(m))
			engine.Flush()
		})

		assert.Equal(t, historyIDs(loader.history), itemIDs(engine.Items()), "cursor=%v", cursor)
	}
}

func TestConcurrentTriggersAreGuarded(t *testing.T) {
	pc, _, view, loader := newTestPagination(t, 123, DefaultPaginationOptions())
	require.NoError(t, pc.Open(context.Background()))

	var sawLoading bool
	view.onSetTop = func() { sawLoading = pc.Loading() }
	loader.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := pc.OnScroll(context.Background(), 50)
		done <- err
	}()
	require.Eventually(t, pc.Loading, time.Second, time.Millisecond)

	loaded, err := pc.OnScroll(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, loaded)

	close(loader.gate)
	require.NoError(t, <-done)
	assert.True(t, sawLoading, "flag must still be held while the anchor is restored")
	assert.False(t, pc.Loading())
	assert.Len(t, loader.queries, 2)
}

func TestFailedLoadReleasesGuard(t *testing.T) {
	pc, engine, _, loader := newTestPagination(t, 123, DefaultPaginationOptions())
	require.NoError(t, pc.Open(context.Background()))

	loader.fail = errors.New("network down")
	_, err := pc.OnScroll(context.Background(), 50)
	require.Error(t, err)
	assert.False(t, pc.Loading())
	assert.Len(t, engine.Items(), 50)

	_, _ = pc.OnScroll(context.Background(), 500)
	loaded, err := pc.OnScroll(context.Background(), 50)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Len(t, engine.Items(), 100)
}

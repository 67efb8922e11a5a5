package client

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"construction_chat/internal/domain"
	"construction_chat/pkg/logger"
)

const (
	DefaultPageSize     = 50
	DefaultTopThreshold = 100.0
)

// Viewport is the scrollable surface showing the message list. Heights
// reflect content already rendered through the engine's Observer.
type Viewport interface {
	ScrollTop() float64
	ScrollHeight() float64
	SetScrollTop(top float64)
	ScrollToBottom()
}

// PageLoader fetches one page of history, newest first.
type PageLoader interface {
	ListMessages(ctx context.Context, conversationID uuid.UUID, q PageQuery) (*MessagePage, error)
}

type PaginationOptions struct {
	PageSize int
	// TopThreshold is how close to the top an upward scroll must get.
	TopThreshold float64
	// Cursor pages by (createdAt, id) of the oldest loaded message instead
	// of by offset.
	Cursor bool
}

func DefaultPaginationOptions() PaginationOptions {
	return PaginationOptions{
		PageSize:     DefaultPageSize,
		TopThreshold: DefaultTopThreshold,
	}
}

// PaginationController loads history backward while keeping the content
// under the viewport in place.
type PaginationController struct {
	conversationID uuid.UUID
	loader         PageLoader
	engine         *ReconciliationEngine
	viewport       Viewport
	opts           PaginationOptions
	log            logger.Logger

	mu       sync.Mutex
	inFlight bool
	hasMore  bool
	offset   int
	oldest   *domain.Message
	lastTop  float64
}

func NewPaginationController(loader PageLoader, engine *ReconciliationEngine, viewport Viewport, opts PaginationOptions, log logger.Logger) *PaginationController {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.TopThreshold <= 0 {
		opts.TopThreshold = DefaultTopThreshold
	}
	return &PaginationController{
		conversationID: engine.ConversationID(),
		loader:         loader,
		engine:         engine,
		viewport:       viewport,
		opts:           opts,
		log:            log.With("conversation_id", engine.ConversationID()),
	}
}

// Open loads the newest page and pins the view to the bottom.
func (p *PaginationController) Open(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return nil
	}
	p.inFlight = true
	p.mu.Unlock()

	page, err := p.loader.ListMessages(ctx, p.conversationID, PageQuery{Limit: p.opts.PageSize})
	if err != nil {
		p.finish()
		return err
	}

	p.engine.Merge(page.Messages)
	p.viewport.ScrollToBottom()

	p.mu.Lock()
	p.advanceLocked(page)
	p.lastTop = p.viewport.ScrollTop()
	p.inFlight = false
	p.mu.Unlock()
	return nil
}

// HasMore reports whether the last page was full.
func (p *PaginationController) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

func (p *PaginationController) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// OnScroll is fed every scroll position. It loads the next older page when
// the user scrolls upward into the top threshold. loaded reports whether a
// page was fetched.
func (p *PaginationController) OnScroll(ctx context.Context, scrollTop float64) (loaded bool, err error) {
	p.mu.Lock()
	upward := scrollTop < p.lastTop
	p.lastTop = scrollTop
	if !upward || scrollTop > p.opts.TopThreshold || !p.hasMore || p.inFlight {
		p.mu.Unlock()
		return false, nil
	}
	p.inFlight = true
	query := p.nextQueryLocked()
	p.mu.Unlock()

	return true, p.loadOlder(ctx, query)
}

func (p *PaginationController) loadOlder(ctx context.Context, query PageQuery) error {
	p.engine.SetPaginating(true)
	oldTop := p.viewport.ScrollTop()
	oldHeight := p.viewport.ScrollHeight()

	page, err := p.loader.ListMessages(ctx, p.conversationID, query)
	if err != nil {
		p.finish()
		p.log.Warn("Loading older messages failed", "error", err)
		return err
	}

	p.engine.Merge(page.Messages)

	newHeight := p.viewport.ScrollHeight()
	p.viewport.SetScrollTop(oldTop + (newHeight - oldHeight))

	p.mu.Lock()
	p.advanceLocked(page)
	p.lastTop = p.viewport.ScrollTop()
	p.mu.Unlock()

	// Released only after the anchor is restored.
	p.finish()
	return nil
}

func (p *PaginationController) finish() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
	p.engine.SetPaginating(false)
}

func (p *PaginationController) nextQueryLocked() PageQuery {
	q := PageQuery{Limit: p.opts.PageSize}
	if p.opts.Cursor && p.oldest != nil {
		before := p.oldest.CreatedAt
		id := p.oldest.ID
		q.Before = &before
		q.BeforeID = &id
		return q
	}
	q.Offset = p.offset
	return q
}

// advanceLocked trusts the server's HasMore: it judges fullness against the
// limit it actually applied, which may be lower than PageSize.
func (p *PaginationController) advanceLocked(page *MessagePage) {
	p.offset += len(page.Messages)
	p.hasMore = page.HasMore
	for _, m := range page.Messages {
		if p.oldest == nil || m.Before(p.oldest) {
			p.oldest = m
		}
	}
}

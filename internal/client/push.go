package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"construction_chat/internal/domain"
	"construction_chat/pkg/logger"
)

// EventResync is emitted locally after a reconnect. Pushes sent while the
// socket was down are lost, so consumers pull fresh pages instead.
const EventResync domain.EventType = "client.resync"

type Resync struct {
	ConnectionID string
}

func (Resync) Type() domain.EventType { return EventResync }
func (Resync) Validate() error        { return nil }

var ErrNotConnected = errors.New("push connection is not established")

type PushOptions struct {
	URL         string
	Token       string
	Dialer      *websocket.Dialer
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	WriteWait   time.Duration
	EventBuffer int
	// OnConnected runs after every handshake with the new connection id.
	OnConnected func(connectionID string)
}

func DefaultPushOptions(url, token string) PushOptions {
	return PushOptions{
		URL:         url,
		Token:       token,
		Dialer:      websocket.DefaultDialer,
		MinBackoff:  500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		WriteWait:   10 * time.Second,
		EventBuffer: 256,
	}
}

// PushConn owns one logical push connection for the lifetime of Run. It
// redials with exponential backoff and restores conversation subscriptions.
type PushConn struct {
	opts PushOptions
	log  logger.Logger

	events chan domain.Event

	mu           sync.Mutex
	ws           *websocket.Conn
	connectionID string
	subs         map[uuid.UUID]struct{}

	writeMu sync.Mutex
}

func NewPushConn(opts PushOptions, log logger.Logger) *PushConn {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	defaults := DefaultPushOptions(opts.URL, opts.Token)
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaults.EventBuffer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaults.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = defaults.MaxBackoff
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	return &PushConn{
		opts:   opts,
		log:    log,
		events: make(chan domain.Event, opts.EventBuffer),
		subs:   make(map[uuid.UUID]struct{}),
	}
}

// Events is closed when Run returns.
func (p *PushConn) Events() <-chan domain.Event { return p.events }

func (p *PushConn) ConnectionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectionID
}

// Run connects and keeps reconnecting until ctx is done.
func (p *PushConn) Run(ctx context.Context) error {
	defer close(p.events)

	backoff := p.opts.MinBackoff
	resumed := false
	for {
		connected, err := p.serve(ctx, resumed)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			resumed = true
			backoff = p.opts.MinBackoff
		}
		p.log.Warn("Push connection lost, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.opts.MaxBackoff {
			backoff = p.opts.MaxBackoff
		}
	}
}

// serve runs one socket until it fails. connected reports whether the
// handshake completed.
func (p *PushConn) serve(ctx context.Context, resumed bool) (connected bool, err error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.opts.Token)

	ws, _, err := p.opts.Dialer.DialContext(ctx, p.opts.URL, header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	hello, err := readEvent(ws)
	if err != nil {
		return false, fmt.Errorf("handshake: %w", err)
	}
	welcome, ok := hello.(domain.Connected)
	if !ok {
		return false, fmt.Errorf("handshake: unexpected %s frame", hello.Type())
	}

	p.mu.Lock()
	p.ws = ws
	p.connectionID = welcome.ConnectionID
	subs := make([]uuid.UUID, 0, len(p.subs))
	for id := range p.subs {
		subs = append(subs, id)
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.ws = nil
		p.mu.Unlock()
	}()

	if p.opts.OnConnected != nil {
		p.opts.OnConnected(welcome.ConnectionID)
	}
	for _, id := range subs {
		if err := p.write(ws, domain.Subscribe{ConversationID: id}); err != nil {
			return true, err
		}
	}

	if !p.emit(ctx, welcome) {
		return true, ctx.Err()
	}
	if resumed && !p.emit(ctx, Resync{ConnectionID: welcome.ConnectionID}) {
		return true, ctx.Err()
	}

	for {
		event, err := readEvent(ws)
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || ctx.Err() != nil {
				return true, err
			}
			if _, ok := err.(frameError); ok {
				p.log.Warn("Dropping malformed push frame", "error", err)
				continue
			}
			return true, err
		}
		if !p.emit(ctx, event) {
			return true, ctx.Err()
		}
	}
}

func (p *PushConn) emit(ctx context.Context, event domain.Event) bool {
	select {
	case p.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// Subscribe joins a conversation channel now and after every reconnect.
func (p *PushConn) Subscribe(conversationID uuid.UUID) error {
	p.mu.Lock()
	p.subs[conversationID] = struct{}{}
	ws := p.ws
	p.mu.Unlock()

	if ws == nil {
		return nil
	}
	return p.write(ws, domain.Subscribe{ConversationID: conversationID})
}

func (p *PushConn) Unsubscribe(conversationID uuid.UUID) error {
	p.mu.Lock()
	delete(p.subs, conversationID)
	ws := p.ws
	p.mu.Unlock()

	if ws == nil {
		return nil
	}
	return p.write(ws, domain.Unsubscribe{ConversationID: conversationID})
}

func (p *PushConn) Ping() error {
	p.mu.Lock()
	ws := p.ws
	p.mu.Unlock()

	if ws == nil {
		return ErrNotConnected
	}
	return p.write(ws, domain.Ping{})
}

func (p *PushConn) write(ws *websocket.Conn, event domain.Event) error {
	data, err := domain.EncodeEvent(event)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(p.opts.WriteWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

type frameError struct{ error }

func readEvent(ws *websocket.Conn) (domain.Event, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	event, err := domain.DecodeEvent(data)
	if err != nil {
		return nil, frameError{err}
	}
	return event, nil
}

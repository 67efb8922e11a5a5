package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"construction_chat/pkg/logger"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrBufferFull       = errors.New("connection buffer exceeded")
)

// Socket is the part of *websocket.Conn a Connection drives.
type Socket interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Options struct {
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	MaxFrameSize int64
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:   256,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		MaxFrameSize: 64 << 10,
	}
}

// Connection is one push socket. Outbound frames go through a bounded queue
// drained by a single writer goroutine; a client that falls behind is dropped.
type Connection struct {
	id     string
	userID uuid.UUID

	ws   Socket
	opts Options
	log  logger.Logger

	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewConnection(userID uuid.UUID, ws Socket, opts Options, log logger.Logger) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:     id,
		userID: userID,
		ws:     ws,
		opts:   opts,
		log:    log.With("connection_id", id, "user_id", userID),
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Connection) ID() string        { return c.id }
func (c *Connection) UserID() uuid.UUID { return c.userID }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Start launches the write loop. Call it once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload without blocking.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.log.Warn("Dropping slow push connection")
		c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return ErrBufferFull
	}
}

func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// ReadLoop blocks reading client frames and hands each text frame to handle.
// It returns when the peer goes away or the connection is closed.
func (c *Connection) ReadLoop(handle func(data []byte)) error {
	c.ws.SetReadLimit(c.opts.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Push connection read failed", "error", err)
				return err
			}
			return nil
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		if messageType == websocket.TextMessage {
			handle(data)
		}
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.log.Debug("Push write failed", "error", err)
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

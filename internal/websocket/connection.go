package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is the transport surface a connection needs. *gorilla/websocket.Conn
// satisfies it; tests substitute an in-memory fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection wraps one WebSocket client. All writes go through a single
// writer goroutine so concurrent fan-outs never interleave frames on the
// underlying socket.
type Connection struct {
	id           string
	conn         Conn
	sendCh       chan []byte
	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps conn and starts its writer goroutine. sendBuffer
// bounds the outbound queue; writeTimeout applies per frame.
func NewConnection(conn Conn, sendBuffer int, writeTimeout time.Duration) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		sendCh:       make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

// ID identifies the connection in logs and the delivery journal.
func (c *Connection) ID() string { return c.id }

// IsOpen reports whether the close path has run. A connection that is
// closing is skipped by fan-out, never queued to.
func (c *Connection) IsOpen() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// Send enqueues one pre-encoded text frame. It never blocks: a closed
// connection returns ErrConnectionClosed, a saturated queue drops the
// frame and returns ErrSendBufferFull.
func (c *Connection) Send(frame []byte) error {
	if !c.IsOpen() {
		return ErrConnectionClosed
	}
	select {
	case c.sendCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close tears the connection down exactly once. Safe to call from any
// goroutine, including inside a fan-out iteration.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

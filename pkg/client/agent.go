// Package client implements the reconnecting notification agent embedded
// in dashboard frontends and back-office tools. It opens the notification
// WebSocket, sends the auth handshake, dispatches typed events to
// caller-supplied callbacks, and reconnects with a fixed delay after any
// close or error, indefinitely, until Close is called.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"linkdesk/pkg/types"
)

// State is the agent's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

// CacheInvalidator lets the embedding application evict stale query caches
// when a comment event arrives. Both methods may be called from the
// agent's read goroutine.
type CacheInvalidator interface {
	// InvalidateOrderComments evicts the comment list of one order.
	InvalidateOrderComments(orderID int64)
	// InvalidateOrders evicts the orders list (unread counts).
	InvalidateOrders()
}

// Config configures an Agent.
type Config struct {
	// URL is the notification endpoint, e.g.
	// wss://app.example.com/ws/notifications.
	URL string
	// Token is the signed session token presented on the upgrade.
	Token string
	// UserID and IsAdmin mirror the session identity; they populate the
	// auth handshake frame.
	UserID  int64
	IsAdmin bool

	// ReconnectDelay is the fixed wait before each reconnect attempt.
	// Zero means 5 seconds. There is no backoff and no retry cap.
	ReconnectDelay time.Duration

	// Invalidator is consulted on new_comment events. Optional.
	Invalidator CacheInvalidator
	// Alert surfaces a user-visible notice. Optional.
	Alert func(text string)

	// Typed callbacks, all optional. Handlers must tolerate duplicate
	// delivery of identical events.
	OnOrderStatus func(types.OrderStatusPayload)
	OnNewComment  func(types.CommentPayload)
	OnNewMessage  func(types.ChatMessage)

	// Dialer overrides the default gorilla dialer, mainly for tests.
	Dialer *websocket.Dialer
	Logger zerolog.Logger
}

// Agent is a reconnecting notification client. Create with New, start with
// Start, tear down with Close.
type Agent struct {
	cfg     Config
	dialURL string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	started bool
	state   State
	conn    *websocket.Conn
}

// New validates the configuration and prepares an agent. Start must be
// called to begin connecting.
func New(cfg Config) (*Agent, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse agent url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported agent url scheme %q", u.Scheme)
	}
	if cfg.Token != "" {
		q := u.Query()
		q.Set("token", cfg.Token)
		u.RawQuery = q.Encode()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		cfg:     cfg,
		dialURL: u.String(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// State returns the current connection state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Start launches the connect/read/reconnect loop in its own goroutine.
// Calling Start twice is a no-op.
func (a *Agent) Start() {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()
	go a.run()
}

// Close stops the agent: it cancels any pending reconnect timer and closes
// the live connection. After Close returns the loop has fully exited and
// no further reconnect will be attempted.
func (a *Agent) Close() error {
	a.cancel()

	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	started := a.started
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if started {
		<-a.done
	}
	return nil
}

// run cycles disconnected -> connecting -> open -> disconnected until the
// agent is closed. Each failed or terminated session schedules exactly one
// reconnect attempt after the fixed delay.
func (a *Agent) run() {
	defer close(a.done)

	for {
		a.setState(StateConnecting, nil)
		conn, err := a.dial()
		if err != nil {
			a.cfg.Logger.Warn().Err(err).Msg("notification connect failed")
			a.setState(StateDisconnected, nil)
			if !a.sleep() {
				return
			}
			continue
		}

		a.setState(StateOpen, conn)
		if err := a.sendAuth(conn); err != nil {
			a.cfg.Logger.Warn().Err(err).Msg("auth handshake send failed")
		} else {
			a.readLoop(conn)
		}
		// A read error does not close the underlying socket; do it here
		// so a dead session never outlives its cycle.
		_ = conn.Close()

		a.setState(StateDisconnected, nil)
		if a.ctx.Err() != nil {
			return
		}
		if !a.sleep() {
			return
		}
	}
}

func (a *Agent) dial() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()
	conn, _, err := a.cfg.Dialer.DialContext(dialCtx, a.dialURL, nil)
	return conn, err
}

// sendAuth emits the handshake frame. No acknowledgment is awaited.
func (a *Agent) sendAuth(conn *websocket.Conn) error {
	frame, err := types.Encode(types.NewAuthRequest(a.cfg.UserID, a.cfg.IsAdmin))
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop consumes server events until the connection dies.
func (a *Agent) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if a.ctx.Err() == nil {
				a.cfg.Logger.Debug().Err(err).Msg("notification connection lost")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		a.dispatch(data)
	}
}

// dispatch decodes one frame and fans it to the configured callbacks.
// Unknown event types are skipped for forward compatibility; malformed
// frames are logged and skipped.
func (a *Agent) dispatch(data []byte) {
	event, err := types.Decode(data)
	if err != nil {
		if errors.Is(err, types.ErrUnknownEventType) {
			return
		}
		a.cfg.Logger.Debug().Err(err).Msg("ignoring malformed notification frame")
		return
	}

	switch e := event.(type) {
	case types.OrderStatusEvent:
		a.alert(fmt.Sprintf("Order #%d status changed to %s", e.Payload.OrderID, e.Payload.Status))
		if a.cfg.OnOrderStatus != nil {
			a.cfg.OnOrderStatus(e.Payload)
		}
	case types.NewCommentEvent:
		if a.cfg.Invalidator != nil {
			a.cfg.Invalidator.InvalidateOrderComments(e.Payload.OrderID)
			a.cfg.Invalidator.InvalidateOrders()
		}
		a.alert(fmt.Sprintf("New comment on order #%d", e.Payload.OrderID))
		if a.cfg.OnNewComment != nil {
			a.cfg.OnNewComment(e.Payload)
		}
	case types.NewMessageEvent:
		a.alert(fmt.Sprintf("New message from %s", e.Message.SenderName))
		if a.cfg.OnNewMessage != nil {
			a.cfg.OnNewMessage(e.Message)
		}
	case types.AuthRequest:
		// Server never sends auth; ignore.
	}
}

func (a *Agent) alert(text string) {
	if a.cfg.Alert != nil {
		a.cfg.Alert(text)
	}
}

// sleep waits out the reconnect delay. It returns false when the agent was
// closed while waiting, which cancels the pending attempt.
func (a *Agent) sleep() bool {
	timer := time.NewTimer(a.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-a.ctx.Done():
		return false
	}
}

func (a *Agent) setState(s State, conn *websocket.Conn) {
	a.mu.Lock()
	// Close may have run between a successful dial and this store; it
	// snapshotted a nil conn, so the close duty falls to us. The read
	// loop then errors out immediately instead of blocking forever.
	if conn != nil && a.ctx.Err() != nil {
		_ = conn.Close()
	}
	a.state = s
	a.conn = conn
	a.mu.Unlock()
}

package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"linkdesk/internal/auth"
	"linkdesk/pkg/types"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from multiple tenant domains; origin
		// enforcement happens at the reverse proxy.
		return true
	},
}

// Options carries the transport tunables for accepted connections.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// Handler upgrades notification connections and runs their read pumps.
//
// The upgrade request must carry a verified session token; the connection
// is refused otherwise. After the upgrade the connection stays
// unaddressable until the client sends its auth frame, which registers the
// binding using the token's claims, never the client-supplied id.
type Handler struct {
	registry *Registry
	verifier *auth.TokenVerifier
	opts     Options
	log      zerolog.Logger
}

// NewHandler wires the upgrade endpoint to the registry.
func NewHandler(registry *Registry, verifier *auth.TokenVerifier, opts Options, log zerolog.Logger) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Handler{
		registry: registry,
		verifier: verifier,
		opts:     opts,
		log:      log.With().Str("component", "ws_handler").Logger(),
	}
}

// bearerToken extracts the session token from the token query parameter or
// the Authorization header. Browsers cannot set headers on a WebSocket
// handshake, so the query parameter is the common path.
func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ServeHTTP handles the upgrade request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade refused")
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	wsConn := NewConnection(conn, h.opts.SendBuffer, h.opts.WriteTimeout)
	h.log.Debug().
		Str("conn", wsConn.ID()).
		Int64("user_id", identity.UserID).
		Msg("connection upgraded")

	go h.readLoop(wsConn, conn, identity)
}

// readLoop owns the inbound side of one connection: keepalive, the auth
// handshake, and teardown. The registry entry is removed synchronously on
// the way out, so a closed connection is never a delivery candidate.
func (h *Handler) readLoop(wsConn *Connection, conn *websocket.Conn, identity auth.Identity) {
	defer func() {
		h.registry.Unregister(wsConn)
		_ = wsConn.Close()
	}()

	if err := conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(wsConn, conn)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("conn", wsConn.ID()).Msg("read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.handleFrame(wsConn, identity, data)
	}
}

// handleFrame processes one inbound frame. Malformed frames are logged and
// ignored; the connection stays open and unaddressable until a valid auth
// frame arrives.
func (h *Handler) handleFrame(wsConn *Connection, identity auth.Identity, data []byte) {
	event, err := types.Decode(data)
	if err != nil {
		h.log.Debug().Err(err).Str("conn", wsConn.ID()).Msg("ignoring malformed frame")
		return
	}

	req, ok := event.(types.AuthRequest)
	if !ok {
		// Clients only ever send auth; anything else is a client bug.
		h.log.Debug().
			Str("conn", wsConn.ID()).
			Str("type", event.EventType()).
			Msg("ignoring unexpected client event")
		return
	}

	// The claims win over whatever the client asserted. Re-sending auth
	// simply re-registers.
	if req.UserID != 0 && req.UserID != identity.UserID {
		h.log.Warn().
			Str("conn", wsConn.ID()).
			Int64("claimed", req.UserID).
			Int64("verified", identity.UserID).
			Msg("auth frame user id contradicts session token")
	}
	h.registry.Register(wsConn, identity.UserID, identity.IsAdmin)
}

// pingLoop keeps the transport alive so dead peers hit the read deadline
// and take the close path within one interval.
func (h *Handler) pingLoop(wsConn *Connection, conn *websocket.Conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = wsConn.Close()
				return
			}
		case <-wsConn.ctx.Done():
			return
		}
	}
}

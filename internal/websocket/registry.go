package websocket

import (
	"sync"

	"github.com/rs/zerolog"

	"linkdesk/internal/metrics"
	"linkdesk/pkg/types"
)

// Binding associates a live connection with its authenticated identity.
type Binding struct {
	UserID  int64
	IsAdmin bool
}

// Registry tracks which connections belong to which authenticated user.
// It is an injectable service object; tests create isolated instances.
//
// A connection appears at most once. A user may hold any number of
// connections (tabs, devices). Entries are removed synchronously on the
// connection's close path; nothing is persisted or shared across
// processes.
type Registry struct {
	mu     sync.RWMutex
	conns  map[*Connection]Binding
	byUser map[int64]map[*Connection]struct{}

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry. m may be nil in tests that do not
// assert on metrics.
func NewRegistry(log zerolog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		conns:   make(map[*Connection]Binding),
		byUser:  make(map[int64]map[*Connection]struct{}),
		log:     log.With().Str("component", "registry").Logger(),
		metrics: m,
	}
}

// Register inserts or overwrites the binding for conn. Re-registering the
// same connection just updates the binding.
func (r *Registry) Register(conn *Connection, userID int64, isAdmin bool) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	if prev, ok := r.conns[conn]; ok {
		r.dropIndex(conn, prev.UserID)
	} else if r.metrics != nil {
		r.metrics.Connections.Inc()
	}
	r.conns[conn] = Binding{UserID: userID, IsAdmin: isAdmin}
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.byUser[userID] = set
	}
	set[conn] = struct{}{}
	total := len(r.conns)
	r.mu.Unlock()

	r.log.Info().
		Str("conn", conn.ID()).
		Int64("user_id", userID).
		Bool("is_admin", isAdmin).
		Int("connections", total).
		Msg("connection registered")
}

// Unregister removes the binding for conn. Calling it for an unknown
// connection is a no-op, not an error.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	binding, ok := r.conns[conn]
	if ok {
		delete(r.conns, conn)
		r.dropIndex(conn, binding.UserID)
		if r.metrics != nil {
			r.metrics.Connections.Dec()
		}
	}
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.log.Info().
			Str("conn", conn.ID()).
			Int64("user_id", binding.UserID).
			Int("connections", total).
			Msg("connection unregistered")
	}
}

// dropIndex removes conn from the per-user index. Caller holds the lock.
func (r *Registry) dropIndex(conn *Connection, userID int64) {
	if set, ok := r.byUser[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ForEach applies fn to every binding matching pred. Iteration runs over a
// snapshot taken under the read lock, so fn may close connections (which
// re-enters the registry) without invalidating the walk, and a panic in fn
// for one entry does not abort the rest.
func (r *Registry) ForEach(pred func(Binding) bool, fn func(*Connection, Binding)) {
	for _, t := range r.snapshot(pred) {
		r.apply(fn, t.conn, t.binding)
	}
}

func (r *Registry) apply(fn func(*Connection, Binding), conn *Connection, b Binding) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("conn", conn.ID()).
				Interface("panic", rec).
				Msg("recovered panic during registry iteration")
		}
	}()
	fn(conn, b)
}

type target struct {
	conn    *Connection
	binding Binding
}

// snapshot collects matching connections under the read lock. Sends happen
// outside the lock: a send-triggered close takes the write lock on the
// same goroutine otherwise.
func (r *Registry) snapshot(pred func(Binding) bool) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]target, 0, len(r.conns))
	for conn, b := range r.conns {
		if pred == nil || pred(b) {
			out = append(out, target{conn: conn, binding: b})
		}
	}
	return out
}

// snapshotUser collects the user's connections straight from the per-user
// index, so a single-recipient send stays O(own connections) rather than a
// scan of every binding.
func (r *Registry) snapshotUser(userID int64) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	out := make([]target, 0, len(set))
	for conn := range set {
		out = append(out, target{conn: conn, binding: r.conns[conn]})
	}
	return out
}

// NotifyUser sends event to every open connection bound to userID and
// returns how many were actually notified. Zero means the user is offline,
// which is the normal case, not an error.
func (r *Registry) NotifyUser(userID int64, event types.Event) int {
	return r.deliver(event, r.snapshotUser(userID))
}

// NotifyAllAdmins sends event to every open admin connection and returns
// the count notified. Admins are a pool: whoever is online receives it.
func (r *Registry) NotifyAllAdmins(event types.Event) int {
	return r.deliver(event, r.snapshot(func(b Binding) bool { return b.IsAdmin }))
}

// deliver encodes the event once and fans it out best-effort: a failure on
// one connection is logged and counted, never propagated, and never stops
// delivery to the remaining recipients.
func (r *Registry) deliver(event types.Event, targets []target) int {
	frame, err := types.Encode(event)
	if err != nil {
		r.log.Error().Err(err).Str("type", event.EventType()).Msg("event encode failed")
		return 0
	}

	notified := 0
	for _, t := range targets {
		if !t.conn.IsOpen() {
			continue
		}
		if err := t.conn.Send(frame); err != nil {
			if r.metrics != nil {
				r.metrics.SendFailures.Inc()
			}
			r.log.Warn().
				Err(err).
				Str("conn", t.conn.ID()).
				Int64("user_id", t.binding.UserID).
				Str("type", event.EventType()).
				Msg("send failed")
			continue
		}
		notified++
	}

	if r.metrics != nil && notified > 0 {
		r.metrics.EventsDelivered.WithLabelValues(event.EventType()).Add(float64(notified))
	}
	return notified
}

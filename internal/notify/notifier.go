// Package notify encodes the addressing policy for business events: who
// receives an order-status change, a new comment, or a direct message.
// Delivery itself is best-effort and owned by the connection registry;
// composers decide only the audience.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"linkdesk/pkg/types"
)

// Delivery is the fan-out surface the composers address. The connection
// registry implements it; tests substitute a recording fake.
type Delivery interface {
	// NotifyUser delivers the event to every open connection of one user
	// and returns the count notified. Zero means offline, not failure.
	NotifyUser(userID int64, event types.Event) int
	// NotifyAllAdmins delivers the event to whichever admins are online.
	NotifyAllAdmins(event types.Event) int
}

// Recorder persists fan-out outcomes. The delivery journal implements it.
type Recorder interface {
	Record(ctx context.Context, eventType string, orderID int64, recipients int) error
}

// Result reports how many connections each audience received the event on.
type Result struct {
	Owner  int `json:"owner"`
	Admins int `json:"admins"`
	Author int `json:"author,omitempty"`
}

// Total sums all audiences.
func (r Result) Total() int { return r.Owner + r.Admins + r.Author }

// Notifier applies addressing policy for the dashboard's business events.
type Notifier struct {
	delivery Delivery
	journal  Recorder
	log      zerolog.Logger
}

// New builds a notifier. journal may be nil to disable recording.
func New(delivery Delivery, journal Recorder, log zerolog.Logger) *Notifier {
	return &Notifier{
		delivery: delivery,
		journal:  journal,
		log:      log.With().Str("component", "notifier").Logger(),
	}
}

// OrderStatusUpdate notifies the order owner and the admin pool that an
// order changed status. The owner is always notified, even when they
// triggered the change themselves.
func (n *Notifier) OrderStatusUpdate(ctx context.Context, orderID int64, status string, ownerUserID int64) Result {
	event := types.NewOrderStatusEvent(orderID, status)

	res := Result{
		Owner:  n.delivery.NotifyUser(ownerUserID, event),
		Admins: n.delivery.NotifyAllAdmins(event),
	}

	n.record(ctx, event.EventType(), orderID, res.Total())
	n.log.Info().
		Int64("order_id", orderID).
		Str("status", status).
		Int64("owner_user_id", ownerUserID).
		Int("notified", res.Total()).
		Msg("order status update fanned out")
	return res
}

// NewComment notifies the three parties of the support model:
//
//  1. the order owner, unless the owner wrote the comment themselves;
//  2. the admin pool, unless an admin wrote the comment;
//  3. always the comment author, so their other tabs and devices show the
//     comment without relying on local optimistic state.
//
// Step 3 is independent of the first two, so an author who is also the
// order owner receives exactly one copy (the owner send is suppressed),
// while an author distinct from the owner can legitimately appear in both
// the admin pool and the author send. Clients are idempotent to repeated
// identical events.
func (n *Notifier) NewComment(ctx context.Context, orderID int64, comment types.Comment, ownerUserID int64) Result {
	event := types.NewNewCommentEvent(orderID, comment)
	authorID := comment.AuthorID()

	var res Result
	if ownerUserID != authorID {
		res.Owner = n.delivery.NotifyUser(ownerUserID, event)
	}
	if !comment.AuthorIsAdmin() {
		res.Admins = n.delivery.NotifyAllAdmins(event)
	}
	res.Author = n.delivery.NotifyUser(authorID, event)

	n.record(ctx, event.EventType(), orderID, res.Total())
	n.log.Info().
		Int64("order_id", orderID).
		Int64("author_user_id", authorID).
		Int64("owner_user_id", ownerUserID).
		Bool("author_is_admin", comment.AuthorIsAdmin()).
		Int("notified", res.Total()).
		Msg("new comment fanned out")
	return res
}

// DirectMessage notifies a single user about a chat message.
func (n *Notifier) DirectMessage(ctx context.Context, recipientUserID int64, msg types.ChatMessage) Result {
	event := types.NewNewMessageEvent(msg)

	res := Result{Owner: n.delivery.NotifyUser(recipientUserID, event)}

	n.record(ctx, event.EventType(), 0, res.Total())
	n.log.Info().
		Int64("recipient_user_id", recipientUserID).
		Str("sender", msg.SenderName).
		Int("notified", res.Total()).
		Msg("direct message fanned out")
	return res
}

// record appends to the journal when one is configured. Journal errors are
// logged and swallowed: notification already happened and is best-effort
// relative to everything else.
func (n *Notifier) record(ctx context.Context, eventType string, orderID int64, recipients int) {
	if n.journal == nil {
		return
	}
	if err := n.journal.Record(ctx, eventType, orderID, recipients); err != nil {
		n.log.Warn().Err(err).Str("type", eventType).Msg("journal record failed")
	}
}

// Package types defines the wire-level event model shared by the server and
// the client agent. Events form a closed tagged union dispatched on the
// "type" field of the JSON envelope.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Event type tags as they appear on the wire.
const (
	EventAuth              = "auth"
	EventOrderStatusUpdate = "order_status_update"
	EventNewComment        = "new_comment"
	EventNewMessage        = "new_message"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingEventType = errors.New("missing event type")
)

// Event is one member of the closed union of wire events.
type Event interface {
	EventType() string
}

// AuthRequest is the only client-to-server event. It is sent once,
// immediately after connect, and registers the connection for delivery.
// The server takes the identity from the verified session token; the
// client-supplied fields exist for protocol compatibility and are checked
// against the claims, never trusted.
type AuthRequest struct {
	Type    string `json:"type"`
	UserID  int64  `json:"userId"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
}

func (AuthRequest) EventType() string { return EventAuth }

// NewAuthRequest builds the handshake frame sent on open.
func NewAuthRequest(userID int64, isAdmin bool) AuthRequest {
	return AuthRequest{Type: EventAuth, UserID: userID, IsAdmin: isAdmin}
}

// OrderStatusPayload carries a status transition for a single order.
type OrderStatusPayload struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

// OrderStatusEvent notifies the order owner and the admin pool that an
// order moved to a new status.
type OrderStatusEvent struct {
	Type    string             `json:"type"`
	Payload OrderStatusPayload `json:"payload"`
}

func (OrderStatusEvent) EventType() string { return EventOrderStatusUpdate }

func NewOrderStatusEvent(orderID int64, status string) OrderStatusEvent {
	return OrderStatusEvent{
		Type:    EventOrderStatusUpdate,
		Payload: OrderStatusPayload{OrderID: orderID, Status: status},
	}
}

// CommentAuthor mirrors the subset of the user record embedded in a comment.
type CommentAuthor struct {
	ID      int64  `json:"id"`
	Name    string `json:"name,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// Comment is the comment object relayed verbatim to clients. The author id
// lives in UserID with User.ID as fallback, matching what the order API
// produces.
type Comment struct {
	ID        int64          `json:"id,omitempty"`
	OrderID   int64          `json:"orderId,omitempty"`
	UserID    int64          `json:"userId,omitempty"`
	Content   string         `json:"content,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
	User      *CommentAuthor `json:"user,omitempty"`
}

// AuthorID resolves the comment author, preferring the flat userId field.
func (c Comment) AuthorID() int64 {
	if c.UserID != 0 {
		return c.UserID
	}
	if c.User != nil {
		return c.User.ID
	}
	return 0
}

// AuthorIsAdmin reports whether the embedded user record marks the author
// as an admin. Absent user record means non-admin.
func (c Comment) AuthorIsAdmin() bool {
	return c.User != nil && c.User.IsAdmin
}

// CommentPayload couples a comment with the order it belongs to.
type CommentPayload struct {
	OrderID int64   `json:"orderId"`
	Comment Comment `json:"comment"`
}

// NewCommentEvent notifies interested parties that a comment was added to
// an order.
type NewCommentEvent struct {
	Type    string         `json:"type"`
	Payload CommentPayload `json:"payload"`
}

func (NewCommentEvent) EventType() string { return EventNewComment }

func NewNewCommentEvent(orderID int64, comment Comment) NewCommentEvent {
	return NewCommentEvent{
		Type:    EventNewComment,
		Payload: CommentPayload{OrderID: orderID, Comment: comment},
	}
}

// ChatMessage is the direct-message body. Unlike the order events it rides
// under a "message" key, not "payload"; existing dashboard clients depend
// on that shape.
type ChatMessage struct {
	SenderID   int64  `json:"senderId,omitempty"`
	SenderName string `json:"senderName"`
	Body       string `json:"body,omitempty"`
}

// NewMessageEvent notifies a user about a direct chat message.
type NewMessageEvent struct {
	Type    string      `json:"type"`
	Message ChatMessage `json:"message"`
}

func (NewMessageEvent) EventType() string { return EventNewMessage }

func NewNewMessageEvent(msg ChatMessage) NewMessageEvent {
	return NewMessageEvent{Type: EventNewMessage, Message: msg}
}

// Encode serializes an event to a single UTF-8 JSON text frame. Fan-out
// callers encode once and reuse the bytes for every recipient.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.EventType(), err)
	}
	return data, nil
}

// envelope is the minimal probe used to dispatch on the type tag.
type envelope struct {
	Type string `json:"type"`
}

// Decode parses a wire frame into its concrete event type. Unknown tags
// return ErrUnknownEventType so receivers can skip them without treating
// the frame as malformed.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingEventType
	}

	switch env.Type {
	case EventAuth:
		var e AuthRequest
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode auth event: %w", err)
		}
		return e, nil
	case EventOrderStatusUpdate:
		var e OrderStatusEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode order status event: %w", err)
		}
		return e, nil
	case EventNewComment:
		var e NewCommentEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode comment event: %w", err)
		}
		return e, nil
	case EventNewMessage:
		var e NewMessageEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode message event: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}

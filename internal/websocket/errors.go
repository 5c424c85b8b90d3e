package websocket

import "errors"

var (
	// ErrConnectionClosed is returned when writing to a connection whose
	// close path has already run.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a client cannot drain its
	// outbound queue fast enough; the frame is dropped, not queued.
	ErrSendBufferFull = errors.New("send buffer full")
)

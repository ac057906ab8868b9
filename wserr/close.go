// Package wserr declares WebSocket error types and implements functions to
// pass WebSocket errors using context.
package wserr

import (
	"errors"
	"fmt"

	"nhooyr.io/websocket"
)

// CloseError represents a WebSocket close error.
//
// Higher layers attach the close code they want the connection to be closed
// with; the connection owner turns it into a close frame.
type CloseError struct {
	// Code is sent to the peer in the close frame.
	Code int

	// Reason is sent to the peer in the close frame.
	Reason string

	Err error
}

func (e CloseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d: %s: %s", e.Code, e.Reason, e.Err.Error())
	}

	return fmt.Sprintf("%d: %s", e.Code, e.Reason)
}

func (e CloseError) Unwrap() error {
	return e.Err
}

func (e CloseError) StatusCode() websocket.StatusCode {
	return websocket.StatusCode(e.Code)
}

// FromWebSocket extracts the close frame received from the peer out of an
// error returned by the websocket package.
//
// The second return value reports whether err actually carries a close frame.
func FromWebSocket(err error) (CloseError, bool) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return CloseError{
			Err:    err,
			Code:   int(ce.Code),
			Reason: ce.Reason,
		}, true
	}

	return CloseError{}, false
}

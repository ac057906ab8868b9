package wsclient

import (
	"context"
	"net/http"
	"time"

	"github.com/BFJOHAN/graphql-ws/wsproto"
)

const (
	defaultAckTimeout    = 3 * time.Second
	defaultRetryAttempts = 5
)

// Options configures a Client.
type Options struct {
	// URL of the server endpoint (http, https, ws or wss scheme).
	URL string

	// ConnectionParams produces the payload of the "connection_init" message.
	// It is consulted on every connection attempt.
	//
	// If ConnectionParams is nil, the message is sent without a payload.
	ConnectionParams func(ctx context.Context) (wsproto.ObjectPayload, error)

	// Eager makes the client connect as soon as it is created. The default is
	// lazy: the connection is established on the first Subscribe call and torn
	// down after the last operation completes.
	Eager bool

	// RetryAttempts is the number of reconnections attempted after a
	// retryable close before giving up.
	//
	// Defaults to 5. A negative value disables retries.
	RetryAttempts int

	// RetryWait returns the duration to wait before the given reconnection
	// attempt (starting at 0).
	//
	// Defaults to DefaultRetryWait.
	RetryWait func(attempt int) time.Duration

	// ShouldRetry reports whether the client should reconnect after its
	// connection ended with the given error.
	//
	// Defaults to DefaultShouldRetry.
	ShouldRetry func(err error) bool

	// Resubscribe restarts active operations after a reconnection, under
	// fresh ids. Operations that do not resubscribe receive the close event
	// through their sink's Error instead. Individual subscriptions may
	// override this with WithRetry.
	Resubscribe bool

	// AckTimeout is the duration to wait for the "connection_ack" message
	// before failing the connection attempt.
	//
	// Defaults to 3 seconds.
	AckTimeout time.Duration

	// If KeepAlive is set, a "ping" message is sent at the specified interval
	// while the connection is up.
	KeepAlive time.Duration

	// GenerateID produces operation ids. Generated ids colliding with a
	// currently active operation are discarded and regenerated.
	//
	// Defaults to UUID version 4 strings.
	GenerateID func() string

	// HTTPClient is used for the WebSocket handshake request.
	HTTPClient *http.Client

	// HTTPHeader is included in the WebSocket handshake request.
	HTTPHeader http.Header

	// Events receives connection lifecycle notifications.
	Events Events
}

// Events holds optional connection lifecycle hooks. Nil hooks are skipped.
type Events struct {
	// Connecting is called before each connection attempt.
	Connecting func()

	// Connected is called after the "connection_ack" message has been
	// received, with its payload.
	Connected func(payload wsproto.ObjectPayload)

	// Closed is called after the connection went down. The error is nil when
	// the client closed the connection itself.
	Closed func(err error)

	// Message is called for every inbound message once the connection is
	// ready.
	Message func(msg *wsproto.Message)
}

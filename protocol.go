package graphqlws

import (
	"net/http"

	"github.com/99designs/gqlgen/graphql"
	"nhooyr.io/websocket"
)

// Protocol is implemented by WebSocket protocols.
//
// A Protocol takes over a connection once the WebSocket handshake has
// completed and drives it until the socket closes.
type Protocol interface {
	// Name returns the WebSocket subprotocol name used by the
	// Sec-WebSocket-Protocol header.
	Name() string

	// Run is called after the request has been upgraded and the protocol has
	// been negotiated with the client.
	Run(*http.Request, *websocket.Conn, graphql.GraphExecutor)
}

// Package wsserver implements the server side of the graphql-transport-ws
// protocol described here: https://github.com/enisdenjo/graphql-ws.
//
// Protocol can be used as a graphqlws.Protocol or directly as a gqlgen
// transport.
package wsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/BFJOHAN/graphql-ws/internal/util"
	"github.com/BFJOHAN/graphql-ws/wsproto"
	"github.com/BFJOHAN/graphql-ws/wsutil"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"nhooyr.io/websocket"
)

const defaultInitTimeout = 3 * time.Second

// Protocol implements the graphql-transport-ws protocol on the server.
type Protocol struct {
	// InitFunc is called after receiving the "connection_init" message with
	// the WebSocket handshake HTTP request and the message payload.
	//
	// The returned Context, if not nil, is provided to GraphQL resolvers. When
	// the Context is done, the connection is also closed.
	//
	// The returned ObjectPayload, if not nil, is used as the payload for the
	// "connection_ack" message.
	//
	// If a non-nil error is returned, the connection is closed. A
	// wserr.CloseError specifies the close frame, any other error closes with
	// code 4403.
	//
	// If InitFunc is nil, all connections are accepted.
	InitFunc func(*http.Request, wsproto.ObjectPayload) (context.Context, wsproto.ObjectPayload, error)

	// SubscribeFunc is called after receiving a "subscribe" message, before
	// the operation is handed to the executor.
	//
	// The returned params, if not nil, replace the incoming ones. The
	// returned responses, if not nil, are sent as "next" messages followed by
	// "complete" without the document ever reaching the executor.
	//
	// If a non-nil error is returned, the operation fails with an "error"
	// message unless the error is a wserr.CloseError, in which case the
	// connection is closed.
	SubscribeFunc func(ctx context.Context, id string, params *graphql.RawParams) (*graphql.RawParams, []*graphql.Response, error)

	// NextFunc is called for every execution result before it is sent as a
	// "next" message. The returned response replaces the original one;
	// returning nil discards the result.
	NextFunc func(ctx context.Context, id string, resp *graphql.Response) *graphql.Response

	// ErrorFunc is called after an operation terminated with an "error"
	// message.
	ErrorFunc func(ctx context.Context, id string, errs gqlerror.List)

	// CompleteFunc is called after an operation terminated with a "complete"
	// message.
	CompleteFunc func(ctx context.Context, id string)

	// InitTimeout is the duration to wait for a "connection_init" message
	// before closing the connection.
	//
	// Defaults to 3 seconds.
	InitTimeout time.Duration

	// If PingInterval is set, a "ping" message is sent if no message is
	// received for the specified duration.
	PingInterval time.Duration

	// AcceptOptions defines options used during the WebSocket handshake.
	AcceptOptions websocket.AcceptOptions
}

var _ graphql.Transport = &Protocol{}

func (*Protocol) Supports(r *http.Request) bool {
	if !wsutil.IsUpgrade(r) {
		return false
	}

	if !util.HasHeader(r.Header, "Sec-WebSocket-Protocol") {
		return true
	}

	return util.HeaderContains(r.Header, "Sec-WebSocket-Protocol", wsproto.SubprotocolName)
}

func (p *Protocol) Do(w http.ResponseWriter, r *http.Request, exec graphql.GraphExecutor) {
	if len(p.AcceptOptions.Subprotocols) == 0 {
		p.AcceptOptions.Subprotocols = []string{wsproto.SubprotocolName}
	}

	c, err := websocket.Accept(w, r, &p.AcceptOptions)
	if err != nil {
		return
	}

	p.Run(r, c, exec)
}

func (*Protocol) Name() string {
	return wsproto.SubprotocolName
}

func (p *Protocol) Run(r *http.Request, c *websocket.Conn, exec graphql.GraphExecutor) {
	if p.InitTimeout.Nanoseconds() <= 0 {
		p.InitTimeout = defaultInitTimeout
	}

	conn := &connection{
		protocol: p,
		conn:     c,
		req:      r,
		ctx:      r.Context(),
		exec:     exec,
	}

	conn.close(conn.run())
}

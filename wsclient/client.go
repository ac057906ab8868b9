// Package wsclient implements the client side of the graphql-transport-ws
// protocol described here: https://github.com/enisdenjo/graphql-ws.
//
// A Client multiplexes any number of GraphQL operations over a single
// WebSocket connection. The connection is established lazily, kept alive
// while operations exist and re-established with exponential backoff after
// retryable failures.
package wsclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/BFJOHAN/graphql-ws/wserr"
	"github.com/BFJOHAN/graphql-ws/wsproto"
	"github.com/BFJOHAN/graphql-ws/wsproto/code"
	"github.com/google/uuid"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"nhooyr.io/websocket"
)

// ErrClosed is reported through a subscription's sink when the client has
// been closed.
var ErrClosed = errors.New("client closed")

// Client is a graphql-transport-ws client.
type Client struct {
	url           string
	eager         bool
	connParams    func(ctx context.Context) (wsproto.ObjectPayload, error)
	retryAttempts int
	retryWait     func(attempt int) time.Duration
	shouldRetry   func(err error) bool
	resubscribe   bool
	ackTimeout    time.Duration
	keepAlive     time.Duration
	generateID    func() string
	httpClient    *http.Client
	httpHeader    http.Header
	events        Events

	mutex   sync.Mutex
	subs    map[string]*subscription
	conn    *websocket.Conn
	ready   bool
	running bool
	closed  bool

	writeMutex sync.Mutex
}

// New creates a Client from the provided options.
func New(opts Options) *Client {
	c := &Client{
		url:           opts.URL,
		eager:         opts.Eager,
		connParams:    opts.ConnectionParams,
		retryAttempts: opts.RetryAttempts,
		retryWait:     opts.RetryWait,
		shouldRetry:   opts.ShouldRetry,
		resubscribe:   opts.Resubscribe,
		ackTimeout:    opts.AckTimeout,
		keepAlive:     opts.KeepAlive,
		generateID:    opts.GenerateID,
		httpClient:    opts.HTTPClient,
		httpHeader:    opts.HTTPHeader,
		events:        opts.Events,
		subs:          make(map[string]*subscription),
	}

	switch {
	case c.retryAttempts < 0:
		c.retryAttempts = 0
	case c.retryAttempts == 0:
		c.retryAttempts = defaultRetryAttempts
	}

	if c.retryWait == nil {
		c.retryWait = DefaultRetryWait
	}

	if c.shouldRetry == nil {
		c.shouldRetry = DefaultShouldRetry
	}

	if c.ackTimeout <= 0 {
		c.ackTimeout = defaultAckTimeout
	}

	if c.generateID == nil {
		c.generateID = uuid.NewString
	}

	if c.eager {
		c.mutex.Lock()
		c.ensureLoop()
		c.mutex.Unlock()
	}

	return c
}

// Subscribe registers an operation and returns its stop function.
//
// Subscribe never fails directly; every failure is delivered through the
// sink's Error. The stop function cancels the operation: it sends a
// "complete" message to the server and frees the id without invoking the
// sink. Calling it after a terminal outcome is a no-op.
func (c *Client) Subscribe(payload wsproto.SubscribePayload, sink Sink, opts ...SubscribeOption) (stop func()) {
	sub := &subscription{
		payload: payload,
		sink:    sink,
	}

	for _, opt := range opts {
		opt(sub)
	}

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()

		sink.error(ErrClosed)
		return func() {}
	}

	sub.id = c.newID()
	c.subs[sub.id] = sub

	conn, ready := c.conn, c.ready
	if ready {
		sub.sent = true
	}

	c.ensureLoop()
	c.mutex.Unlock()

	if ready {
		c.writeMessage(conn, &wsproto.Message{
			Id:   sub.id,
			Type: wsproto.SubscribeType,
		}, sub.payload)
	}

	return func() {
		c.unsubscribe(sub)
	}
}

// Close disposes the client. All active subscriptions are completed and the
// connection, if any, is closed normally.
func (c *Client) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}

	c.closed = true
	conn := c.conn

	completed := make([]Sink, 0, len(c.subs))
	for id, sub := range c.subs {
		delete(c.subs, id)
		sub.done = true
		completed = append(completed, sub.sink)
	}
	c.mutex.Unlock()

	for _, sink := range completed {
		sink.complete()
	}

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "Normal Closure")
	}
}

func (c *Client) unsubscribe(sub *subscription) {
	c.mutex.Lock()
	if sub.done {
		c.mutex.Unlock()
		return
	}

	sub.done = true
	delete(c.subs, sub.id)

	id := sub.id
	sent := sub.sent
	conn, ready := c.conn, c.ready
	last := len(c.subs) == 0
	c.mutex.Unlock()

	if !ready {
		return
	}

	if sent {
		c.writeMessage(conn, &wsproto.Message{
			Id:   id,
			Type: wsproto.CompleteType,
		}, nil)
	}

	if last && !c.eager {
		conn.Close(websocket.StatusNormalClosure, "Normal Closure")
	}
}

// ensureLoop starts the connection loop if it is not running. The caller must
// hold c.mutex.
func (c *Client) ensureLoop() {
	if c.running || c.closed {
		return
	}

	c.running = true

	go c.run()
}

func (c *Client) run() {
	attempt := 0

	for {
		c.mutex.Lock()
		if c.closed || (!c.eager && len(c.subs) == 0) {
			c.running = false
			c.mutex.Unlock()
			return
		}
		c.mutex.Unlock()

		acked, err := c.session()
		if acked {
			attempt = 0
		}

		if err == nil {
			continue
		}

		c.mutex.Lock()
		closed := c.closed
		c.mutex.Unlock()

		if closed {
			continue
		}

		if c.retryAttempts == 0 || attempt >= c.retryAttempts || !c.shouldRetry(err) {
			c.failAll(err)

			c.mutex.Lock()
			if len(c.subs) == 0 {
				c.running = false
				c.mutex.Unlock()
				return
			}
			c.mutex.Unlock()

			attempt = 0
			continue
		}

		c.failNonRetrying(err)

		time.Sleep(c.retryWait(attempt))
		attempt++
	}
}

// session runs a single connection from dial to close. It reports whether
// the handshake was acknowledged and the reason the connection ended.
func (c *Client) session() (acked bool, err error) {
	if c.events.Connecting != nil {
		c.events.Connecting()
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), c.ackTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPClient:   c.httpClient,
		HTTPHeader:   c.httpHeader,
		Subprotocols: []string{wsproto.SubprotocolName},
	})
	cancel()
	if err != nil {
		return false, err
	}

	ackPayload, err := c.handshake(conn)
	if err != nil {
		if c.events.Closed != nil {
			c.events.Closed(err)
		}

		return false, err
	}

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()

		conn.Close(websocket.StatusNormalClosure, "Normal Closure")
		return true, nil
	}

	c.conn = conn
	c.ready = true

	pending := make([]*subscription, 0, len(c.subs))
	for id, sub := range c.subs {
		if sub.sent {
			delete(c.subs, id)
			sub.id = c.newID()
			c.subs[sub.id] = sub
		}

		sub.sent = true
		pending = append(pending, sub)
	}
	c.mutex.Unlock()

	if c.events.Connected != nil {
		c.events.Connected(ackPayload)
	}

	for _, sub := range pending {
		err := c.writeMessage(conn, &wsproto.Message{
			Id:   sub.id,
			Type: wsproto.SubscribeType,
		}, sub.payload)
		if err != nil {
			break
		}
	}

	stopPing := make(chan struct{})
	if c.keepAlive > 0 {
		go c.keepalive(conn, stopPing)
	}

	err = c.pump(conn)

	close(stopPing)

	c.mutex.Lock()
	c.conn = nil
	c.ready = false
	if len(c.subs) == 0 {
		err = nil
	}
	c.mutex.Unlock()

	if c.events.Closed != nil {
		c.events.Closed(err)
	}

	return true, err
}

// handshake sends connection_init and waits for connection_ack under the ack
// timeout.
func (c *Client) handshake(conn *websocket.Conn) (wsproto.ObjectPayload, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ackTimeout)
	defer cancel()

	var params wsproto.ObjectPayload
	if c.connParams != nil {
		var err error

		params, err = c.connParams(ctx)
		if err != nil {
			conn.Close(websocket.StatusNormalClosure, "Normal Closure")
			return nil, err
		}
	}

	err := c.writeMessage(conn, &wsproto.Message{
		Type: wsproto.ConnectionInitType,
	}, params)
	if err != nil {
		return nil, err
	}

	msg, err := c.readMessage(ctx, conn)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			ce := wserr.CloseError{
				Code:   code.BadRequest,
				Reason: "Connection acknowledgement timeout",
			}
			conn.Close(ce.StatusCode(), ce.Reason)
			return nil, ce
		}

		if ce, ok := wserr.FromWebSocket(err); ok {
			return nil, ce
		}

		var ce wserr.CloseError
		if errors.As(err, &ce) {
			conn.Close(ce.StatusCode(), ce.Reason)
		}

		return nil, err
	}

	if msg.Type != wsproto.ConnectionAckType {
		ce := wserr.CloseError{
			Code:   code.BadRequest,
			Reason: "First message must be connection_ack",
		}
		conn.Close(ce.StatusCode(), ce.Reason)
		return nil, ce
	}

	var ackPayload wsproto.ObjectPayload

	err = wsproto.DecodePayload(msg.Payload, &ackPayload)
	if err != nil {
		var ce wserr.CloseError
		if errors.As(err, &ce) {
			conn.Close(ce.StatusCode(), ce.Reason)
		}

		return nil, err
	}

	return ackPayload, nil
}

// pump dispatches inbound messages until the connection ends. It returns nil
// after a local lazy teardown.
func (c *Client) pump(conn *websocket.Conn) error {
	for {
		msg, err := c.readMessage(context.Background(), conn)
		if err != nil {
			if ce, ok := wserr.FromWebSocket(err); ok {
				return ce
			}

			var ce wserr.CloseError
			if errors.As(err, &ce) {
				conn.Close(ce.StatusCode(), ce.Reason)
			}

			return err
		}

		if c.events.Message != nil {
			c.events.Message(msg)
		}

		switch msg.Type {
		case wsproto.NextType:
			var result wsproto.ExecutionResult

			err := wsproto.DecodePayload(msg.Payload, &result)
			if err != nil {
				var ce wserr.CloseError
				if errors.As(err, &ce) {
					conn.Close(ce.StatusCode(), ce.Reason)
				}

				return err
			}

			c.dispatchNext(msg.Id, result)
		case wsproto.ErrorType:
			var errs gqlerror.List

			err := wsproto.DecodePayload(msg.Payload, &errs)
			if err != nil {
				var ce wserr.CloseError
				if errors.As(err, &ce) {
					conn.Close(ce.StatusCode(), ce.Reason)
				}

				return err
			}

			c.finish(msg.Id, func(sink Sink) {
				sink.error(errs)
			})
		case wsproto.CompleteType:
			c.finish(msg.Id, func(sink Sink) {
				sink.complete()
			})
		case wsproto.PingType:
			c.writeMessage(conn, &wsproto.Message{
				Type: wsproto.PongType,
			}, msg.Payload)
		case wsproto.PongType:
		default:
			ce := wserr.CloseError{
				Code:   code.BadRequest,
				Reason: "Invalid message",
			}
			conn.Close(ce.StatusCode(), ce.Reason)
			return ce
		}

		if c.lazyIdle() {
			conn.Close(websocket.StatusNormalClosure, "Normal Closure")
			return nil
		}
	}
}

func (c *Client) lazyIdle() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return !c.eager && !c.closed && len(c.subs) == 0
}

func (c *Client) dispatchNext(id string, result wsproto.ExecutionResult) {
	c.mutex.Lock()
	sub := c.subs[id]
	if sub == nil || sub.done {
		c.mutex.Unlock()
		return
	}
	sink := sub.sink
	c.mutex.Unlock()

	sink.next(result)
}

// finish delivers the terminal outcome for an operation and frees its id.
// Unknown ids are ignored.
func (c *Client) finish(id string, deliver func(Sink)) {
	c.mutex.Lock()
	sub := c.subs[id]
	if sub == nil || sub.done {
		c.mutex.Unlock()
		return
	}

	sub.done = true
	delete(c.subs, id)
	sink := sub.sink
	c.mutex.Unlock()

	deliver(sink)
}

func (c *Client) failAll(err error) {
	c.mutex.Lock()
	failed := make([]Sink, 0, len(c.subs))
	for id, sub := range c.subs {
		delete(c.subs, id)
		sub.done = true
		failed = append(failed, sub.sink)
	}
	c.mutex.Unlock()

	for _, sink := range failed {
		sink.error(err)
	}
}

func (c *Client) failNonRetrying(err error) {
	c.mutex.Lock()
	var failed []Sink
	for id, sub := range c.subs {
		if sub.resubscribes(c.resubscribe) {
			continue
		}

		delete(c.subs, id)
		sub.done = true
		failed = append(failed, sub.sink)
	}
	c.mutex.Unlock()

	for _, sink := range failed {
		sink.error(err)
	}
}

func (c *Client) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(c.keepAlive)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			err := c.writeMessage(conn, &wsproto.Message{
				Type: wsproto.PingType,
			}, nil)
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) readMessage(ctx context.Context, conn *websocket.Conn) (*wsproto.Message, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}

	return wsproto.Parse(data)
}

func (c *Client) writeMessage(conn *websocket.Conn, msg *wsproto.Message, payload interface{}) error {
	var err error

	msg.Payload, err = wsproto.EncodePayload(payload)
	if err != nil {
		return err
	}

	data, err := wsproto.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	return conn.Write(context.Background(), websocket.MessageText, data)
}

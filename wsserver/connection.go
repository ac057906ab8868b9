package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/BFJOHAN/graphql-ws/internal/util"
	"github.com/BFJOHAN/graphql-ws/wserr"
	"github.com/BFJOHAN/graphql-ws/wsproto"
	"github.com/BFJOHAN/graphql-ws/wsproto/code"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"nhooyr.io/websocket"
)

// phase is the connection state. It is owned by the reader goroutine; inbound
// handlers branch on it before looking at the message type.
type phase int

const (
	phaseAwaitingAck phase = iota
	phaseReady
)

type connection struct {
	protocol *Protocol
	conn     *websocket.Conn
	req      *http.Request
	ctx      context.Context
	exec     graphql.GraphExecutor

	phase             phase
	initReceived      bool
	initReceivedMutex sync.Mutex

	// writeMutex serializes outbound frames. Operation goroutines interleave
	// on message boundaries only.
	writeMutex sync.Mutex

	operations      map[string]context.CancelFunc
	operationsMutex sync.RWMutex
}

func (c *connection) run() error {
	c.phase = phaseAwaitingAck
	c.operations = make(map[string]context.CancelFunc)

	initCtx, initCancel := context.WithTimeout(c.req.Context(), c.protocol.InitTimeout)
	defer initCancel()

	go c.initTimeout(initCtx)

	var pingTicker *time.Ticker

	if c.protocol.PingInterval.Nanoseconds() > 0 {
		pingTicker = time.NewTicker(c.protocol.PingInterval)

		go c.ping(pingTicker)
	}

	for {
		msg, err := c.readMessage()
		if err != nil {
			return err
		}

		if pingTicker != nil {
			pingTicker.Reset(c.protocol.PingInterval)
		}

		switch c.phase {
		case phaseAwaitingAck:
			switch msg.Type {
			case wsproto.ConnectionInitType:
				err = c.init(msg.Payload)
				if err != nil {
					return err
				}

				initCancel()
			case wsproto.PingType:
				err = c.pong(msg.Payload)
				if err != nil {
					return err
				}
			case wsproto.PongType:
			case wsproto.SubscribeType, wsproto.NextType, wsproto.ErrorType, wsproto.CompleteType:
				return wserr.CloseError{
					Code:   code.Unauthorized,
					Reason: "Unauthorized",
				}
			default:
				return wserr.CloseError{
					Code:   code.BadRequest,
					Reason: "Invalid message",
				}
			}
		case phaseReady:
			switch msg.Type {
			case wsproto.ConnectionInitType:
				return wserr.CloseError{
					Code:   code.TooManyInitialisationRequests,
					Reason: "Too many initialisation requests",
				}
			case wsproto.PingType:
				err = c.pong(msg.Payload)
				if err != nil {
					return err
				}
			case wsproto.PongType:
			case wsproto.SubscribeType:
				err = c.subscribe(msg.Id, msg.Payload)
				if err != nil {
					return err
				}
			case wsproto.CompleteType:
				c.stop(msg.Id)
			default:
				return wserr.CloseError{
					Code:   code.BadRequest,
					Reason: "Invalid message",
				}
			}
		}
	}
}

func (c *connection) init(payload json.RawMessage) error {
	c.initReceivedMutex.Lock()
	c.initReceived = true
	c.initReceivedMutex.Unlock()

	var ackPayload wsproto.ObjectPayload

	initFunc := c.protocol.InitFunc
	if initFunc != nil {
		var initPayload wsproto.ObjectPayload

		err := wsproto.DecodePayload(payload, &initPayload)
		if err != nil {
			return err
		}

		ctx, payload, err := initFunc(c.req, initPayload)
		if err != nil {
			var ce wserr.CloseError
			if errors.As(err, &ce) {
				return ce
			}

			return wserr.CloseError{
				Err:    err,
				Code:   code.Forbidden,
				Reason: "Forbidden",
			}
		}

		if ctx != nil && ctx != c.ctx {
			go c.authTimeout(ctx)

			c.ctx = ctx
		}

		ackPayload = payload
	}

	err := c.writeMessage(&wsproto.Message{
		Type: wsproto.ConnectionAckType,
	}, ackPayload)
	if err != nil {
		return err
	}

	c.phase = phaseReady

	return nil
}

func (c *connection) subscribe(id string, payload json.RawMessage) error {
	var params *graphql.RawParams

	ctx := graphql.StartOperationTrace(c.ctx)
	start := graphql.Now()

	if err := wsproto.DecodePayload(payload, &params, wsproto.UseNumber); err != nil {
		return err
	}

	if params == nil {
		return wserr.CloseError{
			Code:   code.BadRequest,
			Reason: "Invalid payload",
		}
	}

	params.ReadTime = graphql.TraceTiming{
		Start: start,
		End:   graphql.Now(),
	}

	c.operationsMutex.Lock()
	if _, ok := c.operations[id]; ok {
		c.operationsMutex.Unlock()

		return wserr.CloseError{
			Code:   code.SubscriberAlreadyExists,
			Reason: fmt.Sprintf("Subscriber for %s already exists", id),
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.operations[id] = cancel
	c.operationsMutex.Unlock()

	subscribeFunc := c.protocol.SubscribeFunc
	if subscribeFunc != nil {
		newParams, results, err := subscribeFunc(ctx, id, params)
		if err != nil {
			var ce wserr.CloseError
			if errors.As(err, &ce) {
				return ce
			}

			c.operationError(ctx, id, util.GetErrorList(err))
			return nil
		}

		if results != nil {
			go c.sendResults(ctx, id, results)
			return nil
		}

		if newParams != nil {
			params = newParams
		}
	}

	rc, err := c.exec.CreateOperationContext(ctx, params)
	if err != nil {
		resp := c.exec.DispatchError(graphql.WithOperationContext(ctx, rc), err)
		c.operationError(ctx, id, resp.Errors)
		return nil
	}

	go c.executeOperation(ctx, rc, id)

	return nil
}

func (c *connection) stop(id string) {
	c.operationsMutex.Lock()
	cancel := c.operations[id]
	delete(c.operations, id)
	c.operationsMutex.Unlock()

	if cancel != nil {
		cancel()
	}
}

// sendResults streams precomputed responses for an operation that bypassed
// the executor.
func (c *connection) sendResults(ctx context.Context, id string, responses []*graphql.Response) {
	for _, resp := range responses {
		c.operationResponse(ctx, id, resp)
	}

	c.operationComplete(ctx, id)
}

func (c *connection) executeOperation(ctx context.Context, rc *graphql.OperationContext, id string) {
	ctx = wserr.PrepareOperationContext(ctx)

	responses, ctx := c.exec.DispatchOperation(ctx, rc)

	err := wserr.GetOperationError(ctx)
	if err == nil {
		for {
			response := responses(ctx)
			if response == nil {
				break
			}

			c.operationResponse(ctx, id, response)
		}

		err = wserr.GetOperationError(ctx)
	}

	if err != nil {
		var ce wserr.CloseError
		if errors.As(err, &ce) {
			c.close(ce)
			return
		}

		resp := c.exec.DispatchError(graphql.WithOperationContext(ctx, rc), util.GetErrorList(err))
		c.operationError(ctx, id, resp.Errors)
		return
	}

	c.operationComplete(ctx, id)
}

func (c *connection) operationResponse(ctx context.Context, id string, resp *graphql.Response) {
	c.operationsMutex.RLock()
	_, ok := c.operations[id]
	c.operationsMutex.RUnlock()

	if !ok {
		return
	}

	nextFunc := c.protocol.NextFunc
	if nextFunc != nil {
		resp = nextFunc(ctx, id, resp)
		if resp == nil {
			return
		}
	}

	err := c.writeMessage(&wsproto.Message{
		Id:   id,
		Type: wsproto.NextType,
	}, resp)
	if err != nil {
		c.close(err)
	}
}

func (c *connection) operationComplete(ctx context.Context, id string) {
	c.operationsMutex.Lock()
	cancel, ok := c.operations[id]
	delete(c.operations, id)
	c.operationsMutex.Unlock()

	if !ok {
		return
	}

	cancel()

	err := c.writeMessage(&wsproto.Message{
		Id:   id,
		Type: wsproto.CompleteType,
	}, nil)
	if err != nil {
		c.close(err)
		return
	}

	completeFunc := c.protocol.CompleteFunc
	if completeFunc != nil {
		completeFunc(ctx, id)
	}
}

func (c *connection) operationError(ctx context.Context, id string, errs gqlerror.List) {
	c.operationsMutex.Lock()
	cancel, ok := c.operations[id]
	delete(c.operations, id)
	c.operationsMutex.Unlock()

	if !ok {
		return
	}

	cancel()

	err := c.writeMessage(&wsproto.Message{
		Id:   id,
		Type: wsproto.ErrorType,
	}, errs)
	if err != nil {
		c.close(err)
		return
	}

	errorFunc := c.protocol.ErrorFunc
	if errorFunc != nil {
		errorFunc(ctx, id, errs)
	}
}

func (c *connection) initTimeout(ctx context.Context) {
	<-ctx.Done()

	c.initReceivedMutex.Lock()
	defer c.initReceivedMutex.Unlock()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.initReceived {
		c.close(wserr.CloseError{
			Code:   code.ConnectionInitialisationTimeout,
			Reason: "Connection initialisation timeout",
		})
	}
}

func (c *connection) authTimeout(ctx context.Context) {
	select {
	case <-ctx.Done():
		err := wserr.GetTimeoutError(ctx)

		var ce wserr.CloseError
		if !errors.As(err, &ce) {
			ce = wserr.CloseError{
				Code:   code.Unauthorized,
				Reason: "Authorization timed out",
			}
		}

		c.close(ce)
	case <-c.req.Context().Done():
	}
}

func (c *connection) ping(t *time.Ticker) {
	for {
		select {
		case <-c.req.Context().Done():
			return
		case <-t.C:
			err := c.writeMessage(&wsproto.Message{
				Type: wsproto.PingType,
			}, nil)
			if err != nil {
				c.close(err)
			}
		}
	}
}

func (c *connection) pong(payload json.RawMessage) error {
	return c.writeMessage(&wsproto.Message{
		Type: wsproto.PongType,
	}, payload)
}

func (c *connection) close(err error) {
	if err == nil {
		c.conn.Close(websocket.StatusNormalClosure, "Normal Closure")
		return
	}

	var ce wserr.CloseError
	if !errors.As(err, &ce) {
		c.conn.Close(websocket.StatusInternalError, "Error")
		return
	}

	c.conn.Close(ce.StatusCode(), ce.Reason)
}

func (c *connection) readMessage() (*wsproto.Message, error) {
	_, data, err := c.conn.Read(c.req.Context())
	if err != nil {
		return nil, err
	}

	return wsproto.Parse(data)
}

func (c *connection) writeMessage(msg *wsproto.Message, payload interface{}) error {
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

	return c.conn.Write(c.req.Context(), websocket.MessageText, data)
}

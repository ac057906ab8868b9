package wsclient

import (
	"github.com/BFJOHAN/graphql-ws/wsproto"
)

// Sink receives the results of one operation. Nil functions are skipped.
//
// The client invokes at most one of Error or Complete per subscription and
// never invokes Next afterwards.
type Sink struct {
	// Next is called for every execution result.
	Next func(result wsproto.ExecutionResult)

	// Error is called when the operation fails. It receives a gqlerror.List
	// for GraphQL errors reported by the server, a wserr.CloseError when the
	// connection went down with a close frame before the operation completed,
	// or a plain transport error (a dial or handshake failure, or ErrClosed)
	// when no close frame was involved.
	Error func(err error)

	// Complete is called when the server completes the operation, and for
	// every still active operation when the client is closed.
	Complete func()
}

func (s Sink) next(result wsproto.ExecutionResult) {
	if s.Next != nil {
		s.Next(result)
	}
}

func (s Sink) error(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

func (s Sink) complete() {
	if s.Complete != nil {
		s.Complete()
	}
}

// SubscribeOption customizes a single subscription.
type SubscribeOption func(*subscription)

// WithRetry overrides the client's Resubscribe setting for one subscription.
func WithRetry(retry bool) SubscribeOption {
	return func(s *subscription) {
		s.retry = &retry
	}
}

type subscription struct {
	id      string
	payload wsproto.SubscribePayload
	sink    Sink

	retry *bool

	// sent reports whether the subscribe message went out on some connection;
	// a resubscription after that point needs a fresh id.
	sent bool

	// done blocks any further sink invocation.
	done bool
}

func (s *subscription) resubscribes(fallback bool) bool {
	if s.retry != nil {
		return *s.retry
	}

	return fallback
}

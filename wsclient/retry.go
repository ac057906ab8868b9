package wsclient

import (
	"errors"
	"math/rand"
	"time"

	"github.com/BFJOHAN/graphql-ws/wserr"
)

const (
	retryWaitBase   = time.Second
	retryWaitCap    = 7 * time.Second
	retryWaitJitter = 700 * time.Millisecond
)

// DefaultRetryWait doubles the wait on every attempt, capped at 7 seconds,
// with up to 700ms of jitter.
func DefaultRetryWait(attempt int) time.Duration {
	wait := retryWaitBase
	for i := 0; i < attempt && wait < retryWaitCap; i++ {
		wait *= 2
	}

	if wait > retryWaitCap {
		wait = retryWaitCap
	}

	return wait + time.Duration(rand.Int63n(int64(retryWaitJitter)))
}

// DefaultShouldRetry reports whether the client should reconnect after its
// connection ended with err.
//
// Transport failures without a close frame are retried. Close frames are
// retried unless their code is fatal per IsFatalCloseCode.
func DefaultShouldRetry(err error) bool {
	var ce wserr.CloseError
	if !errors.As(err, &ce) {
		return true
	}

	return !IsFatalCloseCode(ce.Code)
}

// IsFatalCloseCode reports whether a close code rules out reconnecting:
// normal and going-away closures, internal errors, the protocol violation
// codes 4400, 4401, 4409 and 4429, and all application codes from 4500
// through 4999.
func IsFatalCloseCode(code int) bool {
	switch code {
	case 1000, 1001, 1011, 4400, 4401, 4409, 4429:
		return true
	}

	return code >= 4500 && code <= 4999
}

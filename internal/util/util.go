// Package util implements helpers shared by the WebSocket transport
// packages.
package util

import (
	"errors"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// HasHeader reports whether the header is present, regardless of its value.
func HasHeader(h http.Header, name string) bool {
	name = textproto.CanonicalMIMEHeaderKey(name)
	return len(h[name]) > 0
}

// HeaderContains reports whether one of the header's comma-separated values
// equals value. Comparison is case-insensitive.
func HeaderContains(h http.Header, name string, value string) bool {
	for _, t := range HeaderValues(h, name) {
		if strings.EqualFold(t, value) {
			return true
		}
	}

	return false
}

// HeaderValues returns all values of a header, splitting comma-separated
// lists.
func HeaderValues(h http.Header, name string) []string {
	name = textproto.CanonicalMIMEHeaderKey(name)

	var values []string
	for _, l := range h[name] {
		for _, v := range strings.Split(l, ",") {
			values = append(values, strings.TrimSpace(v))
		}
	}

	return values
}

// GetErrorList coerces an error into a gqlerror.List suitable for an "error"
// message payload.
func GetErrorList(err error) gqlerror.List {
	if err == nil {
		return nil
	}

	var list gqlerror.List
	if errors.As(err, &list) {
		return list
	}

	var gerr *gqlerror.Error
	if errors.As(err, &gerr) {
		return append(list, gerr)
	}

	return append(list, gqlerror.WrapPath(nil, err))
}

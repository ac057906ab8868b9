package wsproto

import (
	"encoding/json"
	"strings"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ObjectPayload represents object-typed data, such as the payloads of the
// connection_init and connection_ack messages.
type ObjectPayload map[string]interface{}

// String returns the value associated with the specified key.
//
// Key comparison is case-insensitive.
func (p ObjectPayload) String(key string) string {
	for k, v := range p {
		if strings.EqualFold(k, key) {
			value, _ := v.(string)
			return value
		}
	}

	return ""
}

// SubscribePayload is the payload of a subscribe message.
type SubscribePayload struct {
	OperationName string                 `json:"operationName,omitempty"`
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

// ExecutionResult is the payload of a next message.
type ExecutionResult struct {
	Data       json.RawMessage        `json:"data,omitempty"`
	Errors     gqlerror.List          `json:"errors,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

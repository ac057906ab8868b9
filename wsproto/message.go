// Package wsproto implements the graphql-transport-ws message codec shared by
// the server and client sides of the protocol.
package wsproto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BFJOHAN/graphql-ws/wserr"
	"github.com/BFJOHAN/graphql-ws/wsproto/code"
)

// SubprotocolName is the WebSocket subprotocol identifier negotiated during
// the handshake.
const SubprotocolName = "graphql-transport-ws"

// MessageType discriminates protocol messages.
type MessageType string

const (
	ConnectionInitType = MessageType("connection_init")
	ConnectionAckType  = MessageType("connection_ack")
	PingType           = MessageType("ping")
	PongType           = MessageType("pong")
	SubscribeType      = MessageType("subscribe")
	NextType           = MessageType("next")
	ErrorType          = MessageType("error")
	CompleteType       = MessageType("complete")
)

// Message is the envelope exchanged over the socket as a text frame.
//
// Id is present on operation-scoped messages (subscribe, next, error,
// complete) and absent on connection-scoped ones.
type Message struct {
	Id      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes a message for transmission.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Parse decodes a text frame and validates the shape of the resulting
// message.
//
// A frame that is not a JSON object, carries an unknown type, omits the id on
// an operation-scoped message or carries one on a connection-scoped message
// is rejected with a wserr.CloseError recommending code.BadRequest.
func Parse(data []byte) (*Message, error) {
	var msg Message

	dec := json.NewDecoder(bytes.NewReader(data))

	err := dec.Decode(&msg)
	if err != nil {
		return nil, wserr.CloseError{
			Err:    err,
			Code:   code.BadRequest,
			Reason: "Invalid message",
		}
	}

	err = msg.validate()
	if err != nil {
		return nil, err
	}

	return &msg, nil
}

func (m *Message) validate() error {
	switch m.Type {
	case SubscribeType, NextType, ErrorType, CompleteType:
		if m.Id == "" {
			return wserr.CloseError{
				Code:   code.BadRequest,
				Reason: fmt.Sprintf("Missing id on %s message", m.Type),
			}
		}
	case ConnectionInitType, ConnectionAckType, PingType, PongType:
		if m.Id != "" {
			return wserr.CloseError{
				Code:   code.BadRequest,
				Reason: fmt.Sprintf("Unexpected id on %s message", m.Type),
			}
		}
	default:
		return wserr.CloseError{
			Code:   code.BadRequest,
			Reason: "Invalid message type",
		}
	}

	return nil
}

// EncodePayload serializes a message payload. Nil payloads and payloads
// serializing to JSON null are omitted from the envelope.
func EncodePayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	if string(data) == "null" {
		return nil, nil
	}

	return data, nil
}

// DecodePayload decodes a message payload into dst. A nil payload leaves dst
// untouched.
func DecodePayload(data []byte, dst interface{}, opts ...func(*json.Decoder)) error {
	if data == nil {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for _, fn := range opts {
		fn(dec)
	}

	err := dec.Decode(dst)
	if err != nil {
		return wserr.CloseError{
			Err:    err,
			Code:   code.BadRequest,
			Reason: "Invalid payload",
		}
	}

	return nil
}

// UseNumber configures a decoder to keep numbers as json.Number.
func UseNumber(dec *json.Decoder) {
	dec.UseNumber()
}

// Package message defines the tagged wire message set exchanged between
// client and server.
//
// Every message is a self-describing JSON record: a string discriminator in
// "type" plus the fields of that variant. Payload-carrying fields
// (Parameters, Result, Data, ErrorDetails) are opaque pre-encoded values and
// pass through the codec layer unchanged.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"muxrpc/rpcerror"
)

// Type discriminates the message variants.
type Type string

const (
	TypeRequest     Type = "request"
	TypeResponse    Type = "response"
	TypeError       Type = "error"
	TypeStreamStart Type = "stream_start"
	TypeStreamData  Type = "stream_data"
	TypeStreamEnd   Type = "stream_end"
	TypeStreamError Type = "stream_error"
)

// Message is the envelope for every wire exchange. Which fields are set
// depends on Type; Decode enforces the per-variant requirements.
//
//   - Request:     Service, Method, Params, Streaming
//   - Response:    Result (absent for void)
//   - Error:       ErrorCode, ErrorMessage, ErrorDetails?
//   - StreamStart: StreamID, Service, Method, Params
//   - StreamData:  StreamID, Data
//   - StreamEnd:   StreamID
//   - StreamError: StreamID, ErrorCode, ErrorMessage, ErrorDetails?
type Message struct {
	Type      Type      `json:"type"`
	ID        string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`

	Service   string            `json:"serviceName,omitempty"`
	Method    string            `json:"methodId,omitempty"`
	Params    []json.RawMessage `json:"parameters,omitempty"`
	Streaming bool              `json:"streaming,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`

	ErrorCode    rpcerror.Code   `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ErrorDetails json.RawMessage `json:"errorDetails,omitempty"`

	StreamID string          `json:"streamId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewID returns a fresh correlation id, unique within a transport's lifetime.
func NewID() string {
	return uuid.NewString()
}

func newMessage(t Type) *Message {
	return &Message{Type: t, ID: NewID(), Timestamp: time.Now().UTC()}
}

// NewRequest builds a Request for the given wire identifier.
func NewRequest(service, method string, params []json.RawMessage, streaming bool) *Message {
	m := newMessage(TypeRequest)
	m.Service = service
	m.Method = method
	m.Params = params
	m.Streaming = streaming
	return m
}

// NewResponse builds the terminal Response for the request with id. A nil
// result denotes a void return.
func NewResponse(id string, result json.RawMessage) *Message {
	m := newMessage(TypeResponse)
	m.ID = id
	m.Result = result
	return m
}

// NewError builds the terminal Error for the request with id.
func NewError(id string, code rpcerror.Code, msg string, details json.RawMessage) *Message {
	m := newMessage(TypeError)
	m.ID = id
	m.ErrorCode = code
	m.ErrorMessage = msg
	m.ErrorDetails = details
	return m
}

// NewStreamStart opens the stream streamID on the given wire identifier.
// StreamID is distinct from the envelope's own messageId.
func NewStreamStart(streamID, service, method string, params []json.RawMessage) *Message {
	m := newMessage(TypeStreamStart)
	m.StreamID = streamID
	m.Service = service
	m.Method = method
	m.Params = params
	return m
}

// NewStreamData carries one value of the stream streamID.
func NewStreamData(streamID string, data json.RawMessage) *Message {
	m := newMessage(TypeStreamData)
	m.StreamID = streamID
	m.Data = data
	return m
}

// NewStreamEnd terminates the stream streamID gracefully.
func NewStreamEnd(streamID string) *Message {
	m := newMessage(TypeStreamEnd)
	m.StreamID = streamID
	return m
}

// NewStreamError terminates the stream streamID with a failure.
func NewStreamError(streamID string, code rpcerror.Code, msg string, details json.RawMessage) *Message {
	m := newMessage(TypeStreamError)
	m.StreamID = streamID
	m.ErrorCode = code
	m.ErrorMessage = msg
	m.ErrorDetails = details
	return m
}

// IsTerminal reports whether the message ends its call or stream. After a
// terminal message no further messages for that correlation id are valid.
func (m *Message) IsTerminal() bool {
	switch m.Type {
	case TypeResponse, TypeError, TypeStreamEnd, TypeStreamError:
		return true
	}
	return false
}

// IsStreamMessage reports whether the message belongs to a stream and is
// correlated by StreamID rather than ID.
func (m *Message) IsStreamMessage() bool {
	switch m.Type {
	case TypeStreamStart, TypeStreamData, TypeStreamEnd, TypeStreamError:
		return true
	}
	return false
}

// Encode serializes the message to its wire form.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode is the single decode step for all variants: it parses the record,
// dispatches on the discriminator, and validates the fields that variant
// requires. Callers never decode variants individually.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("decode message: missing messageId")
	}
	switch m.Type {
	case TypeRequest:
		if m.Method == "" {
			return nil, fmt.Errorf("decode request %s: missing methodId", m.ID)
		}
	case TypeResponse:
		// Result may be absent for void returns.
	case TypeError:
		if m.ErrorCode == "" {
			return nil, fmt.Errorf("decode error %s: missing errorCode", m.ID)
		}
	case TypeStreamStart:
		if m.StreamID == "" {
			return nil, fmt.Errorf("decode stream_start %s: missing streamId", m.ID)
		}
		if m.Method == "" {
			return nil, fmt.Errorf("decode stream_start %s: missing methodId", m.ID)
		}
	case TypeStreamData, TypeStreamEnd:
		if m.StreamID == "" {
			return nil, fmt.Errorf("decode %s %s: missing streamId", m.Type, m.ID)
		}
	case TypeStreamError:
		if m.StreamID == "" {
			return nil, fmt.Errorf("decode stream_error %s: missing streamId", m.ID)
		}
		if m.ErrorCode == "" {
			return nil, fmt.Errorf("decode stream_error %s: missing errorCode", m.ID)
		}
	default:
		return nil, fmt.Errorf("decode message %s: unknown type %q", m.ID, m.Type)
	}
	return &m, nil
}

// Err converts an Error or StreamError message into an *rpcerror.Error.
// Returns nil for any other variant.
func (m *Message) Err() error {
	if m.Type != TypeError && m.Type != TypeStreamError {
		return nil
	}
	return &rpcerror.Error{Code: m.ErrorCode, Message: m.ErrorMessage, Details: m.ErrorDetails}
}

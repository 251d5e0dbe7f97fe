// Package protocol defines the wire format spoken with a device-session
// daemon over WebSocket. The daemon owns the attached devices; clients
// call device operations by RPC and receive device events as pushes.
package protocol

import "encoding/json"

// Protocol version. Clients send this in the connect handshake.
const ProtocolVersion = 1

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is sent by clients to invoke an RPC method.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "req"
	ID     string          `json:"id"`     // unique request ID (client-generated)
	Method string          `json:"method"` // RPC method name
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is sent by the daemon in response to a request.
type ResponseFrame struct {
	Type    string          `json:"type"`              // always "res"
	ID      string          `json:"id"`                // matches request ID
	OK      bool            `json:"ok"`                // true if success
	Payload json.RawMessage `json:"payload,omitempty"` // response data (when ok=true)
	Error   *ErrorShape     `json:"error,omitempty"`   // error info (when ok=false)
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventFrame is pushed from the daemon without a preceding request.
type EventFrame struct {
	Type    string          `json:"type"`              // always "event"
	Event   string          `json:"event"`             // event name
	Payload json.RawMessage `json:"payload,omitempty"` // event data
	Seq     int64           `json:"seq,omitempty"`     // ordering sequence number
}

// NewRequest creates a request frame, marshalling params.
func NewRequest(id, method string, params interface{}) (*RequestFrame, error) {
	req := &RequestFrame{Type: FrameTypeRequest, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	return req, nil
}

// NewOKResponse creates a success response frame.
func NewOKResponse(id string, payload interface{}) *ResponseFrame {
	resp := &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   true,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return NewErrorResponse(id, ErrInternal, "marshal payload: "+err.Error())
		}
		resp.Payload = raw
	}
	return resp
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates an event frame, marshalling payload.
func NewEvent(event string, seq int64, payload interface{}) (*EventFrame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: raw,
		Seq:     seq,
	}, nil
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}

// Package transport defines the JSON-RPC 2.0 message envelope used by MCP
// and the Transport abstraction the protocol client runs on.
package transport

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
)

// JSONRPCVersion is the only protocol version accepted on the wire.
const JSONRPCVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeServer         = -32000
)

// ErrMalformedMessage is returned by ParseMessage for lines that are not a
// JSON-RPC 2.0 message.
var ErrMalformedMessage = errors.New("malformed JSON-RPC message")

// RequestId is a JSON-RPC request identifier.
// Numeric strings are accepted on input, since some peers quote their ids.
type RequestId int64

// UnmarshalJSON accepts a number, a numeric string or null.
func (r *RequestId) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = 0
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*r = RequestId(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrapf(ErrMalformedMessage, "invalid id: %s", string(b))
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.Wrapf(ErrMalformedMessage, "unsupported id: %q", s)
	}
	*r = RequestId(n)
	return nil
}

// JsonRpcBody is the result of a locally handled request.
type JsonRpcBody any

// BaseJSONRPCRequest is a request that expects a response.
type BaseJSONRPCRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Id      RequestId       `json:"id"`
}

// BaseJSONRPCNotification is a one-way message.
type BaseJSONRPCNotification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCResponse is a successful response.
type BaseJSONRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Id      RequestId       `json:"id"`
}

// BaseJSONRPCErrorInner is the error object of an error response.
type BaseJSONRPCErrorInner struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BaseJSONRPCError is an error response.
type BaseJSONRPCError struct {
	Jsonrpc string                `json:"jsonrpc"`
	Error   BaseJSONRPCErrorInner `json:"error"`
	Id      RequestId             `json:"id"`
}

// BaseMessageType identifies the concrete message held by BaseJsonRpcMessage.
type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJsonRpcMessage is a tagged union of the four JSON-RPC message shapes.
type BaseJsonRpcMessage struct {
	Type                BaseMessageType
	JsonRpcRequest      *BaseJSONRPCRequest
	JsonRpcNotification *BaseJSONRPCNotification
	JsonRpcResponse     *BaseJSONRPCResponse
	JsonRpcError        *BaseJSONRPCError
}

func NewBaseMessageRequest(request *BaseJSONRPCRequest) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:           BaseMessageTypeJSONRPCRequestType,
		JsonRpcRequest: request,
	}
}

func NewBaseMessageNotification(notification *BaseJSONRPCNotification) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:                BaseMessageTypeJSONRPCNotificationType,
		JsonRpcNotification: notification,
	}
}

func NewBaseMessageResponse(response *BaseJSONRPCResponse) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:            BaseMessageTypeJSONRPCResponseType,
		JsonRpcResponse: response,
	}
}

func NewBaseMessageError(response *BaseJSONRPCError) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:         BaseMessageTypeJSONRPCErrorType,
		JsonRpcError: response,
	}
}

// MarshalJSON encodes the message that is set.
func (m *BaseJsonRpcMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return json.Marshal(m.JsonRpcRequest)
	case BaseMessageTypeJSONRPCNotificationType:
		return json.Marshal(m.JsonRpcNotification)
	case BaseMessageTypeJSONRPCResponseType:
		return json.Marshal(m.JsonRpcResponse)
	case BaseMessageTypeJSONRPCErrorType:
		return json.Marshal(m.JsonRpcError)
	}
	return nil, errors.Newf("unknown message type: %q", m.Type)
}

type envelope struct {
	Jsonrpc string                 `json:"jsonrpc"`
	Method  *string                `json:"method"`
	Id      *RequestId             `json:"id"`
	Params  json.RawMessage        `json:"params"`
	Result  json.RawMessage        `json:"result"`
	Error   *BaseJSONRPCErrorInner `json:"error"`
}

// ParseMessage classifies one framed message.
func ParseMessage(data []byte) (*BaseJsonRpcMessage, error) {
	var p envelope
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if p.Jsonrpc != JSONRPCVersion {
		return nil, errors.Wrapf(ErrMalformedMessage, "unsupported jsonrpc version: %q", p.Jsonrpc)
	}

	switch {
	case p.Method != nil && p.Id != nil:
		return NewBaseMessageRequest(&BaseJSONRPCRequest{
			Jsonrpc: p.Jsonrpc,
			Method:  *p.Method,
			Params:  p.Params,
			Id:      *p.Id,
		}), nil
	case p.Method != nil:
		return NewBaseMessageNotification(&BaseJSONRPCNotification{
			Jsonrpc: p.Jsonrpc,
			Method:  *p.Method,
			Params:  p.Params,
		}), nil
	case p.Error != nil:
		var id RequestId
		if p.Id != nil {
			id = *p.Id
		}
		return NewBaseMessageError(&BaseJSONRPCError{
			Jsonrpc: p.Jsonrpc,
			Error:   *p.Error,
			Id:      id,
		}), nil
	case p.Id != nil && p.Result != nil:
		return NewBaseMessageResponse(&BaseJSONRPCResponse{
			Jsonrpc: p.Jsonrpc,
			Result:  p.Result,
			Id:      *p.Id,
		}), nil
	}
	return nil, errors.Wrap(ErrMalformedMessage, "neither request, notification nor response")
}

// Transport moves framed JSON-RPC messages between two peers.
type Transport interface {
	// Start begins delivering inbound messages to the message handler.
	Start(ctx context.Context) error
	// Send writes one message.
	Send(ctx context.Context, message *BaseJsonRpcMessage) error
	// Close shuts the connection down. The close handler is invoked once.
	Close() error

	// SetCloseHandler sets the callback for when the connection is closed for any reason.
	SetCloseHandler(handler func())
	// SetErrorHandler sets the callback for transport errors.
	// A framing error is reported here before the connection is closed.
	SetErrorHandler(handler func(error))
	// SetMessageHandler sets the callback for inbound messages.
	SetMessageHandler(handler func(ctx context.Context, message *BaseJsonRpcMessage))
}

package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

// JSON-RPC 2.0 error codes
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
	// ErrorCodeServerError is returned for handler errors without a specific code
	ErrorCodeServerError = -32000
)

// RequestId is the JSON-RPC request identifier
type RequestId int64

// JsonRpcBody is the result of a request handler
type JsonRpcBody any

type BaseJSONRPCRequest struct {
	// Jsonrpc corresponds to the JSON schema field "jsonrpc".
	Jsonrpc string `json:"jsonrpc"`
	// Method corresponds to the JSON schema field "method".
	Method string `json:"method"`
	// Params corresponds to the JSON schema field "params".
	Params json.RawMessage `json:"params,omitempty"`
	// Id corresponds to the JSON schema field "id".
	Id RequestId `json:"id"`
}

type BaseJSONRPCNotification struct {
	// Jsonrpc corresponds to the JSON schema field "jsonrpc".
	Jsonrpc string `json:"jsonrpc"`
	// Method corresponds to the JSON schema field "method".
	Method string `json:"method"`
	// Params corresponds to the JSON schema field "params".
	Params json.RawMessage `json:"params,omitempty"`
}

type BaseJSONRPCResponse struct {
	// Jsonrpc corresponds to the JSON schema field "jsonrpc".
	Jsonrpc string `json:"jsonrpc"`
	// Result corresponds to the JSON schema field "result".
	Result json.RawMessage `json:"result"`
	// Id corresponds to the JSON schema field "id".
	Id RequestId `json:"id"`
}

type BaseJSONRPCErrorInner struct {
	// The error type that occurred.
	Code int `json:"code"`
	// A short description of the error.
	Message string `json:"message"`
	// Additional information about the error.
	Data any `json:"data,omitempty"`
}

type BaseJSONRPCError struct {
	// Jsonrpc corresponds to the JSON schema field "jsonrpc".
	Jsonrpc string `json:"jsonrpc"`
	// Error corresponds to the JSON schema field "error".
	Error BaseJSONRPCErrorInner `json:"error"`
	// Id corresponds to the JSON schema field "id".
	Id RequestId `json:"id"`
}

// Error is a JSON-RPC error returned by the remote side,
// or by a request handler that needs a specific error code.
type Error struct {
	Code    int
	Message string
}

// NewError returns a new JSON-RPC error
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJsonRpcMessage is one of request, notification, response or error
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

// MessageID returns the request ID of the message,
// notifications have no ID and return zero.
func (m *BaseJsonRpcMessage) MessageID() RequestId {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return m.JsonRpcRequest.Id
	case BaseMessageTypeJSONRPCResponseType:
		return m.JsonRpcResponse.Id
	case BaseMessageTypeJSONRPCErrorType:
		return m.JsonRpcError.Id
	}
	return 0
}

// Method returns the method of a request or notification
func (m *BaseJsonRpcMessage) Method() string {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return m.JsonRpcRequest.Method
	case BaseMessageTypeJSONRPCNotificationType:
		return m.JsonRpcNotification.Method
	}
	return ""
}

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
	default:
		return nil, errors.Errorf("unknown message type: %q", m.Type)
	}
}

// probe holds the fields used to classify a message
type probe struct {
	Jsonrpc string           `json:"jsonrpc"`
	Method  *string          `json:"method"`
	Params  json.RawMessage  `json:"params"`
	Id      *json.RawMessage `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *json.RawMessage `json:"error"`
}

// ParseMessage decodes a JSON-RPC message and classifies it by its fields:
// method with id is a request, method without id is a notification,
// error with id is an error response, and id alone is a response.
func ParseMessage(body []byte) (*BaseJsonRpcMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty message")
	}

	var p probe
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.Wrap(err, "invalid JSON-RPC message")
	}
	if p.Jsonrpc != "2.0" {
		return nil, errors.Errorf("invalid JSON-RPC version: %q", p.Jsonrpc)
	}

	var id RequestId
	if p.Id != nil {
		if err := json.Unmarshal(*p.Id, &id); err != nil {
			return nil, errors.Wrap(err, "invalid JSON-RPC id")
		}
	}

	switch {
	case p.Method != nil && p.Id != nil:
		return NewBaseMessageRequest(&BaseJSONRPCRequest{
			Jsonrpc: p.Jsonrpc,
			Method:  *p.Method,
			Params:  p.Params,
			Id:      id,
		}), nil
	case p.Method != nil:
		return NewBaseMessageNotification(&BaseJSONRPCNotification{
			Jsonrpc: p.Jsonrpc,
			Method:  *p.Method,
			Params:  p.Params,
		}), nil
	case p.Error != nil && p.Id != nil:
		var inner BaseJSONRPCErrorInner
		if err := json.Unmarshal(*p.Error, &inner); err != nil {
			return nil, errors.Wrap(err, "invalid JSON-RPC error")
		}
		return NewBaseMessageError(&BaseJSONRPCError{
			Jsonrpc: p.Jsonrpc,
			Error:   inner,
			Id:      id,
		}), nil
	case p.Id != nil:
		return NewBaseMessageResponse(&BaseJSONRPCResponse{
			Jsonrpc: p.Jsonrpc,
			Result:  p.Result,
			Id:      id,
		}), nil
	default:
		return nil, errors.New("invalid JSON-RPC message: no method or id")
	}
}

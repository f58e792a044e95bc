// Package protocol correlates JSON-RPC requests and responses over a transport.
//
// Both ends of an MCP session use a Protocol: the client issues requests
// and waits for the matching response, the server dispatches incoming
// requests to registered handlers. A request cancelled or timed out on the
// caller's side is reported to the peer with a notifications/cancelled
// message, which cancels the handler context there.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat/mcp/internal", "protocol")

// DefaultRequestTimeout applies when RequestOptions has no timeout
const DefaultRequestTimeout = 60 * time.Second

const (
	methodCancelled   = "notifications/cancelled"
	methodInitialized = "notifications/initialized"
	jsonrpcVersion    = "2.0"
)

var (
	// ErrRequestTimeout marks requests that got no response in time
	ErrRequestTimeout = errors.New("request timeout")
	// ErrConnectionClosed is returned once the transport is closed
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotConnected is returned before Connect
	ErrNotConnected = errors.New("not connected")
)

// RequestOptions are per request settings
type RequestOptions struct {
	Timeout time.Duration
}

func (o *RequestOptions) timeout() time.Duration {
	if o == nil || o.Timeout <= 0 {
		return DefaultRequestTimeout
	}
	return o.Timeout
}

// RequestHandler serves a request, ctx is cancelled when the peer cancels
type RequestHandler func(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error)

// NotificationHandler handles a notification
type NotificationHandler func(notification *transport.BaseJSONRPCNotification) error

type reply struct {
	result json.RawMessage
	err    error
}

// Protocol is one end of a JSON-RPC session
type Protocol struct {
	// OnClose is called once when the transport closes
	OnClose func()
	// OnError receives transport and handler errors
	OnError func(error)
	// FallbackNotificationHandler receives notifications with no handler
	FallbackNotificationHandler NotificationHandler

	lastID atomic.Int64

	lock          sync.RWMutex
	tr            transport.Transport
	closed        bool
	methods       map[string]RequestHandler
	notifications map[string]NotificationHandler
	// outgoing requests waiting for a reply
	waiting map[transport.RequestId]chan reply
	// incoming requests being served
	serving map[transport.RequestId]context.CancelFunc
}

// NewProtocol returns a disconnected Protocol
func NewProtocol() *Protocol {
	p := &Protocol{
		methods:       make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		waiting:       make(map[transport.RequestId]chan reply),
		serving:       make(map[transport.RequestId]context.CancelFunc),
	}
	p.notifications[methodCancelled] = p.onCancelled
	p.notifications[methodInitialized] = func(*transport.BaseJSONRPCNotification) error { return nil }
	return p
}

// Connect binds the transport and starts it
func (p *Protocol) Connect(ctx context.Context, tr transport.Transport) error {
	p.lock.Lock()
	p.tr = tr
	p.closed = false
	p.lock.Unlock()

	tr.SetCloseHandler(p.shutdown)
	tr.SetErrorHandler(p.reportError)
	tr.SetMessageHandler(p.dispatch)
	return tr.Start(ctx)
}

func (p *Protocol) dispatch(ctx context.Context, msg *transport.BaseJsonRpcMessage) {
	switch msg.Type {
	case transport.BaseMessageTypeJSONRPCRequestType:
		p.serve(ctx, msg.JsonRpcRequest)
	case transport.BaseMessageTypeJSONRPCNotificationType:
		p.notify(msg.JsonRpcNotification)
	case transport.BaseMessageTypeJSONRPCResponseType:
		p.deliver(msg.JsonRpcResponse.Id, reply{result: msg.JsonRpcResponse.Result})
	case transport.BaseMessageTypeJSONRPCErrorType:
		e := msg.JsonRpcError
		p.deliver(e.Id, reply{err: &transport.Error{Code: e.Error.Code, Message: e.Error.Message}})
	}
}

// Close closes the transport, pending requests fail with ErrConnectionClosed
func (p *Protocol) Close() error {
	p.lock.RLock()
	tr := p.tr
	p.lock.RUnlock()
	if tr == nil {
		return nil
	}
	return tr.Close()
}

// IsClosed reports if the transport was closed
func (p *Protocol) IsClosed() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.closed
}

func (p *Protocol) shutdown() {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return
	}
	p.closed = true
	for _, cancel := range p.serving {
		cancel()
	}
	for id, ch := range p.waiting {
		// buffered, a reply may already be queued
		select {
		case ch <- reply{err: ErrConnectionClosed}:
		default:
		}
		delete(p.waiting, id)
	}
	onClose := p.OnClose
	p.lock.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (p *Protocol) reportError(err error) {
	logger.KV(xlog.DEBUG, "err", err.Error())
	if p.OnError != nil {
		p.OnError(err)
	}
}

// SetRequestHandler registers the handler for the method
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.methods[method] = handler
}

// SetNotificationHandler registers the handler for the notification method
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.notifications[method] = handler
}

// RemoveNotificationHandler unregisters the notification method
func (p *Protocol) RemoveNotificationHandler(method string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.notifications, method)
}

func (p *Protocol) notify(n *transport.BaseJSONRPCNotification) {
	p.lock.RLock()
	handler, ok := p.notifications[n.Method]
	if !ok {
		handler = p.FallbackNotificationHandler
	}
	p.lock.RUnlock()

	logger.KV(xlog.DEBUG, "notification", n.Method, "handled", handler != nil)
	if handler == nil {
		return
	}
	go func() {
		if err := handler(n); err != nil {
			p.reportError(errors.Wrapf(err, "notification %s", n.Method))
		}
	}()
}

func (p *Protocol) onCancelled(n *transport.BaseJSONRPCNotification) error {
	var params struct {
		RequestID transport.RequestId `json:"requestId"`
		Reason    string              `json:"reason"`
	}
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return errors.Wrap(err, "invalid cancel params")
	}

	p.lock.RLock()
	cancel := p.serving[params.RequestID]
	p.lock.RUnlock()
	if cancel != nil {
		logger.KV(xlog.DEBUG, "cancelled", params.RequestID, "reason", params.Reason)
		cancel()
	}
	return nil
}

func (p *Protocol) serve(ctx context.Context, req *transport.BaseJSONRPCRequest) {
	logger.KV(xlog.DEBUG, "method", req.Method, "id", req.Id)

	ctx, cancel := context.WithCancel(ctx)
	p.lock.Lock()
	handler := p.methods[req.Method]
	p.serving[req.Id] = cancel
	p.lock.Unlock()

	go func() {
		defer func() {
			p.lock.Lock()
			delete(p.serving, req.Id)
			p.lock.Unlock()
			cancel()
		}()

		var msg *transport.BaseJsonRpcMessage
		result, err := call(ctx, handler, req)
		if err == nil {
			var raw []byte
			raw, err = json.Marshal(result)
			if err != nil {
				err = errors.Wrap(err, "failed to marshal result")
			} else {
				msg = transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
					Jsonrpc: jsonrpcVersion,
					Id:      req.Id,
					Result:  raw,
				})
			}
		}
		if err != nil {
			logger.KV(xlog.DEBUG, "method", req.Method, "id", req.Id, "err", err.Error())
			msg = errorMessage(req.Id, err)
		}

		// the reply must go out even when the handler was cancelled
		if err := p.send(context.WithoutCancel(ctx), msg); err != nil {
			p.reportError(errors.Wrapf(err, "failed to reply to %s", req.Method))
		}
	}()
}

func call(ctx context.Context, handler RequestHandler, req *transport.BaseJSONRPCRequest) (result transport.JsonRpcBody, err error) {
	if handler == nil {
		return nil, transport.NewError(transport.ErrorCodeMethodNotFound, "method not found: %s", req.Method)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.KV(xlog.ERROR, "method", req.Method, "id", req.Id, "panic", r)
			err = transport.NewError(transport.ErrorCodeInternalError, "internal error: %v", r)
		}
	}()
	return handler(ctx, req)
}

func errorMessage(id transport.RequestId, err error) *transport.BaseJsonRpcMessage {
	inner := transport.BaseJSONRPCErrorInner{
		Code:    transport.ErrorCodeServerError,
		Message: err.Error(),
	}
	var rpcErr *transport.Error
	if errors.As(err, &rpcErr) {
		inner.Code = rpcErr.Code
		inner.Message = rpcErr.Message
	}
	return transport.NewBaseMessageError(&transport.BaseJSONRPCError{
		Jsonrpc: jsonrpcVersion,
		Id:      id,
		Error:   inner,
	})
}

func (p *Protocol) deliver(id transport.RequestId, r reply) {
	p.lock.RLock()
	ch, ok := p.waiting[id]
	p.lock.RUnlock()
	if !ok {
		logger.KV(xlog.DEBUG, "reason", "unknown_response", "id", id)
		return
	}
	select {
	case ch <- r:
	default:
		logger.KV(xlog.DEBUG, "reason", "duplicate_response", "id", id)
	}
}

func (p *Protocol) send(ctx context.Context, msg *transport.BaseJsonRpcMessage) error {
	p.lock.RLock()
	tr, closed := p.tr, p.closed
	p.lock.RUnlock()

	switch {
	case tr == nil:
		return ErrNotConnected
	case closed:
		return ErrConnectionClosed
	}
	return tr.Send(ctx, msg)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}
	return raw, nil
}

// Request sends the request and waits for its response
func (p *Protocol) Request(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	id := transport.RequestId(p.lastID.Add(1))
	ch := make(chan reply, 1)

	p.lock.Lock()
	switch {
	case p.tr == nil:
		err = ErrNotConnected
	case p.closed:
		err = ErrConnectionClosed
	default:
		p.waiting[id] = ch
	}
	p.lock.Unlock()
	if err != nil {
		return nil, err
	}
	defer func() {
		p.lock.Lock()
		delete(p.waiting, id)
		p.lock.Unlock()
	}()

	err = p.send(ctx, transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: jsonrpcVersion,
		Method:  method,
		Params:  raw,
		Id:      id,
	}))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send %s", method)
	}

	timeout := opts.timeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		p.cancelRemote(id, ctx.Err().Error())
		return nil, errors.WithStack(ctx.Err())
	case <-timer.C:
		p.cancelRemote(id, "request timeout")
		return nil, errors.Mark(errors.Newf("%s: request timeout after %v", method, timeout), ErrRequestTimeout)
	}
}

func (p *Protocol) cancelRemote(id transport.RequestId, reason string) {
	err := p.Notification(methodCancelled, map[string]any{
		"requestId": id,
		"reason":    reason,
	})
	if err != nil {
		p.reportError(errors.Wrap(err, "failed to send cancel notification"))
	}
}

// Notification sends a one-way message
func (p *Protocol) Notification(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return p.send(context.Background(), transport.NewBaseMessageNotification(&transport.BaseJSONRPCNotification{
		Jsonrpc: jsonrpcVersion,
		Method:  method,
		Params:  raw,
	}))
}

func (p *Protocol) String() string {
	return fmt.Sprintf("protocol(closed=%t)", p.IsClosed())
}

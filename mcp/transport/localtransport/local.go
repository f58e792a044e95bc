// Package localtransport provides an in-process transport pair
// connecting an MCP client and server without a network.
package localtransport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/mcp/transport"
)

// ErrClosed is returned by Send after the pair was closed
var ErrClosed = errors.New("local transport closed")

// Transport is one end of an in-process connection
type Transport struct {
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	mu             sync.RWMutex

	peer *Transport
	link *link
}

type link struct {
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewPair returns two connected transports,
// messages sent on one are delivered to the other.
func NewPair() (*Transport, *Transport) {
	l := &link{}
	a := &Transport{link: l}
	b := &Transport{link: l}
	a.peer = b
	b.peer = a
	return a, b
}

// Start does nothing for the local transport
func (s *Transport) Start(ctx context.Context) error {
	if s.link.isClosed() {
		return ErrClosed
	}
	return nil
}

// Close closes both ends of the connection, the close handlers are called once.
func (s *Transport) Close() error {
	s.link.once.Do(func() {
		s.link.mu.Lock()
		s.link.closed = true
		s.link.mu.Unlock()

		s.onClose()
		s.peer.onClose()
	})
	return nil
}

func (s *Transport) onClose() {
	s.mu.RLock()
	handler := s.closeHandler
	s.mu.RUnlock()
	if handler != nil {
		handler()
	}
}

// SetErrorHandler sets the callback for when an error occurs.
func (s *Transport) SetErrorHandler(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// SetCloseHandler sets the callback for when the connection is closed.
func (s *Transport) SetCloseHandler(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeHandler = handler
}

// SetMessageHandler sets the callback for when a message is received over the connection.
func (s *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageHandler = handler
}

// Send delivers the message to the peer.
// The message is encoded and parsed again, so the peer never shares memory with the sender.
func (s *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	if s.link.isClosed() {
		return ErrClosed
	}

	js, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	msg, err := transport.ParseMessage(js)
	if err != nil {
		return err
	}

	s.peer.mu.RLock()
	handler := s.peer.messageHandler
	s.peer.mu.RUnlock()
	if handler == nil {
		return errors.New("peer is not connected")
	}

	// the peer's work must not be cancelled when the sender's request ends
	handler(context.WithoutCancel(ctx), msg)
	return nil
}

func (l *link) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

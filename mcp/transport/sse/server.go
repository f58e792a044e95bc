// Package sse implements the MCP transport over Server-Sent Events.
//
// The server keeps one long lived GET stream per client, used to push
// JSON-RPC messages, and receives client messages as POST requests
// addressed by the connection's session id.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/mcp/transport"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat/mcp/transport", "sse")

// MaxMessageSize is the limit of a message body posted by a client
const MaxMessageSize = 4 * 1024 * 1024

// ServerTransport is the server end of one SSE connection
type ServerTransport struct {
	endpoint  string
	sessionID string
	w         http.ResponseWriter
	flusher   http.Flusher

	// mu guards writes to the stream
	mu      sync.Mutex
	ctx     context.Context
	started bool
	closed  bool

	hmu            sync.RWMutex
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()

	done      chan struct{}
	closeOnce sync.Once
}

// NewServerTransport creates a transport writing events to w.
// The endpoint is the path where the client posts its messages.
func NewServerTransport(endpoint string, w http.ResponseWriter) (*ServerTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	return &ServerTransport{
		endpoint:  endpoint,
		sessionID: uuid.NewString(),
		w:         w,
		flusher:   flusher,
		done:      make(chan struct{}),
	}, nil
}

// SessionID returns the id used to route posted messages to this transport
func (s *ServerTransport) SessionID() string {
	return s.sessionID
}

// Done is closed when the transport is closed
func (s *ServerTransport) Done() <-chan struct{} {
	return s.done
}

// EndpointURL returns the URL announced to the client in the endpoint event
func (s *ServerTransport) EndpointURL() string {
	sep := "?"
	if strings.Contains(s.endpoint, "?") {
		sep = "&"
	}
	return s.endpoint + sep + "sessionId=" + s.sessionID
}

// Start writes the stream headers and the endpoint event.
// The transport is closed when ctx is done.
func (s *ServerTransport) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("SSE transport already started")
	}
	if s.closed {
		s.mu.Unlock()
		return errors.New("SSE transport closed")
	}
	s.started = true
	s.ctx = context.WithoutCancel(ctx)

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	s.w.WriteHeader(http.StatusOK)

	err := s.writeEvent("endpoint", []byte(s.EndpointURL()))
	s.mu.Unlock()
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return nil
}

// writeEvent must be called with mu held
func (s *ServerTransport) writeEvent(event string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return errors.Wrapf(err, "failed to write %s event", event)
	}
	s.flusher.Flush()
	return nil
}

// Send writes the message as a `message` event
func (s *ServerTransport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	if message == nil {
		return errors.New("nil message")
	}
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("not connected")
	}
	if s.closed {
		return errors.New("SSE transport closed")
	}
	return s.writeEvent("message", data)
}

// HandlePostMessage parses a message posted by the client
// and passes it to the message handler.
func (s *ServerTransport) HandlePostMessage(r *http.Request) error {
	if r.Method != http.MethodPost {
		return errors.New("method not allowed")
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.Newf("unsupported Content type: %q", r.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxMessageSize+1))
	if err != nil {
		return s.reportError(errors.Wrap(err, "failed to read body"))
	}
	if len(body) > MaxMessageSize {
		return s.reportError(errors.New("message is too large"))
	}

	return s.HandleMessage(body)
}

// HandleMessage parses the message and passes it to the message handler
func (s *ServerTransport) HandleMessage(body []byte) error {
	msg, err := transport.ParseMessage(body)
	if err != nil {
		return s.reportError(err)
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.hmu.RLock()
	handler := s.messageHandler
	s.hmu.RUnlock()
	if handler != nil {
		handler(ctx, msg)
	}
	return nil
}

func (s *ServerTransport) reportError(err error) error {
	s.hmu.RLock()
	handler := s.errorHandler
	s.hmu.RUnlock()
	if handler != nil {
		handler(err)
	}
	return err
}

// Close closes the transport, the close handler is called once
func (s *ServerTransport) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)

		s.hmu.RLock()
		handler := s.closeHandler
		s.hmu.RUnlock()
		if handler != nil {
			handler()
		}
		logger.KV(xlog.DEBUG, "status", "closed", "session", s.sessionID)
	})
	return nil
}

// SetCloseHandler sets the callback for when the connection is closed
func (s *ServerTransport) SetCloseHandler(handler func()) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.closeHandler = handler
}

// SetErrorHandler sets the callback for when an error occurs
func (s *ServerTransport) SetErrorHandler(handler func(error)) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.errorHandler = handler
}

// SetMessageHandler sets the callback for when a message is received
func (s *ServerTransport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.messageHandler = handler
}

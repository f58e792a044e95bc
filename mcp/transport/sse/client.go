package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/mcp/transport"
	"github.com/effective-security/xlog"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// DefaultEndpointTimeout bounds the wait for the endpoint event
const DefaultEndpointTimeout = 30 * time.Second

// ClientOption configures the client transport
type ClientOption func(*ClientTransport)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *ClientTransport) {
		c.httpClient = client
	}
}

// WithHeader adds a header to every request
func WithHeader(key, value string) ClientOption {
	return func(c *ClientTransport) {
		c.headers.Set(key, value)
	}
}

// WithEndpointTimeout sets how long Start waits for the endpoint event
func WithEndpointTimeout(d time.Duration) ClientOption {
	return func(c *ClientTransport) {
		c.endpointTimeout = d
	}
}

// ClientTransport is the client end of an SSE connection:
// it reads events from the stream and posts messages to the announced endpoint.
type ClientTransport struct {
	url             string
	httpClient      *http.Client
	headers         http.Header
	endpointTimeout time.Duration

	mu       sync.RWMutex
	endpoint string
	cancel   context.CancelFunc
	decoder  ssestream.Decoder

	hmu            sync.RWMutex
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()

	closeOnce sync.Once
}

// NewClientTransport returns a transport for the SSE stream at url
func NewClientTransport(url string, opts ...ClientOption) *ClientTransport {
	c := &ClientTransport{
		url:             url,
		httpClient:      http.DefaultClient,
		headers:         make(http.Header),
		endpointTimeout: DefaultEndpointTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the message endpoint announced by the server
func (c *ClientTransport) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// Start opens the stream and waits for the endpoint event.
// The stream outlives ctx and stays open until Close.
func (c *ClientTransport) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("SSE transport already started")
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.url, nil)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to create request")
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return errors.Wrapf(err, "failed to connect to %s", c.url)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return errors.Newf("failed to connect to %s: status %d", c.url, resp.StatusCode)
	}

	decoder := ssestream.NewDecoder(resp)
	c.mu.Lock()
	c.decoder = decoder
	c.mu.Unlock()

	endpointCh := make(chan string, 1)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		c.readStream(streamCtx, decoder, endpointCh)
	}()

	timer := time.NewTimer(c.endpointTimeout)
	defer timer.Stop()

	select {
	case ep := <-endpointCh:
		resolved, err := c.resolve(ep)
		if err != nil {
			_ = c.Close()
			return err
		}
		c.mu.Lock()
		c.endpoint = resolved
		c.mu.Unlock()
		logger.ContextKV(ctx, xlog.DEBUG, "status", "connected", "endpoint", resolved)
		return nil
	case <-streamDone:
		_ = c.Close()
		return errors.Newf("stream from %s ended before the endpoint event", c.url)
	case <-timer.C:
		_ = c.Close()
		return errors.Newf("timeout waiting for the endpoint event from %s", c.url)
	case <-ctx.Done():
		_ = c.Close()
		return errors.WithStack(ctx.Err())
	}
}

func (c *ClientTransport) readStream(ctx context.Context, decoder ssestream.Decoder, endpointCh chan<- string) {
	defer func() {
		_ = c.Close()
	}()

	for decoder.Next() {
		evt := decoder.Event()
		data := bytes.TrimSpace(evt.Data)
		switch evt.Type {
		case "endpoint":
			select {
			case endpointCh <- string(data):
			default:
			}
		case "message", "":
			msg, err := transport.ParseMessage(data)
			if err != nil {
				c.reportError(err)
				continue
			}
			c.hmu.RLock()
			handler := c.messageHandler
			c.hmu.RUnlock()
			if handler != nil {
				handler(ctx, msg)
			}
		default:
			logger.KV(xlog.DEBUG, "reason", "unknown_event", "event", evt.Type)
		}
	}

	if err := decoder.Err(); err != nil && ctx.Err() == nil {
		c.reportError(errors.Wrap(err, "SSE stream failed"))
	}
}

func (c *ClientTransport) resolve(endpoint string) (string, error) {
	base, err := url.Parse(c.url)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URL: %s", c.url)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "invalid endpoint: %s", endpoint)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *ClientTransport) setHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header[k] = v
	}
}

// Send posts the message to the endpoint
func (c *ClientTransport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	endpoint := c.Endpoint()
	if endpoint == "" {
		return errors.New("not connected")
	}

	js, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(js))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send message")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Newf("failed to send message: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close closes the stream, the close handler is called once
func (c *ClientTransport) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		decoder := c.decoder
		c.endpoint = ""
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if decoder != nil {
			_ = decoder.Close()
		}

		c.hmu.RLock()
		handler := c.closeHandler
		c.hmu.RUnlock()
		if handler != nil {
			handler()
		}
	})
	return nil
}

func (c *ClientTransport) reportError(err error) {
	logger.KV(xlog.DEBUG, "err", err.Error())
	c.hmu.RLock()
	handler := c.errorHandler
	c.hmu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

// SetCloseHandler sets the callback for when the connection is closed
func (c *ClientTransport) SetCloseHandler(handler func()) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.closeHandler = handler
}

// SetErrorHandler sets the callback for when an error occurs
func (c *ClientTransport) SetErrorHandler(handler func(error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.errorHandler = handler
}

// SetMessageHandler sets the callback for when a message is received
func (c *ClientTransport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.messageHandler = handler
}

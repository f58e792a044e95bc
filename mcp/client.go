package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/mcp/internal/protocol"
	"github.com/effective-security/toolchat/mcp/transport"
	"github.com/effective-security/xlog"
)

var (
	// ErrNotInitialized is returned when the client is used before Initialize
	ErrNotInitialized = errors.New("client not initialized")
	// ErrRequestTimeout is returned when the server did not respond in time
	ErrRequestTimeout = protocol.ErrRequestTimeout
	// ErrConnectionClosed is returned when the connection closed while waiting for a response
	ErrConnectionClosed = protocol.ErrConnectionClosed
)

// ClientOption configures the client
type ClientOption func(*Client)

// WithClientInfo sets the name and version sent on initialize
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.info = Implementation{Name: name, Version: version}
	}
}

// WithRequestTimeout bounds every request sent by the client
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithToolsChangedHandler sets the callback for tools/list_changed notifications
func WithToolsChangedHandler(handler func()) ClientOption {
	return func(c *Client) {
		c.onToolsChanged = handler
	}
}

// Client is an MCP client over a single connection,
// requests from many goroutines share it.
type Client struct {
	transport      transport.Transport
	protocol       *protocol.Protocol
	info           Implementation
	timeout        time.Duration
	onToolsChanged func()

	lock         sync.RWMutex
	initialized  bool
	capabilities *ServerCapabilities
	serverInfo   *Implementation
}

// NewClient returns a client for the transport, call Initialize to connect
func NewClient(tr transport.Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: tr,
		protocol:  protocol.NewProtocol(),
		info:      Implementation{Name: "toolchat", Version: "1.0.0"},
		timeout:   protocol.DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.protocol.SetNotificationHandler("notifications/tools/list_changed", func(n *transport.BaseJSONRPCNotification) error {
		logger.KV(xlog.INFO, "status", "tools_list_changed")
		if c.onToolsChanged != nil {
			c.onToolsChanged()
		}
		return nil
	})
	c.protocol.OnClose = func() {
		c.lock.Lock()
		c.initialized = false
		c.lock.Unlock()
	}
	return c
}

// Initialize connects the transport and performs the initialize handshake
func (c *Client) Initialize(ctx context.Context) (*InitializeResponse, error) {
	if err := c.protocol.Connect(ctx, c.transport); err != nil {
		return nil, errors.WithMessage(err, "failed to connect")
	}

	res, err := c.protocol.Request(ctx, "initialize", InitializeRequest{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.info,
	}, c.requestOptions())
	if err != nil {
		return nil, errors.WithMessage(err, "failed to initialize")
	}

	var initRes InitializeResponse
	if err := json.Unmarshal(res, &initRes); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal initialize response")
	}

	if err := c.protocol.Notification("notifications/initialized", nil); err != nil {
		return nil, errors.WithMessage(err, "failed to send initialized notification")
	}

	c.lock.Lock()
	c.initialized = true
	c.capabilities = &initRes.Capabilities
	c.serverInfo = &initRes.ServerInfo
	c.lock.Unlock()

	logger.ContextKV(ctx, xlog.INFO,
		"status", "initialized",
		"server", initRes.ServerInfo.Name,
		"version", initRes.ServerInfo.Version,
		"protocol", initRes.ProtocolVersion,
	)
	return &initRes, nil
}

// IsInitialized returns true after a successful Initialize until the connection closes
func (c *Client) IsInitialized() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.initialized
}

// ServerInfo returns the server implementation reported on initialize
func (c *Client) ServerInfo() *Implementation {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.serverInfo
}

// ServerCapabilities returns the capabilities reported on initialize
func (c *Client) ServerCapabilities() *ServerCapabilities {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.capabilities
}

func (c *Client) requestOptions() *protocol.RequestOptions {
	return &protocol.RequestOptions{Timeout: c.timeout}
}

// ListTools returns one page of tools, pass the NextCursor of the previous page
func (c *Client) ListTools(ctx context.Context, cursor *string) (*ToolsResponse, error) {
	if !c.IsInitialized() {
		return nil, ErrNotInitialized
	}

	res, err := c.protocol.Request(ctx, "tools/list", ListToolsRequest{Cursor: cursor}, c.requestOptions())
	if err != nil {
		return nil, errors.WithMessage(err, "failed to list tools")
	}

	var tools ToolsResponse
	if err := json.Unmarshal(res, &tools); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tools response")
	}
	return &tools, nil
}

// CallTool calls the tool with the arguments,
// which must encode to a JSON object.
// A handler failure is returned as a response with IsError set.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*ToolResponse, error) {
	if !c.IsInitialized() {
		return nil, ErrNotInitialized
	}

	var raw json.RawMessage
	if args != nil {
		js, err := json.Marshal(args)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal arguments")
		}
		raw = js
	}

	res, err := c.protocol.Request(ctx, "tools/call", CallToolRequest{
		Name:      name,
		Arguments: raw,
	}, c.requestOptions())
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to call tool %s", name)
	}

	var toolRes ToolResponse
	if err := json.Unmarshal(res, &toolRes); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tool response")
	}
	return &toolRes, nil
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsInitialized() {
		return ErrNotInitialized
	}
	_, err := c.protocol.Request(ctx, "ping", nil, c.requestOptions())
	return errors.WithMessage(err, "ping failed")
}

// Close closes the connection
func (c *Client) Close() error {
	return c.protocol.Close()
}

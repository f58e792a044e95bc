// Package mcp implements a Model Context Protocol server exposing tools,
// and the client used to discover and call them.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/mcp/internal/protocol"
	"github.com/effective-security/toolchat/mcp/transport"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/toolchat/pkg/schema"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "mcp")

// ServerOption configures the server
type ServerOption func(*Server)

// WithPaginationLimit sets the page size of tools/list
func WithPaginationLimit(limit int) ServerOption {
	return func(s *Server) {
		if limit > 0 {
			s.paginationLimit = &limit
		}
	}
}

// WithInstructions sets the instructions returned on initialize
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// Server exposes registered tools to any number of client connections
type Server struct {
	info            Implementation
	instructions    string
	paginationLimit *int

	lock     sync.RWMutex
	tools    map[string]*tool
	sessions map[*protocol.Protocol]struct{}
}

type tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	// Handler returns an error only when the arguments can not be decoded
	Handler func(ctx context.Context, args json.RawMessage) (*toolResponseSent, error)
}

// toolResponseSent holds the handler result or its failure,
// a failure is sent as a normal result flagged with isError.
type toolResponseSent struct {
	Response *ToolResponse
	Error    error
}

func (r *toolResponseSent) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(&ToolResponse{
			Content: []*Content{NewTextContent("Error: " + r.Error.Error())},
			IsError: true,
		})
	}
	res := r.Response
	if res == nil {
		res = NewToolResponse()
	}
	return json.Marshal(res)
}

// NewServer returns a server with no tools
func NewServer(name, version string, opts ...ServerOption) *Server {
	s := &Server{
		info:     Implementation{Name: name, Version: version},
		tools:    make(map[string]*tool),
		sessions: make(map[*protocol.Protocol]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	contextType  = reflect.TypeFor[context.Context]()
	responseType = reflect.TypeFor[*ToolResponse]()
	errorType    = reflect.TypeFor[error]()
)

// RegisterTool registers a tool handler.
// The handler must be one of
//
//	func(args T) (*ToolResponse, error)
//	func(ctx context.Context, args T) (*ToolResponse, error)
//
// where T is a struct, its JSON schema is the tool's input schema.
func (s *Server) RegisterTool(name, description string, handler any) error {
	if name == "" {
		return errors.New("tool name is required")
	}

	fn := reflect.ValueOf(handler)
	ft := fn.Type()
	if ft.Kind() != reflect.Func {
		return errors.Newf("tool %s: handler must be a function", name)
	}
	if ft.NumOut() != 2 || ft.Out(0) != responseType || ft.Out(1) != errorType {
		return errors.Newf("tool %s: handler must return (*mcp.ToolResponse, error)", name)
	}

	withContext := false
	switch ft.NumIn() {
	case 1:
	case 2:
		if ft.In(0) != contextType {
			return errors.Newf("tool %s: first argument must be context.Context", name)
		}
		withContext = true
	default:
		return errors.Newf("tool %s: handler must take one arguments struct", name)
	}

	argType := ft.In(ft.NumIn() - 1)
	argSchema, err := schema.New(argType)
	if err != nil {
		return errors.Wrapf(err, "tool %s", name)
	}
	inputSchema, err := json.Marshal(argSchema.Parameters)
	if err != nil {
		return errors.Wrapf(err, "tool %s: failed to encode schema", name)
	}

	t := &tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		Handler:     createWrappedToolHandler(name, fn, argType, withContext),
	}

	s.lock.Lock()
	s.tools[name] = t
	s.lock.Unlock()

	s.sendToolListChanged()
	return nil
}

// DeregisterTool removes the tool
func (s *Server) DeregisterTool(name string) error {
	s.lock.Lock()
	_, ok := s.tools[name]
	delete(s.tools, name)
	s.lock.Unlock()

	if !ok {
		return errors.Newf("tool not found: %s", name)
	}
	s.sendToolListChanged()
	return nil
}

// CheckToolRegistered returns true if the tool is registered
func (s *Server) CheckToolRegistered(name string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.tools[name]
	return ok
}

// ToolNames returns sorted names of the registered tools
func (s *Server) ToolNames() []string {
	s.lock.RLock()
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	s.lock.RUnlock()
	slices.Sort(names)
	return names
}

func createWrappedToolHandler(name string, fn reflect.Value, argType reflect.Type, withContext bool) func(context.Context, json.RawMessage) (*toolResponseSent, error) {
	return func(ctx context.Context, arguments json.RawMessage) (res *toolResponseSent, err error) {
		args := reflect.New(argType)
		if uerr := json.Unmarshal(arguments, args.Interface()); uerr != nil {
			return nil, transport.NewError(transport.ErrorCodeInvalidParams, "failed to unmarshal arguments: %s", uerr.Error())
		}

		started := time.Now()
		defer metricskey.PerfToolHandler.MeasureSince(started, name)

		defer func() {
			if r := recover(); r != nil {
				logger.ContextKV(ctx, xlog.ERROR,
					"tool", name,
					"panic", r,
				)
				metricskey.StatsToolHandlerFailures.IncrCounter(1, name)
				res = &toolResponseSent{Error: errors.Newf("internal error: %v", r)}
				err = nil
			}
		}()

		in := []reflect.Value{args.Elem()}
		if withContext {
			in = []reflect.Value{reflect.ValueOf(ctx), args.Elem()}
		}
		out := fn.Call(in)

		if errVal := out[1].Interface(); errVal != nil {
			herr := errVal.(error)
			logger.ContextKV(ctx, xlog.DEBUG, "tool", name, "err", herr.Error())
			metricskey.StatsToolHandlerFailures.IncrCounter(1, name)
			return &toolResponseSent{Error: herr}, nil
		}
		resp, _ := out[0].Interface().(*ToolResponse)
		return &toolResponseSent{Response: resp}, nil
	}
}

// Connect serves one client connection over the transport
func (s *Server) Connect(ctx context.Context, tr transport.Transport) error {
	p := protocol.NewProtocol()
	p.SetRequestHandler("initialize", s.handleInitialize)
	p.SetRequestHandler("ping", s.handlePing)
	p.SetRequestHandler("tools/list", s.handleListTools)
	p.SetRequestHandler("tools/call", s.handleToolCalls)
	p.OnClose = func() {
		s.lock.Lock()
		delete(s.sessions, p)
		s.lock.Unlock()
	}

	if err := p.Connect(ctx, tr); err != nil {
		return errors.WithMessage(err, "failed to connect")
	}

	s.lock.Lock()
	if !p.IsClosed() {
		s.sessions[p] = struct{}{}
	}
	s.lock.Unlock()
	return nil
}

// Sessions returns the number of connected clients
func (s *Server) Sessions() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.sessions)
}

// Close closes all client connections
func (s *Server) Close() error {
	s.lock.RLock()
	list := make([]*protocol.Protocol, 0, len(s.sessions))
	for p := range s.sessions {
		list = append(list, p)
	}
	s.lock.RUnlock()

	var errs []error
	for _, p := range list {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) sendToolListChanged() {
	s.lock.RLock()
	list := make([]*protocol.Protocol, 0, len(s.sessions))
	for p := range s.sessions {
		list = append(list, p)
	}
	s.lock.RUnlock()

	for _, p := range list {
		if err := p.Notification("notifications/tools/list_changed", nil); err != nil {
			logger.KV(xlog.DEBUG, "notification", "tools/list_changed", "err", err.Error())
		}
	}
}

func (s *Server) handleInitialize(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	var params InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, transport.NewError(transport.ErrorCodeInvalidParams, "invalid initialize params: %s", err.Error())
		}
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"client", params.ClientInfo.Name,
		"version", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion,
	)

	return InitializeResponse{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{ListChanged: true},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

func (s *Server) handlePing(_ context.Context, _ *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	return map[string]any{}, nil
}

func (s *Server) handleListTools(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	var params ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, transport.NewError(transport.ErrorCodeInvalidParams, "failed to unmarshal arguments: %s", err.Error())
		}
	}

	s.lock.RLock()
	list := make([]*tool, 0, len(s.tools))
	for _, t := range s.tools {
		list = append(list, t)
	}
	s.lock.RUnlock()

	slices.SortFunc(list, func(a, b *tool) int {
		return strings.Compare(a.Name, b.Name)
	})

	if params.Cursor != nil {
		c, err := base64.StdEncoding.DecodeString(*params.Cursor)
		if err != nil {
			return nil, transport.NewError(transport.ErrorCodeInvalidParams, "invalid cursor")
		}
		after := string(c)
		idx := slices.IndexFunc(list, func(t *tool) bool { return t.Name > after })
		if idx < 0 {
			idx = len(list)
		}
		list = list[idx:]
	}

	var next *string
	if s.paginationLimit != nil && len(list) > *s.paginationLimit {
		list = list[:*s.paginationLimit]
		c := base64.StdEncoding.EncodeToString([]byte(list[len(list)-1].Name))
		next = &c
	}

	res := ToolsResponse{
		Tools:      make([]ToolRetType, 0, len(list)),
		NextCursor: next,
	}
	for _, t := range list {
		res.Tools = append(res.Tools, ToolRetType{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return res, nil
}

func (s *Server) handleToolCalls(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	var params CallToolRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, transport.NewError(transport.ErrorCodeInvalidParams, "failed to unmarshal arguments: %s", err.Error())
	}

	s.lock.RLock()
	t := s.tools[params.Name]
	s.lock.RUnlock()
	if t == nil {
		return nil, transport.NewError(transport.ErrorCodeMethodNotFound, "unknown tool: %s", params.Name)
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) || args[0] != '{' {
		return nil, transport.NewError(transport.ErrorCodeInvalidParams, "tool %s: arguments must be a JSON object", params.Name)
	}

	res, err := t.Handler(ctx, args)
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		logger.ContextKV(ctx, xlog.DEBUG, "tool", params.Name, "status", "handler_failed", "err", res.Error.Error())
	}
	return res, nil
}

func (s *Server) String() string {
	return fmt.Sprintf("%s/%s", s.info.Name, s.info.Version)
}

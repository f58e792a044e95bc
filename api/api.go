package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/assistants"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/toolchat/registry"
	"github.com/effective-security/toolchat/store"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "api")

// Error messages returned to clients
const (
	MsgSessionNotFound  = "Session not found"
	MsgMissingFields    = "Session ID and message are required"
	MsgFailedToProcess  = assistants.FailedMessage
	MsgInvalidRequest   = "Invalid request body"
	MsgInternalError    = "Internal server error"
	maxRequestBodyBytes = 1 << 20
)

// Chat sends a message within a session
type Chat interface {
	SendMessage(ctx context.Context, sessionID, message string) (*assistants.Reply, error)
}

// CreateSessionResponse is returned by POST /api/chat/session
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// ListSessionsResponse is returned by GET /api/chat/sessions
type ListSessionsResponse struct {
	Sessions []chatmodel.SessionInfo `json:"sessions"`
}

// HistoryResponse is returned by GET /api/chat/session/{id}
type HistoryResponse struct {
	History []chatmodel.Turn `json:"history"`
}

// MessageRequest is the body of POST /api/chat/message
type MessageRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Message   string `json:"message" validate:"required"`
}

// ToolsResponse is returned by GET /api/tools
type ToolsResponse struct {
	Tools []registry.Descriptor `json:"tools"`
}

// ErrorResponse is returned on failures
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the chat API handler
type Server struct {
	sessions store.SessionStore
	chat     Chat
	tools    *registry.Snapshot
	validate *validator.Validate
	mux      *http.ServeMux
}

var _ http.Handler = (*Server)(nil)

// New returns the API handler
func New(sessions store.SessionStore, chat Chat, tools *registry.Snapshot) *Server {
	if tools == nil {
		tools, _ = registry.New()
	}
	s := &Server{
		sessions: sessions,
		chat:     chat,
		tools:    tools,
		validate: validator.New(),
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/chat/session", s.createSession)
	s.mux.HandleFunc("GET /api/chat/sessions", s.listSessions)
	s.mux.HandleFunc("GET /api/chat/session/{id}", s.getHistory)
	s.mux.HandleFunc("POST /api/chat/message", s.sendMessage)
	s.mux.HandleFunc("GET /api/tools", s.listTools)
	s.mux.HandleFunc("GET /healthz", s.health)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	started := time.Now()
	s.mux.ServeHTTP(w, r)
	logger.ContextKV(r.Context(), xlog.DEBUG,
		"method", r.Method,
		"path", r.URL.Path,
		"elapsed", time.Since(started).String(),
	)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.CreateSession(r.Context())
	if err != nil {
		s.writeError(w, r, err, MsgInternalError)
		return
	}
	writeJSON(w, http.StatusOK, CreateSessionResponse{SessionID: info.ID})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, r, err, MsgInternalError)
		return
	}
	if list == nil {
		list = []chatmodel.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: list})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.sessions.GetHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err, MsgInternalError)
		return
	}
	if history == nil {
		history = []chatmodel.Turn{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{History: history})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: MsgInvalidRequest})
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: MsgMissingFields})
		return
	}

	reply, err := s.chat.SendMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeError(w, r, err, MsgFailedToProcess)
		return
	}
	if reply.ToolCalls == nil {
		reply.ToolCalls = []chatmodel.ToolCall{}
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) listTools(w http.ResponseWriter, _ *http.Request) {
	list := s.tools.Descriptors()
	if list == nil {
		list = []registry.Descriptor{}
	}
	writeJSON(w, http.StatusOK, ToolsResponse{Tools: list})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps the error to the status code,
// fallback is returned to the client for server errors.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, chatmodel.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: MsgSessionNotFound})
	case errors.Is(err, chatmodel.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: MsgMissingFields})
	default:
		metricskey.StatsAPIRequestsFailed.IncrCounter(1, r.Method, r.Pattern)
		logger.ContextKV(r.Context(), xlog.ERROR,
			"method", r.Method,
			"path", r.URL.Path,
			"err", err.Error(),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: fallback})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.KV(xlog.ERROR, "reason", "encode", "err", err.Error())
	}
}

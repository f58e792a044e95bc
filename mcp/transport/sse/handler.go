package sse

import (
	"context"
	"net/http"
	"sync"

	"github.com/effective-security/toolchat/mcp/transport"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// Connector binds a transport to a server
type Connector interface {
	Connect(ctx context.Context, tr transport.Transport) error
}

// Handler serves the SSE stream and the message endpoint,
// and routes posted messages to the connection by session id.
type Handler struct {
	connector Connector
	endpoint  string

	lock       sync.RWMutex
	transports map[string]*ServerTransport
}

// NewHandler returns a handler connecting each new stream to the connector.
// The endpoint is the path of the message endpoint, `/messages` by default.
func NewHandler(connector Connector, endpoint string) *Handler {
	if endpoint == "" {
		endpoint = "/messages"
	}
	return &Handler{
		connector:  connector,
		endpoint:   endpoint,
		transports: make(map[string]*ServerTransport),
	}
}

// Register adds `GET /sse` and `POST <endpoint>` routes
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/sse", h.HandleSSE)
	mux.HandleFunc(h.endpoint, h.HandleMessage)
}

// HandleSSE opens a new stream and blocks until the client disconnects
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tr, err := NewServerTransport(h.endpoint, w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sessionID := tr.SessionID()
	h.lock.Lock()
	h.transports[sessionID] = tr
	h.lock.Unlock()

	metricskey.StatsMCPConnectionsOpened.IncrCounter(1, "sse")
	logger.ContextKV(r.Context(), xlog.DEBUG, "status", "connected", "session", sessionID)

	defer func() {
		_ = tr.Close()
		h.lock.Lock()
		delete(h.transports, sessionID)
		h.lock.Unlock()

		metricskey.StatsMCPConnectionsClosed.IncrCounter(1, "sse")
		logger.KV(xlog.DEBUG, "status", "disconnected", "session", sessionID)
	}()

	if err := h.connector.Connect(r.Context(), tr); err != nil {
		logger.ContextKV(r.Context(), xlog.ERROR, "status", "connect_failed", "session", sessionID, "err", err.Error())
		return
	}

	select {
	case <-r.Context().Done():
	case <-tr.Done():
	}
}

// HandleMessage routes a posted message to its connection
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	sessionID := q.Get("sessionId")
	if sessionID == "" {
		sessionID = q.Get("session")
	}

	h.lock.RLock()
	tr := h.transports[sessionID]
	h.lock.RUnlock()
	if tr == nil {
		http.Error(w, "No transport found for sessionId", http.StatusBadRequest)
		return
	}

	if err := tr.HandlePostMessage(r); err != nil {
		logger.ContextKV(r.Context(), xlog.DEBUG, "session", sessionID, "err", err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

// Len returns the number of open connections
func (h *Handler) Len() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.transports)
}

// Close closes all open connections
func (h *Handler) Close() {
	h.lock.RLock()
	list := make([]*ServerTransport, 0, len(h.transports))
	for _, tr := range h.transports {
		list = append(list, tr)
	}
	h.lock.RUnlock()

	for _, tr := range list {
		_ = tr.Close()
	}
}

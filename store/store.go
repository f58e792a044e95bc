package store

import (
	"context"

	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "store")

// SessionStore keeps the ordered conversation history per session.
// History is append-only: turns are never edited or removed.
type SessionStore interface {
	// CreateSession creates a new session with empty history.
	CreateSession(ctx context.Context) (*chatmodel.SessionInfo, error)
	// GetSession returns the session info, or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*chatmodel.SessionInfo, error)
	// GetHistory returns a copy of the session history, or ErrSessionNotFound.
	GetHistory(ctx context.Context, sessionID string) ([]chatmodel.Turn, error)
	// AppendTurns appends all turns as a single indivisible operation.
	AppendTurns(ctx context.Context, sessionID string, turns ...chatmodel.Turn) error
	// ListSessions returns the sessions ordered by creation.
	ListSessions(ctx context.Context) ([]chatmodel.SessionInfo, error)
	// Lock acquires the exclusive message processing lock of the session.
	// The returned func releases the lock.
	Lock(ctx context.Context, sessionID string) (func(), error)
}

package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/xlog"
)

type session struct {
	id        string
	createdAt time.Time

	mu    sync.RWMutex
	turns []chatmodel.Turn

	// busy is held while a message is processed
	busy chan struct{}
}

func (s *session) info() chatmodel.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chatmodel.SessionInfo{
		ID:        s.id,
		CreatedAt: s.createdAt,
		TurnCount: len(s.turns),
	}
}

type inMemory struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewMemoryStore returns SessionStore that keeps sessions in memory
// for the lifetime of the process.
func NewMemoryStore() SessionStore {
	return &inMemory{
		sessions: make(map[string]*session),
	}
}

func (m *inMemory) get(sessionID string) (*session, error) {
	m.mu.RLock()
	s := m.sessions[sessionID]
	m.mu.RUnlock()
	if s == nil {
		return nil, errors.Wrapf(chatmodel.ErrSessionNotFound, "session %q", sessionID)
	}
	return s, nil
}

func (m *inMemory) CreateSession(ctx context.Context) (*chatmodel.SessionInfo, error) {
	s := &session{
		id:        chatmodel.NewSessionID(),
		createdAt: time.Now().UTC(),
		busy:      make(chan struct{}, 1),
	}

	m.mu.Lock()
	if _, exists := m.sessions[s.id]; exists {
		m.mu.Unlock()
		return nil, errors.Newf("session ID collision: %s", s.id)
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	metricskey.StatsSessionsCreated.IncrCounter(1, "memory")
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "session_created",
		"session_id", s.id,
	)

	info := s.info()
	return &info, nil
}

func (m *inMemory) GetSession(_ context.Context, sessionID string) (*chatmodel.SessionInfo, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	info := s.info()
	return &info, nil
}

func (m *inMemory) GetHistory(_ context.Context, sessionID string) ([]chatmodel.Turn, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return chatmodel.CloneTurns(s.turns), nil
}

func (m *inMemory) AppendTurns(ctx context.Context, sessionID string, turns ...chatmodel.Turn) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	s.mu.Lock()
	s.turns = append(s.turns, chatmodel.CloneTurns(turns)...)
	count := len(s.turns)
	s.mu.Unlock()

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "turns_appended",
		"session_id", sessionID,
		"appended", len(turns),
		"total", count,
	)
	return nil
}

func (m *inMemory) ListSessions(_ context.Context) ([]chatmodel.SessionInfo, error) {
	m.mu.RLock()
	list := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	res := make([]chatmodel.SessionInfo, 0, len(list))
	for _, s := range list {
		res = append(res, s.info())
	}
	slices.SortFunc(res, func(a, b chatmodel.SessionInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		// flake IDs grow monotonically, compare by length first
		if c := cmp.Compare(len(a.ID), len(b.ID)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res, nil
}

func (m *inMemory) Lock(ctx context.Context, sessionID string) (func(), error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}

	select {
	case s.busy <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for session %q", sessionID)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-s.busy })
	}, nil
}

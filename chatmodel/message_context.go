package chatmodel

import (
	"context"
	"strconv"
	"time"

	"github.com/effective-security/xdb/pkg/flake"
)

// MessageContext identifies a user message while the turn engine processes it.
type MessageContext struct {
	SessionID string
	// MessageID is unique per processed message, it correlates the logs of tool rounds.
	MessageID string
	Started   time.Time
}

// NewMessageContext returns the context of a new message in the session.
func NewMessageContext(sessionID string) *MessageContext {
	return &MessageContext{
		SessionID: sessionID,
		MessageID: newID(),
		Started:   time.Now(),
	}
}

// Elapsed returns the processing time so far.
func (m *MessageContext) Elapsed() time.Duration {
	return time.Since(m.Started)
}

type messageContextKey struct{}

// WithMessageContext returns ctx carrying the message context.
func WithMessageContext(ctx context.Context, m *MessageContext) context.Context {
	return context.WithValue(ctx, messageContextKey{}, m)
}

// MessageFromContext returns the message context carried by ctx, or nil.
func MessageFromContext(ctx context.Context) *MessageContext {
	m, _ := ctx.Value(messageContextKey{}).(*MessageContext)
	return m
}

// SessionIDFromContext returns the session of the message carried by ctx,
// empty outside of message processing.
func SessionIDFromContext(ctx context.Context) string {
	if m := MessageFromContext(ctx); m != nil {
		return m.SessionID
	}
	return ""
}

// NewSessionID returns a unique, time ordered session ID.
func NewSessionID() string {
	return newID()
}

func newID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}

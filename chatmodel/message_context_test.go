package chatmodel

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Nil(t, MessageFromContext(ctx))
	assert.Empty(t, SessionIDFromContext(ctx))

	m := NewMessageContext("sid")
	assert.Equal(t, "sid", m.SessionID)
	assert.NotEmpty(t, m.MessageID)
	assert.False(t, m.Started.IsZero())
	assert.GreaterOrEqual(t, m.Elapsed(), time.Duration(0))

	other := NewMessageContext("sid")
	assert.NotEqual(t, m.MessageID, other.MessageID)

	ctx = WithMessageContext(ctx, m)
	assert.Same(t, m, MessageFromContext(ctx))
	assert.Equal(t, "sid", SessionIDFromContext(ctx))
}

func TestNewSessionID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for range 1000 {
		id := NewSessionID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestTurn_CloneAndText(t *testing.T) {
	turn := Turn{
		Role: RoleModel,
		Parts: []Part{
			TextPart("Calling "),
			TextPart("tool"),
			{Type: PartTypeToolCall, ToolCall: &ToolCall{Name: "add", Args: map[string]any{"a": 1.0}}},
		},
	}
	assert.Equal(t, "Calling tool", turn.Text())

	c := turn.Clone()
	c.Parts[0].Text = "changed"
	c.Parts[2].ToolCall.Args["a"] = 2.0
	assert.Equal(t, "Calling ", turn.Parts[0].Text)
	assert.Equal(t, 1.0, turn.Parts[2].ToolCall.Args["a"])

	list := CloneTurns([]Turn{NewTextTurn(RoleUser, "hi")})
	require.Len(t, list, 1)
	assert.Equal(t, RoleUser, list[0].Role)
	assert.Equal(t, "hi", list[0].Text())
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(errors.Wrap(ErrSessionNotFound, "lookup")))
	assert.True(t, IsClientError(errors.WithMessage(ErrValidation, "missing")))
	assert.False(t, IsClientError(ErrDispatchFailure))
	assert.False(t, IsClientError(nil))
}

package chatmodel

import (
	"strings"
	"time"
)

// Role is the author of a Turn.
type Role string

const (
	// RoleUser is a turn authored by the user, or a tool result injected on its behalf.
	RoleUser Role = "user"
	// RoleModel is a turn authored by the model.
	RoleModel Role = "model"
)

// PartType is the kind of a content Part.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeToolCall   PartType = "tool_call"
	PartTypeToolResult PartType = "tool_result"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the textual payload returned by a tool.
type ToolResult struct {
	Name string `json:"name,omitempty"`
	Text string `json:"text"`
}

// Part is one element of a Turn.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// Turn is a role-tagged entry in a session history.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// SessionInfo describes a session.
type SessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	TurnCount int       `json:"messageCount"`
}

// TextPart returns a text Part.
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// NewTextTurn returns a Turn with a single text part.
func NewTextTurn(role Role, text string) Turn {
	return Turn{
		Role:  role,
		Parts: []Part{TextPart(text)},
	}
}

// Text returns concatenated text of the text parts.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if p.Type == PartTypeText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Clone returns a deep copy of the turn,
// so callers can not mutate the history owned by a store.
func (t Turn) Clone() Turn {
	c := Turn{
		Role:  t.Role,
		Parts: make([]Part, len(t.Parts)),
	}
	for i, p := range t.Parts {
		if p.ToolCall != nil {
			tc := *p.ToolCall
			tc.Args = cloneArgs(p.ToolCall.Args)
			p.ToolCall = &tc
		}
		if p.ToolResult != nil {
			tr := *p.ToolResult
			p.ToolResult = &tr
		}
		c.Parts[i] = p
	}
	return c
}

// CloneTurns returns a deep copy of the list.
func CloneTurns(list []Turn) []Turn {
	res := make([]Turn, len(list))
	for i, t := range list {
		res[i] = t.Clone()
	}
	return res
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	res := make(map[string]any, len(args))
	for k, v := range args {
		res[k] = v
	}
	return res
}

package llms

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrUnexpectedRole is returned by providers for a message role they cannot map.
var ErrUnexpectedRole = errors.New("unexpected role")

// Role is the author of a Message.
type Role string

const (
	// RoleSystem carries the system instruction.
	RoleSystem Role = "system"
	// RoleHuman is the user side of the conversation, tool results included.
	RoleHuman Role = "human"
	// RoleAI is the model side of the conversation.
	RoleAI Role = "ai"
)

// Message is one entry of the conversation sent to a Model.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// ContentPart is a piece of a Message, either TextContent or ToolCall.
type ContentPart interface {
	isPart()
}

// TextContent is a text piece of a Message.
type TextContent struct {
	Text string `json:"text"`
}

func (TextContent) isPart() {}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	// Arguments is the JSON object with the call arguments.
	Arguments string `json:"arguments,omitempty"`
}

func (ToolCall) isPart() {}

// TextMessage returns a message with one text part per string.
func TextMessage(role Role, texts ...string) Message {
	m := Message{
		Role:  role,
		Parts: make([]ContentPart, len(texts)),
	}
	for i, s := range texts {
		m.Parts[i] = TextContent{Text: s}
	}
	return m
}

// Text returns the parts of the message joined by new lines,
// tool calls are rendered as `name(arguments)`.
func (m Message) Text() string {
	lines := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch part := p.(type) {
		case TextContent:
			lines = append(lines, part.Text)
		case ToolCall:
			lines = append(lines, part.String())
		}
	}
	return strings.Join(lines, "\n")
}

// Size returns the number of content bytes in the message.
func (m Message) Size() uint64 {
	size := uint64(len(m.Role))
	for _, p := range m.Parts {
		switch part := p.(type) {
		case TextContent:
			size += uint64(len(part.Text))
		case ToolCall:
			size += part.size()
		}
	}
	return size
}

// MessagesSize returns the number of content bytes in the conversation.
func MessagesSize(messages []Message) uint64 {
	var size uint64
	for _, m := range messages {
		size += m.Size()
	}
	return size
}

func (tc ToolCall) String() string {
	return tc.Name + "(" + tc.Arguments + ")"
}

func (tc ToolCall) size() uint64 {
	return uint64(len(tc.ID) + len(tc.Name) + len(tc.Arguments))
}

// DecodeArguments returns the call arguments as a map.
// Missing arguments decode to an empty map.
func (tc ToolCall) DecodeArguments() (map[string]any, error) {
	if tc.Name == "" {
		return nil, errors.New("tool call has no name")
	}
	args := map[string]any{}
	raw := strings.TrimSpace(tc.Arguments)
	if raw == "" || raw == "null" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.Wrapf(err, "invalid arguments for %s", tc.Name)
	}
	return args, nil
}

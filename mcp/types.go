package mcp

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// ProtocolVersion is the MCP protocol revision implemented by this package
const ProtocolVersion = "2024-11-05"

// ContentType of a content block
type ContentType string

const (
	// ContentTypeText is a plain text block
	ContentTypeText ContentType = "text"
)

// TextContent is the payload of a text block
type TextContent struct {
	Text string `json:"text"`
}

// Content is a typed content block of a tool result
type Content struct {
	Type        ContentType
	TextContent *TextContent
}

// NewTextContent returns a text block
func NewTextContent(text string) *Content {
	return &Content{
		Type:        ContentTypeText,
		TextContent: &TextContent{Text: text},
	}
}

type contentJSON struct {
	Type ContentType `json:"type"`
	Text *string     `json:"text,omitempty"`
}

func (c *Content) MarshalJSON() ([]byte, error) {
	v := contentJSON{Type: c.Type}
	if c.TextContent != nil {
		v.Text = &c.TextContent.Text
	}
	if c.Type == ContentTypeText && v.Text == nil {
		return nil, errors.New("text content is missing")
	}
	return json.Marshal(v)
}

func (c *Content) UnmarshalJSON(b []byte) error {
	var v contentJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return errors.WithStack(err)
	}
	c.Type = v.Type
	c.TextContent = nil
	if v.Text != nil {
		c.TextContent = &TextContent{Text: *v.Text}
	}
	return nil
}

// ToolResponse is the result of a tool call
type ToolResponse struct {
	Content []*Content `json:"content"`
	IsError bool       `json:"isError,omitempty"`
}

// NewToolResponse returns a response with the given content blocks
func NewToolResponse(content ...*Content) *ToolResponse {
	if content == nil {
		content = []*Content{}
	}
	return &ToolResponse{Content: content}
}

// NewTextResponse returns a response with a single text block
func NewTextResponse(text string) *ToolResponse {
	return NewToolResponse(NewTextContent(text))
}

// Text returns the text of all text blocks, separated by a new line
func (r *ToolResponse) Text() string {
	if r == nil {
		return ""
	}
	var texts []string
	for _, c := range r.Content {
		if c != nil && c.Type == ContentTypeText && c.TextContent != nil {
			texts = append(texts, c.TextContent.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolRetType describes a tool in the tools/list result
type ToolRetType struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolsResponse is the result of tools/list
type ToolsResponse struct {
	Tools      []ToolRetType `json:"tools"`
	NextCursor *string       `json:"nextCursor,omitempty"`
}

// Implementation describes a client or a server
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability is present when the server offers tools
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerCapabilities lists what the server supports
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeRequest is sent by the client to start a session
type InitializeRequest struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResponse is the result of initialize
type InitializeResponse struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ListToolsRequest is the params of tools/list
type ListToolsRequest struct {
	Cursor *string `json:"cursor,omitempty"`
}

// CallToolRequest is the params of tools/call
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

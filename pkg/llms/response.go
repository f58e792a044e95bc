package llms

import "strings"

// ContentResponse is the result of a GenerateContent call.
type ContentResponse struct {
	Choices []*ContentChoice `json:"choices"`
	Usage   Usage            `json:"usage"`
}

// Usage reports the tokens billed for a call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	CachedTokens int64 `json:"cached_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// ContentChoice is one candidate reply.
type ContentChoice struct {
	// Content is the text of the reply.
	Content string `json:"content"`
	// StopReason is the provider reason for ending the generation.
	StopReason string `json:"stop_reason,omitempty"`
	// ToolCalls are the calls the model asks to invoke, in order.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// FirstToolCall returns the first requested call, or nil.
func (c *ContentChoice) FirstToolCall() *ToolCall {
	if c == nil || len(c.ToolCalls) == 0 || c.ToolCalls[0].Name == "" {
		return nil
	}
	return &c.ToolCalls[0]
}

// HasText reports whether the reply carries non-blank text.
func (c *ContentChoice) HasText() bool {
	return c != nil && strings.TrimSpace(c.Content) != ""
}

// Size returns the number of content bytes in the response.
func (r *ContentResponse) Size() uint64 {
	var size uint64
	if r == nil {
		return size
	}
	for _, c := range r.Choices {
		if c == nil {
			continue
		}
		size += uint64(len(c.Content))
		for _, tc := range c.ToolCalls {
			size += tc.size()
		}
	}
	return size
}

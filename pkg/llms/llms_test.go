package llms_test

import (
	"testing"

	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderCapabilities(t *testing.T) {
	for _, p := range []llms.ProviderType{llms.ProviderGoogleAI, llms.ProviderVertexAI} {
		assert.True(t, p.Supports(llms.CapabilitySystemPrompt), p)
		assert.True(t, p.Supports(llms.CapabilityFunctionCalling), p)
		assert.True(t, p.Supports(llms.CapabilitySystemPrompt|llms.CapabilityFunctionCalling), p)
	}

	unknown := llms.ProviderType("OTHER")
	assert.Equal(t, llms.Capability(0), unknown.Capabilities())
	assert.False(t, unknown.Supports(llms.CapabilitySystemPrompt))
	assert.False(t, llms.ProviderGoogleAI.Supports(0))
}

func TestMessage_Text(t *testing.T) {
	tcases := []struct {
		name string
		msg  llms.Message
		exp  string
	}{
		{
			name: "empty",
			msg:  llms.Message{Role: llms.RoleHuman},
			exp:  "",
		},
		{
			name: "single",
			msg:  llms.TextMessage(llms.RoleHuman, "Hello"),
			exp:  "Hello",
		},
		{
			name: "multi",
			msg:  llms.TextMessage(llms.RoleAI, "Calling tool: add", "done"),
			exp:  "Calling tool: add\ndone",
		},
		{
			name: "tool call",
			msg: llms.Message{
				Role: llms.RoleAI,
				Parts: []llms.ContentPart{
					llms.TextContent{Text: "Calling tool: add"},
					llms.ToolCall{Name: "add", Arguments: `{"a":1}`},
				},
			},
			exp: "Calling tool: add\nadd({\"a\":1})",
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exp, tc.msg.Text())
		})
	}
}

func TestMessagesSize(t *testing.T) {
	msgs := []llms.Message{
		llms.TextMessage(llms.RoleHuman, "Hello"),
		llms.TextMessage(llms.RoleAI, "Hi there"),
	}
	assert.Equal(t, uint64(len("human")+len("Hello")+len("ai")+len("Hi there")), llms.MessagesSize(msgs))

	withCall := llms.Message{
		Role:  llms.RoleAI,
		Parts: []llms.ContentPart{llms.ToolCall{ID: "1", Name: "add", Arguments: `{"a":1}`}},
	}
	assert.Equal(t, uint64(2+1+3+7), withCall.Size())
	assert.Zero(t, llms.MessagesSize(nil))
}

func TestToolCall_DecodeArguments(t *testing.T) {
	args, err := llms.ToolCall{Name: "add", Arguments: `{"a":2,"b":3}`}.DecodeArguments()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(2), "b": float64(3)}, args)

	for _, raw := range []string{"", "  ", "null"} {
		args, err = llms.ToolCall{Name: "time", Arguments: raw}.DecodeArguments()
		require.NoError(t, err)
		assert.Empty(t, args)
	}

	_, err = llms.ToolCall{Name: "add", Arguments: `[1,2]`}.DecodeArguments()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments for add")

	_, err = llms.ToolCall{}.DecodeArguments()
	assert.EqualError(t, err, "tool call has no name")
}

func TestContentChoice(t *testing.T) {
	var nilChoice *llms.ContentChoice
	assert.Nil(t, nilChoice.FirstToolCall())
	assert.False(t, nilChoice.HasText())

	c := &llms.ContentChoice{Content: " \n"}
	assert.False(t, c.HasText())
	assert.Nil(t, c.FirstToolCall())

	c = &llms.ContentChoice{
		Content: "ok",
		ToolCalls: []llms.ToolCall{
			{Name: "first"},
			{Name: "second"},
		},
	}
	assert.True(t, c.HasText())
	require.NotNil(t, c.FirstToolCall())
	assert.Equal(t, "first", c.FirstToolCall().Name)

	c = &llms.ContentChoice{ToolCalls: []llms.ToolCall{{}}}
	assert.Nil(t, c.FirstToolCall())
}

func TestContentResponse_Size(t *testing.T) {
	var resp *llms.ContentResponse
	assert.Zero(t, resp.Size())

	resp = &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			nil,
			{
				Content:   "Hello world",
				ToolCalls: []llms.ToolCall{{ID: "x", Name: "n", Arguments: "{}"}},
			},
		},
	}
	assert.Equal(t, uint64(11+1+1+2), resp.Size())
}

type addArgs struct {
	A float64 `json:"a" jsonschema:"required"`
	B float64 `json:"b" jsonschema:"required"`
}

func TestCallOptions(t *testing.T) {
	base := llms.CallOptions{Model: "gemini-2.0-flash", MaxTokens: 8192, Temperature: 0.5}
	assert.False(t, base.HasTools())

	tool := llms.NewFunctionTool("addTwoNumbers", "Add two numbers", schema.JSONSchemaFor[addArgs]())
	assert.Equal(t, llms.ToolTypeFunction, tool.Type)
	require.NotNil(t, tool.Function)
	assert.Equal(t, "addTwoNumbers", tool.Function.Name)
	assert.Equal(t, []string{"a", "b"}, tool.Function.Parameters.Required)

	got := base.Apply(
		llms.WithModel("gemini-2.5-pro"),
		llms.WithMaxTokens(100),
		llms.WithTemperature(0.2),
		llms.WithTools([]llms.Tool{tool}),
		nil,
	)
	assert.Equal(t, llms.CallOptions{
		Model:       "gemini-2.5-pro",
		MaxTokens:   100,
		Temperature: 0.2,
		Tools:       []llms.Tool{tool},
	}, got)
	assert.True(t, got.HasTools())

	// the receiver is a copy
	assert.Equal(t, "gemini-2.0-flash", base.Model)
	assert.False(t, base.HasTools())
}

package assistants_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/effective-security/toolchat/assistants"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/store"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCallback(t *testing.T) {
	var buf bytes.Buffer
	cb := assistants.NewPrinterCallback(&buf)
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)

	ast := &fakeAssistant{name: "test-assistant"}
	call := &chatmodel.ToolCall{Name: "test-tool", Args: map[string]any{"a": 1}}
	ctx := context.Background()

	cb.OnAssistantStart(ctx, ast, "42", "test input")
	cb.OnAssistantLLMCallStart(ctx, ast, model, []llms.Message{llms.TextMessage(llms.RoleHuman, "test input")})
	cb.OnAssistantLLMCallEnd(ctx, ast, model, textResponse("test output"))
	cb.OnAssistantLLMCallEnd(ctx, ast, model, toolResponse("test-tool", `{"a":1}`))
	cb.OnAssistantEnd(ctx, ast, "42", "test input", &assistants.Reply{Reply: "test output"})
	cb.OnAssistantError(ctx, ast, "42", "test input", errors.New("test error"))
	cb.OnToolStart(ctx, call)
	cb.OnToolEnd(ctx, call, "test output")
	cb.OnToolError(ctx, call, errors.New("test error"))

	res := buf.String()
	assert.Contains(t, res, "HUMAN: test input")
	assert.Contains(t, res, `Tool Call: test-tool({"a":1})`)
	assert.Contains(t, res, "Assistant Start: test-assistant, session: 42")
	assert.Contains(t, res, "Input: test input")
	assert.Contains(t, res, "LLM Call Start: gemini-test, messages: 1")
	assert.Contains(t, res, "LLM Call End: gemini-test")
	assert.Contains(t, res, "Assistant End: test-assistant")
	assert.Contains(t, res, "Assistant Error: test-assistant: test error")
	assert.Contains(t, res, "Tool Start: test-tool")
	assert.Contains(t, res, `Input: {"a":1}`)
	assert.Contains(t, res, "Tool End: test-tool")
	assert.Contains(t, res, "Output: test output")
	assert.Contains(t, res, "Tool Error: test-tool: test error")

	// must not panic
	for _, cb := range []assistants.Callback{
		assistants.NewNoopCallback(),
		assistants.NewPackageLoggerCallback(xlog.NewPackageLogger("github.com/effective-security/toolchat", "assistants_test")),
	} {
		cb.OnAssistantStart(ctx, ast, "42", "test input")
		cb.OnAssistantLLMCallStart(ctx, ast, model, nil)
		cb.OnAssistantLLMCallEnd(ctx, ast, model, textResponse("test output"))
		cb.OnAssistantEnd(ctx, ast, "42", "test input", &assistants.Reply{Reply: "test output"})
		cb.OnAssistantError(ctx, ast, "42", "test input", errors.New("test error"))
		cb.OnToolStart(ctx, call)
		cb.OnToolEnd(ctx, call, "test output")
		cb.OnToolError(ctx, call, errors.New("test error"))
	}
}

func TestCallback_SendMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := newMockModel(ctrl)
	sessions := store.NewMemoryStore()
	id := newSession(t, sessions)

	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(toolResponse("addTwoNumbers", `{"a":2,"b":3}`), nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(textResponse("5"), nil),
	)

	var buf bytes.Buffer
	a := assistants.NewAssistant(model, sessions, testSnapshot(t), sumDispatcher(),
		assistants.WithName("calc"),
		assistants.WithCallback(assistants.NewPrinterCallback(&buf)),
	)
	_, err := a.SendMessage(context.Background(), id, "2+3")
	require.NoError(t, err)

	res := buf.String()
	assert.Contains(t, res, "Assistant Start: calc, session: "+id)
	assert.Contains(t, res, "Tool Start: addTwoNumbers")
	assert.Contains(t, res, "Output: The sum of 2 and 3 is 5")
	assert.Contains(t, res, "Assistant End: calc")
}

type fakeAssistant struct {
	name string
}

func (f *fakeAssistant) Name() string {
	return f.name
}

func (f *fakeAssistant) SendMessage(context.Context, string, string) (*assistants.Reply, error) {
	return nil, errors.New("not implemented")
}

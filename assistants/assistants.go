package assistants

import (
	"context"

	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "assistants")

const (
	// FailedMessage is committed as the model turn when a message can not be processed.
	FailedMessage = "Failed to process message"

	callingToolPrefix = "Calling tool: "
	toolResultPrefix  = "Tool result: "
)

type IAssistant interface {
	// Name returns the name of the Assistant.
	Name() string
	// SendMessage processes the user message in the session and returns the final reply.
	SendMessage(ctx context.Context, sessionID, message string) (*Reply, error)
}

// Dispatcher executes a tool call requested by the model.
type Dispatcher interface {
	// Invoke calls the tool and returns its textual result.
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Callback receives the events of the turn engine.
type Callback interface {
	OnAssistantStart(ctx context.Context, assistant IAssistant, sessionID, input string)
	OnAssistantEnd(ctx context.Context, assistant IAssistant, sessionID, input string, reply *Reply)
	OnAssistantError(ctx context.Context, assistant IAssistant, sessionID, input string, err error)
	OnAssistantLLMCallStart(ctx context.Context, assistant IAssistant, llm llms.Model, messages []llms.Message)
	OnAssistantLLMCallEnd(ctx context.Context, assistant IAssistant, llm llms.Model, resp *llms.ContentResponse)
	OnToolStart(ctx context.Context, call *chatmodel.ToolCall)
	OnToolEnd(ctx context.Context, call *chatmodel.ToolCall, output string)
	OnToolError(ctx context.Context, call *chatmodel.ToolCall, err error)
}

// Reply is the result of a processed message.
type Reply struct {
	// Reply is the final text of the model.
	Reply string `json:"reply"`
	// ToolCalls lists the tools invoked while producing the reply, in order.
	ToolCalls []chatmodel.ToolCall `json:"toolCalls"`
	// History is the full session history after the exchange was committed.
	History []chatmodel.Turn `json:"history"`
}

package assistants

import (
	"context"
	"fmt"
	"io"

	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/llmutils"
	"github.com/effective-security/xlog"
)

// NoopCallback does nothing.
type NoopCallback struct{}

func NewNoopCallback() *NoopCallback {
	return &NoopCallback{}
}

var _ Callback = (*NoopCallback)(nil)

func (l *NoopCallback) OnAssistantStart(ctx context.Context, assistant IAssistant, sessionID, input string) {
}
func (l *NoopCallback) OnAssistantEnd(ctx context.Context, assistant IAssistant, sessionID, input string, reply *Reply) {
}
func (l *NoopCallback) OnAssistantError(ctx context.Context, assistant IAssistant, sessionID, input string, err error) {
}
func (l *NoopCallback) OnAssistantLLMCallStart(ctx context.Context, assistant IAssistant, llm llms.Model, messages []llms.Message) {
}
func (l *NoopCallback) OnAssistantLLMCallEnd(ctx context.Context, assistant IAssistant, llm llms.Model, resp *llms.ContentResponse) {
}
func (l *NoopCallback) OnToolStart(ctx context.Context, call *chatmodel.ToolCall) {}
func (l *NoopCallback) OnToolEnd(ctx context.Context, call *chatmodel.ToolCall, output string) {
}
func (l *NoopCallback) OnToolError(ctx context.Context, call *chatmodel.ToolCall, err error) {}

// PrinterCallback is a callback handler that prints to the Writer.
type PrinterCallback struct {
	Out io.Writer
}

func NewPrinterCallback(out io.Writer) *PrinterCallback {
	return &PrinterCallback{Out: out}
}

var _ Callback = (*PrinterCallback)(nil)

func (l *PrinterCallback) OnAssistantStart(ctx context.Context, assistant IAssistant, sessionID, input string) {
	fmt.Fprintf(l.Out, "Assistant Start: %s, session: %s\n", assistant.Name(), sessionID)
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *PrinterCallback) OnAssistantEnd(ctx context.Context, assistant IAssistant, sessionID, input string, reply *Reply) {
	fmt.Fprintf(l.Out, "Assistant End: %s, session: %s\n", assistant.Name(), sessionID)
	if reply != nil && reply.Reply != "" {
		fmt.Fprintln(l.Out, reply.Reply)
	}
}

func (l *PrinterCallback) OnAssistantError(ctx context.Context, assistant IAssistant, sessionID, input string, err error) {
	fmt.Fprintf(l.Out, "Assistant Error: %s: %s\n", assistant.Name(), err.Error())
}

func (l *PrinterCallback) OnAssistantLLMCallStart(ctx context.Context, assistant IAssistant, llm llms.Model, messages []llms.Message) {
	fmt.Fprintf(l.Out, "LLM Call Start: %s, messages: %d\n", llm.GetName(), len(messages))
	llmutils.PrintMessages(l.Out, messages)
}

func (l *PrinterCallback) OnAssistantLLMCallEnd(ctx context.Context, assistant IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	fmt.Fprintf(l.Out, "LLM Call End: %s\n", llm.GetName())
	if resp == nil {
		return
	}
	for _, choice := range resp.Choices {
		if choice.Content != "" {
			fmt.Fprintln(l.Out, choice.Content)
		}
		for _, tc := range choice.ToolCalls {
			fmt.Fprintf(l.Out, "Tool Call: %s\n", tc.String())
		}
	}
}

func (l *PrinterCallback) OnToolStart(ctx context.Context, call *chatmodel.ToolCall) {
	fmt.Fprintf(l.Out, "Tool Start: %s\n", call.Name)
	fmt.Fprintf(l.Out, "Input: %s\n", llmutils.ToJSON(call.Args))
}

func (l *PrinterCallback) OnToolEnd(ctx context.Context, call *chatmodel.ToolCall, output string) {
	fmt.Fprintf(l.Out, "Tool End: %s\n", call.Name)
	fmt.Fprintf(l.Out, "Output: %s\n", output)
}

func (l *PrinterCallback) OnToolError(ctx context.Context, call *chatmodel.ToolCall, err error) {
	fmt.Fprintf(l.Out, "Tool Error: %s: %s\n", call.Name, err.Error())
}

// PackageLoggerCallback is a callback handler that prints to the logger.
type PackageLoggerCallback struct {
	logger *xlog.PackageLogger
}

func NewPackageLoggerCallback(logger *xlog.PackageLogger) *PackageLoggerCallback {
	return &PackageLoggerCallback{logger: logger}
}

var _ Callback = (*PackageLoggerCallback)(nil)

func (l *PackageLoggerCallback) OnAssistantStart(ctx context.Context, assistant IAssistant, sessionID, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "assistant_start",
		"assistant", assistant.Name(),
		"session", sessionID,
		"input", llmutils.Truncate(input, 256),
	)
}

func (l *PackageLoggerCallback) OnAssistantEnd(ctx context.Context, assistant IAssistant, sessionID, input string, reply *Reply) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "assistant_end",
		"assistant", assistant.Name(),
		"session", sessionID)
	if reply != nil {
		l.logger.ContextKV(ctx, xlog.DEBUG,
			"result", llmutils.Truncate(reply.Reply, 256),
			"tool_calls", len(reply.ToolCalls),
		)
	}
}

func (l *PackageLoggerCallback) OnAssistantError(ctx context.Context, assistant IAssistant, sessionID, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "assistant_error",
		"assistant", assistant.Name(),
		"session", sessionID,
		"err", err.Error(),
	)
}

func (l *PackageLoggerCallback) OnAssistantLLMCallStart(ctx context.Context, assistant IAssistant, llm llms.Model, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_start",
		"assistant", assistant.Name(),
		"model", llm.GetName(),
		"messages", len(messages),
	)
}

func (l *PackageLoggerCallback) OnAssistantLLMCallEnd(ctx context.Context, assistant IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	var usage llms.Usage
	if resp != nil {
		usage = resp.Usage
	}
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_end",
		"assistant", assistant.Name(),
		"model", llm.GetName(),
		"tokens_in", usage.InputTokens,
		"tokens_out", usage.OutputTokens,
		"tokens_total", usage.TotalTokens,
	)
}

func (l *PackageLoggerCallback) OnToolStart(ctx context.Context, call *chatmodel.ToolCall) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"session", chatmodel.SessionIDFromContext(ctx),
		"message", messageID(ctx),
		"tool", call.Name,
		"input", llmutils.ToJSON(call.Args),
	)
}

func (l *PackageLoggerCallback) OnToolEnd(ctx context.Context, call *chatmodel.ToolCall, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"session", chatmodel.SessionIDFromContext(ctx),
		"message", messageID(ctx),
		"tool", call.Name,
		"output", llmutils.Truncate(output, 256),
	)
}

func (l *PackageLoggerCallback) OnToolError(ctx context.Context, call *chatmodel.ToolCall, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"session", chatmodel.SessionIDFromContext(ctx),
		"message", messageID(ctx),
		"tool", call.Name,
		"err", err.Error(),
	)
}

func messageID(ctx context.Context) string {
	if m := chatmodel.MessageFromContext(ctx); m != nil {
		return m.MessageID
	}
	return ""
}

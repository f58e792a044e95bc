package assistants

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/toolchat/registry"
	"github.com/effective-security/toolchat/store"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

// Assistant is the conversation turn engine.
// It is safe for concurrent use: messages of one session are serialized
// by the session lock, different sessions proceed in parallel.
type Assistant struct {
	llm        llms.Model
	sessions   store.SessionStore
	tools      *registry.Snapshot
	dispatcher Dispatcher
	cfg        *Config
	name       string
}

var _ IAssistant = (*Assistant)(nil)

// NewAssistant creates a new Assistant
func NewAssistant(
	model llms.Model,
	sessions store.SessionStore,
	tools *registry.Snapshot,
	dispatcher Dispatcher,
	opts ...Option,
) *Assistant {
	cfg := NewConfig(opts...)
	if tools == nil {
		tools, _ = registry.New()
	}
	return &Assistant{
		llm:        model,
		sessions:   sessions,
		tools:      tools,
		dispatcher: dispatcher,
		cfg:        cfg,
		name:       values.StringsCoalesce(cfg.Name, "chat"),
	}
}

// Name returns the name of the Assistant.
func (a *Assistant) Name() string {
	return a.name
}

// Config returns the configuration of the Assistant.
func (a *Assistant) Config() Config {
	return *a.cfg
}

// Tools returns the tool registry snapshot.
func (a *Assistant) Tools() *registry.Snapshot {
	return a.tools
}

// SendMessage processes the user message in the session.
// On success the user turn, tool rounds and the final model turn are committed at once.
// On failure only the user turn and a FailedMessage model turn are committed.
func (a *Assistant) SendMessage(ctx context.Context, sessionID, message string) (*Reply, error) {
	if sessionID == "" || strings.TrimSpace(message) == "" {
		return nil, errors.WithMessage(chatmodel.ErrValidation, "session ID and message are required")
	}

	msgCtx := chatmodel.MessageFromContext(ctx)
	if msgCtx == nil || msgCtx.SessionID != sessionID {
		msgCtx = chatmodel.NewMessageContext(sessionID)
		ctx = chatmodel.WithMessageContext(ctx, msgCtx)
	}

	started := msgCtx.Started
	modelName := a.llm.GetName()
	defer metricskey.PerfAssistantCall.MeasureSince(started, modelName)

	unlock, err := a.sessions.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	history, err := a.sessions.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	callback := a.cfg.CallbackHandler
	if callback != nil {
		callback.OnAssistantStart(ctx, a, sessionID, message)
	}

	reply, staged, err := a.run(ctx, history, message)
	if err == nil {
		err = a.sessions.AppendTurns(ctx, sessionID, staged...)
	}
	if err != nil {
		metricskey.StatsAssistantCallsFailed.IncrCounter(1, modelName, failureReason(err))
		logger.ContextKV(ctx, xlog.ERROR,
			"assistant", a.name,
			"session", sessionID,
			"input", slices.StringUpto(message, 64),
			"err", err.Error(),
		)

		failed := []chatmodel.Turn{
			chatmodel.NewTextTurn(chatmodel.RoleUser, message),
			chatmodel.NewTextTurn(chatmodel.RoleModel, FailedMessage),
		}
		if cerr := a.sessions.AppendTurns(context.WithoutCancel(ctx), sessionID, failed...); cerr != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"session", sessionID,
				"status", "failed_to_commit_failure",
				"err", cerr.Error(),
			)
		}
		if callback != nil {
			callback.OnAssistantError(ctx, a, sessionID, message, err)
		}
		return nil, err
	}

	reply.History, err = a.sessions.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	metricskey.StatsAssistantCallsSucceeded.IncrCounter(1, modelName)
	if callback != nil {
		callback.OnAssistantEnd(ctx, a, sessionID, message, reply)
	}
	return reply, nil
}

// run executes the turn loop over the committed history and returns
// the reply with the staged turns to commit.
func (a *Assistant) run(ctx context.Context, history []chatmodel.Turn, message string) (*Reply, []chatmodel.Turn, error) {
	staged := []chatmodel.Turn{
		chatmodel.NewTextTurn(chatmodel.RoleUser, message),
	}

	var extraOptions []llms.CallOption
	if a.tools.Len() > 0 {
		prov := a.llm.GetProviderType()
		if !prov.Supports(llms.CapabilityFunctionCalling) {
			return nil, nil, errors.Newf("assistant %s: the LLM does not support function calling", a.name)
		}
		extraOptions = append(extraOptions, llms.WithTools(a.tools.LLMTools()))
	}
	callOpts := a.cfg.GetCallOptions(extraOptions...)

	reply := &Reply{
		ToolCalls: []chatmodel.ToolCall{},
	}
	modelName := a.llm.GetName()

	for round := 0; ; round++ {
		messages := a.buildMessages(history, staged)
		choice, err := a.generate(ctx, messages, callOpts)
		if err != nil {
			return nil, nil, err
		}

		requested := choice.FirstToolCall()
		if requested == nil {
			reply.Reply = choice.Content
			staged = append(staged, chatmodel.NewTextTurn(chatmodel.RoleModel, choice.Content))
			return reply, staged, nil
		}

		if round >= a.cfg.MaxToolRounds {
			return nil, nil, errors.Mark(
				errors.Newf("assistant %s: tool rounds exceeded limit of %d", a.name, a.cfg.MaxToolRounds),
				chatmodel.ErrToolLoopExceeded)
		}

		if len(choice.ToolCalls) > 1 {
			logger.ContextKV(ctx, xlog.WARNING,
				"assistant", a.name,
				"status", "ignored_tool_calls",
				"requested", len(choice.ToolCalls),
			)
		}

		call, result, err := a.executeToolCall(ctx, *requested)
		if err != nil {
			return nil, nil, err
		}
		metricskey.StatsAssistantToolRounds.IncrCounter(1, modelName)

		reply.ToolCalls = append(reply.ToolCalls, *call)
		staged = append(staged,
			chatmodel.Turn{
				Role: chatmodel.RoleModel,
				Parts: []chatmodel.Part{
					chatmodel.TextPart(callingToolPrefix + call.Name),
					{Type: chatmodel.PartTypeToolCall, ToolCall: call},
				},
			},
			chatmodel.Turn{
				Role: chatmodel.RoleUser,
				Parts: []chatmodel.Part{
					chatmodel.TextPart(toolResultPrefix + result),
					{Type: chatmodel.PartTypeToolResult, ToolResult: &chatmodel.ToolResult{Name: call.Name, Text: result}},
				},
			},
		)
	}
}

// generate calls the model, retrying on empty response,
// and returns the first choice carrying text or a tool call.
func (a *Assistant) generate(ctx context.Context, messages []llms.Message, callOpts []llms.CallOption) (*llms.ContentChoice, error) {
	modelName := a.llm.GetName()
	callback := a.cfg.CallbackHandler

	for attempt := 1; ; attempt++ {
		if callback != nil {
			callback.OnAssistantLLMCallStart(ctx, a, a.llm, messages)
		}

		metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(messages)), modelName)
		metricskey.StatsLLMBytesSent.IncrCounter(float64(llms.MessagesSize(messages)), modelName)

		resp, err := a.callModel(ctx, messages, callOpts)
		if err != nil {
			return nil, err
		}

		if callback != nil {
			callback.OnAssistantLLMCallEnd(ctx, a, a.llm, resp)
		}

		if resp != nil {
			metricskey.StatsLLMBytesReceived.IncrCounter(float64(resp.Size()), modelName)
			metricskey.StatsLLMInputTokens.IncrCounter(float64(resp.Usage.InputTokens), modelName)
			metricskey.StatsLLMOutputTokens.IncrCounter(float64(resp.Usage.OutputTokens), modelName)
			metricskey.StatsLLMTotalTokens.IncrCounter(float64(resp.Usage.TotalTokens), modelName)
		}

		if choice := firstUsableChoice(resp); choice != nil {
			return choice, nil
		}

		if attempt >= a.cfg.MaxRetries {
			logger.ContextKV(ctx, xlog.ERROR,
				"assistant", a.name,
				"status", "max_retries_exceeded",
				"retry_count", attempt,
			)
			return nil, errors.Mark(
				errors.Newf("assistant %s: LLM returned empty response after %d attempts", a.name, attempt),
				chatmodel.ErrEmptyModelResponse)
		}
		metricskey.StatsAssistantCallsRetried.IncrCounter(1, modelName)
		logger.ContextKV(ctx, xlog.WARNING,
			"assistant", a.name,
			"status", "retrying_empty_response",
			"retry_count", attempt,
		)
	}
}

func (a *Assistant) callModel(ctx context.Context, messages []llms.Message, callOpts []llms.CallOption) (*llms.ContentResponse, error) {
	started := time.Now()
	defer metricskey.PerfModelCall.MeasureSince(started, a.llm.GetName())

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.ModelTimeout)
	defer cancel()

	resp, err := a.llm.GenerateContent(callCtx, messages, callOpts...)
	if err != nil {
		// the parent context is alive, so the deadline is ours
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.Mark(
				errors.WithMessagef(err, "model %s did not respond within %v", a.llm.GetName(), a.cfg.ModelTimeout),
				chatmodel.ErrModelTimeout)
		}
		return nil, errors.WithMessage(err, "failed to generate content from LLM")
	}
	return resp, nil
}

func (a *Assistant) executeToolCall(ctx context.Context, tc llms.ToolCall) (*chatmodel.ToolCall, string, error) {
	args, err := tc.DecodeArguments()
	if err != nil {
		return nil, "", errors.Mark(err, chatmodel.ErrDispatchFailure)
	}

	call := &chatmodel.ToolCall{
		Name: tc.Name,
		Args: args,
	}

	callback := a.cfg.CallbackHandler
	if callback != nil {
		callback.OnToolStart(ctx, call)
	}

	result, err := a.dispatcher.Invoke(ctx, call.Name, call.Args)
	if err != nil {
		if callback != nil {
			callback.OnToolError(ctx, call, err)
		}
		return nil, "", err
	}

	if callback != nil {
		callback.OnToolEnd(ctx, call, result)
	}
	return call, result, nil
}

// buildMessages converts the session turns to model messages.
func (a *Assistant) buildMessages(history, staged []chatmodel.Turn) []llms.Message {
	messages := make([]llms.Message, 0, len(history)+len(staged)+1)
	if a.cfg.SystemPrompt != "" && a.llm.GetProviderType().Supports(llms.CapabilitySystemPrompt) {
		messages = append(messages, llms.TextMessage(llms.RoleSystem, a.cfg.SystemPrompt))
	}
	for _, list := range [][]chatmodel.Turn{history, staged} {
		for _, t := range list {
			text := t.Text()
			if text == "" {
				continue
			}
			role := llms.RoleHuman
			if t.Role == chatmodel.RoleModel {
				role = llms.RoleAI
			}
			messages = append(messages, llms.TextMessage(role, text))
		}
	}
	return messages
}

// firstUsableChoice returns the first choice with a tool call or non-empty text.
func firstUsableChoice(resp *llms.ContentResponse) *llms.ContentChoice {
	if resp == nil {
		return nil
	}
	for _, choice := range resp.Choices {
		if choice.FirstToolCall() != nil {
			return choice
		}
		if choice.HasText() {
			return &llms.ContentChoice{
				Content:    choice.Content,
				StopReason: choice.StopReason,
			}
		}
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, chatmodel.ErrModelTimeout):
		return "model_timeout"
	case errors.Is(err, chatmodel.ErrEmptyModelResponse):
		return "empty_response"
	case errors.Is(err, chatmodel.ErrToolLoopExceeded):
		return "tool_loop"
	case errors.Is(err, chatmodel.ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, chatmodel.ErrToolTimeout):
		return "tool_timeout"
	case errors.Is(err, chatmodel.ErrDispatchFailure):
		return "dispatch"
	case errors.Is(err, chatmodel.ErrSessionNotFound):
		return "session"
	default:
		return "model"
	}
}

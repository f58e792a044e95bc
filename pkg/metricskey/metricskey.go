// Package metricskey declares the metrics emitted by the chat engine,
// the capability server and the API.
package metricskey

import "github.com/effective-security/metrics"

// metric tags
const (
	TagModel     = "model"
	TagReason    = "reason"
	TagTool      = "tool"
	TagStore     = "store"
	TagTransport = "transport"
	TagMethod    = "method"
	TagRoute     = "route"
)

func counter(name, help string, tags ...string) metrics.Describe {
	return metrics.Describe{Type: metrics.TypeCounter, Name: name, Help: help, RequiredTags: tags}
}

func sample(name, help string, tags ...string) metrics.Describe {
	return metrics.Describe{Type: metrics.TypeSample, Name: name, Help: help, RequiredTags: tags}
}

// Model usage
var (
	StatsLLMMessagesSent  = counter("stats_llm_messages_sent", "count of messages sent to the model", TagModel)
	StatsLLMBytesSent     = counter("stats_llm_bytes_sent", "bytes of message text sent to the model", TagModel)
	StatsLLMBytesReceived = counter("stats_llm_bytes_received", "bytes of response text received from the model", TagModel)
	StatsLLMInputTokens   = counter("stats_llm_input_tokens", "prompt tokens reported by the model", TagModel)
	StatsLLMOutputTokens  = counter("stats_llm_output_tokens", "completion tokens reported by the model", TagModel)
	StatsLLMTotalTokens   = counter("stats_llm_total_tokens", "total tokens reported by the model", TagModel)
	PerfModelCall         = sample("perf_model_call", "duration of a single inference call", TagModel)
)

// Turn engine
var (
	StatsAssistantCallsSucceeded = counter("stats_assistant_calls_succeeded", "turns completed with a reply", TagModel)
	StatsAssistantCallsFailed    = counter("stats_assistant_calls_failed", "turns failed, by reason", TagModel, TagReason)
	StatsAssistantCallsRetried   = counter("stats_assistant_calls_retried", "inference calls retried after an empty response", TagModel)
	StatsAssistantToolRounds     = counter("stats_assistant_tool_rounds", "tool rounds executed within turns", TagModel)
	PerfAssistantCall            = sample("perf_assistant_call", "duration of a turn", TagModel)
	StatsSessionsCreated         = counter("stats_sessions_created", "chat sessions created", TagStore)
)

// Tools
var (
	StatsToolCallsSucceeded  = counter("stats_tool_calls_succeeded", "tool calls that returned a result", TagTool)
	StatsToolCallsFailed     = counter("stats_tool_calls_failed", "tool calls failed with an error", TagTool)
	StatsToolCallsNotFound   = counter("stats_tool_calls_not_found", "tool calls for a name no provider offers", TagTool)
	StatsToolCallsTimedOut   = counter("stats_tool_calls_timed_out", "tool calls that exceeded the call timeout", TagTool)
	StatsToolHandlerFailures = counter("stats_tool_handler_failures", "handler errors returned to the caller as text", TagTool)
	PerfToolCall             = sample("perf_tool_call", "duration of a tool call from the engine", TagTool)
	PerfToolHandler          = sample("perf_tool_handler", "duration of a tool handler in the capability server", TagTool)

	StatsMCPConnectionsOpened = counter("stats_mcp_connections_opened", "tool provider connections opened", TagTransport)
	StatsMCPConnectionsClosed = counter("stats_mcp_connections_closed", "tool provider connections closed", TagTransport)
)

// API
var (
	StatsAPIRequestsFailed = counter("stats_api_requests_failed", "API requests failed with a server error", TagMethod, TagRoute)
)

// Metrics lists every metric, sorted by name
var Metrics = []*metrics.Describe{
	&PerfAssistantCall,
	&PerfModelCall,
	&PerfToolCall,
	&PerfToolHandler,
	&StatsAPIRequestsFailed,
	&StatsAssistantCallsFailed,
	&StatsAssistantCallsRetried,
	&StatsAssistantCallsSucceeded,
	&StatsAssistantToolRounds,
	&StatsLLMBytesReceived,
	&StatsLLMBytesSent,
	&StatsLLMInputTokens,
	&StatsLLMMessagesSent,
	&StatsLLMOutputTokens,
	&StatsLLMTotalTokens,
	&StatsMCPConnectionsClosed,
	&StatsMCPConnectionsOpened,
	&StatsSessionsCreated,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
	&StatsToolCallsTimedOut,
	&StatsToolHandlerFailures,
}

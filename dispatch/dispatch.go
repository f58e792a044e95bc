// Package dispatch forwards tool calls requested by the model
// to the capability provider.
package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/toolchat/registry"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "dispatch")

// DefaultTimeout bounds a single tool call
const DefaultTimeout = 60 * time.Second

// ToolCaller calls a tool on the capability provider
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args any) (*mcp.ToolResponse, error)
}

// Option configures the Bridge
type Option func(*Bridge)

// WithTimeout sets the tool call timeout
func WithTimeout(timeout time.Duration) Option {
	return func(b *Bridge) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// Bridge invokes tools of the registry snapshot by name
type Bridge struct {
	tools   *registry.Snapshot
	caller  ToolCaller
	timeout time.Duration
}

// New returns a Bridge
func New(tools *registry.Snapshot, caller ToolCaller, opts ...Option) *Bridge {
	b := &Bridge{
		tools:   tools,
		caller:  caller,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Invoke calls the tool and returns its text.
// Errors are marked with ErrUnknownTool, ErrToolTimeout or ErrDispatchFailure.
// A failure inside the tool handler is not an error, it is described by the returned text.
func (b *Bridge) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	d, ok := b.tools.Get(name)
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		return "", errors.Mark(errors.Newf("unknown tool: %s", name), chatmodel.ErrUnknownTool)
	}

	if args == nil {
		args = map[string]any{}
	}
	var missing []string
	for _, req := range d.RequiredArgs() {
		if _, ok := args[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		return "", errors.Mark(errors.Newf("tool %s: missing required arguments: %s", name, strings.Join(missing, ", ")), chatmodel.ErrDispatchFailure)
	}

	started := time.Now()
	defer metricskey.PerfToolCall.MeasureSince(started, name)

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res, err := b.caller.CallTool(callCtx, name, args)
	if err != nil {
		if errors.Is(err, mcp.ErrRequestTimeout) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			metricskey.StatsToolCallsTimedOut.IncrCounter(1, name)
			logger.ContextKV(ctx, xlog.ERROR, "tool", name, "status", "timeout", "err", err.Error())
			return "", errors.Mark(errors.WithMessagef(err, "tool %s timed out after %v", name, b.timeout), chatmodel.ErrToolTimeout)
		}
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		logger.ContextKV(ctx, xlog.ERROR, "tool", name, "status", "failed", "err", err.Error())
		return "", errors.Mark(err, chatmodel.ErrDispatchFailure)
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)
	text := res.Text()
	logger.ContextKV(ctx, xlog.DEBUG,
		"tool", name,
		"is_error", res.IsError,
		"size", len(text),
		"elapsed", time.Since(started).String(),
	)
	return text, nil
}

package callbacks

import (
	"context"

	"github.com/effective-security/mcpbridge/assistants"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/pkg/llmutils"
	"github.com/effective-security/mcpbridge/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var _ assistants.Callback = (*PackageLogger)(nil)

// maxLoggedValue caps the size of inputs and outputs in log records.
const maxLoggedValue = 256

// PackageLogger logs the run events at DEBUG level, and errors at ERROR level.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnQueryStart(ctx context.Context, agent *assistants.Agent, query string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"status", "query_start",
		"agent", agent.Name(),
		"query", slices.StringUpto(query, maxLoggedValue))
}

func (l *PackageLogger) OnQueryEnd(ctx context.Context, agent *assistants.Agent, _ string, answer string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"status", "query_end",
		"agent", agent.Name(),
		"answer_size", len(answer))
}

func (l *PackageLogger) OnQueryError(ctx context.Context, agent *assistants.Agent, _ string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"status", "query_error",
		"agent", agent.Name(),
		"err", err.Error())
}

func (l *PackageLogger) OnLLMCallStart(ctx context.Context, agent *assistants.Agent, payload []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"status", "llm_call_start",
		"agent", agent.Name(),
		"model", agent.LLM.GetName(),
		"messages", len(payload),
		"bytes", llmutils.CountMessagesContentSize(payload))
}

func (l *PackageLogger) OnLLMCallEnd(ctx context.Context, agent *assistants.Agent, resp *llms.ContentResponse) {
	in, out, _ := llmutils.CountTokens(resp)
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"status", "llm_call_end",
		"agent", agent.Name(),
		"model", agent.LLM.GetName(),
		"bytes", llmutils.CountResponseContentSize(resp),
		"tokens_in", in,
		"tokens_out", out)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"status", "tool_start",
		"tool", tool.Name(),
		"input", slices.StringUpto(input, maxLoggedValue))
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, tool tools.ITool, _ string, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"status", "tool_end",
		"tool", tool.Name(),
		"output", slices.StringUpto(output, maxLoggedValue))
}

func (l *PackageLogger) OnToolError(ctx context.Context, tool tools.ITool, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"status", "tool_error",
		"tool", tool.Name(),
		"input", slices.StringUpto(input, maxLoggedValue),
		"err", err.Error())
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, agent *assistants.Agent, tool string) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"status", "tool_not_found",
		"agent", agent.Name(),
		"tool", tool)
}

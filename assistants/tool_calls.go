package assistants

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/mcperr"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// executeToolCalls runs the calls concurrently and returns one observation
// per call, in the order of the calls. Failures never abort the run, they
// are reported to the model as observations.
func (r *Run) executeToolCalls(ctx context.Context, calls []llms.ToolCall) []llms.ToolCallResponse {
	results := make([]llms.ToolCallResponse, len(calls))

	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, tc := range calls {
		go func(index int, tc llms.ToolCall) {
			defer wg.Done()
			results[index] = llms.ToolCallResponse{
				ToolCallID: tc.ID,
				Name:       tc.FunctionCall.Name,
				Content:    r.callTool(ctx, tc),
			}
		}(i, tc)
	}
	wg.Wait()

	for _, res := range results {
		logger.ContextKV(ctx, xlog.DEBUG,
			"agent", r.agent.name,
			"status", "tool_call_response",
			"tool_call_id", res.ToolCallID,
			"tool_name", res.Name,
			"content_length", len(res.Content),
		)
	}
	return results
}

func (r *Run) callTool(ctx context.Context, tc llms.ToolCall) (content string) {
	a := r.agent
	cb := r.cfg.CallbackHandler
	toolName := tc.FunctionCall.Name
	toolArgs := tc.FunctionCall.Arguments

	tool := a.findTool(toolName)
	if tool == nil {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, toolName)
		if cb != nil {
			cb.OnToolNotFound(ctx, a, toolName)
		}

		availableTools := strings.Join(a.toolsNames, ", ")
		logger.ContextKV(ctx, xlog.WARNING,
			"agent", a.name,
			"status", "tool_not_found",
			"tool_name", toolName,
			"available_tools", availableTools,
		)
		return fmt.Sprintf("Tool `%s` not found. Please check the tool name and try again with exact match. Available tools: %s", toolName, availableTools)
	}

	if cb != nil {
		cb.OnToolStart(ctx, tool, toolArgs)
	}

	started := time.Now()
	res, err := safeCall(ctx, tool.Call, toolArgs)
	metricskey.PerfToolCall.MeasureSince(started, toolName)

	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName, string(mcperr.KindOf(err)))
		logger.ContextKV(ctx, xlog.WARNING,
			"agent", a.name,
			"status", "tool_call_failed",
			"tool", toolName,
			"tool_call_id", tc.ID,
			"err", err.Error(),
		)
		if cb != nil {
			cb.OnToolError(ctx, tool, toolArgs, err)
		}
		return fmt.Sprintf("Tool call failed: %s", err.Error())
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, toolName)
	if cb != nil {
		cb.OnToolEnd(ctx, tool, toolArgs, res)
	}
	return res
}

func safeCall(ctx context.Context, call func(context.Context, string) (string, error), input string) (res string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = errors.Newf("tool panicked: %v", v)
		}
	}()
	return call(ctx, input)
}

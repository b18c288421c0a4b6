package callbacks_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/effective-security/mcpbridge/assistants"
	"github.com/effective-security/mcpbridge/callbacks"
	"github.com/effective-security/mcpbridge/mocks/mockllms"
	"github.com/effective-security/mcpbridge/mocks/mocktools"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge", "callbacks_test")

func newAgent(ctrl *gomock.Controller) *assistants.Agent {
	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetName().Return("mock-model").AnyTimes()
	return assistants.NewAgent(model, "sys").WithName("geo")
}

func newTool(ctrl *gomock.Controller) *mocktools.MockITool {
	tool := mocktools.NewMockITool(ctrl)
	tool.EXPECT().Name().Return("maps_text_search").AnyTimes()
	return tool
}

func emit(cb assistants.Callback, agent *assistants.Agent, tool *mocktools.MockITool) {
	ctx := context.Background()
	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:   "checking",
			ToolCalls: []llms.ToolCall{{ID: "1", FunctionCall: &llms.FunctionCall{Name: "maps_text_search"}}},
		}},
	}
	cb.OnQueryStart(ctx, agent, "where is the lake?")
	cb.OnLLMCallStart(ctx, agent, []llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "where is the lake?")})
	cb.OnLLMCallEnd(ctx, agent, resp)
	cb.OnToolStart(ctx, tool, `{"keywords":"lake"}`)
	cb.OnToolEnd(ctx, tool, `{"keywords":"lake"}`, "north")
	cb.OnToolError(ctx, tool, `{}`, errors.New("tool error"))
	cb.OnToolNotFound(ctx, agent, "maps_route")
	cb.OnQueryError(ctx, agent, "where is the lake?", errors.New("query error"))
	cb.OnQueryEnd(ctx, agent, "where is the lake?", "It is north.")
}

func TestPrinter(t *testing.T) {
	ctrl := gomock.NewController(t)
	agent := newAgent(ctrl)
	tool := newTool(ctrl)

	var buf bytes.Buffer
	emit(callbacks.NewPrinter(&buf, callbacks.ModeVerbose), agent, tool)

	res := buf.String()
	assert.Contains(t, res, "Query Start: geo")
	assert.Contains(t, res, "Input: where is the lake?")
	assert.Contains(t, res, "LLM Call: geo: mock-model model, 1 messages")
	assert.Contains(t, res, "LLM Call End: geo: mock-model model, 1 tool calls")
	assert.Contains(t, res, "Tool Start: maps_text_search")
	assert.Contains(t, res, "Tool End: maps_text_search")
	assert.Contains(t, res, "Output: north")
	assert.Contains(t, res, "Tool Error: maps_text_search: tool error")
	assert.Contains(t, res, "Tool Not Found: maps_route")
	assert.Contains(t, res, "Query Error: geo: query error")
	assert.Contains(t, res, "Query End: geo\nIt is north.")

	buf.Reset()
	emit(callbacks.NewPrinter(&buf, callbacks.ModeDefault), agent, tool)
	assert.NotContains(t, buf.String(), "Output: north")
	assert.NotContains(t, buf.String(), "It is north.")
}

func TestFanout(t *testing.T) {
	ctrl := gomock.NewController(t)
	agent := newAgent(ctrl)
	tool := newTool(ctrl)

	var b1, b2 bytes.Buffer
	fanout := callbacks.NewFanout(callbacks.NewPrinter(&b1, callbacks.ModeDefault))
	fanout.Add(callbacks.NewPrinter(&b2, callbacks.ModeDefault))
	fanout.Add(callbacks.NewNoop())
	fanout.Add(callbacks.NewPackageLogger(logger))
	emit(fanout, agent, tool)

	assert.NotEmpty(t, b1.String())
	assert.Equal(t, b1.String(), b2.String())
}

func TestNoopAndLogger(t *testing.T) {
	ctrl := gomock.NewController(t)
	agent := newAgent(ctrl)
	tool := newTool(ctrl)

	assert.NotPanics(t, func() {
		emit(callbacks.NewNoop(), agent, tool)
		emit(callbacks.NewPackageLogger(logger), agent, tool)
	})
}

package assistants

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/chatmodel"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/pkg/llmutils"
	"github.com/effective-security/mcpbridge/pkg/metricskey"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

// FragmentKind identifies the kind of a Fragment.
type FragmentKind int

const (
	// FragmentText is a piece of model output, delivered as it streams.
	FragmentText FragmentKind = iota
	// FragmentToolCall is a tool call requested by the model.
	FragmentToolCall
	// FragmentToolResult is the observation produced by a tool call.
	FragmentToolResult
	// FragmentDone is the last fragment of a successful run.
	FragmentDone
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentText:
		return "text"
	case FragmentToolCall:
		return "tool_call"
	case FragmentToolResult:
		return "tool_result"
	case FragmentDone:
		return "done"
	}
	return fmt.Sprintf("FragmentKind(%d)", int(k))
}

// Fragment is a unit of output of a Run.
type Fragment struct {
	Kind FragmentKind
	// Turn is the 1-based model turn the fragment belongs to.
	Turn int
	// Text is the streamed delta for FragmentText, and the final answer for FragmentDone.
	Text string
	// ToolCall is set for FragmentToolCall.
	ToolCall *llms.ToolCall
	// ToolResult is set for FragmentToolResult.
	ToolResult *llms.ToolCallResponse
}

// Run is a single query against an Agent.
type Run struct {
	ctx   context.Context
	agent *Agent
	cfg   *Config
	query string
	conv  *chatmodel.Conversation

	consumed atomic.Bool
	turns    int
}

var errStopped = errors.New("fragments consumer stopped")

func newRun(ctx context.Context, agent *Agent, cfg *Config, query string) *Run {
	return &Run{
		ctx:   ctx,
		agent: agent,
		cfg:   cfg,
		query: query,
		conv:  chatmodel.NewConversation(chatmodel.GetChatID(ctx)),
	}
}

// ID returns the conversation ID of the run.
func (r *Run) ID() string {
	return r.conv.ID()
}

// Conversation returns the history of the run, without the system prompt.
func (r *Run) Conversation() *chatmodel.Conversation {
	return r.conv
}

// Turns returns the number of model calls made so far.
func (r *Run) Turns() int {
	return r.turns
}

// Fragments returns the output of the run.
// The sequence is lazy: the query is executed while it is iterated, and
// breaking out of the loop stops the model stream. It can be iterated once;
// subsequent iterations yield ErrRunConsumed.
// An error is always the last element of the sequence.
func (r *Run) Fragments() iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		if !r.consumed.CompareAndSwap(false, true) {
			yield(Fragment{}, errors.WithStack(ErrRunConsumed))
			return
		}

		answer, err := r.execute(yield)
		if errors.Is(err, errStopped) {
			logger.ContextKV(r.ctx, xlog.DEBUG,
				"agent", r.agent.name,
				"status", "stopped_by_consumer",
				"turn", r.turns,
			)
			return
		}
		if err != nil {
			yield(Fragment{Turn: r.turns}, err)
			return
		}
		yield(Fragment{Kind: FragmentDone, Turn: r.turns, Text: answer}, nil)
	}
}

func (r *Run) execute(yield func(Fragment, error) bool) (string, error) {
	a := r.agent
	ctx := r.ctx
	started := time.Now()
	defer metricskey.PerfAssistantCall.MeasureSince(started, a.name)

	callback := r.cfg.CallbackHandler
	if callback != nil {
		callback.OnQueryStart(ctx, a, r.query)
	}

	answer, err := r.loop(yield)
	if err != nil {
		if errors.Is(err, errStopped) {
			return "", err
		}
		metricskey.StatsAssistantCallsFailed.IncrCounter(1, a.name)
		logger.ContextKV(ctx, xlog.DEBUG,
			"agent", a.name,
			"status", "query_failed",
			"turns", r.turns,
			"err", err.Error(),
		)
		if callback != nil {
			callback.OnQueryError(ctx, a, r.query, err)
		}
		return "", err
	}

	metricskey.StatsAssistantCallsSucceeded.IncrCounter(1, a.name)
	if callback != nil {
		callback.OnQueryEnd(ctx, a, r.query, answer)
	}
	return answer, nil
}

func (r *Run) loop(yield func(Fragment, error) bool) (string, error) {
	a := r.agent
	ctx := r.ctx

	if strings.TrimSpace(r.query) == "" {
		return "", errors.WithStack(ErrEmptyQuery)
	}
	r.conv.Append(llms.MessageFromTextParts(llms.RoleHuman, r.query))

	// the tool graph is chosen once per query
	withTools := len(a.llmToolDefs) > 0
	if !withTools {
		logger.ContextKV(ctx, xlog.WARNING,
			"agent", a.name,
			"status", "no_tools",
			"reason", "answering from the model alone",
		)
	} else if !a.LLM.GetProviderType().Supports(llms.CapabilityFunctionCalling) {
		return "", errors.Newf("agent %s: the LLM does not support function calling", a.name)
	}

	callOpts := r.cfg.GetCallOptions()
	if withTools {
		callOpts = append(callOpts, llms.WithTools(a.llmToolDefs))
	}

	modelName := a.LLM.GetName()
	for {
		if r.turns >= r.cfg.MaxTurns {
			return "", errors.Wrapf(ErrMaxTurnsExceeded, "agent %s: %d turns", a.name, r.cfg.MaxTurns)
		}
		r.turns++
		turn := r.turns

		payload := r.conv.WithSystemPrompt(a.sysprompt)
		if r.cfg.CallbackHandler != nil {
			r.cfg.CallbackHandler.OnLLMCallStart(ctx, a, payload)
		}
		metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(payload)), a.name, modelName)
		metricskey.StatsLLMBytesSent.IncrCounter(float64(llmutils.CountMessagesContentSize(payload)), a.name, modelName)

		stopped := false
		streamFn := func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if !yield(Fragment{Kind: FragmentText, Turn: turn, Text: string(chunk)}, nil) {
				stopped = true
				return errStopped
			}
			return nil
		}

		resp, err := a.LLM.GenerateContent(ctx, payload, append(callOpts, llms.WithStreamingFunc(streamFn))...)
		if stopped {
			return "", errStopped
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", errors.WithMessagef(ctx.Err(), "agent %s: turn %d", a.name, turn)
			}
			return "", errors.Mark(errors.WithMessagef(err, "agent %s: turn %d", a.name, turn), ErrModel)
		}
		if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
			return "", errors.Mark(errors.Newf("agent %s: LLM returned empty response", a.name), ErrModel)
		}

		if r.cfg.CallbackHandler != nil {
			r.cfg.CallbackHandler.OnLLMCallEnd(ctx, a, resp)
		}
		metricskey.StatsLLMBytesReceived.IncrCounter(float64(llmutils.CountResponseContentSize(resp)), a.name, modelName)
		tokensIn, tokensOut, _ := llmutils.CountTokens(resp)
		metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), a.name, modelName)
		metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), a.name, modelName)

		choice := resp.Choices[0]
		toolCalls := choice.ToolCalls
		if len(toolCalls) > 0 && !withTools {
			logger.ContextKV(ctx, xlog.WARNING,
				"agent", a.name,
				"status", "ignored_tool_calls",
				"count", len(toolCalls),
			)
			toolCalls = nil
		}

		if len(toolCalls) == 0 {
			r.conv.Append(llms.MessageFromTextParts(llms.RoleAI, choice.Content))
			logger.ContextKV(ctx, xlog.DEBUG,
				"agent", a.name,
				"status", "done",
				"turns", turn,
				"answer", slices.StringUpto(choice.Content, 64),
			)
			return choice.Content, nil
		}

		calls := normalizeToolCalls(toolCalls)
		parts := make([]llms.ContentPart, 0, len(calls)+1)
		if choice.Content != "" {
			parts = append(parts, llms.TextPart(choice.Content))
		}
		for _, tc := range calls {
			parts = append(parts, tc)
		}
		r.conv.Append(llms.MessageFromParts(llms.RoleAI, parts...))

		for i := range calls {
			if !yield(Fragment{Kind: FragmentToolCall, Turn: turn, ToolCall: &calls[i]}, nil) {
				return "", errStopped
			}
		}

		observations := r.executeToolCalls(ctx, calls)
		toolParts := make([]llms.ContentPart, 0, len(observations))
		for _, o := range observations {
			toolParts = append(toolParts, o)
		}
		r.conv.Append(llms.MessageFromParts(llms.RoleTool, toolParts...))

		if err := ctx.Err(); err != nil {
			return "", errors.WithMessagef(err, "agent %s: turn %d", a.name, turn)
		}

		for i := range observations {
			if !yield(Fragment{Kind: FragmentToolResult, Turn: turn, ToolResult: &observations[i]}, nil) {
				return "", errStopped
			}
		}
	}
}

// normalizeToolCalls fills in missing IDs and types, and makes sure arguments are a JSON document.
func normalizeToolCalls(list []llms.ToolCall) []llms.ToolCall {
	calls := make([]llms.ToolCall, 0, len(list))
	for _, tc := range list {
		fc := llms.FunctionCall{}
		if tc.FunctionCall != nil {
			fc = *tc.FunctionCall
		}
		if strings.TrimSpace(fc.Arguments) == "" {
			fc.Arguments = "{}"
		}
		calls = append(calls, llms.ToolCall{
			ID:           values.StringsCoalesce(tc.ID, "call_"+uuid.NewString()),
			Type:         values.StringsCoalesce(tc.Type, "function"),
			FunctionCall: &fc,
		})
	}
	return calls
}

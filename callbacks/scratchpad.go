package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/mcpbridge/assistants"
	"github.com/effective-security/mcpbridge/chatmodel"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/pkg/llmutils"
	"github.com/effective-security/mcpbridge/tools"
)

var _ assistants.Callback = (*Scratchpad)(nil)

// TimeNowFn stamps the trace lines.
var TimeNowFn = time.Now

// RunStats are the counters of one run, from StartRun to EndRun.
type RunStats struct {
	ChatID string
	RunID  string

	Duration time.Duration

	Queries          uint32
	QueriesSucceeded uint32
	QueriesFailed    uint32

	LLMCalls        uint32
	TotalMessages   uint32
	LLMBytesOut     uint64
	LLMBytesIn      uint64
	LLMInputTokens  uint64
	LLMOutputTokens uint64
	LLMTotalTokens  uint64

	ToolsCalls          uint32
	ToolsCallsSucceeded uint32
	ToolsCallsFailed    uint32
	ToolNotFound        uint32
}

// Scratchpad keeps a timestamped trace and the stats of each run,
// keyed by the chat ID of the context. Events of a context without
// a started run are dropped.
type Scratchpad struct {
	runs map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		mode: mode,
	}
}

// StartRun starts collecting events for the chat of ctx.
// It does nothing when ctx has no ChatContext.
func (l *Scratchpad) StartRun(ctx context.Context) {
	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return
	}
	r := &run{
		chatCtx: chatCtx,
		stats:   RunStats{ChatID: chatCtx.ChatID(), RunID: chatCtx.RunID()},
	}
	r.print("*** Run Started ***")

	l.lock.Lock()
	l.runs[chatCtx.ChatID()] = r
	l.lock.Unlock()
}

// EndRun returns the stats and the trace of the run, and forgets it.
// Both are nil when no run was started for ctx.
func (l *Scratchpad) EndRun(ctx context.Context) (*RunStats, []byte) {
	r := l.getRun(ctx)
	if r == nil {
		return nil, nil
	}

	l.lock.Lock()
	delete(l.runs, r.chatCtx.ChatID())
	l.lock.Unlock()

	s := r.stats
	s.Duration = time.Since(r.chatCtx.Started())

	r.printf("Queries: %d, Failed: %d", s.Queries, s.QueriesFailed)
	r.printf("Tool calls: %d, Failed: %d, Not Found: %d", s.ToolsCalls, s.ToolsCallsFailed, s.ToolNotFound)
	r.printf("LLM calls: %d, Messages: %d, Bytes Out: %d, Bytes In: %d, Input Tokens: %d, Output Tokens: %d, Total Tokens: %d",
		s.LLMCalls, s.TotalMessages, s.LLMBytesOut, s.LLMBytesIn, s.LLMInputTokens, s.LLMOutputTokens, s.LLMTotalTokens)
	r.printf("*** Run Ended. Duration: %s ***", s.Duration)

	return &s, r.w.Bytes()
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return nil
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.runs[chatCtx.ChatID()]
}

// with calls fn with the run of ctx, if any.
func (l *Scratchpad) with(ctx context.Context, fn func(r *run)) {
	if r := l.getRun(ctx); r != nil {
		fn(r)
	}
}

func (l *Scratchpad) verbose() bool {
	return l.mode == ModeVerbose
}

func (l *Scratchpad) OnQueryStart(ctx context.Context, agent *assistants.Agent, query string) {
	l.with(ctx, func(r *run) {
		atomic.AddUint32(&r.stats.Queries, 1)
		r.print(agent.Name(), "*** Query Start ***")
		r.print(agent.Name(), "Input:", query)
	})
}

func (l *Scratchpad) OnQueryEnd(ctx context.Context, agent *assistants.Agent, _ string, answer string) {
	l.with(ctx, func(r *run) {
		atomic.AddUint32(&r.stats.QueriesSucceeded, 1)
		if l.verbose() && answer != "" {
			r.print(agent.Name(), "Output:")
			r.print(answer)
		}
		r.print(agent.Name(), "*** Query End ***")
	})
}

func (l *Scratchpad) OnQueryError(ctx context.Context, agent *assistants.Agent, _ string, err error) {
	l.with(ctx, func(r *run) {
		atomic.AddUint32(&r.stats.QueriesFailed, 1)
		r.print(agent.Name(), "*** Error ***", err.Error())
	})
}

func (l *Scratchpad) OnLLMCallStart(ctx context.Context, agent *assistants.Agent, payload []llms.Message) {
	l.with(ctx, func(r *run) {
		count := uint32(len(payload))
		atomic.AddUint32(&r.stats.LLMCalls, 1)
		atomic.AddUint32(&r.stats.TotalMessages, count)
		atomic.AddUint64(&r.stats.LLMBytesOut, llmutils.CountMessagesContentSize(payload))

		r.print(agent.Name(), "*** LLM Call ***", fmt.Sprintf("%s model, %d messages", agent.LLM.GetName(), count))
		if l.verbose() {
			r.print(agent.Name(), describeMessages(payload))
		}
	})
}

func (l *Scratchpad) OnLLMCallEnd(ctx context.Context, agent *assistants.Agent, resp *llms.ContentResponse) {
	l.with(ctx, func(r *run) {
		in, out, total := llmutils.CountTokens(resp)
		atomic.AddUint64(&r.stats.LLMBytesIn, llmutils.CountResponseContentSize(resp))
		atomic.AddUint64(&r.stats.LLMInputTokens, uint64(in))
		atomic.AddUint64(&r.stats.LLMOutputTokens, uint64(out))
		atomic.AddUint64(&r.stats.LLMTotalTokens, uint64(total))

		r.print(agent.Name(), "*** LLM Call End ***",
			fmt.Sprintf("%s model, %d input tokens, %d output tokens, %d total tokens", agent.LLM.GetName(), in, out, total))
	})
}

func (l *Scratchpad) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	l.with(ctx, func(r *run) {
		atomic.AddUint32(&r.stats.ToolsCalls, 1)
		r.print(tool.Name(), "*** Tool Start ***")
		r.print(tool.Name(), "Input:", input)
	})
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, tool tools.ITool, _ string, output string) {
	l.with(ctx, func(r *run) {
		atomic.AddUint32(&r.stats.ToolsCallsSucceeded, 1)
		if l.verbose() {
			r.print(tool.Name(), "Output:", output)
		}
		r.print(tool.Name(), "*** Tool End ***")
	})
}

func (l *Scratchpad) OnToolError(ctx context.Context, tool tools.ITool, _ string, err error) {
	l.with(ctx, func(r *run) {
		atomic.AddUint32(&r.stats.ToolsCallsFailed, 1)
		r.print(tool.Name(), "*** Tool Error ***", err.Error())
	})
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, agent *assistants.Agent, tool string) {
	l.with(ctx, func(r *run) {
		atomic.AddUint32(&r.stats.ToolNotFound, 1)
		r.print(agent.Name(), "*** Tool Not Found ***", tool)
	})
}

// describeMessages lists the tool calls and responses of each message,
// with a count of its parts by kind.
func describeMessages(messages []llms.Message) string {
	var buf strings.Builder
	buf.WriteString("Messages:\n")
	for idx, msg := range messages {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, msg.Role)
		var texts, calls, responses int
		for _, part := range msg.Parts {
			switch part.(type) {
			case llms.TextContent:
				texts++
			case llms.ToolCall:
				calls++
				fmt.Fprintf(&buf, "  - %s\n", part)
			case llms.ToolCallResponse:
				responses++
				fmt.Fprintf(&buf, "  - %s\n", part)
			}
		}
		fmt.Fprintf(&buf, "  - %d texts, %d tool calls, %d tool responses\n", texts, calls, responses)
	}
	return buf.String()
}

type run struct {
	chatCtx *chatmodel.ChatContext
	stats   RunStats

	lock sync.Mutex
	w    bytes.Buffer
}

// print writes one line: timestamp chatID.runID entries...
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	fmt.Fprintf(&r.w, "%s %s %s\n",
		TimeNowFn().Format(time.DateTime),
		r.chatCtx,
		strings.Join(entries, " "))
}

func (r *run) printf(format string, args ...any) {
	r.print(fmt.Sprintf(format, args...))
}

package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/mcpbridge/assistants"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/tools"
)

var _ assistants.Callback = (*Printer)(nil)

// Printer writes a human readable trace of the run events to Out.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

// printf writes lines to Out, each one terminated by a newline.
// Lines of a single event are never interleaved with another event.
func (p *Printer) printf(lines ...string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, line := range lines {
		_, _ = io.WriteString(p.Out, line+"\n")
	}
}

func (p *Printer) verbose() bool {
	return p.Mode == ModeVerbose
}

func (p *Printer) OnQueryStart(_ context.Context, agent *assistants.Agent, query string) {
	p.printf("Query Start: "+agent.Name(), "Input: "+query)
}

func (p *Printer) OnQueryEnd(_ context.Context, agent *assistants.Agent, _ string, answer string) {
	if p.verbose() {
		p.printf("Query End: "+agent.Name(), answer)
		return
	}
	p.printf("Query End: " + agent.Name())
}

func (p *Printer) OnQueryError(_ context.Context, agent *assistants.Agent, _ string, err error) {
	p.printf(fmt.Sprintf("Query Error: %s: %s", agent.Name(), err.Error()))
}

func (p *Printer) OnLLMCallStart(_ context.Context, agent *assistants.Agent, payload []llms.Message) {
	p.printf(fmt.Sprintf("LLM Call: %s: %s model, %d messages", agent.Name(), agent.LLM.GetName(), len(payload)))
}

func (p *Printer) OnLLMCallEnd(_ context.Context, agent *assistants.Agent, resp *llms.ContentResponse) {
	calls := 0
	if resp != nil {
		for _, c := range resp.Choices {
			calls += len(c.ToolCalls)
		}
	}
	p.printf(fmt.Sprintf("LLM Call End: %s: %s model, %d tool calls", agent.Name(), agent.LLM.GetName(), calls))
}

func (p *Printer) OnToolStart(_ context.Context, tool tools.ITool, input string) {
	p.printf("Tool Start: "+tool.Name(), "Input: "+input)
}

func (p *Printer) OnToolEnd(_ context.Context, tool tools.ITool, _ string, output string) {
	if p.verbose() {
		p.printf("Tool End: "+tool.Name(), "Output: "+output)
		return
	}
	p.printf("Tool End: " + tool.Name())
}

func (p *Printer) OnToolError(_ context.Context, tool tools.ITool, _ string, err error) {
	p.printf(fmt.Sprintf("Tool Error: %s: %s", tool.Name(), err.Error()))
}

func (p *Printer) OnToolNotFound(_ context.Context, _ *assistants.Agent, tool string) {
	p.printf("Tool Not Found: " + tool)
}

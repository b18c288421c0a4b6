package callbacks

import (
	"context"

	"github.com/effective-security/mcpbridge/assistants"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/tools"
)

var (
	_ assistants.Callback = (*Fanout)(nil)
	_ assistants.Callback = (*Noop)(nil)
)

// Mode selects how much a callback prints.
type Mode int

const (
	// ModeDefault prints the events only.
	ModeDefault Mode = iota
	// ModeVerbose also prints tool outputs and answers.
	ModeVerbose
)

// Fanout forwards every event to its callbacks, in the order they were added.
// Add must not be called while a run is in progress.
type Fanout struct {
	callbacks []assistants.Callback
}

func NewFanout(callbacks ...assistants.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (f *Fanout) Add(callback assistants.Callback) {
	f.callbacks = append(f.callbacks, callback)
}

func (f *Fanout) each(fn func(assistants.Callback)) {
	for _, cb := range f.callbacks {
		fn(cb)
	}
}

func (f *Fanout) OnQueryStart(ctx context.Context, agent *assistants.Agent, query string) {
	f.each(func(cb assistants.Callback) { cb.OnQueryStart(ctx, agent, query) })
}

func (f *Fanout) OnQueryEnd(ctx context.Context, agent *assistants.Agent, query string, answer string) {
	f.each(func(cb assistants.Callback) { cb.OnQueryEnd(ctx, agent, query, answer) })
}

func (f *Fanout) OnQueryError(ctx context.Context, agent *assistants.Agent, query string, err error) {
	f.each(func(cb assistants.Callback) { cb.OnQueryError(ctx, agent, query, err) })
}

func (f *Fanout) OnLLMCallStart(ctx context.Context, agent *assistants.Agent, payload []llms.Message) {
	f.each(func(cb assistants.Callback) { cb.OnLLMCallStart(ctx, agent, payload) })
}

func (f *Fanout) OnLLMCallEnd(ctx context.Context, agent *assistants.Agent, resp *llms.ContentResponse) {
	f.each(func(cb assistants.Callback) { cb.OnLLMCallEnd(ctx, agent, resp) })
}

func (f *Fanout) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	f.each(func(cb assistants.Callback) { cb.OnToolStart(ctx, tool, input) })
}

func (f *Fanout) OnToolEnd(ctx context.Context, tool tools.ITool, input string, output string) {
	f.each(func(cb assistants.Callback) { cb.OnToolEnd(ctx, tool, input, output) })
}

func (f *Fanout) OnToolError(ctx context.Context, tool tools.ITool, input string, err error) {
	f.each(func(cb assistants.Callback) { cb.OnToolError(ctx, tool, input, err) })
}

func (f *Fanout) OnToolNotFound(ctx context.Context, agent *assistants.Agent, tool string) {
	f.each(func(cb assistants.Callback) { cb.OnToolNotFound(ctx, agent, tool) })
}

// Noop ignores every event.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (*Noop) OnQueryStart(context.Context, *assistants.Agent, string)                {}
func (*Noop) OnQueryEnd(context.Context, *assistants.Agent, string, string)          {}
func (*Noop) OnQueryError(context.Context, *assistants.Agent, string, error)         {}
func (*Noop) OnLLMCallStart(context.Context, *assistants.Agent, []llms.Message)      {}
func (*Noop) OnLLMCallEnd(context.Context, *assistants.Agent, *llms.ContentResponse) {}
func (*Noop) OnToolStart(context.Context, tools.ITool, string)                       {}
func (*Noop) OnToolEnd(context.Context, tools.ITool, string, string)                 {}
func (*Noop) OnToolError(context.Context, tools.ITool, string, error)                {}
func (*Noop) OnToolNotFound(context.Context, *assistants.Agent, string)              {}

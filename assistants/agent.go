package assistants

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/tools"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
)

// Agent binds a model, a system prompt and a tool set.
// An Agent is safe to start several queries concurrently once configured.
type Agent struct {
	LLM llms.Model

	toolsByName map[string]tools.ITool
	toolsNames  []string
	tools       []tools.ITool
	llmToolDefs []llms.Tool

	cfg         *Config
	name        string
	description string
	sysprompt   string
}

// NewAgent returns an agent for the model.
// An empty sysprompt sends no system message.
func NewAgent(model llms.Model, sysprompt string, options ...Option) *Agent {
	return &Agent{
		LLM:         model,
		cfg:         NewConfig(options...),
		sysprompt:   sysprompt,
		name:        "MCP Agent",
		description: "An AI assistant that answers with the help of MCP tools.",
	}
}

// WithName sets the name of the Agent, used in logs and metrics.
func (a *Agent) WithName(name string) *Agent {
	a.name = name
	return a
}

// WithDescription sets the description of the Agent.
func (a *Agent) WithDescription(description string) *Agent {
	a.description = description
	return a
}

// Name returns the name of the Agent.
func (a *Agent) Name() string {
	return a.name
}

// Description returns the description of the Agent.
func (a *Agent) Description() string {
	return a.description
}

// SystemPrompt returns the system prompt.
func (a *Agent) SystemPrompt() string {
	return a.sysprompt
}

// Config returns the agent configuration.
func (a *Agent) Config() *Config {
	return a.cfg
}

// GetTools returns the bound tools in binding order.
func (a *Agent) GetTools() []tools.ITool {
	return a.tools
}

// WithTools adds new tools to the Agent,
// existing tools are not replaced.
func (a *Agent) WithTools(list ...tools.ITool) *Agent {
	if a.toolsByName == nil {
		a.toolsByName = make(map[string]tools.ITool)
	}
	for _, tool := range list {
		if tool == nil {
			continue
		}
		name := tool.Name()
		if a.toolsByName[name] != nil {
			logger.KV(xlog.WARNING,
				"agent", a.name,
				"status", "duplicate_tool",
				"tool", name,
			)
			continue
		}
		a.toolsByName[name] = tool
		a.toolsNames = append(a.toolsNames, name)
		a.tools = append(a.tools, tool)
		a.llmToolDefs = append(a.llmToolDefs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        name,
				Description: tool.Description(),
				Parameters:  toSchema(tool.Parameters()),
			},
		})
	}
	return a
}

// findTool matches the exact name first, then falls back to a
// case-insensitive match when it is unambiguous.
func (a *Agent) findTool(name string) tools.ITool {
	if tool := a.toolsByName[name]; tool != nil {
		return tool
	}
	var found tools.ITool
	for _, tool := range a.tools {
		if strings.EqualFold(tool.Name(), name) {
			if found != nil {
				return nil
			}
			found = tool
		}
	}
	return found
}

// Start begins a query. The returned Run does nothing until its
// fragments are iterated.
func (a *Agent) Start(ctx context.Context, query string, opts ...Option) *Run {
	return newRun(ctx, a, a.cfg.Apply(opts...), query)
}

// toSchema converts tool parameters into the schema bound to the model.
func toSchema(params any) *jsonschema.Schema {
	switch p := params.(type) {
	case nil:
		return nil
	case *jsonschema.Schema:
		return p
	case jsonschema.Schema:
		return &p
	}

	var raw []byte
	switch p := params.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		js, err := json.Marshal(p)
		if err != nil {
			logger.KV(xlog.WARNING, "status", "invalid_tool_parameters", "err", err.Error())
			return nil
		}
		raw = js
	}

	s := new(jsonschema.Schema)
	if err := json.Unmarshal(raw, s); err != nil {
		logger.KV(xlog.WARNING, "status", "invalid_tool_parameters", "err", err.Error())
		return nil
	}
	return s
}

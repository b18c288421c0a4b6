package tools

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llmutils"
)

//go:generate mockgen -source=tools.go -destination=../mocks/mocktools/tools_mock.gen.go -package mocktools

// ErrFailedUnmarshalInput is returned by a tool that cannot parse its input.
var ErrFailedUnmarshalInput = errors.New("failed to unmarshal input")

// ITool is a function the model may call during a run.
type ITool interface {
	// Name is unique within the tool set offered to a model.
	Name() string
	Description() string
	// Parameters returns the JSON schema of the call arguments.
	Parameters() any

	// Call runs the tool with JSON arguments and returns the text result.
	// Unparsable arguments fail with ErrFailedUnmarshalInput.
	Call(context.Context, string) (string, error)
}

// Callback receives the tool call events of a run.
type Callback interface {
	OnToolStart(context.Context, ITool, string)
	OnToolEnd(context.Context, ITool, string, string)
	OnToolError(context.Context, ITool, string, error)
}

// Find returns the tool with the given name.
func Find(list []ITool, name string) ITool {
	idx := slices.IndexFunc(list, func(t ITool) bool { return t.Name() == name })
	if idx < 0 {
		return nil
	}
	return list[idx]
}

// Names returns the tool names in order.
func Names(list ...ITool) []string {
	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name())
	}
	return names
}

// GetDescriptions returns a fenced JSON list of tool names and descriptions,
// to be used in prompts.
func GetDescriptions(list ...ITool) string {
	type entry struct {
		Name        string `json:"Name"`
		Description string `json:"Description"`
	}
	catalog := struct {
		Tools []entry `json:"Tools"`
	}{Tools: make([]entry, 0, len(list))}
	for _, t := range list {
		catalog.Tools = append(catalog.Tools, entry{Name: t.Name(), Description: t.Description()})
	}
	return llmutils.BackticksJSON(llmutils.ToJSONIndent(catalog))
}

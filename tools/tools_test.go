package tools_test

import (
	"context"
	"testing"

	"github.com/effective-security/mcpbridge/tools"
	"github.com/stretchr/testify/assert"
)

type stubTool struct {
	name string
}

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return "does " + s.name }
func (s stubTool) Parameters() any     { return map[string]any{"type": "object"} }
func (s stubTool) Call(_ context.Context, in string) (string, error) {
	return in, nil
}

func TestFind(t *testing.T) {
	list := []tools.ITool{stubTool{"a"}, stubTool{"b"}}
	assert.Equal(t, "b", tools.Find(list, "b").Name())
	assert.Nil(t, tools.Find(list, "c"))
	assert.Equal(t, []string{"a", "b"}, tools.Names(list...))
}

func TestGetDescriptions(t *testing.T) {
	d := tools.GetDescriptions(stubTool{"search"})
	assert.Equal(t, "\n```json\n{\n\t\"Tools\": [\n\t\t{\n\t\t\t\"Name\": \"search\",\n\t\t\t\"Description\": \"does search\"\n\t\t}\n\t]\n}\n```\n", d)
}

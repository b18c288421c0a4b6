package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/pkg/llms/anthropic"
	"github.com/effective-security/mcpbridge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ANTHROPIC_MODEL", "")
	t.Setenv("ANTHROPIC_BASE_URL", "")

	_, err := anthropic.New(anthropic.WithModel("claude-test"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, anthropic.ErrMissingToken))

	llm, err := anthropic.New(
		anthropic.WithToken("fake-token"),
		anthropic.WithHTTPClient(&http.Client{}),
		anthropic.WithBetaHeader("beta-feature-1"),
	)
	require.NoError(t, err)
	assert.Equal(t, anthropic.DefaultModel, llm.GetName())
	assert.Equal(t, llms.ProviderAnthropic, llm.GetProviderType())

	t.Setenv("ANTHROPIC_API_KEY", "env-token")
	t.Setenv("ANTHROPIC_MODEL", "claude-env")
	llm, err = anthropic.New()
	require.NoError(t, err)
	assert.Equal(t, "claude-env", llm.GetName())

	llm, err = anthropic.New(anthropic.WithModel("claude-opt"))
	require.NoError(t, err)
	assert.Equal(t, "claude-opt", llm.GetName())
}

func TestToMessages(t *testing.T) {
	t.Parallel()

	msgs, system, err := anthropic.ToMessages([]llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You are a location services assistant.", "Be brief."),
		llms.MessageFromTextParts(llms.RoleHuman, "hotels near West Lake"),
		llms.MessageFromParts(llms.RoleAI,
			llms.TextPart("Let me search."),
			llms.ToolCall{ID: "toolu_1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "maps_text_search", Arguments: `{"keywords":"西湖"}`}},
			llms.ToolCall{ID: "toolu_2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "maps_geo"}},
		),
		llms.MessageFromParts(llms.RoleTool,
			llms.ToolCallResponse{ToolCallID: "toolu_1", Name: "maps_text_search", Content: `{"pois":[]}`},
			llms.ToolCallResponse{ToolCallID: "toolu_2", Name: "maps_geo", Content: `{}`},
		),
		{Role: llms.RoleAI},
		llms.MessageFromParts(llms.RoleGeneric, llms.TextPart("look"), llms.BinaryPart("image/png", []byte{1}), llms.ImageURLPart("https://example.com/a.png")),
	})
	require.NoError(t, err)

	require.Len(t, system, 2)
	assert.Equal(t, "Be brief.", system[1].Text)

	require.Len(t, msgs, 4, "system and empty messages are not part of the conversation")

	js, err := json.Marshal(msgs)
	require.NoError(t, err)
	var decoded []struct {
		Role    string           `json:"role"`
		Content []map[string]any `json:"content"`
	}
	require.NoError(t, json.Unmarshal(js, &decoded))

	assert.Equal(t, "user", decoded[0].Role)
	assert.Equal(t, "assistant", decoded[1].Role)
	require.Len(t, decoded[1].Content, 3)
	assert.Equal(t, "tool_use", decoded[1].Content[1]["type"])
	assert.Equal(t, map[string]any{"keywords": "西湖"}, decoded[1].Content[1]["input"])
	assert.Equal(t, map[string]any{}, decoded[1].Content[2]["input"])

	assert.Equal(t, "user", decoded[2].Role)
	require.Len(t, decoded[2].Content, 2)
	assert.Equal(t, "tool_result", decoded[2].Content[0]["type"])
	assert.Equal(t, "toolu_1", decoded[2].Content[0]["tool_use_id"])

	require.Len(t, decoded[3].Content, 3)
	assert.Equal(t, "image", decoded[3].Content[1]["type"])
}

func TestToMessages_Errors(t *testing.T) {
	t.Parallel()

	tcases := []struct {
		name string
		msg  llms.Message
		exp  string
	}{
		{"role", llms.MessageFromTextParts("bogus", "x"), "unexpected role"},
		{"system", llms.MessageFromParts(llms.RoleSystem, llms.BinaryPart("image/png", nil)), "unsupported system message part"},
		{"binary", llms.MessageFromParts(llms.RoleHuman, llms.BinaryPart("application/pdf", nil)), "unsupported binary content type: application/pdf"},
		{"human", llms.MessageFromParts(llms.RoleHuman, llms.ToolCallResponse{}), "unsupported human message part"},
		{"ai", llms.MessageFromParts(llms.RoleAI, llms.BinaryPart("image/png", nil)), "unsupported AI message part"},
		{"no function", llms.MessageFromParts(llms.RoleAI, llms.ToolCall{ID: "1"}), "tool call 1 has no function"},
		{"arguments", llms.MessageFromParts(llms.RoleAI, llms.ToolCall{ID: "1", FunctionCall: &llms.FunctionCall{Name: "f", Arguments: "{"}}), "invalid arguments of tool call 1"},
		{"tool", llms.MessageFromTextParts(llms.RoleTool, "not a response"), "expected part of type ToolCallResponse"},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := anthropic.ToMessages([]llms.Message{tc.msg})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.exp)
		})
	}

	_, _, err := anthropic.ToMessages([]llms.Message{llms.MessageFromTextParts("bogus", "x")})
	assert.True(t, errors.Is(err, llms.ErrUnexpectedRole))
}

func TestToTools(t *testing.T) {
	t.Parallel()

	assert.Nil(t, anthropic.ToTools(nil))

	tools := anthropic.ToTools([]llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        "maps_text_search",
				Description: "Search places by keywords",
				Parameters:  schema.MustParse(`{"type":"object","properties":{"keywords":{"type":"string"},"city":{"type":"string"}},"required":["keywords"]}`).JSONSchema(),
			},
		},
		{Type: "function", Function: &llms.FunctionDefinition{Name: "ping"}},
		{Type: "function"},
	})
	require.Len(t, tools, 2)

	search := tools[0].OfTool
	require.NotNil(t, search)
	assert.Equal(t, "maps_text_search", search.Name)
	assert.Equal(t, "Search places by keywords", search.Description.Value)
	assert.Equal(t, []string{"keywords"}, search.InputSchema.Required)
	assert.Len(t, search.InputSchema.Properties, 2)

	ping := tools[1].OfTool
	require.NotNil(t, ping)
	assert.Empty(t, ping.InputSchema.Properties)
	assert.False(t, ping.Description.Valid())

	js, err := json.Marshal(ping)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(js, &wire))
	assert.Equal(t, "ping", wire["name"])
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, wire["input_schema"])
	assert.NotContains(t, wire, "description")
}

// newTestClient returns a client for the live API, or skips the test
// when ANTHROPIC_API_KEY is not set.
func newTestClient(t *testing.T, opts ...anthropic.Option) llms.Model {
	t.Helper()
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey == "" || apiKey == "fakekey" {
		t.Skip("ANTHROPIC_API_KEY not set")
	}
	llm, err := anthropic.New(opts...)
	require.NoError(t, err)
	return llm
}

func BenchmarkToMessages(b *testing.B) {
	messages := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You are a location services assistant."),
		llms.MessageFromTextParts(llms.RoleHuman, "hotels near West Lake"),
		llms.MessageFromToolCalls(llms.RoleAI, llms.ToolCall{ID: "1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "maps_text_search", Arguments: `{"keywords":"西湖"}`}}),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "1", Name: "maps_text_search", Content: `{"pois":[]}`}),
	}
	for b.Loop() {
		if _, _, err := anthropic.ToMessages(messages); err != nil {
			b.Fatal(err)
		}
	}
}

func TestGenerateContent_Unavailable(t *testing.T) {
	llm, err := anthropic.New(
		anthropic.WithToken("test"),
		anthropic.WithBaseURL("http://127.0.0.1:1"),
	)
	require.NoError(t, err)
	_, err = llm.GenerateContent(context.Background(), []llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: streaming error")
}

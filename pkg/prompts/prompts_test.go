package prompts_test

import (
	"testing"

	"github.com/effective-security/mcpbridge/pkg/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate(t *testing.T) {
	t.Parallel()

	tmpl, err := prompts.New("translate", `translate this text from {{.inputLang}} to {{.outputLang | upper}}:
{{.input}}`)
	require.NoError(t, err)
	assert.Equal(t, "translate", tmpl.Name())

	value, err := tmpl.Format(map[string]any{
		"inputLang":  "English",
		"outputLang": "Chinese",
		"input":      "I love programming",
	})
	require.NoError(t, err)
	assert.Equal(t, "translate this text from English to CHINESE:\nI love programming", value)

	_, err = tmpl.Format(map[string]any{
		"inputLang":  "English",
		"outputLang": "Chinese",
	})
	require.Error(t, err)

	_, err = prompts.New("bad", "{{ .x ")
	require.Error(t, err)
	assert.Panics(t, func() { prompts.Must("bad", "{{ .x ") })
}

func TestDefaultSystemPrompt(t *testing.T) {
	t.Parallel()

	plain, err := prompts.Render(prompts.DefaultSystemPrompt, nil)
	require.NoError(t, err)
	assert.Contains(t, plain, "location services assistant")
	assert.NotContains(t, plain, "Available tools")

	withTools, err := prompts.Render(prompts.DefaultSystemPrompt, map[string]any{
		"Tools": []string{"maps_text_search", "maps_geo"},
	})
	require.NoError(t, err)
	assert.Contains(t, withTools, "\nAvailable tools: maps_text_search, maps_geo.")
}

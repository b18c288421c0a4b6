package config_test

import (
	"testing"

	"github.com/effective-security/mcpbridge/mcp/bridge"
	"github.com/effective-security/mcpbridge/pkg/config"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAML(t *testing.T) {
	t.Setenv("AMAP_MAPS_API_KEY", "amap-key")
	t.Setenv("OPENAI_API_KEY", "llm-key")

	cfg, err := config.Load("testdata/agent.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)

	p := cfg.Providers[0]
	assert.Equal(t, "高德地图", p.Name)
	assert.Equal(t, "npx", p.Command)
	assert.Equal(t, []string{"-y", "@amap/amap-maps-mcp-server"}, p.Args)
	assert.Equal(t, "amap-key", p.Env["AMAP_MAPS_API_KEY"])
	assert.True(t, p.InheritEnv)

	assert.Equal(t, "deepseek", cfg.LLM.DefaultProvider)
	require.Len(t, cfg.LLM.Providers, 1)
	assert.Equal(t, "llm-key", cfg.LLM.Providers[0].Token)
	assert.Equal(t, "https://api.deepseek.com", cfg.LLM.Providers[0].OpenAI.BaseURL)
	assert.Equal(t, 10, cfg.MaxTurns)
	assert.Equal(t, "90s", cfg.Bridge.HandshakeTimeout)
	assert.Len(t, cfg.BridgeOptions(), 5)
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("AMAP_MAPS_API_KEY", "amap-key")
	t.Setenv("ANTHROPIC_API_KEY", "llm-key")

	cfg, err := config.Load("testdata/agent.toml")
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "amap-key", cfg.Providers[0].Env["AMAP_MAPS_API_KEY"])
	require.Len(t, cfg.LLM.Providers, 1)
	assert.Equal(t, "ANTHROPIC", cfg.LLM.Providers[0].OpenAI.APIType)
	assert.Equal(t, "llm-key", cfg.LLM.Providers[0].Token)

	prompt, err := cfg.RenderSystemPrompt([]string{"maps_text_search", "maps_geo"})
	require.NoError(t, err)
	assert.Equal(t, "You are a travel assistant. Tools: maps_text_search,maps_geo", prompt)

	prompt, err = cfg.RenderSystemPrompt(nil)
	require.NoError(t, err)
	assert.Equal(t, "You are a travel assistant.", prompt)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load("testdata/missing.yaml")
	require.Error(t, err)

	_, err = config.Load("testdata/missing.toml")
	require.Error(t, err)

	_, err = config.Load("testdata/no_command.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Command")
}

func TestParse(t *testing.T) {
	t.Setenv("ECHO_NAME", "echo-1")

	cfg, err := config.Parse([]byte(`{"providers":[{"name":"${ECHO_NAME}","command":"mcp-echo"}],"system_prompt":"keep $HOME"}`), "json")
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "echo-1", cfg.Providers[0].Name)
	// only the braced form is expanded
	assert.Equal(t, "keep $HOME", cfg.SystemPrompt)
	cfg.SystemPrompt = ""

	prompt, err := cfg.RenderSystemPrompt([]string{"ping"})
	require.NoError(t, err)
	assert.Contains(t, prompt, "location services assistant")
	assert.Contains(t, prompt, "Available tools: ping.")

	_, err = config.Parse([]byte(`providers: []`), "ini")
	assert.EqualError(t, err, "unsupported config format: ini")

	_, err = config.Parse([]byte(`providers: [`), "yaml")
	require.Error(t, err)

	_, err = config.Parse([]byte("bridge:\n  call_timeout: soon\n"), "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid duration "soon"`)

	_, err = config.Parse([]byte("max_turns: -1\n"), "yaml")
	require.Error(t, err)

	_, err = config.Parse([]byte("providers = 1"), "toml")
	require.Error(t, err)
}

func TestProviderConfigs(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Providers: []*bridge.ProviderConfig{
			{
				Name:       "maps",
				Command:    "npx",
				Env:        map[string]string{"AMAP_MAPS_API_KEY": "k", "HOME": "/maps"},
				InheritEnv: true,
			},
			{
				Name:    "echo",
				Command: "mcp-echo",
				Env:     map[string]string{"A": "1"},
			},
		},
	}

	list := cfg.ProviderConfigs([]string{"PATH=/bin", "HOME=/root", "broken"})
	require.Len(t, list, 2)

	exp := map[string]string{
		"PATH":              "/bin",
		"HOME":              "/maps",
		"AMAP_MAPS_API_KEY": "k",
	}
	if diff := cmp.Diff(exp, list[0].Env); diff != "" {
		t.Errorf("inherited env mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]string{"A": "1"}, list[1].Env)

	// copies do not alias the configuration
	list[1].Env["A"] = "2"
	assert.Equal(t, "1", cfg.Providers[1].Env["A"])
}

func TestBridgeOptions_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Bridge: config.BridgeConfig{CallTimeout: "1m"}}
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.BridgeOptions(), 5)

	_, err := config.Parse([]byte("bridge:\n  grace_timeout: -1s\n"), "yaml")
	require.Error(t, err)
}

// Package config loads the agent configuration: tool providers,
// language model providers and the system prompt.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/bridge"
	"github.com/effective-security/mcpbridge/pkg/llmfactory"
	"github.com/effective-security/mcpbridge/pkg/prompts"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"sigs.k8s.io/yaml"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the agent configuration.
type Config struct {
	// Providers are the tool providers to launch, in catalog order
	Providers []*bridge.ProviderConfig `json:"providers" yaml:"providers" validate:"dive,required"`
	// Bridge tunes the tool bridge
	Bridge BridgeConfig `json:"bridge,omitempty" yaml:"bridge,omitempty"`
	// LLM specifies the language model providers
	LLM llmfactory.Config `json:"llm" yaml:"llm"`
	// SystemPrompt is a template rendered with the Tools input,
	// the geographic assistant prompt is used if empty
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// MaxTurns limits the model steps of one query
	MaxTurns int `json:"max_turns,omitempty" yaml:"max_turns,omitempty" validate:"gte=0"`
}

// BridgeConfig specifies the bridge timeouts as duration strings, e.g. "30s".
type BridgeConfig struct {
	HandshakeTimeout string `json:"handshake_timeout,omitempty" yaml:"handshake_timeout,omitempty"`
	ListTimeout      string `json:"list_timeout,omitempty" yaml:"list_timeout,omitempty"`
	CallTimeout      string `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`
	GraceTimeout     string `json:"grace_timeout,omitempty" yaml:"grace_timeout,omitempty"`
	MaxConcurrency   int    `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty" validate:"gte=0"`
}

// Load reads the configuration from a YAML, JSON or TOML file,
// the format is chosen by the file extension.
func Load(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	cfg, err := Parse(data, strings.TrimPrefix(filepath.Ext(file), "."))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load %s", file)
	}
	return cfg, nil
}

// Parse decodes the configuration from data in the given format:
// yaml, json or toml. ${VAR} references are expanded from the environment,
// a bare $VAR is kept so that prompt templates may use variables.
func Parse(data []byte, format string) (*Config, error) {
	data = expandEnv(data)

	switch strings.ToLower(format) {
	case "toml":
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "failed to parse TOML")
		}
		js, err := json.Marshal(m)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		data = js
	case "yaml", "yml", "json", "":
	default:
		return nil, errors.Newf("unsupported config format: %s", format)
	}

	cfg := new(Config)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	for i, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return errors.WithMessagef(err, "providers[%d]", i)
		}
	}
	for _, d := range []string{
		c.Bridge.HandshakeTimeout,
		c.Bridge.ListTimeout,
		c.Bridge.CallTimeout,
		c.Bridge.GraceTimeout,
	} {
		if _, err := duration(d); err != nil {
			return err
		}
	}
	return nil
}

// ProviderConfigs returns copies of the tool providers. Providers with
// InheritEnv get environ (KEY=VALUE entries) merged under their Env.
func (c *Config) ProviderConfigs(environ []string) []*bridge.ProviderConfig {
	list := make([]*bridge.ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.InheritEnv {
			list = append(list, p.WithEnviron(environ))
		} else {
			list = append(list, p.Clone())
		}
	}
	return list
}

// BridgeOptions returns the bridge options for the configured timeouts.
func (c *Config) BridgeOptions() []bridge.Option {
	// values are checked by Validate, zero leaves the default
	handshake, _ := duration(c.Bridge.HandshakeTimeout)
	list, _ := duration(c.Bridge.ListTimeout)
	call, _ := duration(c.Bridge.CallTimeout)
	grace, _ := duration(c.Bridge.GraceTimeout)
	return []bridge.Option{
		bridge.WithHandshakeTimeout(handshake),
		bridge.WithListTimeout(list),
		bridge.WithCallTimeout(call),
		bridge.WithGraceTimeout(grace),
		bridge.WithMaxConcurrency(c.Bridge.MaxConcurrency),
	}
}

// RenderSystemPrompt renders the system prompt for the bound tool names.
func (c *Config) RenderSystemPrompt(toolNames []string) (string, error) {
	text := c.SystemPrompt
	if strings.TrimSpace(text) == "" {
		text = prompts.DefaultSystemPrompt
	}
	return prompts.Render(text, map[string]any{
		"Tools": toolNames,
	})
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(m[2 : len(m)-1])))
	})
}

func duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := cast.ToDurationE(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	if d < 0 {
		return 0, errors.Newf("invalid duration %q", s)
	}
	return d, nil
}

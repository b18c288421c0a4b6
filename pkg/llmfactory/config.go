package llmfactory

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
)

// Config lists the chat model providers the agent may use.
type Config struct {
	Providers []*ProviderConfig `json:"providers" yaml:"providers" validate:"dive"`
	// DefaultProvider names the provider used by the agent,
	// the first one when empty or unknown.
	DefaultProvider string `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
}

// ProviderConfig describes one API account.
// Token and the OpenAI fields may reference environment variables as ${NAME}.
type ProviderConfig struct {
	Name  string `json:"name" yaml:"name" validate:"required"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	// DefaultModel is used when none of the preferred models is available
	DefaultModel    string   `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	AvailableModels []string `json:"available_models,omitempty" yaml:"available_models,omitempty"`
	// OpenAI holds the endpoint settings, for Anthropic as well
	OpenAI OpenAIConfig `json:"open_ai" yaml:"open_ai"`
}

// OpenAIConfig selects the API family and endpoint of a provider.
type OpenAIConfig struct {
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// APIType is one of OPENAI, DEEPSEEK or ANTHROPIC, case insensitive.
	// Empty means DEEPSEEK when BaseURL mentions deepseek, OPENAI otherwise.
	APIType string `json:"api_type,omitempty" yaml:"api_type,omitempty"`
	// OrgID is sent as the OpenAI organization header
	OrgID string `json:"org_id,omitempty" yaml:"org_id,omitempty"`
}

// Default returns the provider named by DefaultProvider,
// or the first provider, or nil if none is configured.
func (c *Config) Default() *ProviderConfig {
	if idx := slices.IndexFunc(c.Providers, func(p *ProviderConfig) bool {
		return p.Name == c.DefaultProvider
	}); idx >= 0 {
		return c.Providers[idx]
	}
	if len(c.Providers) > 0 {
		return c.Providers[0]
	}
	return nil
}

// FindModel returns the first of models the provider offers,
// or its DefaultModel.
func (c *ProviderConfig) FindModel(models ...string) string {
	if idx := slices.IndexFunc(models, func(m string) bool {
		return slices.Contains(c.AvailableModels, m)
	}); idx >= 0 {
		return models[idx]
	}
	return c.DefaultModel
}

// LoadConfig reads the providers from a YAML or JSON file, expanding
// environment variables. An empty file name returns an empty Config.
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}
	if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
		return nil, errors.WithMessagef(err, "failed to load LLM config %s", file)
	}
	return cfg, nil
}

package llmfactory

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/pkg/llms/anthropic"
	"github.com/effective-security/mcpbridge/pkg/llms/openai"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/pkg", "llmfactory")

// ErrNoProviders is returned when no provider is configured.
var ErrNoProviders = errors.New("no providers configured")

// NewLLM is a wrapper for CreateLLM to allow for overriding the default implementation.
var NewLLM = CreateLLM

// Factory is the interface for creating LLM models.
type Factory interface {
	// DefaultModel returns the model of the default provider.
	DefaultModel() (llms.Model, error)
	// ModelByType returns an LLM model by its API type:
	// OPENAI, DEEPSEEK, ANTHROPIC
	ModelByType(providerType string) (llms.Model, error)
	// ModelByName returns an LLM model by its name,
	// if the model is not found, it will return the default model.
	ModelByName(preferredModels ...string) (llms.Model, error)
}

// Load returns the factory for the config file
func Load(location string) (Factory, error) {
	cfg, err := LoadConfig(location)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

type factory struct {
	cfg             *Config
	defaultProvider *ProviderConfig

	lock sync.Mutex
	// models caches created models by "type:<API type>" and "model:<name>"
	models map[string]llms.Model
}

// New creates a new LLM factory
func New(cfg *Config) Factory {
	return &factory{
		cfg:             cfg,
		defaultProvider: cfg.Default(),
		models:          make(map[string]llms.Model),
	}
}

// ProviderTypeOf returns the provider type of the API type in cfg.
// An OpenAI API type with a DeepSeek base URL is DEEPSEEK.
func ProviderTypeOf(cfg *ProviderConfig) (llms.ProviderType, error) {
	switch apiType := strings.ToUpper(cfg.OpenAI.APIType); apiType {
	case "", "OPENAI", "OPEN_AI":
		if strings.Contains(strings.ToLower(cfg.OpenAI.BaseURL), "deepseek") {
			return llms.ProviderDeepSeek, nil
		}
		return llms.ProviderOpenAI, nil
	case "DEEPSEEK":
		return llms.ProviderDeepSeek, nil
	case "ANTHROPIC":
		return llms.ProviderAnthropic, nil
	default:
		return "", errors.Errorf("unsupported provider type: %s", apiType)
	}
}

// CreateLLM creates the model for the provider's API type.
func CreateLLM(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	pt, err := ProviderTypeOf(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.FindModel(preferredModels...)
	if pt == llms.ProviderAnthropic {
		return newAnthropic(cfg, model)
	}
	return newOpenAI(cfg, pt, model)
}

func newOpenAI(cfg *ProviderConfig, provider llms.ProviderType, model string) (llms.Model, error) {
	opts := []openai.Option{openai.WithProvider(provider)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if cfg.Token != "" {
		opts = append(opts, openai.WithToken(cfg.Token))
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	if cfg.OpenAI.OrgID != "" {
		opts = append(opts, openai.WithOrganization(cfg.OpenAI.OrgID))
	}
	return openai.New(opts...)
}

func newAnthropic(cfg *ProviderConfig, model string) (llms.Model, error) {
	var opts []anthropic.Option
	if model != "" {
		opts = append(opts, anthropic.WithModel(model))
	}
	if cfg.Token != "" {
		opts = append(opts, anthropic.WithToken(cfg.Token))
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	return anthropic.New(opts...)
}

// DefaultModel returns the model of the default provider
func (f *factory) DefaultModel() (llms.Model, error) {
	if f.defaultProvider == nil {
		return nil, errors.WithStack(ErrNoProviders)
	}
	return NewLLM(f.defaultProvider, f.defaultProvider.DefaultModel)
}

// create returns the cached model for key, or creates it with NewLLM.
// Must be called with the lock held.
func (f *factory) create(key string, cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	if model, ok := f.models[key]; ok {
		return model, nil
	}
	model, err := NewLLM(cfg, preferredModels...)
	if err != nil {
		return nil, err
	}
	logger.KV(xlog.DEBUG,
		"status", "created_llm",
		"key", key,
		"provider", cfg.Name,
		"model", model.GetName())

	f.models[key] = model
	return model, nil
}

func (f *factory) ModelByType(providerType string) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, cfg := range f.cfg.Providers {
		if pt, err := ProviderTypeOf(cfg); err == nil && strings.EqualFold(string(pt), providerType) {
			return f.create("type:"+string(pt), cfg)
		}
	}
	return nil, errors.Errorf("provider not found for type: %s", providerType)
}

func (f *factory) ModelByName(modelNames ...string) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, name := range modelNames {
		for _, cfg := range f.cfg.Providers {
			if cfg.FindModel(name) != name {
				continue
			}
			model, err := f.create("model:"+name, cfg, name)
			if err != nil {
				logger.KV(xlog.ERROR,
					"reason", "create_llm",
					"provider", cfg.Name,
					"model", name,
					"err", err.Error())
				continue
			}
			return model, nil
		}
	}
	return f.DefaultModel()
}

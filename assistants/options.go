package assistants

import (
	"slices"

	"github.com/effective-security/mcpbridge/pkg/llms"
)

// DefaultMaxTurns is the default number of model turns per query.
const DefaultMaxTurns = 25

// Option configures an Agent, or a single query of it.
type Option func(*Config)

// Config is the agent configuration.
type Config struct {
	// CallbackHandler receives the run events, may be nil.
	CallbackHandler Callback
	// MaxTurns limits the number of model calls per query.
	MaxTurns int

	// callOpts are passed to every model call, in the order they were set.
	callOpts []llms.CallOption
}

// NewConfig returns a Config with opts applied to the defaults.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{MaxTurns: DefaultMaxTurns}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Apply returns a copy of the config with opts applied.
func (c *Config) Apply(opts ...Option) *Config {
	cfg := *c
	cfg.callOpts = slices.Clip(slices.Clone(c.callOpts))
	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// GetCallOptions returns the model call options that were set.
func (c *Config) GetCallOptions() []llms.CallOption {
	return slices.Clone(c.callOpts)
}

func withCallOption(opt llms.CallOption) Option {
	return func(c *Config) {
		c.callOpts = append(c.callOpts, opt)
	}
}

// WithModel overrides the model of the agent's LLM.
func WithModel(model string) Option {
	return withCallOption(llms.WithModel(model))
}

func WithMaxTokens(n int) Option {
	return withCallOption(llms.WithMaxTokens(n))
}

func WithTemperature(t float64) Option {
	return withCallOption(llms.WithTemperature(t))
}

func WithTopK(k int) Option {
	return withCallOption(llms.WithTopK(k))
}

func WithTopP(p float64) Option {
	return withCallOption(llms.WithTopP(p))
}

func WithSeed(seed int) Option {
	return withCallOption(llms.WithSeed(seed))
}

func WithStopWords(words []string) Option {
	return withCallOption(llms.WithStopWords(words))
}

// WithToolChoice sets the tool choice of every call,
// see llms.CallOptions.ToolChoice.
func WithToolChoice(choice any) Option {
	return withCallOption(llms.WithToolChoice(choice))
}

// WithMetadata sets the request metadata of every call.
func WithMetadata(metadata map[string]any) Option {
	return withCallOption(llms.WithMetadata(metadata))
}

// WithCallback sets the handler of the run events.
func WithCallback(handler Callback) Option {
	return func(c *Config) {
		c.CallbackHandler = handler
	}
}

// WithMaxTurns limits the number of model calls per query.
// Values below 1 keep the default.
func WithMaxTurns(turns int) Option {
	return func(c *Config) {
		if turns > 0 {
			c.MaxTurns = turns
		}
	}
}

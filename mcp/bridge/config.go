package bridge

import (
	"maps"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ProviderConfig describes one tool provider to launch.
type ProviderConfig struct {
	// Name is the display name, used for collision prefixes and logs.
	// Names need not be unique.
	Name string `json:"name" yaml:"name"`
	// Command is the executable to launch, resolved against Env["PATH"] when set
	Command string `json:"command" yaml:"command" validate:"required"`
	// Args are passed to Command
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Env is the complete environment of the provider process.
	// An empty map yields an empty environment.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// InheritEnv asks the caller to merge its own environment under Env
	// before handing the config to the bridge. The bridge never reads
	// the ambient environment itself.
	InheritEnv bool `json:"inherit_env,omitempty" yaml:"inherit_env,omitempty"`
}

// Clone returns a deep copy.
func (c *ProviderConfig) Clone() *ProviderConfig {
	if c == nil {
		return nil
	}
	return &ProviderConfig{
		Name:       c.Name,
		Command:    c.Command,
		Args:       slices.Clone(c.Args),
		Env:        maps.Clone(c.Env),
		InheritEnv: c.InheritEnv,
	}
}

// Validate checks required fields.
func (c *ProviderConfig) Validate() error {
	if c == nil {
		return errors.New("provider config is nil")
	}
	if err := validate.Struct(c); err != nil {
		return errors.Wrapf(err, "invalid provider %q", c.Name)
	}
	return nil
}

// WithEnviron returns a copy whose Env is environ (KEY=VALUE entries)
// overlaid with the configured Env. Configured values win.
func (c *ProviderConfig) WithEnviron(environ []string) *ProviderConfig {
	cp := c.Clone()
	env := make(map[string]string, len(environ)+len(c.Env))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	maps.Copy(env, c.Env)
	cp.Env = env
	return cp
}

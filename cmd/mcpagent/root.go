package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/bridge"
	"github.com/effective-security/mcpbridge/pkg/config"
	"github.com/effective-security/xlog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/cmd", "mcpagent")

// defaultConfig launches the AMap provider and talks to DeepSeek.
const defaultConfig = `
providers:
  - name: 高德地图
    command: npx
    args: ["-y", "@amap/amap-maps-mcp-server"]
    env:
      AMAP_MAPS_API_KEY: ${AMAP_MAPS_API_KEY}
    inherit_env: true
llm:
  providers:
    - name: deepseek
      token: ${OPENAI_API_KEY}
      default_model: deepseek-chat
      open_ai:
        api_type: DEEPSEEK
        base_url: https://api.deepseek.com
`

type rootOptions struct {
	configFile string
	envFile    string
	verbose    bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "mcpagent",
		Short:         "Streaming agent over MCP tool providers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "configuration file: .yaml, .json or .toml, the AMap demo setup is used if not set")
	flags.StringVar(&opts.envFile, "env-file", ".env", "file with environment variables, ignored if missing")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print the agent events and debug logs")

	cmd.AddCommand(
		newQuickstartCmd(opts),
		newChatCmd(opts),
		newToolsCmd(opts),
		newSchemaCmd(opts),
	)
	return cmd
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	xlog.SetFormatter(xlog.NewStringFormatter(cmd.ErrOrStderr()))
	if o.verbose {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		xlog.SetGlobalLogLevel(xlog.WARNING)
	}

	if o.envFile != "" {
		err := godotenv.Load(o.envFile)
		if err != nil && !os.IsNotExist(err) {
			return errors.WithMessagef(err, "failed to load %s", o.envFile)
		}
	}

	var err error
	if o.configFile == "" {
		o.cfg, err = config.Parse([]byte(defaultConfig), "yaml")
	} else {
		o.cfg, err = config.Load(o.configFile)
	}
	if err != nil {
		return err
	}
	logger.KV(xlog.DEBUG,
		"status", "config_loaded",
		"file", o.configFile,
		"providers", len(o.cfg.Providers))
	return nil
}

// newBridge returns the bridge for the configured providers,
// with the process environment merged where asked for.
func (o *rootOptions) newBridge() *bridge.Bridge {
	opts := append(o.cfg.BridgeOptions(), bridge.WithName("mcpagent"))
	return bridge.New(o.cfg.ProviderConfigs(os.Environ()), opts...)
}

// withCatalog acquires the providers for the duration of fn.
func (o *rootOptions) withCatalog(cmd *cobra.Command, fn func(b *bridge.Bridge, cat *bridge.Catalog) error) error {
	b := o.newBridge()
	defer b.Release()

	cat, err := b.Acquire(cmd.Context())
	if err != nil {
		return err
	}
	for _, f := range cat.Failures() {
		logger.KV(xlog.WARNING,
			"status", "provider_failed",
			"provider", f.Name,
			"kind", f.Kind,
			"err", f.Err.Error())
	}
	return fn(b, cat)
}

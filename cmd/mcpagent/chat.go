package main

import (
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/assistants"
	"github.com/effective-security/mcpbridge/callbacks"
	"github.com/effective-security/mcpbridge/chatmodel"
	"github.com/effective-security/mcpbridge/mcp/bridge"
	"github.com/effective-security/mcpbridge/pkg/config"
	"github.com/effective-security/mcpbridge/pkg/llmfactory"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/pkg/metricskey"
	"github.com/effective-security/mcpbridge/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

const (
	defaultQuery = "帮我查一下杭州西湖附近的酒店"
	agentName    = "geo-assistant"
)

// newModel is replaced in tests.
var newModel = func(cfg *config.Config) (llms.Model, error) {
	return llmfactory.New(&cfg.LLM).DefaultModel()
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [query]",
		Short: "Answer one query with the provider tools, streaming the reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := defaultQuery
			if len(args) > 0 {
				query = args[0]
			}

			if err := requireCredentials(opts.cfg); err != nil {
				return err
			}
			model, err := newModel(opts.cfg)
			if err != nil {
				return err
			}

			started := time.Now()
			defer metricskey.PerfChatRun.MeasureSince(started, agentName)

			return opts.withCatalog(cmd, func(b *bridge.Bridge, cat *bridge.Catalog) error {
				return opts.chat(cmd, model, b.Tools(), cat.Names(), query)
			})
		},
	}
}

func (o *rootOptions) chat(cmd *cobra.Command, model llms.Model, list []tools.ITool, names []string, query string) error {
	sysprompt, err := o.cfg.RenderSystemPrompt(names)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: no tools were injected, the agent answers with the model alone.")
	}

	ctx := chatmodel.WithChatContext(cmd.Context(), chatmodel.NewChatContext(""))

	var pad *callbacks.Scratchpad
	cb := callbacks.NewFanout(callbacks.NewPackageLogger(logger))
	if o.verbose {
		pad = callbacks.NewScratchpad(callbacks.ModeVerbose)
		pad.StartRun(ctx)
		cb.Add(callbacks.NewPrinter(cmd.ErrOrStderr(), callbacks.ModeDefault))
		cb.Add(pad)
	}

	agent := assistants.NewAgent(model, sysprompt,
		assistants.WithCallback(cb),
		assistants.WithMaxTurns(o.cfg.MaxTurns),
	).WithName(agentName).WithTools(list...)

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "chat",
		"model", model.GetName(),
		"tools", len(list))

	fmt.Fprintf(cmd.OutOrStdout(), "User: %s\n", query)
	_, err = streamRun(cmd.OutOrStdout(), agent.Start(ctx, query))

	if pad != nil {
		if _, trace := pad.EndRun(ctx); len(trace) > 0 {
			_, _ = cmd.ErrOrStderr().Write(trace)
		}
	}
	return err
}

// streamRun writes the fragments of the run as they arrive
// and returns the final answer.
func streamRun(w io.Writer, run *assistants.Run) (string, error) {
	lineStart := true
	newline := func() {
		if !lineStart {
			fmt.Fprintln(w)
			lineStart = true
		}
	}

	for f, err := range run.Fragments() {
		if err != nil {
			newline()
			return "", err
		}
		switch f.Kind {
		case assistants.FragmentText:
			if f.Text != "" {
				fmt.Fprint(w, f.Text)
				lineStart = f.Text[len(f.Text)-1] == '\n'
			}
		case assistants.FragmentToolCall:
			newline()
			fmt.Fprintf(w, "[tool call] %s %s\n", f.ToolCall.FunctionCall.Name, f.ToolCall.FunctionCall.Arguments)
		case assistants.FragmentToolResult:
			newline()
			fmt.Fprintf(w, "[tool result] %s: %s\n", f.ToolResult.Name, slices.StringUpto(f.ToolResult.Content, 200))
		case assistants.FragmentDone:
			newline()
			return f.Text, nil
		}
	}
	return "", errors.New("run ended without an answer")
}

// requireCredentials checks that the model token and the provider
// environment values are set.
func requireCredentials(cfg *config.Config) error {
	p := cfg.LLM.Default()
	if p == nil {
		return errors.New("no LLM provider configured")
	}
	if _, err := llmfactory.ProviderTypeOf(p); err != nil {
		return errors.WithMessagef(err, "LLM provider %q", p.Name)
	}
	if p.Token == "" {
		return errors.Newf("missing API token of LLM provider %q, set it in the .env file", p.Name)
	}
	for _, tp := range cfg.Providers {
		for k, v := range tp.Env {
			if v == "" {
				return errors.Newf("%s of provider %q is not set, set it in the .env file", k, tp.Name)
			}
		}
	}
	return nil
}

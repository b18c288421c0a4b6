package main

import (
	"fmt"
	"reflect"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/bridge"
	"github.com/effective-security/mcpbridge/pkg/config"
	"github.com/effective-security/mcpbridge/pkg/llmutils"
	"github.com/effective-security/mcpbridge/pkg/schema"
	"github.com/effective-security/x/slices"
	"github.com/spf13/cobra"
)

func newToolsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the aggregated tool catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withCatalog(cmd, func(_ *bridge.Bridge, cat *bridge.Catalog) error {
				out := cmd.OutOrStdout()
				if cat.IsEmpty() {
					fmt.Fprintln(out, "No tools available.")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tPROVIDER\tDESCRIPTION")
				for _, d := range cat.Tools() {
					name := d.Name
					if d.Renamed() {
						name += " (" + d.OriginalName + ")"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", name, d.Provider, slices.StringUpto(d.Description, 80))
				}
				if err := tw.Flush(); err != nil {
					return errors.WithStack(err)
				}
				fmt.Fprintf(out, "\n%d tools from %d providers, fingerprint %016x\n",
					cat.Len(), len(cat.Providers()), cat.Fingerprint())
				return nil
			})
		},
	}
}

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [tool]",
		Short: "Print the parameters schema of a tool as bound to the model, or of the configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), llmutils.ToJSONIndent(schema.JSONSchema(reflect.TypeOf(config.Config{}))))
				return nil
			}
			return opts.withCatalog(cmd, func(b *bridge.Bridge, _ *bridge.Catalog) error {
				for _, t := range b.Tools() {
					if t.Name() == args[0] {
						fmt.Fprintln(cmd.OutOrStdout(), llmutils.ToJSONIndent(t.Parameters()))
						return nil
					}
				}
				return errors.Newf("tool %q not found", args[0])
			})
		},
	}
}

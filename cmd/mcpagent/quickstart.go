package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/bridge"
	"github.com/effective-security/x/slices"
	"github.com/spf13/cobra"
)

const quickstartPreview = 300

func newQuickstartCmd(opts *rootOptions) *cobra.Command {
	var (
		toolName string
		args     string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "quickstart",
		Short: "Acquire the providers, call one tool and print the start of its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !json.Valid([]byte(args)) {
				return errors.Newf("--args must be a JSON object: %s", args)
			}
			return opts.withCatalog(cmd, func(b *bridge.Bridge, cat *bridge.Catalog) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Loaded %d tools: %s\n", cat.Len(), strings.Join(cat.Names(), ", "))

				if _, ok := cat.Lookup(toolName); !ok {
					return errors.Newf("tool %q not found", toolName)
				}

				fmt.Fprintf(out, "Calling %s %s\n", toolName, args)
				res, err := b.Invoke(cmd.Context(), toolName, json.RawMessage(args))
				if err != nil {
					return errors.WithMessagef(err, "%s failed [%s]", toolName, res.ErrorKind)
				}

				result := res.Text
				if result == "" {
					result = string(res.Payload)
				}
				fmt.Fprintln(out, slices.StringUpto(result, limit))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&toolName, "tool", "maps_text_search", "name of the tool to call")
	cmd.Flags().StringVar(&args, "args", `{"keywords":"西湖"}`, "tool arguments as a JSON object")
	cmd.Flags().IntVar(&limit, "limit", quickstartPreview, "number of characters of the result to print")
	return cmd
}

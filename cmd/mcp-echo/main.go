// Command mcp-echo serves the echo tool provider over stdio.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/effective-security/mcpbridge/mcp/echoprovider"
	"github.com/spf13/cobra"
)

func main() {
	var name string

	cmd := &cobra.Command{
		Use:           "mcp-echo",
		Short:         "MCP provider with echo, ping, search and diagnostic tools",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return echoprovider.Serve(ctx, name, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&name, "name", "echo", "server name reported in the handshake")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

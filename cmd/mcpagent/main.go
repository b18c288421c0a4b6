// Command mcpagent connects a streaming chat model to MCP tool providers.
//
//	mcpagent quickstart --tool maps_text_search --args '{"keywords":"西湖"}'
//	mcpagent chat "帮我查一下杭州西湖附近的酒店"
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package echoprovider is a small MCP tool provider served over stdio.
// It backs the mcp-echo command and the bridge tests.
package echoprovider

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/mcp", "echoprovider")

// Version of the provider reported in the handshake.
const Version = "1.0.0"

// Tool names.
const (
	ToolPing   = "ping"
	ToolSearch = "search"
	ToolEcho   = "echo"
	ToolAdd    = "add"
	ToolFail   = "fail"
	ToolSleep  = "sleep"
	ToolEnv    = "env"
)

// New returns the provider server with all tools registered.
func New(name string) *server.MCPServer {
	if name == "" {
		name = "echo"
	}
	s := server.NewMCPServer(name, Version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool(ToolPing,
		mcp.WithDescription("Returns its arguments unchanged as a JSON object"),
	), ping)

	s.AddTool(mcp.NewTool(ToolSearch,
		mcp.WithDescription("Pretends to search and reports which provider answered"),
		mcp.WithString("query", mcp.Required(), mcp.Description("search keywords")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]string{
			"provider": name,
			"query":    cast.ToString(req.GetArguments()["query"]),
		})
	})

	s.AddTool(mcp.NewTool(ToolEcho,
		mcp.WithDescription("Returns the text unchanged"),
		mcp.WithString("text", mcp.Required(), mcp.Description("text to echo")),
	), echo)

	s.AddTool(mcp.NewTool(ToolAdd,
		mcp.WithDescription("Adds two numbers and returns {\"sum\": a+b}"),
		mcp.WithNumber("a", mcp.Required()),
		mcp.WithNumber("b", mcp.Required()),
	), add)

	s.AddTool(mcp.NewTool(ToolFail,
		mcp.WithDescription("Always reports a tool error with the given message"),
		mcp.WithString("message"),
	), fail)

	s.AddTool(mcp.NewTool(ToolSleep,
		mcp.WithDescription("Waits for the given milliseconds, then returns"),
		mcp.WithNumber("ms", mcp.Required(), mcp.Min(0)),
	), sleep)

	s.AddTool(mcp.NewTool(ToolEnv,
		mcp.WithDescription("Returns the value of an environment variable of the provider"),
		mcp.WithString("key", mcp.Required()),
	), env)

	return s
}

// Serve runs the provider on r and w until r is closed or ctx is done.
func Serve(ctx context.Context, name string, r io.Reader, w io.Writer) error {
	srv := server.NewStdioServer(New(name))
	err := srv.Listen(ctx, r, w)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		logger.KV(xlog.ERROR, "provider", name, "err", err.Error())
		return errors.WithStack(err)
	}
	return nil
}

func ping(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	if args == nil {
		args = map[string]any{}
	}
	return jsonResult(args)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

func echo(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(cast.ToString(req.GetArguments()["text"])), nil
}

func add(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sum := cast.ToFloat64(args["a"]) + cast.ToFloat64(args["b"])
	return jsonResult(map[string]float64{"sum": sum})
}

func fail(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg := cast.ToString(req.GetArguments()["message"])
	if msg == "" {
		msg = "failed as requested"
	}
	return mcp.NewToolResultError(msg), nil
}

func sleep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d := time.Duration(cast.ToInt64(req.GetArguments()["ms"])) * time.Millisecond
	select {
	case <-time.After(d):
		return mcp.NewToolResultText("slept " + d.String()), nil
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

func env(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := cast.ToString(req.GetArguments()["key"])
	v, ok := os.LookupEnv(key)
	if !ok {
		return mcp.NewToolResultError(key + " is not set"), nil
	}
	return mcp.NewToolResultText(v), nil
}

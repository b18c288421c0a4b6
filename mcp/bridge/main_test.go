package bridge_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/effective-security/mcpbridge/mcp/bridge"
	"github.com/effective-security/mcpbridge/mcp/echoprovider"
)

const (
	helperEnv  = "BRIDGE_TEST_PROVIDER"
	helperName = "BRIDGE_TEST_NAME"
)

// TestMain turns the test binary into a tool provider when helperEnv is set.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "echo":
		if err := echoprovider.Serve(context.Background(), os.Getenv(helperName), os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "silent":
		fmt.Fprintln(os.Stderr, "silent provider never answers")
		drain()
	case "garbage":
		fmt.Println("this is not json-rpc")
		drain()
	case "deaf":
		deaf()
	case "crash":
		fmt.Fprintln(os.Stderr, "crashing on start")
		os.Exit(2)
	}
	os.Exit(0)
}

// deaf answers the handshake and the tool list, then stops reading stdin.
func deaf() {
	in := bufio.NewReader(os.Stdin)
	for {
		line, err := in.ReadBytes('\n')
		if err != nil {
			return
		}
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.Unmarshal(line, &req)
		switch req.Method {
		case "initialize":
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2025-03-26","capabilities":{"tools":{}},"serverInfo":{"name":"deaf","version":"1.0.0"}}}`+"\n", req.ID)
		case "tools/list":
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"result":{"tools":[{"name":"upload","inputSchema":{"type":"object"}}]}}`+"\n", req.ID)
			time.Sleep(time.Hour)
		}
	}
}

func drain() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
	}
}

// helper returns a provider config that re-runs the test binary in mode.
func helper(t *testing.T, name, mode string) *bridge.ProviderConfig {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	return &bridge.ProviderConfig{
		Name:    name,
		Command: exe,
		Env: map[string]string{
			helperEnv:  mode,
			helperName: name,
		},
	}
}

func testOptions(opts ...bridge.Option) []bridge.Option {
	return append([]bridge.Option{
		bridge.WithHandshakeTimeout(5 * time.Second),
		bridge.WithListTimeout(5 * time.Second),
		bridge.WithCallTimeout(5 * time.Second),
		bridge.WithGraceTimeout(time.Second),
	}, opts...)
}

package stdio_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/mcperr"
	"github.com/effective-security/mcpbridge/mcp/transport/stdio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_MissingCommand(t *testing.T) {
	p := stdio.New(stdio.Config{
		Name:    "missing",
		Command: "mcpbridge-no-such-binary",
		Env:     map[string]string{"PATH": t.TempDir()},
	})
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperr.ErrSpawn))
	assert.Equal(t, stdio.StateFailed, p.State())
	assert.Equal(t, 0, p.Pid())
	assert.True(t, p.Exited())

	p.Terminate(time.Second)
	p.Terminate(time.Second)
	assert.Equal(t, stdio.StateTerminated, p.State())

	_, _, err = p.Streams()
	assert.True(t, errors.Is(err, mcperr.ErrProviderUnavailable))
}

func TestStart_NoPath(t *testing.T) {
	p := stdio.New(stdio.Config{Name: "bare", Command: "sh", Env: map[string]string{}})
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperr.ErrSpawn))
	assert.Contains(t, err.Error(), "has no PATH")
	p.Terminate(time.Second)
}

func TestStart_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := stdio.New(stdio.Config{Name: "cancelled", Command: helperCommand(t)})
	require.Error(t, p.Start(ctx))
	assert.Equal(t, stdio.StateFailed, p.State())
	p.Terminate(0)
	assert.True(t, p.Exited())
}

func TestStart_EmptyEnvironment(t *testing.T) {
	p := stdio.New(stdio.Config{
		Name:    "env",
		Command: helperCommand(t),
		Env:     map[string]string{"STDIO_TEST_HELPER": "env"},
	})
	require.NoError(t, p.Start(context.Background()))
	defer p.Terminate(time.Second)
	assert.Equal(t, stdio.StateReady, p.State())
	assert.NotZero(t, p.Pid())

	_, stdout, err := p.Streams()
	require.NoError(t, err)

	line, err := bufio.NewReader(stdout).ReadBytes('\n')
	require.NoError(t, err)

	var environ []string
	require.NoError(t, json.Unmarshal(line, &environ))
	assert.Equal(t, []string{"STDIO_TEST_HELPER=env"}, environ)

	_, _, err = p.Streams()
	assert.Error(t, err, "streams are handed out once")

	p.Terminate(time.Second)
	assert.Equal(t, stdio.StateTerminated, p.State())
	assert.True(t, p.Exited())
}

func TestTerminate_ClosesStdin(t *testing.T) {
	p := stdio.New(stdio.Config{
		Name:    "echo",
		Command: helperCommand(t),
		Env:     map[string]string{"STDIO_TEST_HELPER": "echo"},
	})
	require.NoError(t, p.Start(context.Background()))

	stdin, stdout, err := p.Streams()
	require.NoError(t, err)

	_, err = io.WriteString(stdin, "hello\n")
	require.NoError(t, err)
	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	assert.Eventually(t, func() bool {
		return len(p.StderrTail()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"echo helper ready"}, p.StderrTail())

	p.Terminate(5 * time.Second)
	assert.True(t, p.Exited())
}

func TestProcess_UnexpectedExit(t *testing.T) {
	p := stdio.New(stdio.Config{
		Name:    "exit",
		Command: helperCommand(t),
		Env:     map[string]string{"STDIO_TEST_HELPER": "exit"},
	})
	require.NoError(t, p.Start(context.Background()))

	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("helper did not exit")
	}
	assert.Equal(t, stdio.StateFailed, p.State())
	assert.True(t, errors.Is(p.Err(), mcperr.ErrConnectionLost))
	assert.Error(t, p.ExitErr())

	p.Terminate(time.Second)
	assert.Equal(t, stdio.StateTerminated, p.State())
}

package bridge_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/bridge"
	"github.com/effective-security/mcpbridge/mcp/mcperr"
	"github.com/effective-security/mcpbridge/mcp/transport/stdio"
	"github.com/effective-security/mcpbridge/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertReleased(t *testing.T, b *bridge.Bridge) {
	t.Helper()
	for _, p := range b.Processes() {
		assert.True(t, p.Exited(), p.Name())
		assert.Equal(t, stdio.StateTerminated, p.State(), p.Name())
	}
}

func acquire(t *testing.T, configs []*bridge.ProviderConfig, opts ...bridge.Option) (*bridge.Bridge, *bridge.Catalog) {
	t.Helper()
	b := bridge.New(configs, testOptions(opts...)...)
	t.Cleanup(b.Release)
	cat, err := b.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cat)
	return b, cat
}

func TestAcquireRelease(t *testing.T) {
	b, cat := acquire(t, []*bridge.ProviderConfig{
		helper(t, "alpha", "echo"),
		helper(t, "beta", "echo"),
	})
	require.NoError(t, cat.Err())
	assert.Empty(t, cat.Failures())

	providers := cat.Providers()
	require.Len(t, providers, 2)
	assert.Equal(t, "alpha", providers[0].Name)
	assert.Equal(t, "alpha", providers[0].Server.Name)
	assert.Equal(t, "beta", providers[1].Name)
	assert.Equal(t, providers[0].Tools, providers[1].Tools)
	assert.Equal(t, providers[0].Tools*2, cat.Len())

	// first in configuration order keeps the bare name
	d, ok := cat.Lookup("search")
	require.True(t, ok)
	assert.Equal(t, "alpha", d.Provider)
	assert.False(t, d.Renamed())

	d, ok = cat.Lookup("beta_search")
	require.True(t, ok)
	assert.Equal(t, "beta", d.Provider)
	assert.Equal(t, "search", d.OriginalName)
	assert.Equal(t, 1, d.ProviderIndex)
	assert.True(t, d.Renamed())

	seen := map[string]bool{}
	for _, n := range cat.Names() {
		assert.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
	}

	ctx := context.Background()
	res, err := b.Invoke(ctx, "search", json.RawMessage(`{"query":"lake"}`))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.JSONEq(t, `{"provider":"alpha","query":"lake"}`, string(res.Payload))

	res, err = b.Invoke(ctx, "beta_search", json.RawMessage(`{"query":"lake"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"provider":"beta","query":"lake"}`, string(res.Payload))

	for _, p := range b.Processes() {
		assert.False(t, p.Exited())
		assert.Equal(t, stdio.StateReady, p.State())
	}

	b.Release()
	assertReleased(t, b)

	// stale descriptors never reach a provider
	res, err = b.Invoke(ctx, "search", json.RawMessage(`{"query":"lake"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperr.ErrProviderGone))
	assert.Equal(t, mcperr.KindProviderUnavailable, res.ErrorKind)
	assert.False(t, res.OK)

	// no-op
	b.Release()
	assertReleased(t, b)
}

func TestEchoScenario(t *testing.T) {
	err := bridge.With(context.Background(), []*bridge.ProviderConfig{helper(t, "echo", "echo")},
		func(ctx context.Context, b *bridge.Bridge, cat *bridge.Catalog) error {
			res, err := b.Invoke(ctx, "ping", json.RawMessage(`{"msg":"hi"}`))
			require.NoError(t, err)
			assert.True(t, res.OK)
			assert.Equal(t, "ping", res.Tool)
			assert.JSONEq(t, `{"msg":"hi"}`, string(res.Payload))
			assert.Equal(t, mcperr.KindNone, res.ErrorKind)
			return nil
		}, testOptions()...)
	require.NoError(t, err)
}

func TestWith_ReleasesOnEveryPath(t *testing.T) {
	var b *bridge.Bridge
	fnErr := errors.New("fn failed")
	err := bridge.With(context.Background(), []*bridge.ProviderConfig{helper(t, "echo", "echo")},
		func(_ context.Context, br *bridge.Bridge, _ *bridge.Catalog) error {
			b = br
			return fnErr
		}, testOptions()...)
	assert.True(t, errors.Is(err, fnErr))
	require.NotNil(t, b)
	assertReleased(t, b)

	b = nil
	assert.Panics(t, func() {
		_ = bridge.With(context.Background(), []*bridge.ProviderConfig{helper(t, "echo", "echo")},
			func(_ context.Context, br *bridge.Bridge, _ *bridge.Catalog) error {
				b = br
				panic("boom")
			}, testOptions()...)
	})
	require.NotNil(t, b)
	assertReleased(t, b)
}

func TestAcquire_MissingCommand(t *testing.T) {
	missing := &bridge.ProviderConfig{
		Name:    "missing",
		Command: "mcpbridge-no-such-provider",
		Env:     map[string]string{"PATH": t.TempDir()},
	}
	b, cat := acquire(t, []*bridge.ProviderConfig{missing, helper(t, "echo", "echo")})
	require.NoError(t, cat.Err())

	failures := cat.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, 0, failures[0].Index)
	assert.Equal(t, "missing", failures[0].Name)
	assert.Equal(t, mcperr.KindSpawn, failures[0].Kind)

	require.Len(t, cat.Providers(), 1)
	d, ok := cat.Lookup("ping")
	require.True(t, ok)
	assert.Equal(t, "echo", d.Provider)

	b.Release()
	assertReleased(t, b)
}

func TestAcquire_AllFail(t *testing.T) {
	b, cat := acquire(t, []*bridge.ProviderConfig{
		helper(t, "silent", "silent"),
		helper(t, "garbage", "garbage"),
		helper(t, "crash", "crash"),
		{Name: "invalid"},
	}, bridge.WithHandshakeTimeout(300*time.Millisecond))

	assert.True(t, cat.IsEmpty())
	assert.Empty(t, cat.Providers())
	assert.True(t, errors.Is(cat.Err(), mcperr.ErrNoProvidersAvailable))

	failures := cat.Failures()
	require.Len(t, failures, 4)
	for i, f := range failures {
		assert.Equal(t, i, f.Index)
		require.Error(t, f.Err)
	}
	assert.Equal(t, mcperr.KindHandshake, failures[0].Kind)
	assert.Equal(t, mcperr.KindHandshake, failures[1].Kind)
	assert.Equal(t, mcperr.KindHandshake, failures[2].Kind)
	assert.Equal(t, mcperr.KindSpawn, failures[3].Kind)

	res, err := b.Invoke(context.Background(), "ping", nil)
	assert.True(t, errors.Is(err, mcperr.ErrUnknownTool))
	assert.Equal(t, mcperr.KindUnknownTool, res.ErrorKind)

	b.Release()
	assertReleased(t, b)
}

func TestAcquire_NoProviders(t *testing.T) {
	b, cat := acquire(t, nil)
	assert.True(t, cat.IsEmpty())
	assert.NoError(t, cat.Err())
	assert.Empty(t, b.Tools())
}

func TestAcquire_Misuse(t *testing.T) {
	b, _ := acquire(t, []*bridge.ProviderConfig{helper(t, "echo", "echo")})

	_, err := b.Acquire(context.Background())
	assert.True(t, errors.Is(err, bridge.ErrAlreadyAcquired))

	b.Release()
	_, err = b.Acquire(context.Background())
	assert.True(t, errors.Is(err, bridge.ErrReleased))

	nb := bridge.New(nil)
	res, err := nb.Invoke(context.Background(), "ping", nil)
	assert.True(t, errors.Is(err, bridge.ErrNotAcquired))
	assert.NotNil(t, res)
	assert.Nil(t, nb.Catalog())
	assert.Nil(t, nb.Tools())
	// release before acquire is safe
	nb.Release()
}

func TestAcquire_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := bridge.New([]*bridge.ProviderConfig{helper(t, "echo", "echo")}, testOptions()...)
	cat, err := b.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, cat)

	b.Release()
	assertReleased(t, b)
}

func TestInvoke_Errors(t *testing.T) {
	b, _ := acquire(t, []*bridge.ProviderConfig{helper(t, "echo", "echo")})
	ctx := context.Background()

	tcs := []struct {
		name string
		tool string
		args string
		kind mcperr.Kind
	}{
		{"unknown", "no_such_tool", `{}`, mcperr.KindUnknownTool},
		{"missing_required", "echo", `{}`, mcperr.KindInvalidArguments},
		{"wrong_type", "add", `{"a":"one","b":2}`, mcperr.KindInvalidArguments},
		{"not_object", "ping", `[1,2]`, mcperr.KindInvalidArguments},
		{"malformed", "ping", `{"a":`, mcperr.KindInvalidArguments},
		{"tool_error", "fail", `{"message":"boom"}`, mcperr.KindToolError},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			res, err := b.Invoke(ctx, tc.tool, json.RawMessage(tc.args))
			require.Error(t, err)
			require.NotNil(t, res)
			assert.False(t, res.OK)
			assert.Equal(t, tc.kind, res.ErrorKind)
			assert.Equal(t, tc.kind, mcperr.KindOf(err))
			assert.Equal(t, err, res.Err)
		})
	}

	res, err := b.Invoke(ctx, "fail", json.RawMessage(`{"message":"boom"}`))
	require.Error(t, err)
	assert.Equal(t, "boom", res.Text)

	// the provider is still usable after failures
	res, err = b.Invoke(ctx, "add", json.RawMessage(`{"a":2,"b":3}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":5}`, string(res.Payload))

	res, err = b.Invoke(ctx, "echo", json.RawMessage(`{"text":"plain words"}`))
	require.NoError(t, err)
	assert.Equal(t, "plain words", res.Text)
	assert.Equal(t, `"plain words"`, string(res.Payload))
}

func TestInvoke_TimeoutIsolated(t *testing.T) {
	b, _ := acquire(t, []*bridge.ProviderConfig{
		helper(t, "slow", "echo"),
		helper(t, "fast", "echo"),
	}, bridge.WithCallTimeout(300*time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	var slowErr error
	var slowElapsed time.Duration
	wg.Add(1)
	go func() {
		defer wg.Done()
		started := time.Now()
		_, slowErr = b.Invoke(ctx, "sleep", json.RawMessage(`{"ms":10000}`))
		slowElapsed = time.Since(started)
	}()

	res, err := b.Invoke(ctx, "fast_ping", json.RawMessage(`{"msg":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hi"}`, string(res.Payload))

	wg.Wait()
	require.Error(t, slowErr)
	assert.Equal(t, mcperr.KindTimeout, mcperr.KindOf(slowErr))
	assert.Less(t, slowElapsed, 5*time.Second)
}

func TestRelease_ProviderStoppedReading(t *testing.T) {
	b := bridge.New([]*bridge.ProviderConfig{helper(t, "deaf", "deaf")}, testOptions(bridge.WithCallTimeout(time.Minute))...)
	cat, err := b.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, cat.Len())

	args, err := json.Marshal(map[string]string{"data": strings.Repeat("x", 256*1024)})
	require.NoError(t, err)

	invoked := make(chan error, 1)
	go func() {
		_, err := b.Invoke(context.Background(), "upload", args)
		invoked <- err
	}()
	time.Sleep(200 * time.Millisecond)

	released := make(chan struct{})
	go func() {
		b.Release()
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(10 * time.Second):
		t.Fatal("Release blocked by a pending write")
	}
	assertReleased(t, b)

	select {
	case err = <-invoked:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Invoke not resolved by Release")
	}
}

func TestInvoke_Cancelled(t *testing.T) {
	b, _ := acquire(t, []*bridge.ProviderConfig{helper(t, "echo", "echo")})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := b.Invoke(ctx, "sleep", json.RawMessage(`{"ms":10000}`))
	require.Error(t, err)
	assert.Equal(t, mcperr.KindCancelled, res.ErrorKind)
}

func TestInvoke_EnvironmentIsExact(t *testing.T) {
	cfg := helper(t, "env", "echo")
	cfg.Env["GREETING"] = "hello"
	b, _ := acquire(t, []*bridge.ProviderConfig{cfg})
	ctx := context.Background()

	res, err := b.Invoke(ctx, "env", json.RawMessage(`{"key":"GREETING"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)

	_, err = b.Invoke(ctx, "env", json.RawMessage(`{"key":"HOME"}`))
	assert.True(t, errors.Is(err, mcperr.ErrToolError))
}

func TestTools(t *testing.T) {
	b, cat := acquire(t, []*bridge.ProviderConfig{helper(t, "echo", "echo")})

	list := b.Tools()
	require.Len(t, list, cat.Len())
	assert.Equal(t, cat.Names(), tools.Names(list...))

	echo := tools.Find(list, "echo")
	require.NotNil(t, echo)
	assert.NotEmpty(t, echo.Description())
	assert.NotNil(t, echo.Parameters())

	ctx := context.Background()
	out, err := echo.Call(ctx, "Sure, here you go: {\"text\": \"hi\"}")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	out, err = tools.Find(list, "ping").Call(ctx, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, out)

	_, err = echo.Call(ctx, `{}`)
	assert.True(t, errors.Is(err, mcperr.ErrInvalidArguments))

	out, err = tools.Find(list, "fail").Call(ctx, `{"message":"nope"}`)
	assert.True(t, errors.Is(err, mcperr.ErrToolError))
	assert.Equal(t, "nope", out)
}

package bridge

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/internal/protocol"
	"github.com/effective-security/mcpbridge/mcp/mcperr"
	"github.com/effective-security/mcpbridge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listedProvider(index int, name string, list ...protocol.Tool) *provider {
	p := &provider{
		index: index,
		cfg:   &ProviderConfig{Name: name, Command: "test"},
		tools: list,
	}
	p.slot = &providerSlot{p: p}
	return p
}

func failedProvider(index int, name string, err error) *provider {
	p := listedProvider(index, name)
	p.err = err
	return p
}

func tool(name string) protocol.Tool {
	return protocol.Tool{
		Name:        name,
		Description: name + " tool",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
	}
}

func TestSanitize(t *testing.T) {
	tcs := []struct {
		name  string
		index int
		exp   string
	}{
		{"amap", 0, "amap"},
		{"my provider", 0, "my_provider"},
		{"npm/@scope.pkg", 0, "npm_scope_pkg"},
		{"高德地图", 0, "provider1"},
		{"高德地图", 2, "provider3"},
		{"__x__", 0, "x"},
		{"", 1, "provider2"},
		{"a-b_c9", 0, "a-b_c9"},
	}
	for _, tc := range tcs {
		assert.Equal(t, tc.exp, sanitize(tc.name, tc.index), tc.name)
	}
}

func TestUniqueName(t *testing.T) {
	taken := map[string]*ToolDescriptor{
		"a_search":   {},
		"a_search_2": {},
	}
	assert.Equal(t, "b_search", uniqueName(taken, "b_search"))
	assert.Equal(t, "a_search_3", uniqueName(taken, "a_search"))

	long := strings.Repeat("x", 80)
	name := uniqueName(taken, long)
	assert.Len(t, name, maxToolNameLen)

	taken[name] = &ToolDescriptor{}
	next := uniqueName(taken, long)
	assert.Len(t, next, maxToolNameLen)
	assert.True(t, strings.HasSuffix(next, "_2"))

	assert.Equal(t, "ab", truncateName("ab地", 4), "multibyte runes are not split")
}

func TestAggregate_Collisions(t *testing.T) {
	providers := []*provider{
		listedProvider(0, "maps", tool("search"), tool("route")),
		failedProvider(1, "broken", errors.Wrap(mcperr.ErrSpawn, "exec")),
		listedProvider(2, "web", tool("search"), tool("fetch")),
		listedProvider(3, "web", tool("search")),
		listedProvider(4, "高德", tool("route")),
	}
	cat := aggregate(providers)
	require.NoError(t, cat.Err())

	assert.Equal(t, []string{"search", "route", "web_search", "fetch", "web_search_2", "provider5_route"}, cat.Names())

	d, ok := cat.Lookup("web_search_2")
	require.True(t, ok)
	assert.Equal(t, "search", d.OriginalName)
	assert.Equal(t, 3, d.ProviderIndex)
	assert.Same(t, providers[3], d.owner.get())

	failures := cat.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].Index)
	assert.Equal(t, mcperr.KindSpawn, failures[0].Kind)

	infos := cat.Providers()
	require.Len(t, infos, 4)
	assert.Equal(t, 2, infos[0].Tools)
	assert.Equal(t, 1, infos[3].Tools)

	// copies do not alias the catalog
	list := cat.Tools()
	list[0].Name = "changed"
	assert.Equal(t, "search", cat.Names()[0])
}

func TestAggregate_Deterministic(t *testing.T) {
	build := func() *Catalog {
		return aggregate([]*provider{
			listedProvider(0, "a", tool("x"), tool("y")),
			listedProvider(1, "b", tool("x")),
		})
	}
	c1, c2 := build(), build()
	assert.Equal(t, c1.Names(), c2.Names())
	assert.Equal(t, c1.Fingerprint(), c2.Fingerprint())

	c3 := aggregate([]*provider{
		listedProvider(0, "b", tool("x")),
		listedProvider(1, "a", tool("x"), tool("y")),
	})
	assert.NotEqual(t, c1.Fingerprint(), c3.Fingerprint())
}

func TestAggregate_DuplicatesAndSchemas(t *testing.T) {
	bad := protocol.Tool{Name: "bad", InputSchema: json.RawMessage(`{"type":"tuple"}`)}
	cat := aggregate([]*provider{
		listedProvider(0, "p", tool("dup"), tool("dup"), bad),
	})
	assert.Equal(t, []string{"dup", "bad"}, cat.Names())

	d, ok := cat.Lookup("bad")
	require.True(t, ok)
	assert.Equal(t, schema.KindAny, d.Schema.Kind)
	assert.NoError(t, d.Schema.Validate(map[string]any{"anything": 1}))
}

func TestAggregate_AllFailed(t *testing.T) {
	cat := aggregate([]*provider{
		failedProvider(0, "a", mcperr.ErrHandshake),
		failedProvider(1, "b", mcperr.ErrTimeout),
	})
	assert.True(t, cat.IsEmpty())
	assert.True(t, errors.Is(cat.Err(), mcperr.ErrNoProvidersAvailable))
	assert.Len(t, cat.Failures(), 2)

	cat = aggregate(nil)
	assert.True(t, cat.IsEmpty())
	assert.NoError(t, cat.Err())
}

func TestRouter_Unavailable(t *testing.T) {
	p := listedProvider(0, "p", tool("search"))
	cat := aggregate([]*provider{p})
	r := newRouter("test", cat, 0)

	// no client: never attempted
	res, err := r.invoke(t.Context(), "search", json.RawMessage(`{"q":"x"}`))
	assert.True(t, errors.Is(err, mcperr.ErrProviderUnavailable))
	assert.False(t, errors.Is(err, mcperr.ErrProviderGone))
	assert.Equal(t, mcperr.KindProviderUnavailable, res.ErrorKind)

	p.slot.clear()
	_, err = r.invoke(t.Context(), "search", nil)
	assert.True(t, errors.Is(err, mcperr.ErrProviderGone))

	res, err = r.invoke(t.Context(), "nope", nil)
	assert.True(t, errors.Is(err, mcperr.ErrUnknownTool))
	assert.Equal(t, "nope", res.Tool)
}

func TestPayloadOf(t *testing.T) {
	tcs := []struct {
		res protocol.CallToolResult
		exp string
	}{
		{protocol.CallToolResult{StructuredContent: json.RawMessage(`{"a":1}`), Content: []protocol.Content{{Type: "text", Text: "ignored"}}}, `{"a":1}`},
		{protocol.CallToolResult{Content: []protocol.Content{{Type: "text", Text: ` {"msg":"hi"} `}}}, `{"msg":"hi"}`},
		{protocol.CallToolResult{Content: []protocol.Content{{Type: "text", Text: "plain"}}}, `"plain"`},
		{protocol.CallToolResult{Content: []protocol.Content{{Type: "text", Text: "42"}}}, `42`},
		{protocol.CallToolResult{}, `""`},
	}
	for _, tc := range tcs {
		assert.JSONEq(t, tc.exp, string(payloadOf(&tc.res)))
	}
}

func TestCheckArgs(t *testing.T) {
	d := &ToolDescriptor{Name: "t", Schema: schema.MustParse(`{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"]}`)}

	args, err := checkArgs(d, json.RawMessage(` {"n": 12345678901234567} `))
	require.NoError(t, err)
	assert.Equal(t, `{"n": 12345678901234567}`, string(args), "arguments are forwarded verbatim")

	for _, bad := range []string{``, `null`, `{"n":"1"}`, `"x"`, `{`} {
		_, err = checkArgs(d, json.RawMessage(bad))
		assert.True(t, errors.Is(err, mcperr.ErrInvalidArguments), bad)
	}

	args, err = checkArgs(&ToolDescriptor{Name: "any"}, nil)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(args))
}

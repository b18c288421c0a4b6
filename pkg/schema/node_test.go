package schema_test

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/schema"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textSearchSchema = `{
	"type": "object",
	"properties": {
		"keywords": {"type": "string", "description": "search keywords", "minLength": 1},
		"city": {"type": ["string", "null"]},
		"page": {"type": "integer", "minimum": 1, "maximum": 50},
		"types": {"type": "array", "items": {"type": "string", "enum": ["hotel", "food"]}, "maxItems": 2},
		"filter": {"$ref": "#/$defs/Filter"}
	},
	"required": ["keywords"],
	"additionalProperties": false,
	"$defs": {
		"Filter": {
			"type": "object",
			"properties": {"open": {"type": "boolean"}}
		}
	}
}`

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestParse(t *testing.T) {
	n, err := schema.Parse(json.RawMessage(textSearchSchema))
	require.NoError(t, err)
	assert.Equal(t, schema.KindObject, n.Kind)
	assert.True(t, n.IsObject())
	assert.Equal(t, []string{"keywords"}, n.Required)
	require.NotNil(t, n.AdditionalProperties)
	assert.False(t, *n.AdditionalProperties)

	var keys []string
	for pair := n.Properties.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"keywords", "city", "page", "types", "filter"}, keys, "declaration order is kept")

	city, _ := n.Properties.Get("city")
	assert.Equal(t, schema.KindString, city.Kind)
	assert.True(t, city.Nullable)

	filter, _ := n.Properties.Get("filter")
	assert.Equal(t, schema.KindObject, filter.Kind)
	open, ok := filter.Properties.Get("open")
	require.True(t, ok)
	assert.Equal(t, schema.KindBoolean, open.Kind)

	assert.NotZero(t, n.Hash())
	assert.JSONEq(t, textSearchSchema, string(n.Raw()))
}

func TestParse_Permissive(t *testing.T) {
	for _, raw := range []string{``, `{}`, `true`, `null`} {
		n, err := schema.Parse(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, schema.KindAny, n.Kind, raw)
		assert.True(t, n.IsObject())
		assert.NoError(t, n.Validate(decode(t, `{"anything":[1,2]}`)))
	}

	n, err := schema.Parse(json.RawMessage(`{"properties":{"a":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, schema.KindObject, n.Kind, "properties imply object")

	n, err = schema.Parse(json.RawMessage(`{"type":"object","properties":{"x":{"$ref":"#/definitions/missing"}}}`))
	require.NoError(t, err)
	x, _ := n.Properties.Get("x")
	assert.Equal(t, schema.KindAny, x.Kind, "unresolved refs accept anything")
}

func TestParse_Recursive(t *testing.T) {
	n, err := schema.Parse(json.RawMessage(`{
		"type":"object",
		"properties":{"node":{"$ref":"#/$defs/Tree"}},
		"$defs":{"Tree":{"type":"object","properties":{"child":{"$ref":"#/$defs/Tree"}}}}
	}`))
	require.NoError(t, err)
	assert.NoError(t, n.Validate(decode(t, `{"node":{"child":{"child":{}}}}`)))
}

func TestParse_Errors(t *testing.T) {
	bad := []string{
		`[`,
		`{"type":"tuple"}`,
		`{"type":42}`,
		`{"type":"object","properties":{"a":{"type":"widget"}}}`,
	}
	for _, raw := range bad {
		_, err := schema.Parse(json.RawMessage(raw))
		assert.Error(t, err, raw)
	}
	assert.Panics(t, func() { schema.MustParse(`{"type":"tuple"}`) })
}

func TestValidate(t *testing.T) {
	n := schema.MustParse(textSearchSchema)

	valid := []string{
		`{"keywords":"西湖"}`,
		`{"keywords":"hotel","city":null,"page":2,"types":["hotel"]}`,
		`{"keywords":"hotel","city":"杭州","filter":{"open":true}}`,
	}
	for _, v := range valid {
		assert.NoError(t, n.Validate(decode(t, v)), v)
	}

	tcs := []struct {
		value string
		path  string
	}{
		{`{}`, "$"},
		{`[]`, "$"},
		{`{"keywords":""}`, "$.keywords"},
		{`{"keywords":7}`, "$.keywords"},
		{`{"keywords":"x","page":1.5}`, "$.page"},
		{`{"keywords":"x","page":0}`, "$.page"},
		{`{"keywords":"x","types":["bar"]}`, "$.types[0]"},
		{`{"keywords":"x","types":["hotel","food","hotel"]}`, "$.types"},
		{`{"keywords":"x","filter":{"open":"yes"}}`, "$.filter.open"},
		{`{"keywords":"x","extra":1}`, "$"},
	}
	for _, tc := range tcs {
		err := n.Validate(decode(t, tc.value))
		require.Error(t, err, tc.value)

		var verr *schema.ValidationError
		require.True(t, errors.As(err, &verr))
		require.NotEmpty(t, verr.Violations)
		assert.Equal(t, tc.path, verr.Violations[0].Path, tc.value)
	}
}

func TestValidate_AnyOf(t *testing.T) {
	n := schema.MustParse(`{"anyOf":[{"type":"string"},{"type":"number"},{"type":"null"}]}`)
	assert.True(t, n.Nullable)
	assert.NoError(t, n.Validate("a"))
	assert.NoError(t, n.Validate(float64(1)))
	assert.NoError(t, n.Validate(nil))
	assert.Error(t, n.Validate(true))

	n = schema.MustParse(`{"type":["integer","boolean"]}`)
	assert.NoError(t, n.Validate(float64(3)))
	assert.NoError(t, n.Validate(false))
	assert.Error(t, n.Validate("3"))
}

func TestValidate_Const(t *testing.T) {
	n := schema.MustParse(`{"type":"object","properties":{"v":{"const":2}}}`)
	assert.NoError(t, n.Validate(decode(t, `{"v":2}`)))
	assert.Error(t, n.Validate(decode(t, `{"v":3}`)))
}

func TestNodeJSONSchema(t *testing.T) {
	s := schema.MustParse(textSearchSchema).JSONSchema()
	assert.Equal(t, "object", s.Type)
	kw, ok := s.Properties.Get("keywords")
	require.True(t, ok)
	assert.Equal(t, "search keywords", kw.Description)
	assert.Equal(t, []string{"keywords"}, s.Required)
	assert.Equal(t, 5, s.Properties.Len())
	assert.Equal(t, jsonschema.FalseSchema, s.AdditionalProperties)

	// a nullable type binds as its non-null type
	city, ok := s.Properties.Get("city")
	require.True(t, ok)
	assert.Equal(t, "string", city.Type)

	page, _ := s.Properties.Get("page")
	assert.Equal(t, json.Number("1"), page.Minimum)
	assert.Equal(t, json.Number("50"), page.Maximum)

	// $ref is inlined
	filter, _ := s.Properties.Get("filter")
	assert.Equal(t, "object", filter.Type)
	_, ok = filter.Properties.Get("open")
	assert.True(t, ok)

	// an empty schema still binds as an object with properties
	s = schema.MustParse(``).JSONSchema()
	assert.Equal(t, "object", s.Type)
	require.NotNil(t, s.Properties)
	assert.Equal(t, 0, s.Properties.Len())

	b, err := json.Marshal(schema.MustParse(`{"$schema":"https://json-schema.org/draft/2020-12/schema","type":"object"}`).JSONSchema())
	require.NoError(t, err)
	assert.NotContains(t, string(b), "$schema")
}

func TestNodeJSONSchema_TypeUnions(t *testing.T) {
	s := schema.MustParse(`{
		"type": "object",
		"properties": {
			"q": {"type": "string"},
			"limit": {"type": ["integer", "string", "null"]}
		},
		"required": ["q"]
	}`).JSONSchema()
	assert.Equal(t, "object", s.Type)
	assert.Equal(t, 2, s.Properties.Len())
	assert.Equal(t, []string{"q"}, s.Required)

	limit, ok := s.Properties.Get("limit")
	require.True(t, ok)
	assert.Empty(t, limit.Type)
	require.Len(t, limit.AnyOf, 2)
	assert.Equal(t, "integer", limit.AnyOf[0].Type)
	assert.Equal(t, "string", limit.AnyOf[1].Type)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"anyOf":[{"type":"integer"},{"type":"string"}]`)
}

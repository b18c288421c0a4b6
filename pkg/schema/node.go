package schema

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// maxRefDepth bounds $ref expansion of recursive schemas.
const maxRefDepth = 16

// Kind is the JSON type a Node accepts.
type Kind string

const (
	KindAny     Kind = ""
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindNull    Kind = "null"
)

// Node is the parsed form of a tool input schema.
// It covers the subset of JSON Schema that tool providers use to describe
// arguments; unknown keywords are kept in the raw form only.
type Node struct {
	Kind        Kind
	Nullable    bool
	Title       string
	Description string
	Format      string

	Properties *orderedmap.OrderedMap[string, *Node]
	Required   []string
	// AdditionalProperties is nil when extra keys are allowed
	AdditionalProperties *bool

	Items *Node
	Enum  []any
	AnyOf []*Node

	Minimum   *float64
	Maximum   *float64
	MinLength *int
	MaxLength *int
	MinItems  *int
	MaxItems  *int

	raw json.RawMessage
}

type rawNode struct {
	Type                 json.RawMessage                                 `json:"type"`
	Title                string                                          `json:"title"`
	Description          string                                          `json:"description"`
	Format               string                                          `json:"format"`
	Properties           *orderedmap.OrderedMap[string, json.RawMessage] `json:"properties"`
	Required             []string                                        `json:"required"`
	AdditionalProperties json.RawMessage                                 `json:"additionalProperties"`
	Items                json.RawMessage                                 `json:"items"`
	Enum                 []any                                           `json:"enum"`
	Const                json.RawMessage                                 `json:"const"`
	AnyOf                []json.RawMessage                               `json:"anyOf"`
	OneOf                []json.RawMessage                               `json:"oneOf"`
	Ref                  string                                          `json:"$ref"`
	Defs                 map[string]json.RawMessage                      `json:"$defs"`
	Definitions          map[string]json.RawMessage                      `json:"definitions"`
	Minimum              *float64                                        `json:"minimum"`
	Maximum              *float64                                        `json:"maximum"`
	MinLength            *int                                            `json:"minLength"`
	MaxLength            *int                                            `json:"maxLength"`
	MinItems             *int                                            `json:"minItems"`
	MaxItems             *int                                            `json:"maxItems"`
}

type parser struct {
	defs map[string]json.RawMessage
}

// Parse decodes a JSON Schema document. An empty document, `{}` or `true`
// yields a Node that accepts any value.
func Parse(raw json.RawMessage) (*Node, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "true" {
		return &Node{Kind: KindAny, raw: raw}, nil
	}

	var root rawNode
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, errors.Wrap(err, "invalid schema")
	}

	p := &parser{defs: map[string]json.RawMessage{}}
	for k, v := range root.Definitions {
		p.defs["#/definitions/"+k] = v
	}
	for k, v := range root.Defs {
		p.defs["#/$defs/"+k] = v
	}

	n, err := p.node(&root, 0)
	if err != nil {
		return nil, err
	}
	n.raw = append(json.RawMessage(nil), raw...)
	return n, nil
}

// MustParse is Parse that panics on error, for static schemas.
func MustParse(raw string) *Node {
	n, err := Parse(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return n
}

func (p *parser) parseRaw(raw json.RawMessage, depth int) (*Node, error) {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "true", "{}":
		return &Node{Kind: KindAny}, nil
	}
	var r rawNode
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Wrap(err, "invalid schema")
	}
	return p.node(&r, depth)
}

func (p *parser) node(r *rawNode, depth int) (*Node, error) {
	if r.Ref != "" {
		def, ok := p.defs[r.Ref]
		if !ok || depth >= maxRefDepth {
			// unresolvable or too deep: accept anything
			return &Node{Kind: KindAny, Description: r.Description}, nil
		}
		n, err := p.parseRaw(def, depth+1)
		if err != nil {
			return nil, err
		}
		if r.Description != "" {
			n.Description = r.Description
		}
		return n, nil
	}

	types, err := parseTypes(r.Type)
	if err != nil {
		return nil, err
	}

	n := &Node{
		Title:       r.Title,
		Description: r.Description,
		Format:      r.Format,
		Required:    r.Required,
		Enum:        normalizeEnum(r.Enum),
		Minimum:     r.Minimum,
		Maximum:     r.Maximum,
		MinLength:   r.MinLength,
		MaxLength:   r.MaxLength,
		MinItems:    r.MinItems,
		MaxItems:    r.MaxItems,
	}
	if len(r.Const) > 0 {
		var v any
		if err := json.Unmarshal(r.Const, &v); err == nil {
			n.Enum = normalizeEnum([]any{v})
		}
	}

	var kinds []Kind
	for _, t := range types {
		if t == KindNull {
			n.Nullable = true
			continue
		}
		kinds = append(kinds, t)
	}
	switch {
	case len(kinds) == 1:
		n.Kind = kinds[0]
	case len(kinds) > 1:
		for _, k := range kinds {
			n.AnyOf = append(n.AnyOf, &Node{Kind: k})
		}
	case n.Nullable:
		n.Kind = KindNull
	case r.Properties != nil:
		n.Kind = KindObject
	case len(r.Items) > 0:
		n.Kind = KindArray
	}

	if r.Properties != nil {
		n.Properties = orderedmap.New[string, *Node]()
		for pair := r.Properties.Oldest(); pair != nil; pair = pair.Next() {
			child, err := p.parseRaw(pair.Value, depth)
			if err != nil {
				return nil, errors.WithMessagef(err, "property %q", pair.Key)
			}
			n.Properties.Set(pair.Key, child)
		}
	}

	if len(r.Items) > 0 {
		items, err := p.parseRaw(r.Items, depth)
		if err != nil {
			return nil, errors.WithMessage(err, "items")
		}
		n.Items = items
	}

	if ap := bytes.TrimSpace(r.AdditionalProperties); len(ap) > 0 {
		if string(ap) == "false" {
			f := false
			n.AdditionalProperties = &f
		}
	}

	for _, alt := range append(r.AnyOf, r.OneOf...) {
		an, err := p.parseRaw(alt, depth)
		if err != nil {
			return nil, errors.WithMessage(err, "anyOf")
		}
		if an.Kind == KindNull {
			n.Nullable = true
			continue
		}
		n.AnyOf = append(n.AnyOf, an)
	}

	return n, nil
}

func parseTypes(raw json.RawMessage) ([]Kind, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var list []string
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, errors.Wrap(err, "invalid type")
		}
	} else {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.Wrap(err, "invalid type")
		}
		list = []string{s}
	}

	kinds := make([]Kind, 0, len(list))
	for _, s := range list {
		k := Kind(strings.ToLower(s))
		switch k {
		case KindObject, KindArray, KindString, KindNumber, KindInteger, KindBoolean, KindNull:
			kinds = append(kinds, k)
		default:
			return nil, errors.Newf("unsupported type: %q", s)
		}
	}
	return kinds, nil
}

// normalizeEnum converts numbers to float64 so values decoded from
// arguments compare equal.
func normalizeEnum(list []any) []any {
	if len(list) == 0 {
		return nil
	}
	out := make([]any, len(list))
	for i, v := range list {
		if f, ok := toFloat(v); ok {
			out[i] = f
		} else {
			out[i] = v
		}
	}
	return out
}

// Raw returns the document the node was parsed from.
func (n *Node) Raw() json.RawMessage {
	return n.raw
}

// Hash returns a stable hash of the source document.
func (n *Node) Hash() uint64 {
	return xxhash.Sum64(n.raw)
}

// IsObject reports whether the node describes an object, which is the
// shape tool arguments must have.
func (n *Node) IsObject() bool {
	return n.Kind == KindObject || (n.Kind == KindAny && len(n.AnyOf) == 0)
}

// JSONSchema returns the schema as a function parameters definition:
// always an object with properties, as LLM tool binding requires.
// It is built from the parsed tree, so $ref is inlined, nullable types
// bind as their non-null type and type unions become anyOf.
func (n *Node) JSONSchema() *jsonschema.Schema {
	s := n.toJSONSchema()
	if s.Type == "" && len(s.AnyOf) == 0 {
		s.Type = string(KindObject)
	}
	if s.Type == string(KindObject) && s.Properties == nil {
		s.Properties = orderedmap.New[string, *jsonschema.Schema]()
	}
	return s
}

func (n *Node) toJSONSchema() *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:        string(n.Kind),
		Title:       n.Title,
		Description: n.Description,
		Format:      n.Format,
		Required:    n.Required,
		Enum:        n.Enum,
		Minimum:     number(n.Minimum),
		Maximum:     number(n.Maximum),
		MinLength:   count(n.MinLength),
		MaxLength:   count(n.MaxLength),
		MinItems:    count(n.MinItems),
		MaxItems:    count(n.MaxItems),
	}
	if n.Properties != nil {
		s.Properties = orderedmap.New[string, *jsonschema.Schema]()
		for pair := n.Properties.Oldest(); pair != nil; pair = pair.Next() {
			s.Properties.Set(pair.Key, pair.Value.toJSONSchema())
		}
	}
	if n.Items != nil {
		s.Items = n.Items.toJSONSchema()
	}
	if n.AdditionalProperties != nil && !*n.AdditionalProperties {
		s.AdditionalProperties = jsonschema.FalseSchema
	}
	for _, alt := range n.AnyOf {
		s.AnyOf = append(s.AnyOf, alt.toJSONSchema())
	}
	return s
}

func number(v *float64) json.Number {
	if v == nil {
		return ""
	}
	return json.Number(strconv.FormatFloat(*v, 'f', -1, 64))
}

func count(v *int) *uint64 {
	if v == nil || *v < 0 {
		return nil
	}
	c := uint64(*v)
	return &c
}

package bridge

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/effective-security/mcpbridge/mcp/mcperr"
	"github.com/effective-security/mcpbridge/pkg/schema"
	"github.com/effective-security/xlog"
	"github.com/mark3labs/mcp-go/mcp"
)

// maxToolNameLen is the longest function name LLM APIs accept.
const maxToolNameLen = 64

// providerSlot is the only path from a descriptor to its provider.
// Release clears it, so a descriptor never keeps a provider reachable.
type providerSlot struct {
	mu sync.RWMutex
	p  *provider
}

func (s *providerSlot) get() *provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

func (s *providerSlot) clear() {
	s.mu.Lock()
	s.p = nil
	s.mu.Unlock()
}

// ToolDescriptor describes one tool of the catalog.
type ToolDescriptor struct {
	// Name is unique within the catalog, and is what the model calls
	Name        string
	Description string
	// OriginalName is the name the provider knows the tool by
	OriginalName string
	// Provider is the display name of the owning provider
	Provider string
	// ProviderIndex is the position of the owning provider in the configuration
	ProviderIndex int
	// InputSchema is the schema document as listed by the provider
	InputSchema json.RawMessage
	// Schema is the parsed InputSchema
	Schema *schema.Node

	owner *providerSlot
}

// Renamed reports whether the tool was renamed to resolve a collision.
func (d *ToolDescriptor) Renamed() bool {
	return d.Name != d.OriginalName
}

// ProviderFailure records a provider excluded from the catalog.
type ProviderFailure struct {
	Index int
	Name  string
	Kind  mcperr.Kind
	Err   error
}

// ProviderInfo summarizes a provider that contributed to the catalog.
type ProviderInfo struct {
	Index  int
	Name   string
	Server mcp.Implementation
	Tools  int
}

// Catalog is the aggregated, immutable tool list of one acquisition.
type Catalog struct {
	tools       []*ToolDescriptor
	byName      map[string]*ToolDescriptor
	providers   []ProviderInfo
	failures    []ProviderFailure
	fingerprint uint64
	err         error
}

// Tools returns copies of the descriptors in catalog order.
func (c *Catalog) Tools() []ToolDescriptor {
	list := make([]ToolDescriptor, 0, len(c.tools))
	for _, d := range c.tools {
		list = append(list, *d)
	}
	return list
}

// Names returns the tool names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tools))
	for _, d := range c.tools {
		names = append(names, d.Name)
	}
	return names
}

// Lookup returns a copy of the named descriptor.
func (c *Catalog) Lookup(name string) (ToolDescriptor, bool) {
	d, ok := c.byName[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return *d, true
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	return len(c.tools)
}

// IsEmpty reports whether the catalog has no tools.
func (c *Catalog) IsEmpty() bool {
	return len(c.tools) == 0
}

// Providers returns the providers that contributed, in configuration order.
func (c *Catalog) Providers() []ProviderInfo {
	return append([]ProviderInfo(nil), c.providers...)
}

// Failures returns the providers that were excluded, in configuration order.
func (c *Catalog) Failures() []ProviderFailure {
	return append([]ProviderFailure(nil), c.failures...)
}

// Err is ErrNoProvidersAvailable when providers were configured and all of
// them failed.
func (c *Catalog) Err() error {
	return c.err
}

// Fingerprint is a hash of tool names, owners and schemas, stable for
// identical provider outputs.
func (c *Catalog) Fingerprint() uint64 {
	return c.fingerprint
}

// aggregate builds the catalog from providers in configuration order,
// independent of the order in which they finished the handshake.
func aggregate(providers []*provider) *Catalog {
	cat := &Catalog{
		byName: make(map[string]*ToolDescriptor),
	}
	h := xxhash.New()

	for _, p := range providers {
		if err := p.failure(); err != nil {
			cat.failures = append(cat.failures, ProviderFailure{
				Index: p.index,
				Name:  p.cfg.Name,
				Kind:  mcperr.KindOf(err),
				Err:   err,
			})
			continue
		}

		listed := p.listed()
		seen := make(map[string]bool, len(listed))
		count := 0
		for _, t := range listed {
			if seen[t.Name] {
				logger.KV(xlog.WARNING,
					"provider", p.cfg.Name,
					"reason", "duplicate_tool",
					"tool", t.Name)
				continue
			}
			seen[t.Name] = true

			node, err := schema.Parse(t.InputSchema)
			if err != nil {
				// keep the tool, arguments are forwarded unchecked
				logger.KV(xlog.WARNING,
					"provider", p.cfg.Name,
					"reason", "invalid_schema",
					"tool", t.Name,
					"err", err.Error())
				node = &schema.Node{Kind: schema.KindAny}
			}

			name := t.Name
			if _, taken := cat.byName[name]; taken {
				name = uniqueName(cat.byName, prefixFor(p)+"_"+t.Name)
				logger.KV(xlog.NOTICE,
					"provider", p.cfg.Name,
					"reason", "renamed",
					"tool", t.Name,
					"name", name)
			}

			d := &ToolDescriptor{
				Name:          name,
				Description:   t.Description,
				OriginalName:  t.Name,
				Provider:      p.cfg.Name,
				ProviderIndex: p.index,
				InputSchema:   t.InputSchema,
				Schema:        node,
				owner:         p.slot,
			}
			cat.tools = append(cat.tools, d)
			cat.byName[name] = d
			count++

			_, _ = h.WriteString(name)
			_, _ = h.Write([]byte{0})
			_, _ = h.WriteString(strconv.Itoa(p.index))
			_, _ = h.Write([]byte{0})
			_, _ = h.WriteString(t.Name)
			_, _ = h.Write([]byte{0})
			_, _ = h.Write(t.InputSchema)
			_, _ = h.Write([]byte{0})
		}

		cat.providers = append(cat.providers, ProviderInfo{
			Index:  p.index,
			Name:   p.cfg.Name,
			Server: p.serverInfo(),
			Tools:  count,
		})
	}

	cat.fingerprint = h.Sum64()
	if len(providers) > 0 && len(cat.providers) == 0 {
		cat.err = mcperr.ErrNoProvidersAvailable
	}
	return cat
}

// prefixFor reduces the provider name to characters LLM function names allow.
func prefixFor(p *provider) string {
	return sanitize(p.cfg.Name, p.index)
}

func sanitize(name string, index int) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		case r == ' ' || r == '.' || r == '/':
			sb.WriteByte('_')
		}
	}
	s := strings.Trim(sb.String(), "_")
	if s == "" {
		return "provider" + strconv.Itoa(index+1)
	}
	return s
}

func uniqueName(taken map[string]*ToolDescriptor, base string) string {
	base = truncateName(base, maxToolNameLen)
	if _, ok := taken[base]; !ok {
		return base
	}
	for i := 2; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		candidate := truncateName(base, maxToolNameLen-len(suffix)) + suffix
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

func truncateName(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

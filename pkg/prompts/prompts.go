// Package prompts renders system prompts from text/template sources
// with the sprig function set.
package prompts

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
)

// DefaultSystemPrompt is the system prompt of the geographic assistant.
// The optional Tools input lists the names of the bound tools.
const DefaultSystemPrompt = `You are a professional location services assistant.
1. When the user asks about an ambiguous place (such as "West Station"), first use the available tools to resolve its coordinates or its standard name.
2. When the user asks for shops "nearby", first determine the coordinates or the exact location of the center point, then search.
3. Make tool call arguments as precise as possible.
{{- $tools := get . "Tools" }}
{{- if $tools }}
Available tools: {{ join ", " $tools }}.
{{- end }}
`

// Template is a parsed prompt template.
type Template struct {
	name string
	tmpl *template.Template
}

// New parses a prompt template.
// Referencing a missing key of a map input fails at Format time.
func New(name, text string) (*Template, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse prompt %q", name)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// Must is like New, but panics on error.
func Must(name, text string) *Template {
	t, err := New(name, text)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name.
func (t *Template) Name() string {
	return t.name
}

// Format renders the template, trimming surrounding whitespace.
func (t *Template) Format(values map[string]any) (string, error) {
	if values == nil {
		values = map[string]any{}
	}
	var buf strings.Builder
	if err := t.tmpl.Execute(&buf, values); err != nil {
		return "", errors.Wrapf(err, "failed to format prompt %q", t.name)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Render parses and renders text in one step.
func Render(text string, values map[string]any) (string, error) {
	t, err := New("prompt", text)
	if err != nil {
		return "", err
	}
	return t.Format(values)
}

package bridge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bububa/ljson"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llmutils"
	"github.com/effective-security/mcpbridge/tools"
)

// Tool exposes a catalog tool to a model.
type Tool struct {
	bridge *Bridge
	desc   *ToolDescriptor
}

var _ tools.ITool = (*Tool)(nil)

// Name returns the catalog name.
func (t *Tool) Name() string {
	return t.desc.Name
}

// Description returns the provider description of the tool.
func (t *Tool) Description() string {
	return t.desc.Description
}

// Parameters returns the input schema in the form model APIs bind.
func (t *Tool) Parameters() any {
	return t.desc.Schema.JSONSchema()
}

// Descriptor returns a copy of the catalog entry.
func (t *Tool) Descriptor() ToolDescriptor {
	return *t.desc
}

// Call invokes the tool with arguments produced by a model.
// Model output is parsed leniently before it is validated.
func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	args, err := modelArgs(input)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "tool %q", t.desc.Name), tools.ErrFailedUnmarshalInput)
	}

	res, err := t.bridge.Invoke(ctx, t.desc.Name, args)
	if err != nil {
		return res.Text, err
	}
	if res.Text != "" {
		return res.Text, nil
	}
	return string(res.Payload), nil
}

func modelArgs(input string) (json.RawMessage, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return json.RawMessage(`{}`), nil
	}
	var v any
	if err := ljson.Unmarshal(llmutils.CleanJSON([]byte(input)), &v); err != nil {
		return nil, errors.WithStack(err)
	}
	if v == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

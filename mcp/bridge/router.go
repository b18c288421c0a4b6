package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/internal/protocol"
	"github.com/effective-security/mcpbridge/mcp/mcperr"
	"github.com/effective-security/mcpbridge/pkg/metricskey"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// CallResult is the outcome of one tool invocation.
type CallResult struct {
	// Tool is the catalog name that was invoked
	Tool string `json:"tool"`
	OK   bool   `json:"ok"`
	// Payload is the tool output as JSON: the structured content, the
	// single text block when it is valid JSON, or the text as a JSON string
	Payload json.RawMessage `json:"payload,omitempty"`
	// Text is the plain text content of the result
	Text string `json:"text,omitempty"`
	// ErrorKind classifies the failure when OK is false
	ErrorKind mcperr.Kind `json:"error_kind,omitempty"`
	Err       error       `json:"-"`
}

// router owns the name to provider table of one acquisition.
type router struct {
	bridge      string
	byName      map[string]*ToolDescriptor
	callTimeout time.Duration
}

func newRouter(bridge string, cat *Catalog, callTimeout time.Duration) *router {
	return &router{
		bridge:      bridge,
		byName:      cat.byName,
		callTimeout: callTimeout,
	}
}

// invoke validates and forwards a call. The result is never nil, and its
// Err is the returned error.
func (r *router) invoke(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	d, ok := r.byName[name]
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		return failed(name, errors.Wrapf(mcperr.ErrUnknownTool, "%q", name))
	}
	return r.call(ctx, d, args)
}

func (r *router) call(ctx context.Context, d *ToolDescriptor, args json.RawMessage) (*CallResult, error) {
	started := time.Now()

	p := d.owner.get()
	if p == nil {
		return r.failed(d, errors.Wrapf(mcperr.ErrProviderGone, "%q of %q", d.Name, d.Provider))
	}
	client := p.readyClient()
	if client == nil {
		return r.failed(d, errors.Wrapf(mcperr.ErrProviderUnavailable, "%q of %q", d.Name, d.Provider))
	}

	args, err := checkArgs(d, args)
	if err != nil {
		return r.failed(d, err)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "calling",
		"tool", d.Name,
		"provider", d.Provider,
		"args", slices.StringUpto(string(args), 128))

	res, err := client.CallTool(ctx, d.OriginalName, args, r.callTimeout)
	metricskey.PerfToolCall.MeasureSince(started, d.Name)

	if err != nil {
		out, ferr := r.failed(d, err)
		if res != nil {
			out.Text = res.Text()
			out.Payload = payloadOf(res)
		}
		return out, ferr
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, d.Name)
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "called",
		"tool", d.Name,
		"provider", d.Provider,
		"elapsed", time.Since(started).String())

	return &CallResult{
		Tool:    d.Name,
		OK:      true,
		Payload: payloadOf(res),
		Text:    res.Text(),
	}, nil
}

func (r *router) failed(d *ToolDescriptor, err error) (*CallResult, error) {
	kind := mcperr.KindOf(err)
	metricskey.StatsToolCallsFailed.IncrCounter(1, d.Name, string(kind))
	logger.KV(xlog.WARNING,
		"status", "failed",
		"tool", d.Name,
		"provider", d.Provider,
		"kind", kind,
		"err", err.Error())
	return failed(d.Name, err)
}

func failed(name string, err error) (*CallResult, error) {
	return &CallResult{
		Tool:      name,
		ErrorKind: mcperr.KindOf(err),
		Err:       err,
	}, err
}

// checkArgs normalizes empty arguments to an object and validates them
// against the tool schema.
func checkArgs(d *ToolDescriptor, args json.RawMessage) (json.RawMessage, error) {
	args = bytes.TrimSpace(args)
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	var value any
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, errors.Wrapf(mcperr.ErrInvalidArguments, "%q: %s", d.Name, err.Error())
	}
	if _, ok := value.(map[string]any); !ok {
		return nil, errors.Wrapf(mcperr.ErrInvalidArguments, "%q: arguments must be an object", d.Name)
	}
	if d.Schema != nil {
		if err := d.Schema.Validate(value); err != nil {
			return nil, errors.Wrapf(mcperr.ErrInvalidArguments, "%q: %s", d.Name, err.Error())
		}
	}
	return args, nil
}

func payloadOf(res *protocol.CallToolResult) json.RawMessage {
	if len(res.StructuredContent) > 0 && string(res.StructuredContent) != "null" {
		return res.StructuredContent
	}
	var texts []string
	for _, c := range res.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	if len(texts) == 1 {
		t := bytes.TrimSpace([]byte(texts[0]))
		if len(t) > 0 && json.Valid(t) {
			return json.RawMessage(t)
		}
	}
	b, _ := json.Marshal(res.Text())
	return b
}

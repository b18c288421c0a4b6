package llms

import (
	"context"

	"github.com/invopop/jsonschema"
)

// StreamingFunc receives text chunks as the model produces them.
// Returning an error aborts the generation.
type StreamingFunc func(ctx context.Context, chunk []byte) error

// CallOptions are the per request settings of GenerateContent.
// Zero values leave the provider default in place, and adapters ignore
// settings their provider has no counterpart for.
type CallOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopK        int
	TopP        float64
	Seed        int
	StopWords   []string

	StreamingFunc StreamingFunc `json:"-"`

	Tools []Tool
	// ToolChoice is a FunctionCallBehavior, its string form,
	// or a ToolChoice naming one function.
	ToolChoice any

	// Metadata is passed through to providers that accept request metadata.
	Metadata map[string]any
}

// CallOption configures CallOptions.
type CallOption func(*CallOptions)

// NewCallOptions returns CallOptions with opts applied in order.
func NewCallOptions(opts ...CallOption) *CallOptions {
	o := &CallOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Tool is a tool definition advertised to the model.
type Tool struct {
	// Type is "function".
	Type     string              `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition describes a callable function and its JSON schema.
type FunctionDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
	Strict      bool               `json:"strict,omitempty"`
}

// ToolChoice forces the model to call the referenced function.
type ToolChoice struct {
	Type     string             `json:"type"`
	Function *FunctionReference `json:"function,omitempty"`
}

// FunctionReference names a function.
type FunctionReference struct {
	Name string `json:"name"`
}

// FunctionCallBehavior controls whether the model may call tools.
type FunctionCallBehavior string

// Supported behaviors.
const (
	FunctionCallBehaviorNone     FunctionCallBehavior = "none"
	FunctionCallBehaviorAuto     FunctionCallBehavior = "auto"
	FunctionCallBehaviorRequired FunctionCallBehavior = "required"
)

func WithModel(model string) CallOption {
	return func(o *CallOptions) { o.Model = model }
}

func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = t }
}

func WithTopK(k int) CallOption {
	return func(o *CallOptions) { o.TopK = k }
}

func WithTopP(p float64) CallOption {
	return func(o *CallOptions) { o.TopP = p }
}

func WithSeed(seed int) CallOption {
	return func(o *CallOptions) { o.Seed = seed }
}

func WithStopWords(words []string) CallOption {
	return func(o *CallOptions) { o.StopWords = words }
}

// WithStreamingFunc enables streaming of text chunks to fn.
func WithStreamingFunc(fn func(ctx context.Context, chunk []byte) error) CallOption {
	return func(o *CallOptions) { o.StreamingFunc = fn }
}

func WithTools(tools []Tool) CallOption {
	return func(o *CallOptions) { o.Tools = tools }
}

// WithToolChoice sets the tool choice, see CallOptions.ToolChoice.
func WithToolChoice(choice any) CallOption {
	return func(o *CallOptions) { o.ToolChoice = choice }
}

func WithMetadata(metadata map[string]any) CallOption {
	return func(o *CallOptions) { o.Metadata = metadata }
}

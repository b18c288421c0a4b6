package anthropic

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/pkg/llms", "anthropic")

var (
	// ErrMissingToken is returned when no API key is configured.
	ErrMissingToken = errors.New("anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable")
	// ErrEmptyResponse is returned when the stream ends without a message.
	ErrEmptyResponse = errors.New("anthropic: no response")
)

// LLM is a streaming chat model for the Anthropic Messages API.
type LLM struct {
	client anthropic.Client
	model  string
}

var _ llms.Model = (*LLM)(nil)

// New returns a new Anthropic LLM.
func New(opts ...Option) (*LLM, error) {
	o := &options{
		token:   os.Getenv(tokenEnvVarName),
		model:   os.Getenv(modelEnvVarName),
		baseURL: os.Getenv(baseURLEnvVarName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.token == "" {
		return nil, errors.WithStack(ErrMissingToken)
	}

	// the language model is never retried
	reqOpts := []option.RequestOption{
		option.WithAPIKey(o.token),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(5 * time.Minute),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}
	if o.betaHeader != "" {
		reqOpts = append(reqOpts, option.WithHeader("anthropic-beta", o.betaHeader))
	}

	return &LLM{
		client: anthropic.NewClient(reqOpts...),
		model:  values.StringsCoalesce(o.model, DefaultModel),
	}, nil
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.model
}

// GenerateContent implements the Model interface.
// The response is always streamed; text deltas are passed to the
// StreamingFunc as they arrive.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)

	params, err := o.newParams(messages, opts)
	if err != nil {
		return nil, err
	}

	stream := o.client.Messages.NewStreaming(ctx, params)
	defer func() {
		_ = stream.Close()
	}()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			logger.ContextKV(ctx, xlog.DEBUG, "reason", "accumulate", "type", event.Type, "err", err.Error())
			continue
		}
		if opts.StreamingFunc == nil {
			continue
		}
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok && delta.Delta.Text != "" {
			if err := opts.StreamingFunc(ctx, []byte(delta.Delta.Text)); err != nil {
				return nil, errors.WithMessage(err, "anthropic: streaming func")
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrap(err, "anthropic: streaming error")
	}

	return toResponse(&msg)
}

func (o *LLM) newParams(messages []llms.Message, opts *llms.CallOptions) (anthropic.MessageNewParams, error) {
	msgs, system, err := ToMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(values.StringsCoalesce(opts.Model, o.model)),
		Messages:  msgs,
		System:    system,
		MaxTokens: values.NumbersCoalesce(int64(opts.MaxTokens), DefaultMaxTokens),
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}
	if opts.TopK > 0 {
		params.TopK = anthropic.Int(int64(opts.TopK))
	}
	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}
	if userID, ok := opts.Metadata["user_id"].(string); ok && userID != "" {
		params.Metadata = anthropic.MetadataParam{UserID: anthropic.String(userID)}
	}
	if tools := ToTools(opts.Tools); len(tools) > 0 {
		params.Tools = tools
		params.ToolChoice = toToolChoice(opts.ToolChoice)
	}
	return params, nil
}

func toToolChoice(choice any) anthropic.ToolChoiceUnionParam {
	switch c := choice.(type) {
	case string:
		return toToolChoice(llms.FunctionCallBehavior(c))
	case llms.FunctionCallBehavior:
		switch c {
		case llms.FunctionCallBehaviorNone:
			return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		case llms.FunctionCallBehaviorRequired:
			return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case llms.FunctionCallBehaviorAuto:
			return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	case llms.ToolChoice:
		if c.Function != nil {
			return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: c.Function.Name}}
		}
	case *llms.ToolChoice:
		if c != nil {
			return toToolChoice(*c)
		}
	}
	return anthropic.ToolChoiceUnionParam{}
}

func toResponse(msg *anthropic.Message) (*llms.ContentResponse, error) {
	if msg.ID == "" && len(msg.Content) == 0 {
		return nil, errors.WithStack(ErrEmptyResponse)
	}

	choice := &llms.ContentChoice{
		StopReason: string(msg.StopReason),
		GenerationInfo: map[string]any{
			"InputTokens":  msg.Usage.InputTokens,
			"OutputTokens": msg.Usage.OutputTokens,
			"TotalTokens":  msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			choice.Content += block.Text
		case "thinking":
			choice.ReasoningContent += block.Thinking
		case "tool_use":
			args := string(block.Input)
			if len(block.Input) == 0 {
				args = "{}"
			} else if !json.Valid(block.Input) {
				return nil, errors.Errorf("anthropic: invalid arguments of tool %q", block.Name)
			}
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:           block.ID,
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}
	if len(choice.ToolCalls) > 0 {
		choice.FuncCall = choice.ToolCalls[0].FunctionCall
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

package openai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/pkg/llms", "openai")

var (
	// ErrMissingToken is returned when no API token is configured.
	ErrMissingToken = errors.New("openai: missing the API key, set it in the OPENAI_API_KEY environment variable")
	// ErrEmptyResponse is returned when the stream ends without any choice.
	ErrEmptyResponse = errors.New("openai: no response")
)

// LLM is a streaming chat model for OpenAI-compatible Chat Completions APIs.
type LLM struct {
	client   openai.Client
	model    string
	provider llms.ProviderType
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM.
func New(opts ...Option) (*LLM, error) {
	o := envOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.token == "" {
		return nil, errors.WithStack(ErrMissingToken)
	}
	o.withDefaults()

	return &LLM{
		client:   openai.NewClient(o.requestOptions()...),
		model:    o.model,
		provider: o.provider,
	}, nil
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return o.provider
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

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() {
		_ = stream.Close()
	}()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		if !acc.AddChunk(chunk) {
			logger.ContextKV(ctx, xlog.DEBUG, "reason", "chunk_mismatch", "id", chunk.ID)
			continue
		}
		if opts.StreamingFunc == nil {
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Index != 0 || choice.Delta.Content == "" {
				continue
			}
			if err := opts.StreamingFunc(ctx, []byte(choice.Delta.Content)); err != nil {
				return nil, errors.WithMessage(err, "openai: streaming func")
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrap(err, "openai: streaming error")
	}

	return toResponse(&acc)
}

func (o *LLM) newParams(messages []llms.Message, opts *llms.CallOptions) (openai.ChatCompletionNewParams, error) {
	msgs, err := ToMessages(messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    values.StringsCoalesce(opts.Model, o.model),
		Messages: msgs,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
		Tools: ToTools(opts.Tools),
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if opts.Seed != 0 {
		params.Seed = openai.Int(int64(opts.Seed))
	}
	if len(opts.StopWords) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopWords}
	}
	if len(opts.Metadata) > 0 {
		params.Metadata = shared.Metadata{}
		for k, v := range opts.Metadata {
			params.Metadata[k] = toString(v)
		}
	}
	if len(params.Tools) > 0 {
		params.ToolChoice = toToolChoice(opts.ToolChoice)
	}
	return params, nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	js, _ := json.Marshal(v)
	return string(js)
}

func toToolChoice(choice any) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch c := choice.(type) {
	case string:
		if c != "" {
			return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(c)}
		}
	case llms.FunctionCallBehavior:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(string(c))}
	case llms.ToolChoice:
		if c.Function != nil {
			return openai.ChatCompletionToolChoiceOptionUnionParam{
				OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
					Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: c.Function.Name},
				},
			}
		}
	case *llms.ToolChoice:
		if c != nil {
			return toToolChoice(*c)
		}
	}
	return openai.ChatCompletionToolChoiceOptionUnionParam{}
}

func toResponse(acc *openai.ChatCompletionAccumulator) (*llms.ContentResponse, error) {
	if len(acc.Choices) == 0 {
		return nil, errors.WithStack(ErrEmptyResponse)
	}

	genInfo := map[string]any{
		"InputTokens":  acc.Usage.PromptTokens,
		"OutputTokens": acc.Usage.CompletionTokens,
		"TotalTokens":  acc.Usage.TotalTokens,
	}

	choices := make([]*llms.ContentChoice, 0, len(acc.Choices))
	for _, c := range acc.Choices {
		choice := &llms.ContentChoice{
			Content:        c.Message.Content,
			StopReason:     c.FinishReason,
			GenerationInfo: genInfo,
		}
		for _, tc := range c.Message.ToolCalls {
			call := llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
			choice.ToolCalls = append(choice.ToolCalls, call)
		}
		if len(choice.ToolCalls) > 0 {
			choice.FuncCall = choice.ToolCalls[0].FunctionCall
		}
		choices = append(choices, choice)
	}

	return &llms.ContentResponse{Choices: choices}, nil
}

// ToTools converts tool definitions to Chat Completions function tools.
func ToTools(tools []llms.Tool) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	list := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		def := shared.FunctionDefinitionParam{
			Name:       t.Function.Name,
			Parameters: toParameters(t.Function.Parameters),
		}
		if t.Function.Description != "" {
			def.Description = openai.String(t.Function.Description)
		}
		if t.Function.Strict {
			def.Strict = openai.Bool(true)
		}
		list = append(list, openai.ChatCompletionFunctionTool(def))
	}
	return list
}

func toParameters(s *jsonschema.Schema) shared.FunctionParameters {
	params := shared.FunctionParameters{}
	if s != nil {
		if js, err := json.Marshal(s); err == nil {
			_ = json.Unmarshal(js, &params)
		}
	}
	if len(params) == 0 || params["type"] == nil {
		params["type"] = "object"
	}
	if params["type"] == "object" && params["properties"] == nil {
		params["properties"] = map[string]any{}
	}
	return params
}

// ToMessages converts messages to Chat Completions message parameters.
// A tool message with several responses expands to one message per response.
func ToMessages(messages []llms.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, mc := range messages {
		switch mc.Role {
		case llms.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(textOf(mc.Parts)))
		case llms.RoleHuman, llms.RoleGeneric:
			msg, err := userMessage(mc)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		case llms.RoleAI:
			msgs = append(msgs, assistantMessage(mc))
		case llms.RoleTool:
			for _, p := range mc.Parts {
				resp, ok := p.(llms.ToolCallResponse)
				if !ok {
					return nil, errors.Errorf("openai: expected part of type ToolCallResponse for role %v, got %T", mc.Role, p)
				}
				msgs = append(msgs, openai.ToolMessage(resp.Content, resp.ToolCallID))
			}
		default:
			return nil, errors.WithMessagef(llms.ErrUnexpectedRole, "openai: %v", mc.Role)
		}
	}
	return msgs, nil
}

func textOf(parts []llms.ContentPart) string {
	var texts []string
	for _, p := range parts {
		if t, ok := p.(llms.TextContent); ok {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func userMessage(mc llms.Message) (openai.ChatCompletionMessageParamUnion, error) {
	textOnly := true
	for _, p := range mc.Parts {
		if _, ok := p.(llms.TextContent); !ok {
			textOnly = false
			break
		}
	}
	if textOnly {
		return openai.UserMessage(textOf(mc.Parts)), nil
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(mc.Parts))
	for _, p := range mc.Parts {
		switch v := p.(type) {
		case llms.TextContent:
			parts = append(parts, openai.TextContentPart(v.Text))
		case llms.ImageURLContent:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    v.URL,
				Detail: v.Detail,
			}))
		case llms.BinaryContent:
			if !strings.HasPrefix(v.MIMEType, "image/") {
				return openai.ChatCompletionMessageParamUnion{}, errors.Errorf("openai: unsupported binary content type: %s", v.MIMEType)
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: v.String(),
			}))
		default:
			return openai.ChatCompletionMessageParamUnion{}, errors.Errorf("openai: unsupported human message part type: %T", p)
		}
	}
	return openai.UserMessage(parts), nil
}

func assistantMessage(mc llms.Message) openai.ChatCompletionMessageParamUnion {
	msg := &openai.ChatCompletionAssistantMessageParam{}
	if text := textOf(mc.Parts); text != "" {
		msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	for _, p := range mc.Parts {
		tc, ok := p.(llms.ToolCall)
		if !ok || tc.FunctionCall == nil {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.FunctionCall.Name,
					Arguments: tc.FunctionCall.Arguments,
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: msg}
}

package anthropic

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/invopop/jsonschema"
)

// ToMessages converts messages to Messages API parameters.
// System messages are returned separately, as the API takes the system
// prompt outside of the conversation. Tool responses become user messages
// with tool_result blocks.
func ToMessages(messages []llms.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam, error) {
	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(messages))
	for _, mc := range messages {
		if len(mc.Parts) == 0 {
			continue
		}
		var blocks []anthropic.ContentBlockParamUnion
		var err error
		switch mc.Role {
		case llms.RoleSystem:
			for _, p := range mc.Parts {
				t, ok := p.(llms.TextContent)
				if !ok {
					return nil, nil, errors.Errorf("anthropic: unsupported system message part type: %T", p)
				}
				system = append(system, anthropic.TextBlockParam{Text: t.Text})
			}
			continue
		case llms.RoleHuman, llms.RoleGeneric:
			blocks, err = userBlocks(mc.Parts)
		case llms.RoleAI:
			blocks, err = assistantBlocks(mc.Parts)
		case llms.RoleTool:
			blocks, err = toolResultBlocks(mc.Parts)
		default:
			return nil, nil, errors.WithMessagef(llms.ErrUnexpectedRole, "anthropic: %v", mc.Role)
		}
		if err != nil {
			return nil, nil, err
		}
		if mc.Role == llms.RoleAI {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}
	return msgs, system, nil
}

func userBlocks(parts []llms.ContentPart) ([]anthropic.ContentBlockParamUnion, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case llms.TextContent:
			blocks = append(blocks, anthropic.NewTextBlock(v.Text))
		case llms.ImageURLContent:
			blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: v.URL}))
		case llms.BinaryContent:
			if !strings.HasPrefix(v.MIMEType, "image/") {
				return nil, errors.Errorf("anthropic: unsupported binary content type: %s", v.MIMEType)
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(v.MIMEType, base64.StdEncoding.EncodeToString(v.Data)))
		default:
			return nil, errors.Errorf("anthropic: unsupported human message part type: %T", p)
		}
	}
	return blocks, nil
}

func assistantBlocks(parts []llms.ContentPart) ([]anthropic.ContentBlockParamUnion, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case llms.TextContent:
			if v.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			}
		case llms.ToolCall:
			if v.FunctionCall == nil {
				return nil, errors.Errorf("anthropic: tool call %s has no function", v.ID)
			}
			input := json.RawMessage(v.FunctionCall.Arguments)
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			} else if !json.Valid(input) {
				return nil, errors.Errorf("anthropic: invalid arguments of tool call %s", v.ID)
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, input, v.FunctionCall.Name))
		default:
			return nil, errors.Errorf("anthropic: unsupported AI message part type: %T", p)
		}
	}
	return blocks, nil
}

func toolResultBlocks(parts []llms.ContentPart) ([]anthropic.ContentBlockParamUnion, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, p := range parts {
		resp, ok := p.(llms.ToolCallResponse)
		if !ok {
			return nil, errors.Errorf("anthropic: expected part of type ToolCallResponse for role tool, got %T", p)
		}
		blocks = append(blocks, anthropic.NewToolResultBlock(resp.ToolCallID, resp.Content, false))
	}
	return blocks, nil
}

// ToTools converts tool definitions to Messages API tools.
func ToTools(tools []llms.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	list := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		tool := &anthropic.ToolParam{
			Name:        t.Function.Name,
			InputSchema: toInputSchema(t.Function.Parameters),
		}
		if t.Function.Description != "" {
			tool.Description = anthropic.String(t.Function.Description)
		}
		list = append(list, anthropic.ToolUnionParam{OfTool: tool})
	}
	return list
}

// toInputSchema keeps properties and required of s,
// the API fixes the schema type to object.
func toInputSchema(s *jsonschema.Schema) anthropic.ToolInputSchemaParam {
	var doc struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if s != nil {
		if js, err := json.Marshal(s); err == nil {
			_ = json.Unmarshal(js, &doc)
		}
	}
	if doc.Properties == nil {
		doc.Properties = map[string]any{}
	}
	return anthropic.ToolInputSchemaParam{
		Properties: doc.Properties,
		Required:   doc.Required,
	}
}

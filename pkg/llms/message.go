package llms

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrUnexpectedRole is returned by adapters for a role they cannot map.
var ErrUnexpectedRole = errors.New("unexpected role")

// Role is the author of a message.
type Role string

// Roles of the conversation.
const (
	RoleAI     Role = "ai"
	RoleHuman  Role = "human"
	RoleSystem Role = "system"
	// RoleGeneric is mapped to a user message by the adapters.
	RoleGeneric Role = "generic"
	// RoleTool carries tool observations back to the model.
	RoleTool Role = "tool"
)

// Message is one entry of a conversation: a role and a sequence of parts.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// ContentPart is implemented by every part a Message can hold:
// TextContent, ImageURLContent, BinaryContent, ToolCall and ToolCallResponse.
type ContentPart interface {
	isPart()
}

// TextContent is plain text.
type TextContent struct {
	Text string `json:"text"`
}

// ImageURLContent references an image by URL.
type ImageURLContent struct {
	URL string `json:"url"`
	// Detail is the requested resolution, "low" or "high".
	Detail string `json:"detail,omitempty"`
}

// BinaryContent is inline data with a MIME type.
type BinaryContent struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// FunctionCall is the name and JSON encoded arguments of a function call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID string `json:"id"`
	// Type is "function" for every supported provider.
	Type         string        `json:"type"`
	FunctionCall *FunctionCall `json:"function,omitempty"`
}

// ToolCallResponse is the observation returned for a ToolCall.
type ToolCallResponse struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

func (TextContent) isPart()      {}
func (ImageURLContent) isPart()  {}
func (BinaryContent) isPart()    {}
func (ToolCall) isPart()         {}
func (ToolCallResponse) isPart() {}

func (c TextContent) String() string {
	return c.Text
}

func (c ImageURLContent) String() string {
	return c.URL
}

// String returns the content as a data URL.
func (c BinaryContent) String() string {
	return "data:" + c.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(c.Data)
}

func (c ToolCall) String() string {
	if c.FunctionCall == nil {
		return "tool call " + c.ID
	}
	return fmt.Sprintf("tool call %s: %s(%s)", c.ID, c.FunctionCall.Name, c.FunctionCall.Arguments)
}

func (c ToolCallResponse) String() string {
	return fmt.Sprintf("tool response %s: %s, %d bytes", c.ToolCallID, c.Name, len(c.Content))
}

// TextPart returns a TextContent part.
func TextPart(s string) TextContent {
	return TextContent{Text: s}
}

// BinaryPart returns a BinaryContent part, for example an "image/png".
func BinaryPart(mime string, data []byte) BinaryContent {
	return BinaryContent{MIMEType: mime, Data: data}
}

// ImageURLPart returns an ImageURLContent part with an optional detail.
func ImageURLPart(url string, detail ...string) ImageURLContent {
	c := ImageURLContent{URL: url}
	if len(detail) > 0 {
		c.Detail = detail[0]
	}
	return c
}

// MessageFromParts returns a Message of role with the given parts.
func MessageFromParts(role Role, parts ...ContentPart) Message {
	return Message{Role: role, Parts: parts}
}

// MessageFromTextParts returns a Message of role with one TextContent per text.
func MessageFromTextParts(role Role, texts ...string) Message {
	m := Message{Role: role, Parts: make([]ContentPart, 0, len(texts))}
	for _, s := range texts {
		m.Parts = append(m.Parts, TextPart(s))
	}
	return m
}

// MessageFromToolCalls returns a Message of role holding copies of calls.
func MessageFromToolCalls(role Role, calls ...ToolCall) Message {
	m := Message{Role: role, Parts: make([]ContentPart, 0, len(calls))}
	for _, c := range calls {
		if c.FunctionCall != nil {
			fc := *c.FunctionCall
			c.FunctionCall = &fc
		}
		m.Parts = append(m.Parts, c)
	}
	return m
}

// MessageFromToolResponse returns a Message of role holding resp.
func MessageFromToolResponse(role Role, resp ToolCallResponse) Message {
	return MessageFromParts(role, resp)
}

// GetContent returns the parts of the message rendered as text,
// one part per line.
func (m Message) GetContent() string {
	lines := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch c := p.(type) {
		case TextContent:
			lines = append(lines, c.Text)
		case ImageURLContent:
			lines = append(lines, "image: "+c.URL)
		case BinaryContent:
			lines = append(lines, fmt.Sprintf("binary: %s, %d bytes", c.MIMEType, len(c.Data)))
		case fmt.Stringer:
			lines = append(lines, c.String())
		}
	}
	return strings.Join(lines, "\n")
}

// ContentResponse is the result of a GenerateContent call.
type ContentResponse struct {
	Choices []*ContentChoice
}

// ContentChoice is one candidate of a ContentResponse.
type ContentChoice struct {
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`

	// GenerationInfo carries provider specific details,
	// such as InputTokens, OutputTokens and TotalTokens.
	GenerationInfo map[string]any `json:"generation_info"`

	// FuncCall is the first of ToolCalls, kept for callers that handle
	// a single function call.
	FuncCall  *FunctionCall `json:"func_call"`
	ToolCalls []ToolCall    `json:"tool_calls"`

	// ReasoningContent is the reasoning trace of models that expose one,
	// such as deepseek-reasoner.
	ReasoningContent string `json:"reasoning_content"`
}

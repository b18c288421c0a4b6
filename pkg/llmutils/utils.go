// Package llmutils holds helpers shared by the agent loop, the tool bridge
// and the CLI: JSON cleanup of model output and message accounting.
package llmutils

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/x/values"
)

// CleanJSON extracts the JSON document from model output.
// Models often wrap arguments in a ```json fence or add a lead-in
// such as "Here you go:", both are dropped.
// Input without any brace or bracket is returned unchanged.
func CleanJSON(bs []byte) []byte {
	start := firstIndex(bs, '{', '[')
	if start < 0 {
		return bs
	}
	bs = bs[start:]

	end := max(bytes.LastIndexByte(bs, '}'), bytes.LastIndexByte(bs, ']'))
	if end < 0 {
		return bs
	}
	return bs[:end+1]
}

// firstIndex returns the smallest index of any of chars in bs, or -1.
func firstIndex(bs []byte, chars ...byte) int {
	idx := -1
	for _, c := range chars {
		if i := bytes.IndexByte(bs, c); i >= 0 && (idx < 0 || i < idx) {
			idx = i
		}
	}
	return idx
}

// ToJSONIndent returns val as tab indented JSON, or an empty string
// if val cannot be marshaled.
func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

// BackticksJSON wraps js in a ```json fence.
func BackticksJSON(js string) string {
	return "\n```json\n" + strings.TrimSpace(js) + "\n```\n"
}

// CountMessagesContentSize returns the byte size of roles and parts in msgs.
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size int
	for _, m := range msgs {
		size += len(m.Role)
		for _, p := range m.Parts {
			switch part := p.(type) {
			case llms.TextContent:
				size += len(part.Text)
			case llms.ImageURLContent:
				size += len(part.URL) + len(part.Detail)
			case llms.BinaryContent:
				size += len(part.MIMEType) + len(part.Data)
			case llms.ToolCall:
				size += toolCallSize(part)
			case llms.ToolCallResponse:
				size += len(part.ToolCallID) + len(part.Name) + len(part.Content)
			}
		}
	}
	return uint64(size)
}

// CountResponseContentSize returns the byte size of every choice in resp.
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	if resp == nil {
		return 0
	}
	var size int
	for _, c := range resp.Choices {
		size += len(c.Content) + len(c.ReasoningContent)
		if c.FuncCall != nil {
			size += len(c.FuncCall.Name) + len(c.FuncCall.Arguments)
		}
		for _, tc := range c.ToolCalls {
			size += toolCallSize(tc)
		}
	}
	return uint64(size)
}

func toolCallSize(tc llms.ToolCall) int {
	size := len(tc.ID) + len(tc.Type)
	if tc.FunctionCall != nil {
		size += len(tc.FunctionCall.Name) + len(tc.FunctionCall.Arguments)
	}
	return size
}

// CountTokens sums the token usage reported in GenerationInfo of every choice.
func CountTokens(resp *llms.ContentResponse) (in, out, total int64) {
	if resp == nil {
		return
	}
	for _, choice := range resp.Choices {
		ma := values.MapAny(choice.GenerationInfo)
		in += ma.Int64("InputTokens")
		out += ma.Int64("OutputTokens")
		total += ma.Int64("TotalTokens")
	}
	return
}

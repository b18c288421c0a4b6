// Package llms defines the chat model abstraction used by the agent loop:
// messages with text, tool call and tool response parts, call options with
// tool definitions and a streaming callback, and the capability table of
// the supported providers.
//
// Provider adapters live in the openai and anthropic subpackages.
package llms

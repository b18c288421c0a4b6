package llms

import (
	"context"
)

// ProviderType names the API family a Model talks to.
type ProviderType string

// Supported providers.
const (
	ProviderAnthropic ProviderType = "ANTHROPIC"
	ProviderOpenAI    ProviderType = "OPENAI"
	// ProviderDeepSeek is served by the OpenAI adapter.
	ProviderDeepSeek ProviderType = "DEEPSEEK"
)

// Model is a chat model that can call tools.
type Model interface {
	GetProviderType() ProviderType
	// GetName returns the model used when CallOptions.Model is empty.
	GetName() string
	// GenerateContent returns the next assistant turn for messages.
	// When CallOptions.StreamingFunc is set, text is delivered to it as it
	// arrives and the complete response is still returned.
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}

// Capability is a set of provider features.
type Capability uint64

// Capabilities
const (
	CapabilityText Capability = 1 << iota
	CapabilitySystemPrompt
	CapabilityFunctionCalling
	CapabilityMultiToolCalling
	CapabilityToolCallStreaming
	CapabilityVision
)

const capabilityTools = CapabilityFunctionCalling | CapabilityMultiToolCalling | CapabilityToolCallStreaming

var providerCapabilities = map[ProviderType]Capability{
	ProviderOpenAI:    CapabilityText | CapabilitySystemPrompt | capabilityTools | CapabilityVision,
	ProviderAnthropic: CapabilityText | CapabilitySystemPrompt | capabilityTools | CapabilityVision,
	ProviderDeepSeek:  CapabilityText | CapabilitySystemPrompt | capabilityTools,
}

// Capabilities returns the features of the provider, zero if unknown.
func (p ProviderType) Capabilities() Capability {
	return providerCapabilities[p]
}

// Supports reports whether the provider has every feature of c.
func (p ProviderType) Supports(c Capability) bool {
	return c != 0 && p.Capabilities()&c == c
}

// Package llmfactory builds the streaming chat models used by the agent
// from provider configuration (OpenAI, DeepSeek and Anthropic).
package llmfactory

package anthropic

import (
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	tokenEnvVarName   = "ANTHROPIC_API_KEY"  //nolint:gosec
	modelEnvVarName   = "ANTHROPIC_MODEL"    //nolint:gosec
	baseURLEnvVarName = "ANTHROPIC_BASE_URL" //nolint:gosec
)

// Defaults of the Messages API.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

type options struct {
	token      string
	model      string
	baseURL    string
	betaHeader string
	httpClient option.HTTPClient
}

// Option is a functional option for the Anthropic client.
type Option func(*options)

// WithToken sets the API key. ANTHROPIC_API_KEY is used if not set.
func WithToken(token string) Option {
	return func(opts *options) {
		opts.token = token
	}
}

// WithModel sets the default model. ANTHROPIC_MODEL is used if not set,
// then DefaultModel.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL sets the API endpoint. ANTHROPIC_BASE_URL is used if not set.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithBetaHeader sends the anthropic-beta header with every request.
func WithBetaHeader(value string) Option {
	return func(opts *options) {
		opts.betaHeader = value
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client option.HTTPClient) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

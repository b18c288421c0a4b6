package openai

import (
	"os"

	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/openai/openai-go/v3/option"
)

const (
	tokenEnvVarName        = "OPENAI_API_KEY"      //nolint:gosec
	modelEnvVarName        = "OPENAI_MODEL"        //nolint:gosec
	baseURLEnvVarName      = "OPENAI_BASE_URL"     //nolint:gosec
	baseAPIBaseEnvVarName  = "OPENAI_API_BASE"     //nolint:gosec
	organizationEnvVarName = "OPENAI_ORGANIZATION" //nolint:gosec
)

// Defaults per provider.
const (
	DefaultModel         = "gpt-4o-mini"
	DefaultDeepSeekModel = "deepseek-chat"
	DeepSeekBaseURL      = "https://api.deepseek.com"
)

type options struct {
	token        string
	model        string
	baseURL      string
	organization string
	provider     llms.ProviderType
	httpClient   option.HTTPClient
}

// Option is a functional option for the OpenAI client.
type Option func(*options)

// envOptions returns the options found in the environment.
func envOptions() *options {
	return &options{
		token:        os.Getenv(tokenEnvVarName),
		model:        os.Getenv(modelEnvVarName),
		baseURL:      values.StringsCoalesce(os.Getenv(baseURLEnvVarName), os.Getenv(baseAPIBaseEnvVarName)),
		organization: os.Getenv(organizationEnvVarName),
		provider:     llms.ProviderOpenAI,
	}
}

// withDefaults fills the model and endpoint the provider needs.
func (o *options) withDefaults() {
	switch o.provider {
	case llms.ProviderDeepSeek:
		o.model = values.StringsCoalesce(o.model, DefaultDeepSeekModel)
		o.baseURL = values.StringsCoalesce(o.baseURL, DeepSeekBaseURL)
	default:
		o.model = values.StringsCoalesce(o.model, DefaultModel)
	}
}

// requestOptions returns the client options, the model is never retried.
func (o *options) requestOptions() []option.RequestOption {
	list := []option.RequestOption{
		option.WithAPIKey(o.token),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		list = append(list, option.WithBaseURL(o.baseURL))
	}
	if o.organization != "" {
		list = append(list, option.WithOrganization(o.organization))
	}
	if o.httpClient != nil {
		list = append(list, option.WithHTTPClient(o.httpClient))
	}
	return list
}

// WithToken sets the API key. OPENAI_API_KEY is used if not set.
func WithToken(token string) Option {
	return func(opts *options) {
		opts.token = token
	}
}

// WithModel sets the default model. OPENAI_MODEL is used if not set,
// then the provider default.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL sets the API endpoint. OPENAI_BASE_URL or OPENAI_API_BASE
// is used if not set, then the provider default.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithOrganization sets the organization header. OPENAI_ORGANIZATION is used if not set.
func WithOrganization(organization string) Option {
	return func(opts *options) {
		opts.organization = organization
	}
}

// WithProvider sets the provider type reported by the model, and its defaults.
// llms.ProviderOpenAI is used if not set.
func WithProvider(provider llms.ProviderType) Option {
	return func(opts *options) {
		opts.provider = provider
	}
}

func WithHTTPClient(client option.HTTPClient) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

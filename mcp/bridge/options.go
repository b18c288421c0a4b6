package bridge

import (
	"time"

	"github.com/effective-security/mcpbridge/mcp/transport/stdio"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// DefaultHandshakeTimeout allows for launchers such as npx that
	// download the provider on first use.
	DefaultHandshakeTimeout = 60 * time.Second
	DefaultListTimeout      = 30 * time.Second
	DefaultCallTimeout      = 60 * time.Second
	DefaultGraceTimeout     = stdio.DefaultGraceTimeout
)

// Version is reported to providers in the client info.
const Version = "0.1.0"

// Option configures a Bridge.
type Option func(*options)

type options struct {
	name             string
	handshakeTimeout time.Duration
	listTimeout      time.Duration
	callTimeout      time.Duration
	graceTimeout     time.Duration
	maxConcurrency   int
	clientInfo       mcp.Implementation
}

func defaultOptions() options {
	return options{
		name:             "mcpbridge",
		handshakeTimeout: DefaultHandshakeTimeout,
		listTimeout:      DefaultListTimeout,
		callTimeout:      DefaultCallTimeout,
		graceTimeout:     DefaultGraceTimeout,
		clientInfo: mcp.Implementation{
			Name:    "mcpbridge",
			Version: Version,
		},
	}
}

// WithName sets the bridge name used in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithHandshakeTimeout bounds the initialize exchange with each provider.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithListTimeout bounds each tools/list request.
func WithListTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.listTimeout = d
		}
	}
}

// WithCallTimeout bounds each tools/call request.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithGraceTimeout sets how long a provider may take to exit before it is killed.
func WithGraceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.graceTimeout = d
		}
	}
}

// WithMaxConcurrency limits how many providers are started at once.
// Zero means no limit.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxConcurrency = n
		}
	}
}

// WithClientInfo sets the implementation info sent during the handshake.
func WithClientInfo(name, version string) Option {
	return func(o *options) {
		if name != "" {
			o.clientInfo.Name = name
		}
		if version != "" {
			o.clientInfo.Version = version
		}
	}
}

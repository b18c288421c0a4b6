// Package mcperr defines the error taxonomy shared by the provider handles,
// the protocol client and the tool bridge.
package mcperr

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Kind is a stable, printable classification of an error.
type Kind string

const (
	KindNone                 Kind = ""
	KindSpawn                Kind = "SpawnError"
	KindHandshake            Kind = "HandshakeError"
	KindTimeout              Kind = "TimeoutError"
	KindProtocol             Kind = "ProtocolError"
	KindConnectionLost       Kind = "ConnectionLost"
	KindProviderUnavailable  Kind = "ProviderUnavailable"
	KindUnknownTool          Kind = "UnknownTool"
	KindInvalidArguments     Kind = "InvalidArguments"
	KindToolError            Kind = "ToolError"
	KindNoProvidersAvailable Kind = "NoProvidersAvailable"
	KindCancelled            Kind = "Cancelled"
	KindInternal             Kind = "InternalError"
)

var (
	// ErrSpawn is returned when the provider executable cannot be launched.
	ErrSpawn = errors.New("provider spawn failed")
	// ErrHandshake is returned when the provider does not complete initialize.
	ErrHandshake = errors.New("provider handshake failed")
	// ErrTimeout is returned when a request is not answered before its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrProtocol is returned for malformed messages or payloads.
	ErrProtocol = errors.New("protocol error")
	// ErrConnectionLost resolves requests pending on a failed or closed client.
	ErrConnectionLost = errors.New("connection lost")
	// ErrProviderUnavailable is returned when the owning provider is not ready.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderGone is returned when a descriptor outlived its bridge.
	ErrProviderGone = errors.Wrap(ErrProviderUnavailable, "provider gone")
	// ErrUnknownTool is returned for names absent from the catalog.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned when arguments do not match the tool schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
	// ErrToolError is returned when the provider reports a tool-level failure.
	ErrToolError = errors.New("tool reported an error")
	// ErrNoProvidersAvailable is reported when every configured provider failed setup.
	ErrNoProvidersAvailable = errors.New("no providers available")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	// order matters: ErrProviderGone wraps ErrProviderUnavailable
	{ErrProviderGone, KindProviderUnavailable},
	{ErrSpawn, KindSpawn},
	{ErrHandshake, KindHandshake},
	{ErrTimeout, KindTimeout},
	{ErrProtocol, KindProtocol},
	{ErrConnectionLost, KindConnectionLost},
	{ErrProviderUnavailable, KindProviderUnavailable},
	{ErrUnknownTool, KindUnknownTool},
	{ErrInvalidArguments, KindInvalidArguments},
	{ErrToolError, KindToolError},
	{ErrNoProvidersAvailable, KindNoProvidersAvailable},
	{context.Canceled, KindCancelled},
	{context.DeadlineExceeded, KindCancelled},
}

// KindOf classifies err. A nil error has KindNone, unclassified errors
// are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRecoverable reports whether the caller may retry or pick another tool
// after err, without the provider being lost.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindUnknownTool, KindInvalidArguments, KindToolError, KindTimeout, KindProviderUnavailable:
		return true
	}
	return false
}

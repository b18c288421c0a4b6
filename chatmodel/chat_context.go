package chatmodel

import (
	"context"
	"strconv"
	"time"

	"github.com/effective-security/x/values"
	"github.com/effective-security/xdb/pkg/flake"
)

// ChatContext identifies one run of a chat.
// Runs of the same chat share the chat ID, each run gets its own run ID.
type ChatContext struct {
	chatID  string
	runID   string
	started time.Time
}

// NewChatContext returns a ChatContext for a new run of chatID.
// A new chat ID is generated when chatID is empty.
func NewChatContext(chatID string) *ChatContext {
	return &ChatContext{
		chatID:  values.StringsCoalesce(chatID, NewChatID()),
		runID:   NewChatID(),
		started: time.Now(),
	}
}

func (c *ChatContext) ChatID() string {
	return c.chatID
}

func (c *ChatContext) RunID() string {
	return c.runID
}

// Started returns the creation time of the run.
func (c *ChatContext) Started() time.Time {
	return c.started
}

// String returns chatID.runID
func (c *ChatContext) String() string {
	return c.chatID + "." + c.runID
}

type contextKey struct{}

// WithChatContext returns a copy of ctx carrying chatCtx.
func WithChatContext(ctx context.Context, chatCtx *ChatContext) context.Context {
	return context.WithValue(ctx, contextKey{}, chatCtx)
}

// GetChatContext returns the ChatContext of ctx, or nil.
func GetChatContext(ctx context.Context) *ChatContext {
	v, _ := ctx.Value(contextKey{}).(*ChatContext)
	return v
}

// GetChatID returns the chat ID of ctx, or an empty string.
func GetChatID(ctx context.Context) string {
	if c := GetChatContext(ctx); c != nil {
		return c.chatID
	}
	return ""
}

// NewChatID returns a new flake ID.
func NewChatID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}

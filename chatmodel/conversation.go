package chatmodel

import (
	"slices"
	"sync"

	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/x/values"
)

// Conversation is an append-only message history owned by a single run.
// It never contains the system prompt.
type Conversation struct {
	id string

	lock     sync.RWMutex
	messages []llms.Message
}

// NewConversation returns an empty conversation.
// A new flake ID is generated when id is empty.
func NewConversation(id string) *Conversation {
	return &Conversation{
		id: values.StringsCoalesce(id, NewChatID()),
	}
}

// ID returns the conversation ID.
func (c *Conversation) ID() string {
	return c.id
}

// Append adds messages to the end of the history.
func (c *Conversation) Append(msgs ...llms.Message) {
	c.lock.Lock()
	c.messages = append(c.messages, msgs...)
	c.lock.Unlock()
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []llms.Message {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return slices.Clone(c.messages)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.messages)
}

// Last returns the last message, or false if the history is empty.
func (c *Conversation) Last() (llms.Message, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if len(c.messages) == 0 {
		return llms.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// WithSystemPrompt returns the history prefixed with a system message.
// The history itself is not changed.
func (c *Conversation) WithSystemPrompt(prompt string) []llms.Message {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if prompt == "" {
		return slices.Clone(c.messages)
	}
	payload := make([]llms.Message, 0, len(c.messages)+1)
	payload = append(payload, llms.MessageFromTextParts(llms.RoleSystem, prompt))
	return append(payload, c.messages...)
}

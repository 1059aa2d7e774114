package assembly

import (
	"strings"

	"schema-mapper/internal/domain"
)

// Conversation is an ordered, append-only list of chat turns. Values are
// never mutated in place: every transition returns a new Conversation.
type Conversation struct {
	messages []domain.ChatMessage
}

// NewConversation returns a conversation holding a copy of msgs.
func NewConversation(msgs ...domain.ChatMessage) Conversation {
	return Conversation{messages: append([]domain.ChatMessage(nil), msgs...)}
}

// Messages returns a copy of the turns in order.
func (c Conversation) Messages() []domain.ChatMessage {
	return append([]domain.ChatMessage(nil), c.messages...)
}

// Len returns the number of turns.
func (c Conversation) Len() int {
	return len(c.messages)
}

// Append returns a new conversation with msgs added after the existing turns.
func (c Conversation) Append(msgs ...domain.ChatMessage) Conversation {
	next := make([]domain.ChatMessage, 0, len(c.messages)+len(msgs))
	next = append(next, c.messages...)
	next = append(next, msgs...)
	return Conversation{messages: next}
}

// Advance is the round transition of the continuation loop. A complete
// completion ends the loop. Otherwise the raw completion text is fed back as
// an assistant turn followed by continuePrompt as a user turn.
func Advance(c Conversation, completion domain.Completion, continuePrompt string) (Conversation, bool) {
	if completion.Complete() {
		return c, true
	}
	return c.Append(
		domain.ChatMessage{Role: domain.RoleAssistant, Content: strings.TrimSpace(completion.Content)},
		domain.ChatMessage{Role: domain.RoleUser, Content: continuePrompt},
	), false
}

// Package model defines the chat model boundary used by workflow nodes and
// ships adapters for the Anthropic, OpenAI, and Google Gemini APIs.
package model

import (
	"context"
	"strings"
)

// ChatModel is a language model that answers a conversation.
//
// Implementations must honor context cancellation and be safe for concurrent
// use: nodes of different threads share one model.
//
// Example:
//
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You are a data analyst."},
//	    {Role: model.RoleUser, Content: "Summarize the dataset."},
//	})
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Standard message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut is a model response.
type ChatOut struct {
	// Text is the concatenated text content of the response.
	Text string

	// Model is the model that produced the response, when the provider reports it.
	Model string

	// Usage reports token consumption, when the provider reports it.
	Usage Usage
}

// Usage is the token consumption of one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Prompt builds the common two-message conversation of a system prompt
// followed by a user prompt. An empty system prompt is omitted.
func Prompt(system, user string) []Message {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	return append(msgs, Message{Role: RoleUser, Content: user})
}

// SplitSystem separates system messages from the conversation. Several
// system messages are joined with a blank line. Anthropic and Gemini take
// the system prompt as a separate parameter.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	var conversation []Message
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		conversation = append(conversation, msg)
	}
	return strings.Join(system, "\n\n"), conversation
}

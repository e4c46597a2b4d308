package model

import (
	"context"
	"sync"
)

// MockChatModel is a test implementation of ChatModel.
//
// Use MockChatModel in tests to exercise workflows without calling a
// provider. Responses are returned in order and the last one repeats. When
// Respond is set it takes precedence and can answer based on the prompt.
//
// Example:
//
//	mock := &model.MockChatModel{
//	    Responses: []model.ChatOut{{Text: "First"}, {Text: "Second"}},
//	}
//	out, _ := mock.Chat(ctx, msgs) // "First", then "Second", then "Second"
//
// Error injection:
//
//	mock := &model.MockChatModel{Err: errors.New("API error")}
type MockChatModel struct {
	// Responses is the sequence of responses to return.
	Responses []ChatOut

	// Respond, if set, computes the response from the messages.
	Respond func(messages []Message) (ChatOut, error)

	// Err, if set, is returned instead of a response.
	Err error

	// Calls records every invocation.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records a single invocation of Chat.
type MockChatCall struct {
	Messages []Message
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if m.Respond != nil {
		return m.Respond(messages)
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and rewinds the responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Chat invocations.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

// LastUserMessage returns the content of the last user message of the most
// recent call, or "" when there were no calls.
func (m *MockChatModel) LastUserMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Calls) == 0 {
		return ""
	}
	msgs := m.Calls[len(m.Calls)-1].Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/dshills/orcgraph/graph/model"
)

type fakeClient struct {
	system   string
	messages []model.Message
	out      model.ChatOut
	err      error
}

func (f *fakeClient) createMessage(ctx context.Context, system string, messages []model.Message) (model.ChatOut, error) {
	f.system = system
	f.messages = messages
	return f.out, f.err
}

// TestChatModel_SystemPrompt verifies system messages go to the system parameter.
func TestChatModel_SystemPrompt(t *testing.T) {
	fake := &fakeClient{out: model.ChatOut{Text: "4"}}
	m := &ChatModel{modelName: DefaultModel, client: fake}

	out, err := m.Chat(context.Background(), model.Prompt("be terse", "2+2?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.system != "be terse" {
		t.Errorf("expected system prompt, got %q", fake.system)
	}
	if len(fake.messages) != 1 || fake.messages[0].Role != model.RoleUser {
		t.Errorf("expected only the user message, got %+v", fake.messages)
	}
	if out.Text != "4" || out.Model != DefaultModel {
		t.Errorf("unexpected output %+v", out)
	}
}

// TestChatModel_Errors verifies error wrapping and argument checks.
func TestChatModel_Errors(t *testing.T) {
	t.Run("api error is wrapped", func(t *testing.T) {
		boom := errors.New("overloaded")
		m := &ChatModel{modelName: DefaultModel, client: &fakeClient{err: boom}}
		if _, err := m.Chat(context.Background(), model.Prompt("", "q")); !errors.Is(err, boom) {
			t.Errorf("expected wrapped error, got %v", err)
		}
	})

	t.Run("system only", func(t *testing.T) {
		m := &ChatModel{modelName: DefaultModel, client: &fakeClient{}}
		if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleSystem, Content: "s"}}); err == nil {
			t.Error("expected error for conversation without user message")
		}
	})

	t.Run("missing api key", func(t *testing.T) {
		m := NewChatModel("", "")
		if _, err := m.Chat(context.Background(), model.Prompt("", "q")); err == nil {
			t.Error("expected error for missing API key")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		m := &ChatModel{modelName: DefaultModel, client: &fakeClient{}}
		if _, err := m.Chat(ctx, model.Prompt("", "q")); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

// TestConvertMessages verifies role mapping onto SDK message params.
func TestConvertMessages(t *testing.T) {
	params := convertMessages([]model.Message{
		{Role: model.RoleUser, Content: "q"},
		{Role: model.RoleAssistant, Content: "a"},
	})
	if len(params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(params))
	}
	if params[0].Role != sdk.MessageParamRoleUser {
		t.Errorf("expected user role, got %v", params[0].Role)
	}
	if params[1].Role != sdk.MessageParamRoleAssistant {
		t.Errorf("expected assistant role, got %v", params[1].Role)
	}
}

// Package anthropic provides a ChatModel adapter for Anthropic's Claude API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/orcgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "claude-sonnet-4-0"

// DefaultMaxTokens bounds every response.
const DefaultMaxTokens = 4096

// ChatModel implements model.ChatModel for Anthropic's Claude API.
//
// System messages are sent through the separate system parameter.
//
// Example:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
//	out, err := m.Chat(ctx, model.Prompt("You are terse.", "What is 2+2?"))
type ChatModel struct {
	modelName string
	client    anthropicClient
}

// anthropicClient is the API surface the adapter needs; tests replace it.
type anthropicClient interface {
	createMessage(ctx context.Context, system string, messages []model.Message) (model.ChatOut, error)
}

// NewChatModel creates a Claude chat model.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    newDefaultClient(apiKey, modelName),
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	system, conversation := model.SplitSystem(messages)
	if len(conversation) == 0 {
		return model.ChatOut{}, errors.New("anthropic: at least one user message is required")
	}
	out, err := m.client.createMessage(ctx, system, conversation)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic: %w", err)
	}
	if out.Model == "" {
		out.Model = m.modelName
	}
	return out, nil
}

// defaultClient wraps the official SDK client.
type defaultClient struct {
	apiKey    string
	modelName string
	client    sdk.Client
}

func newDefaultClient(apiKey, modelName string) *defaultClient {
	return &defaultClient{
		apiKey:    apiKey,
		modelName: modelName,
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (c *defaultClient) createMessage(ctx context.Context, system string, messages []model.Message) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("API key is required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelName),
		MaxTokens: DefaultMaxTokens,
		Messages:  convertMessages(messages),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return model.ChatOut{
		Text:  text.String(),
		Model: string(resp.Model),
		Usage: model.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func convertMessages(messages []model.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := sdk.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
			continue
		}
		out = append(out, sdk.NewUserMessage(block))
	}
	return out
}

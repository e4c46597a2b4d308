// Package openai provides a ChatModel adapter for OpenAI's chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/orcgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gpt-4o-mini"

// ChatModel implements model.ChatModel for OpenAI.
//
// Transient failures are not retried here; wrap the model with
// model.WithRetry for that.
//
// Example:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o")
//	out, err := m.Chat(ctx, model.Prompt("", "Summarize this table."))
type ChatModel struct {
	modelName string
	client    openaiClient
}

// openaiClient is the API surface the adapter needs; tests replace it.
type openaiClient interface {
	createChatCompletion(ctx context.Context, messages []model.Message) (model.ChatOut, error)
}

// NewChatModel creates an OpenAI chat model.
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
	if len(messages) == 0 {
		return model.ChatOut{}, errors.New("openai: at least one message is required")
	}
	out, err := m.client.createChatCompletion(ctx, messages)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai: %w", err)
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

func (c *defaultClient) createChatCompletion(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("API key is required")
	}

	completion, err := c.client.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.modelName),
		Messages: convertMessages(messages),
	})
	if err != nil {
		return model.ChatOut{}, err
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("no choices in response")
	}
	return model.ChatOut{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Usage: model.Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

func convertMessages(messages []model.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, sdk.AssistantMessage(msg.Content))
		default:
			out = append(out, sdk.UserMessage(msg.Content))
		}
	}
	return out
}

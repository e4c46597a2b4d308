// Package google provides a ChatModel adapter for the Google Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/orcgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gemini-2.5-flash"

// ChatModel implements model.ChatModel for Google's Gemini API.
//
// Content blocked by Gemini's safety filters surfaces as *SafetyFilterError.
//
// Example:
//
//	m := google.NewChatModel(os.Getenv("GOOGLE_API_KEY"), "")
//	out, err := m.Chat(ctx, msgs)
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("blocked: %s", safetyErr.Category())
//	}
type ChatModel struct {
	modelName string
	client    googleClient
}

// googleClient is the API surface the adapter needs; tests replace it.
type googleClient interface {
	generateContent(ctx context.Context, system string, messages []model.Message) (model.ChatOut, error)
}

// NewChatModel creates a Gemini chat model.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	system, conversation := model.SplitSystem(messages)
	if len(conversation) == 0 {
		return model.ChatOut{}, errors.New("google: at least one user message is required")
	}
	out, err := m.client.generateContent(ctx, system, conversation)
	if err != nil {
		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			return model.ChatOut{}, safetyErr
		}
		return model.ChatOut{}, fmt.Errorf("google: %w", err)
	}
	if out.Model == "" {
		out.Model = m.modelName
	}
	return out, nil
}

// defaultClient wraps the official SDK client. A client is created per
// call because genai clients hold a gRPC connection that must be closed.
type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) generateContent(ctx context.Context, system string, messages []model.Message) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("create client: %w", err)
	}
	defer func() { _ = client.Close() }()

	gm := client.GenerativeModel(c.modelName)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	history, last := convertMessages(messages)
	session := gm.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return model.ChatOut{}, safetyError(blocked)
		}
		return model.ChatOut{}, err
	}
	return convertResponse(resp), nil
}

// convertMessages splits the conversation into chat history and the final
// message to send.
func convertMessages(messages []model.Message) ([]*genai.Content, string) {
	history := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages[:len(messages)-1] {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return history, messages[len(messages)-1].Content
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	var texts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			texts = append(texts, string(text))
		}
	}
	out.Text = strings.Join(texts, "\n")
	return out
}

func safetyError(blocked *genai.BlockedError) *SafetyFilterError {
	e := &SafetyFilterError{reason: "SAFETY"}
	if blocked.PromptFeedback != nil {
		e.reason = blocked.PromptFeedback.BlockReason.String()
		for _, rating := range blocked.PromptFeedback.SafetyRatings {
			if rating.Blocked {
				e.category = rating.Category.String()
				break
			}
		}
	}
	if blocked.Candidate != nil {
		for _, rating := range blocked.Candidate.SafetyRatings {
			if rating.Blocked {
				e.category = rating.Category.String()
				break
			}
		}
	}
	return e
}

// SafetyFilterError reports content blocked by Gemini's safety filters.
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("Content blocked: %s", safetyErr.Category())
//	}
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	if e.category == "" {
		return "content blocked by safety filter: " + e.reason
	}
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}

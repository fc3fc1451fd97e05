// Package openai adapts OpenAI-compatible chat APIs to llm.ChatModel.
// Groq exposes the same wire protocol, so the same adapter serves both
// by pointing the client at a different base URL.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/AkhileshMalthi/taskflow/internal/llm"
)

// GroqBaseURL is the OpenAI-compatible endpoint served by Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

const (
	defaultModel     = "gpt-4o-mini"
	defaultGroqModel = "llama-3.3-70b-versatile"
)

// Model wraps the official OpenAI client.
type Model struct {
	client *openai.Client
	model  string
}

// New builds an adapter against api.openai.com. An empty model selects
// a sensible default.
func New(apiKey, model string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key cannot be empty")
	}
	if model == "" {
		model = defaultModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Model{client: &client, model: model}, nil
}

// NewGroq builds an adapter against Groq's OpenAI-compatible endpoint.
func NewGroq(apiKey, model string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("groq: API key cannot be empty")
	}
	if model == "" {
		model = defaultGroqModel
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(GroqBaseURL),
	)
	return &Model{client: &client, model: model}, nil
}

// Chat sends the transcript as a chat completion request.
func (m *Model) Chat(ctx context.Context, msgs []llm.Message) (llm.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatOut{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)),
	}
	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.ChatOut{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return llm.ChatOut{}, errors.New("chat completion: empty response")
	}
	return llm.ChatOut{Text: completion.Choices[0].Message.Content}, nil
}

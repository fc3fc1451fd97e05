// Package anthropic adapts the Claude Messages API to llm.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/AkhileshMalthi/taskflow/internal/llm"
)

const (
	defaultModel     = "claude-3-5-sonnet-20241022"
	defaultMaxTokens = 4096
)

// Model wraps the official Anthropic client.
type Model struct {
	client *anthropic.Client
	model  string
}

// New builds an adapter for the given key and model. An empty model
// selects a sensible default.
func New(apiKey, model string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key cannot be empty")
	}
	if model == "" {
		model = defaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Model{client: &client, model: model}, nil
}

// Chat sends the transcript as a Messages API call. System-role turns
// are hoisted into the request's system prompt since the Messages API
// does not accept them in the message list.
func (m *Model) Chat(ctx context.Context, msgs []llm.Message) (llm.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatOut{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: defaultMaxTokens,
	}
	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case llm.RoleAssistant:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return llm.ChatOut{}, fmt.Errorf("messages: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return llm.ChatOut{Text: text}, nil
}

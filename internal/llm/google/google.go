// Package google adapts the Gemini API to llm.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/AkhileshMalthi/taskflow/internal/llm"
)

const defaultModel = "gemini-1.5-flash"

// Model wraps the official Gemini client.
type Model struct {
	client *genai.Client
	model  string
}

// New builds an adapter for the given key and model. An empty model
// selects a sensible default. Close must be called when done.
func New(ctx context.Context, apiKey, model string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key cannot be empty")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google client: %w", err)
	}
	return &Model{client: client, model: model}, nil
}

// Close releases the underlying client.
func (m *Model) Close() error { return m.client.Close() }

// Chat sends the transcript in a single GenerateContent call. Gemini
// takes a system instruction separately, so system turns are hoisted
// and the remaining turns concatenated into the request parts.
func (m *Model) Chat(ctx context.Context, msgs []llm.Message) (llm.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatOut{}, err
	}

	model := m.client.GenerativeModel(m.model)

	var parts []genai.Part
	for _, msg := range msgs {
		if msg.Role == llm.RoleSystem {
			model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(msg.Content)},
			}
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	if len(parts) == 0 {
		return llm.ChatOut{}, errors.New("google: no user content")
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return llm.ChatOut{}, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.ChatOut{}, errors.New("google: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return llm.ChatOut{Text: sb.String()}, nil
}

// Package agents holds the stage implementations that do the actual
// work of a task: analyzing the prompt, researching topics, and writing
// the draft. Each agent is a plain struct whose method matches the
// workflow.StageFunc shape.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AkhileshMalthi/taskflow/internal/llm"
	"github.com/AkhileshMalthi/taskflow/internal/workflow"
)

const analyzerPrompt = `You are a prompt analysis assistant. Analyze the following user request and extract structured information.

User Request:
%q

Analyze this request and provide a JSON response with the following structure:
{
    "topics": ["topic1", "topic2"],
    "task_kind": "comparison" | "tutorial" | "analysis" | "summary",
    "context": "any additional context or requirements"
}

Guidelines:
- topics: extract all subjects, frameworks, technologies, or concepts that need to be researched
- task_kind:
  - "comparison": when comparing multiple things (e.g., "compare X and Y", "X vs Y")
  - "tutorial": when asking for how-to guides or step-by-step instructions
  - "analysis": when asking for in-depth examination or evaluation
  - "summary": when asking for general information or an overview
- context: capture specific requirements like "for technical audience" or "beginner-friendly"

Respond ONLY with valid JSON, no other text.`

// Analyzer extracts research topics and the task kind from a prompt.
// It asks the model for structured JSON and falls back to keyword
// matching when the model fails or returns garbage.
type Analyzer struct {
	model llm.ChatModel
}

// NewAnalyzer returns an analyzer backed by the given model.
func NewAnalyzer(model llm.ChatModel) *Analyzer {
	return &Analyzer{model: model}
}

// Analyze parses a prompt into topics, kind, and context.
func (a *Analyzer) Analyze(ctx context.Context, prompt string) workflow.Analysis {
	out, err := a.model.Chat(ctx, []llm.Message{
		llm.User(fmt.Sprintf(analyzerPrompt, prompt)),
	})
	if err != nil {
		return fallbackAnalysis(prompt)
	}

	var parsed struct {
		Topics  []string `json:"topics"`
		Kind    string   `json:"task_kind"`
		Context string   `json:"context"`
	}
	if err := json.Unmarshal([]byte(stripFences(out.Text)), &parsed); err != nil {
		return fallbackAnalysis(prompt)
	}
	if len(parsed.Topics) == 0 {
		return fallbackAnalysis(prompt)
	}

	kind := workflow.TaskKind(parsed.Kind)
	if !kind.Valid() {
		kind = workflow.KindSummary
	}
	return workflow.Analysis{Topics: parsed.Topics, Kind: kind, Context: parsed.Context}
}

// stripFences removes a markdown code block wrapper, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// knownTopics maps lowercase prompt substrings to canonical topic names
// for the keyword fallback.
var knownTopics = []struct {
	match []string
	topic string
}{
	{[]string{"langgraph"}, "LangGraph"},
	{[]string{"crewai"}, "CrewAI"},
	{[]string{"redis"}, "Redis"},
	{[]string{"postgresql", "postgres"}, "PostgreSQL"},
	{[]string{"docker"}, "Docker"},
	{[]string{"kubernetes", "k8s"}, "Kubernetes"},
	{[]string{"microservice"}, "microservices"},
	{[]string{"monolith"}, "monolithic architecture"},
}

func fallbackAnalysis(prompt string) workflow.Analysis {
	lower := strings.ToLower(prompt)

	var topics []string
	for _, kt := range knownTopics {
		for _, m := range kt.match {
			if strings.Contains(lower, m) {
				topics = append(topics, kt.topic)
				break
			}
		}
	}
	if len(topics) == 0 {
		topics = []string{"general topic"}
	}

	kind := workflow.KindSummary
	switch {
	case containsAny(lower, "compare", "vs", "versus", "difference"):
		kind = workflow.KindComparison
	case containsAny(lower, "tutorial", "how to", "guide", "step"):
		kind = workflow.KindTutorial
	case containsAny(lower, "analyze", "analysis", "evaluate", "examine"):
		kind = workflow.KindAnalysis
	}

	return workflow.Analysis{Topics: topics, Kind: kind}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

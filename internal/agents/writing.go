package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AkhileshMalthi/taskflow/internal/llm"
	"github.com/AkhileshMalthi/taskflow/internal/workflow"
	"github.com/AkhileshMalthi/taskflow/internal/workspace"
)

// writingGoals holds the per-kind instructions appended to the shared
// drafting prompt.
var writingGoals = map[workflow.TaskKind]string{
	workflow.KindComparison: `Write a professional comparison summary that:
1. Highlights key differences between the subjects
2. Discusses strengths of each approach
3. Provides guidance on when to use each
4. Is concise but comprehensive (2-3 paragraphs)`,
	workflow.KindTutorial: `Write a clear step-by-step tutorial that:
1. Opens with the prerequisites a reader needs
2. Walks through the task in numbered steps
3. Calls out common pitfalls along the way
4. Closes with a short verification step`,
	workflow.KindAnalysis: `Write an in-depth analysis that:
1. Examines the subject from multiple angles
2. Weighs trade-offs with concrete reasoning
3. Backs claims with the research material provided
4. Ends with a clear assessment`,
	workflow.KindSummary: `Write a clear summary that:
1. Covers the essential points of each topic
2. Stays accessible to a technical audience
3. Is concise (1-2 paragraphs)`,
}

// Writer turns research material into a draft for human review.
type Writer struct {
	model llm.ChatModel
	ws    workspace.Store
}

// NewWriter wires a writer backed by the given model and workspace.
func NewWriter(model llm.ChatModel, ws workspace.Store) *Writer {
	return &Writer{model: model, ws: ws}
}

// Run implements the writing stage. Research is read from state first
// and from the workspace when a resumed run arrives without it.
func (w *Writer) Run(ctx context.Context, s workflow.State) (workflow.State, error) {
	research := s.Research
	kind := workflow.KindSummary
	var topics []string
	if s.Analysis != nil {
		topics = s.Analysis.Topics
		if s.Analysis.Kind.Valid() {
			kind = s.Analysis.Kind
		}
	}

	if len(research) == 0 {
		fields, err := w.ws.Load(ctx, s.TaskID)
		if err != nil && !errors.Is(err, workspace.ErrNotFound) {
			return workflow.State{}, fmt.Errorf("load research from workspace: %w", err)
		}
		research = researchFromFields(fields)
		topics = topicsFromFields(fields)
		if k, ok := fields["task_kind"].(string); ok && workflow.TaskKind(k).Valid() {
			kind = workflow.TaskKind(k)
		}
	}

	if len(research) == 0 {
		return workflow.State{
			Draft: "Unable to produce a draft: no research material is available for this task.",
		}, nil
	}

	out, err := w.model.Chat(ctx, []llm.Message{
		llm.System("You are a technical writer producing polished drafts from research notes."),
		llm.User(draftPrompt(s.Prompt, kind, topics, research)),
	})
	if err != nil {
		return workflow.State{}, fmt.Errorf("generate draft: %w", err)
	}

	return workflow.State{Draft: strings.TrimSpace(out.Text)}, nil
}

// draftPrompt renders research sections in topic order so the same
// inputs always produce the same prompt. Research keyed by a topic the
// analyzer never listed is appended in sorted order.
func draftPrompt(prompt string, kind workflow.TaskKind, topics []string, research map[string]string) string {
	var sb strings.Builder
	seen := make(map[string]bool, len(research))
	for _, topic := range topics {
		material, ok := research[topic]
		if !ok {
			continue
		}
		seen[topic] = true
		fmt.Fprintf(&sb, "## %s Research:\n%s\n\n", topic, material)
	}
	extras := make([]string, 0, len(research))
	for topic := range research {
		if !seen[topic] {
			extras = append(extras, topic)
		}
	}
	sort.Strings(extras)
	for _, topic := range extras {
		fmt.Fprintf(&sb, "## %s Research:\n%s\n\n", topic, research[topic])
	}
	goal := writingGoals[kind]
	if goal == "" {
		goal = writingGoals[workflow.KindSummary]
	}
	return fmt.Sprintf(`Based on the following research, fulfil the original request.

%s## Original Request:
%s

%s

Draft:`, sb.String(), prompt, goal)
}

// topicsFromFields recovers the analyzer's topic list from a decoded
// workspace. The Redis store round-trips it through JSON as []any.
func topicsFromFields(fields map[string]any) []string {
	switch raw := fields["topics"].(type) {
	case []string:
		return raw
	case []any:
		topics := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				topics = append(topics, s)
			}
		}
		return topics
	default:
		return nil
	}
}

// researchFromFields recovers the research map from a decoded workspace,
// where JSON round-tripping turned it into map[string]any.
func researchFromFields(fields map[string]any) map[string]string {
	raw, ok := fields["research_results"].(map[string]any)
	if !ok {
		return nil
	}
	research := make(map[string]string, len(raw))
	for topic, v := range raw {
		if text, ok := v.(string); ok {
			research[topic] = text
		}
	}
	return research
}

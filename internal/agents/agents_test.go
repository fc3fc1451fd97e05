package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkhileshMalthi/taskflow/internal/llm"
	"github.com/AkhileshMalthi/taskflow/internal/workflow"
	"github.com/AkhileshMalthi/taskflow/internal/workspace"
)

func fastRetry() workflow.RetryPolicy {
	return workflow.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestAnalyzerParsesModelJSON(t *testing.T) {
	model := llm.NewMockModel(`{"topics":["Redis","PostgreSQL"],"task_kind":"comparison","context":"for a technical audience"}`)
	a := NewAnalyzer(model)

	got := a.Analyze(context.Background(), "Compare Redis and PostgreSQL")
	assert.Equal(t, []string{"Redis", "PostgreSQL"}, got.Topics)
	assert.Equal(t, workflow.KindComparison, got.Kind)
	assert.Equal(t, "for a technical audience", got.Context)
}

func TestAnalyzerStripsMarkdownFences(t *testing.T) {
	model := llm.NewMockModel("```json\n{\"topics\":[\"Docker\"],\"task_kind\":\"tutorial\",\"context\":\"\"}\n```")
	a := NewAnalyzer(model)

	got := a.Analyze(context.Background(), "How to use Docker")
	assert.Equal(t, []string{"Docker"}, got.Topics)
	assert.Equal(t, workflow.KindTutorial, got.Kind)
}

func TestAnalyzerInvalidKindDefaultsToSummary(t *testing.T) {
	model := llm.NewMockModel(`{"topics":["Redis"],"task_kind":"poem","context":""}`)
	a := NewAnalyzer(model)

	got := a.Analyze(context.Background(), "Tell me about Redis")
	assert.Equal(t, workflow.KindSummary, got.Kind)
}

func TestAnalyzerFallbackOnModelError(t *testing.T) {
	model := llm.NewMockModel()
	model.FailWith(errors.New("provider down"))
	a := NewAnalyzer(model)

	got := a.Analyze(context.Background(), "Compare LangGraph vs CrewAI for agent workflows")
	assert.Equal(t, []string{"LangGraph", "CrewAI"}, got.Topics)
	assert.Equal(t, workflow.KindComparison, got.Kind)
}

func TestAnalyzerFallbackOnGarbageOutput(t *testing.T) {
	model := llm.NewMockModel("sure! here are some thoughts about kubernetes...")
	a := NewAnalyzer(model)

	got := a.Analyze(context.Background(), "How to deploy on Kubernetes, step by step")
	assert.Equal(t, []string{"Kubernetes"}, got.Topics)
	assert.Equal(t, workflow.KindTutorial, got.Kind)
}

func TestAnalyzerFallbackDefaults(t *testing.T) {
	model := llm.NewMockModel("not json")
	a := NewAnalyzer(model)

	got := a.Analyze(context.Background(), "Tell me something interesting")
	assert.Equal(t, []string{"general topic"}, got.Topics)
	assert.Equal(t, workflow.KindSummary, got.Kind)
}

func TestSimulatedSearchKnownTopic(t *testing.T) {
	tool := NewSimulatedSearch()

	out, err := tool.Search(context.Background(), "Redis", "Redis in the context of: caching")
	require.NoError(t, err)
	assert.Contains(t, out, "Redis")
}

func TestSimulatedSearchUnknownTopic(t *testing.T) {
	tool := NewSimulatedSearch()

	out, err := tool.Search(context.Background(), "Zig", "Zig in the context of: systems")
	require.NoError(t, err)
	assert.Contains(t, out, "Zig")
}

func TestSimulatedSearchFlakyFailsOnceThenSucceeds(t *testing.T) {
	tool := NewSimulatedSearch()
	topic := "Redis " + FlakyMarker

	_, err := tool.Search(context.Background(), topic, "q")
	require.Error(t, err)

	out, err := tool.Search(context.Background(), topic, "q")
	require.NoError(t, err)
	assert.Contains(t, out, "attempt 2")

	// Flakiness is per topic.
	_, err = tool.Search(context.Background(), "Other "+FlakyMarker, "q")
	require.Error(t, err)
}

func TestResearcherGathersPerTopic(t *testing.T) {
	ctx := context.Background()
	ws := workspace.NewMemStore()
	model := llm.NewMockModel(`{"topics":["Redis","PostgreSQL"],"task_kind":"comparison","context":""}`)
	r := NewResearcher(NewAnalyzer(model), NewSimulatedSearch(), ws, fastRetry(), nil)

	delta, err := r.Run(ctx, workflow.State{TaskID: "t1", Prompt: "Compare Redis and PostgreSQL"})
	require.NoError(t, err)

	require.NotNil(t, delta.Analysis)
	assert.Equal(t, workflow.KindComparison, delta.Analysis.Kind)
	assert.Contains(t, delta.Research["Redis"], "Redis")
	assert.Contains(t, delta.Research["PostgreSQL"], "PostgreSQL")

	fields, err := ws.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "comparison", fields["task_kind"])
	results, ok := fields["research_results"].(map[string]string)
	require.True(t, ok)
	assert.Len(t, results, 2)
}

func TestResearcherRetriesFlakyTopic(t *testing.T) {
	ctx := context.Background()
	topic := "general " + FlakyMarker
	model := llm.NewMockModel(`{"topics":["` + topic + `"],"task_kind":"summary","context":""}`)
	r := NewResearcher(NewAnalyzer(model), NewSimulatedSearch(), workspace.NewMemStore(), fastRetry(), nil)

	delta, err := r.Run(ctx, workflow.State{TaskID: "t1", Prompt: "anything"})
	require.NoError(t, err)
	assert.Contains(t, delta.Research[topic], "attempt 2")
}

func TestResearcherMarksExhaustedTopic(t *testing.T) {
	ctx := context.Background()
	model := llm.NewMockModel(`{"topics":["Redis"],"task_kind":"summary","context":""}`)
	tool := failingTool{err: errors.New("search backend down")}
	r := NewResearcher(NewAnalyzer(model), tool, workspace.NewMemStore(), fastRetry(), nil)

	delta, err := r.Run(ctx, workflow.State{TaskID: "t1", Prompt: "Tell me about Redis"})
	require.NoError(t, err)
	assert.Contains(t, delta.Research["Redis"], "research unavailable")
	assert.Contains(t, delta.Research["Redis"], "search backend down")
}

type failingTool struct{ err error }

func (f failingTool) Search(context.Context, string, string) (string, error) {
	return "", f.err
}

func TestWriterDraftsFromState(t *testing.T) {
	ctx := context.Background()
	model := llm.NewMockModel("Redis and PostgreSQL serve different needs.")
	w := NewWriter(model, workspace.NewMemStore())

	delta, err := w.Run(ctx, workflow.State{
		TaskID:   "t1",
		Prompt:   "Compare Redis and PostgreSQL",
		Analysis: &workflow.Analysis{Topics: []string{"Redis", "PostgreSQL"}, Kind: workflow.KindComparison},
		Research: map[string]string{"Redis": "cache notes", "PostgreSQL": "database notes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Redis and PostgreSQL serve different needs.", delta.Draft)

	prompt := model.LastPrompt()
	assert.Contains(t, prompt, "cache notes")
	assert.Contains(t, prompt, "database notes")
	assert.Contains(t, prompt, "comparison summary")
}

func TestWriterFallsBackToWorkspace(t *testing.T) {
	ctx := context.Background()
	ws := workspace.NewMemStore()
	require.NoError(t, ws.Save(ctx, "t1", map[string]any{
		"task_kind":        "tutorial",
		"research_results": map[string]any{"Docker": "container notes"},
	}))

	model := llm.NewMockModel("Step 1: install Docker.")
	w := NewWriter(model, ws)

	delta, err := w.Run(ctx, workflow.State{TaskID: "t1", Prompt: "How to use Docker"})
	require.NoError(t, err)
	assert.Equal(t, "Step 1: install Docker.", delta.Draft)
	assert.Contains(t, model.LastPrompt(), "container notes")
	assert.Contains(t, model.LastPrompt(), "step-by-step tutorial")
}

func TestDraftPromptOrdersSectionsByTopic(t *testing.T) {
	topics := []string{"Redis", "PostgreSQL", "Docker"}
	research := map[string]string{
		"Docker":     "container notes",
		"PostgreSQL": "database notes",
		"Redis":      "cache notes",
		"Zookeeper":  "coordination notes",
		"Kafka":      "streaming notes",
	}

	first := draftPrompt("compare them", workflow.KindComparison, topics, research)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, draftPrompt("compare them", workflow.KindComparison, topics, research))
	}

	// Sections follow the analyzer's topic order, then any research
	// keyed outside it in sorted order.
	var offsets []int
	for _, topic := range []string{"Redis", "PostgreSQL", "Docker", "Kafka", "Zookeeper"} {
		idx := strings.Index(first, "## "+topic+" Research:")
		require.GreaterOrEqual(t, idx, 0, topic)
		offsets = append(offsets, idx)
	}
	assert.IsIncreasing(t, offsets)
}

func TestWriterPromptIsStableAfterWorkspaceRestore(t *testing.T) {
	ctx := context.Background()
	ws := workspace.NewMemStore()
	// JSON round-tripping in the Redis store decodes lists as []any.
	require.NoError(t, ws.Save(ctx, "t1", map[string]any{
		"task_kind": "comparison",
		"topics":    []any{"Redis", "PostgreSQL"},
		"research_results": map[string]any{
			"PostgreSQL": "database notes",
			"Redis":      "cache notes",
		},
	}))

	model := llm.NewMockModel("a draft")
	w := NewWriter(model, ws)

	_, err := w.Run(ctx, workflow.State{TaskID: "t1", Prompt: "compare"})
	require.NoError(t, err)
	first := model.LastPrompt()
	assert.Less(t, strings.Index(first, "## Redis Research:"), strings.Index(first, "## PostgreSQL Research:"))

	for i := 0; i < 10; i++ {
		_, err := w.Run(ctx, workflow.State{TaskID: "t1", Prompt: "compare"})
		require.NoError(t, err)
		assert.Equal(t, first, model.LastPrompt())
	}
}

func TestWriterWithoutResearchExplainsItself(t *testing.T) {
	model := llm.NewMockModel("unused")
	w := NewWriter(model, workspace.NewMemStore())

	delta, err := w.Run(context.Background(), workflow.State{TaskID: "t1", Prompt: "anything"})
	require.NoError(t, err)
	assert.True(t, strings.Contains(delta.Draft, "no research material"))
	assert.Empty(t, model.Calls())
}

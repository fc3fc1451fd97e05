package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AkhileshMalthi/taskflow/internal/workflow"
	"github.com/AkhileshMalthi/taskflow/internal/workspace"
)

// Researcher analyzes the prompt and gathers material for each topic,
// persisting its findings to the shared workspace for the writer.
type Researcher struct {
	analyzer *Analyzer
	tool     ResearchTool
	ws       workspace.Store
	retry    workflow.RetryPolicy
	log      *slog.Logger
}

// NewResearcher wires a researcher. A zero retry policy gets the
// default of three attempts with exponential backoff.
func NewResearcher(analyzer *Analyzer, tool ResearchTool, ws workspace.Store, retry workflow.RetryPolicy, log *slog.Logger) *Researcher {
	if retry.MaxAttempts == 0 {
		retry = workflow.DefaultRetryPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Researcher{analyzer: analyzer, tool: tool, ws: ws, retry: retry, log: log}
}

// Run implements the research stage. Each topic's lookup is retried
// independently; a topic that still fails after retries keeps a textual
// marker in its slot so the writer can acknowledge the gap rather than
// the whole task dying.
func (r *Researcher) Run(ctx context.Context, s workflow.State) (workflow.State, error) {
	analysis := s.Analysis
	if analysis == nil {
		a := r.analyzer.Analyze(ctx, s.Prompt)
		analysis = &a
	}

	results := make(map[string]string, len(analysis.Topics))
	for _, topic := range analysis.Topics {
		query := fmt.Sprintf("%s in the context of: %s", topic, s.Prompt)
		material, err := workflow.Retry(ctx, r.retry, func(ctx context.Context) (string, error) {
			return r.tool.Search(ctx, topic, query)
		})
		if err != nil {
			if ctx.Err() != nil {
				return workflow.State{}, ctx.Err()
			}
			r.log.Warn("topic research exhausted retries",
				"task_id", s.TaskID, "topic", topic, "error", err)
			results[topic] = fmt.Sprintf("research unavailable: %v", err)
			continue
		}
		results[topic] = material
	}

	fields := map[string]any{
		"topics":           analysis.Topics,
		"task_kind":        string(analysis.Kind),
		"context":          analysis.Context,
		"research_results": results,
	}
	if err := r.ws.Save(ctx, s.TaskID, fields); err != nil {
		return workflow.State{}, fmt.Errorf("save research to workspace: %w", err)
	}

	return workflow.State{Analysis: analysis, Research: results}, nil
}

// Package workflow implements the durable, interruptible stage graph
// engine that drives a task from prompt analysis through research,
// drafting, human approval and finalization.
//
// The graph is fixed:
//
//	research → writing → approval ─approved─→ finalize
//	                           └──rejected──→ rejected
//
// Stages are pure functions from State to a partial State (a delta)
// that the engine merges forward. The approval stage is the single
// suspension point: the engine checkpoints and returns a suspension
// descriptor instead of blocking, and a later Resume call continues
// from the checkpoint with the approval payload injected.
package workflow

// TaskKind classifies a prompt and selects the output template used by
// the writing stage.
type TaskKind string

// Task kinds recognized by the prompt analyzer.
const (
	KindComparison TaskKind = "comparison"
	KindTutorial   TaskKind = "tutorial"
	KindAnalysis   TaskKind = "analysis"
	KindSummary    TaskKind = "summary"
)

// Valid reports whether k is one of the recognized task kinds.
func (k TaskKind) Valid() bool {
	switch k {
	case KindComparison, KindTutorial, KindAnalysis, KindSummary:
		return true
	}
	return false
}

// Analysis is the structured output of the prompt-analysis step:
// the topics to research, the kind of deliverable requested, and any
// extra requirements captured from the prompt.
type Analysis struct {
	// Topics lists the subjects to research, in prompt order. The
	// order is preserved through merges so rendered output is
	// deterministic.
	Topics []string `json:"topics"`

	// Kind selects the writing template.
	Kind TaskKind `json:"task_kind"`

	// Context carries requirements such as audience or tone.
	Context string `json:"context,omitempty"`
}

// Approval is the payload delivered when a suspended workflow resumes.
type Approval struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// State is the mutable value that flows through the stage graph. It is
// owned by whichever stage is currently running and is persisted as a
// checkpoint at every stage boundary, so it must round-trip through
// JSON.
type State struct {
	TaskID string `json:"task_id"`
	Prompt string `json:"prompt"`

	// Analysis is set by the research stage.
	Analysis *Analysis `json:"analysis,omitempty"`

	// Research maps topic text to findings text. Keys are unique;
	// ordering for rendering comes from Analysis.Topics.
	Research map[string]string `json:"research_results,omitempty"`

	// Draft is produced by the writing stage.
	Draft string `json:"draft,omitempty"`

	// Approval is set when the workflow resumes from suspension.
	Approval *Approval `json:"approval,omitempty"`

	// Result is set by the finalize stage.
	Result string `json:"result,omitempty"`
}

// Merge applies a stage delta to the previous state and returns the
// combined state. Scalar fields overwrite when non-zero, the research
// map is union-merged (new keys added, existing keys overwritten), and
// topic ordering from the analysis is preserved.
func Merge(prev, delta State) State {
	if delta.TaskID != "" {
		prev.TaskID = delta.TaskID
	}
	if delta.Prompt != "" {
		prev.Prompt = delta.Prompt
	}
	if delta.Analysis != nil {
		prev.Analysis = delta.Analysis
	}
	if len(delta.Research) > 0 {
		if prev.Research == nil {
			prev.Research = make(map[string]string, len(delta.Research))
		}
		for topic, findings := range delta.Research {
			prev.Research[topic] = findings
		}
	}
	if delta.Draft != "" {
		prev.Draft = delta.Draft
	}
	if delta.Approval != nil {
		prev.Approval = delta.Approval
	}
	if delta.Result != "" {
		prev.Result = delta.Result
	}
	return prev
}

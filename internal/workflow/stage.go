package workflow

import "context"

// Stage names a unit of execution in the workflow graph. Each stage
// runs to completion before the next begins.
type Stage string

// The fixed stage topology. StageApproval is the only suspension
// point; StageFinalize and StageRejected are terminal.
const (
	StageResearch Stage = "research"
	StageWriting  Stage = "writing"
	StageApproval Stage = "approval"
	StageFinalize Stage = "finalize"
	StageRejected Stage = "rejected"
)

// transitions is the unconditional part of the graph. The approval
// stage routes by the resume payload instead (see routeApproval).
var transitions = map[Stage]Stage{
	StageResearch: StageWriting,
	StageWriting:  StageApproval,
}

// routeApproval picks the stage that follows approval.
func routeApproval(a Approval) Stage {
	if a.Approved {
		return StageFinalize
	}
	return StageRejected
}

// terminal reports whether s ends the workflow.
func terminal(s Stage) bool {
	return s == StageFinalize || s == StageRejected
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageResearch, StageWriting, StageApproval, StageFinalize, StageRejected:
		return true
	}
	return false
}

// StageFunc executes one stage against the current state and returns a
// delta that the engine merges forward. Stages must be safe to
// re-execute from their entry checkpoint: a crash mid-stage re-runs
// the stage from the last checkpoint on restart.
type StageFunc func(ctx context.Context, s State) (State, error)

package plan

import "time"

// Op is one planner operation. The set is closed: Planner.Do matches the
// concrete types exhaustively and rejects anything else as a programming
// error.
type Op interface {
	isOp()
}

// CreatePlan builds a plan from the given tasks, schedules and levels it,
// and opens a session for it.
type CreatePlan struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Tasks       []*PlannedTask
}

// DecomposeTask scores a task's complexity and, above the threshold,
// splits it into sequential phases.
type DecomposeTask struct {
	Task *PlannedTask
}

// UpdatePlan applies task additions, patches and removals to a session's
// plan, then re-optimizes it. The update is transactional: a structural
// failure leaves the session untouched.
type UpdatePlan struct {
	SessionID string
	Add       []*PlannedTask
	Update    map[string]TaskPatch
	Remove    []string
}

// AnalyzeDependencies reports graph statistics, the critical path and
// resource conflicts for a session's plan.
type AnalyzeDependencies struct {
	SessionID string
}

func (CreatePlan) isOp()          {}
func (DecomposeTask) isOp()       {}
func (UpdatePlan) isOp()          {}
func (AnalyzeDependencies) isOp() {}

// TaskPatch holds field updates for one planned task. Nil fields are left
// unchanged; non-nil slices replace the previous value.
type TaskPatch struct {
	Title        *string
	Description  *string
	Duration     *time.Duration
	Priority     *int
	Capabilities []string
	Dependencies []Dependency
	Resources    []ResourceRequirement
}

// PlanResult is the outcome of CreatePlan and UpdatePlan.
type PlanResult struct {
	SessionID string `json:"session_id"`
	Plan      *Plan  `json:"plan"`
}

// DecomposeResult is the outcome of DecomposeTask. Subtasks is empty when
// the score stays at or below the threshold.
type DecomposeResult struct {
	Parent   *PlannedTask   `json:"parent"`
	Subtasks []*PlannedTask `json:"subtasks,omitempty"`
	Score    float64        `json:"score"`
}

// Analysis is the outcome of AnalyzeDependencies.
type Analysis struct {
	CriticalPath      []string                 `json:"critical_path"`
	Makespan          time.Duration            `json:"makespan"`
	MaxDepth          int                      `json:"max_depth"`
	TotalDependencies int                      `json:"total_dependencies"`
	Conflicts         []Conflict               `json:"conflicts,omitempty"`
	Tasks             map[string]*TaskSchedule `json:"tasks"`
}

// PlanExport is a JSON-ready snapshot of a session and its analysis.
type PlanExport struct {
	Session  *Session  `json:"session"`
	Analysis *Analysis `json:"analysis"`
}

package plan

import (
	"time"
)

// Relation is the precedence semantics of a dependency edge.
type Relation string

const (
	FinishToStart  Relation = "finish_to_start"
	StartToStart   Relation = "start_to_start"
	FinishToFinish Relation = "finish_to_finish"
	StartToFinish  Relation = "start_to_finish"
)

// Dependency is one incoming edge of a task: the referenced task must be
// scheduled relative to this one per the relation, shifted by the lag.
// Lag may be negative (overlap).
type Dependency struct {
	TaskID   string        `json:"task_id"`
	Relation Relation      `json:"relation"`
	Lag      time.Duration `json:"lag"`
}

// ResourceRequirement declares demand on a shared, capacity-limited
// resource. Used only for conflict detection and leveling, never for
// dependency ordering.
type ResourceRequirement struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount"`
	Unit     string  `json:"unit,omitempty"`
	Priority int     `json:"priority,omitempty"`
	Flexible bool    `json:"flexible,omitempty"`
}

// PlannedTask is a task as the planner sees it: estimated, related,
// resourced. Start and Finish are wall-clock times filled in by
// scheduling and possibly shifted by leveling.
type PlannedTask struct {
	ID           string                `json:"id"`
	Title        string                `json:"title"`
	Description  string                `json:"description,omitempty"`
	Duration     time.Duration         `json:"duration"`
	Priority     int                   `json:"priority"`
	Capabilities []string              `json:"capabilities,omitempty"`
	Dependencies []Dependency          `json:"dependencies,omitempty"`
	Resources    []ResourceRequirement `json:"resources,omitempty"`
	Start        time.Time             `json:"start"`
	Finish       time.Time             `json:"finish"`
}

// PlanStatus tracks a plan through its lifecycle.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanScheduled PlanStatus = "scheduled"
)

// Plan is a titled set of planned tasks with wall-clock bounds.
type Plan struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Tasks       []*PlannedTask `json:"tasks"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Status      PlanStatus     `json:"status"`
}

// SessionStatus tracks a planning session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session is one planning conversation: a plan plus bookkeeping. Sessions
// live in the planner's arena, never in a package global.
type Session struct {
	ID        string        `json:"id"`
	Plan      *Plan         `json:"plan"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func clonePlannedTask(t *PlannedTask) *PlannedTask {
	if t == nil {
		return nil
	}

	cp := *t
	if t.Capabilities != nil {
		cp.Capabilities = append([]string(nil), t.Capabilities...)
	}
	if t.Dependencies != nil {
		cp.Dependencies = append([]Dependency(nil), t.Dependencies...)
	}
	if t.Resources != nil {
		cp.Resources = append([]ResourceRequirement(nil), t.Resources...)
	}
	return &cp
}

func clonePlan(p *Plan) *Plan {
	if p == nil {
		return nil
	}

	cp := *p
	cp.Tasks = make([]*PlannedTask, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		cp.Tasks = append(cp.Tasks, clonePlannedTask(t))
	}
	return &cp
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}

	cp := *s
	cp.Plan = clonePlan(s.Plan)
	return &cp
}

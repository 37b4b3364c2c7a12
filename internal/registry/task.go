package registry

import (
	"time"
)

// Status represents the lifecycle state of a task.
type Status int

const (
	StatusPending   Status = iota // Queued, waiting for assignment
	StatusAssigned                // Owned by an agent, in flight
	StatusCompleted               // Finished successfully
	StatusFailed                  // Finished with an error
	StatusCancelled               // Withdrawn before reaching a terminal result
)

// String returns the lowercase wire/storage form of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAssigned:
		return "assigned"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus maps a stored status string back to its Status value.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "pending":
		return StatusPending, true
	case "assigned":
		return StatusAssigned, true
	case "completed":
		return StatusCompleted, true
	case "failed":
		return StatusFailed, true
	case "cancelled":
		return StatusCancelled, true
	}
	return StatusPending, false
}

// Priority orders tasks in the pending queue. Higher levels are assigned first;
// equal levels keep insertion order.
type Priority struct {
	Level    int       `json:"level"`
	Deadline time.Time `json:"deadline"`
}

// Requirements describe what a task demands from the agent that runs it.
type Requirements struct {
	Capabilities Capabilities  `json:"capabilities,omitempty"`
	MinMemoryMB  int           `json:"min_memory_mb,omitempty"`
	MinCPU       float64       `json:"min_cpu,omitempty"`
	MaxDuration  time.Duration `json:"max_duration,omitempty"`
}

// Result is the terminal outcome reported for a task.
type Result struct {
	Success     bool           `json:"success"`
	Data        map[string]any `json:"data,omitempty"`
	Err         string         `json:"error,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// TaskSpec describes a task to be created.
type TaskSpec struct {
	Type         string
	Description  string
	Requirements Requirements
	Priority     Priority
	Parent       string // optional parent task ID
}

// Task is a unit of schedulable work.
type Task struct {
	ID           string
	Type         string
	Description  string
	Requirements Requirements
	Priority     Priority
	Status       Status
	AgentID      string // empty while unassigned; retains the last owner afterwards
	Result       *Result
	CreatedAt    time.Time
	StartedAt    time.Time // zero until assigned
	Parent       string    // empty for top-level tasks
	Subtasks     []string  // ordered subtask IDs
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}

	cp := *t
	cp.Requirements.Capabilities = t.Requirements.Capabilities.Clone()
	if t.Subtasks != nil {
		cp.Subtasks = append([]string(nil), t.Subtasks...)
	}
	if t.Result != nil {
		res := *t.Result
		cp.Result = &res
	}
	return &cp
}

package plan

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DecomposeThreshold is the complexity score above which DecomposeTask
// splits a task into phases.
const DecomposeThreshold = 0.7

// SessionStore persists session snapshots. The planner treats persistence
// as best-effort: save failures are logged, never turned into plan
// failures.
type SessionStore interface {
	SaveSession(ctx context.Context, s *Session) error
}

// Options configures a Planner.
type Options struct {
	// Capacities maps resource types to their capacity for conflict
	// detection. Unlisted types default to 1.0.
	Capacities map[string]float64

	// MaxAdvances caps the leveling slot search. Zero means the default.
	MaxAdvances int

	// Store receives session snapshots on create, update and close. Nil
	// disables persistence.
	Store SessionStore
}

// Planner owns the session arena and executes the typed planning
// operations.
type Planner struct {
	arena      *Arena
	capacities map[string]float64
	levelOpts  LevelOptions
	store      SessionStore
}

// NewPlanner creates a planner with an empty arena.
func NewPlanner(opts Options) *Planner {
	return &Planner{
		arena:      NewArena(),
		capacities: opts.Capacities,
		levelOpts:  LevelOptions{MaxAdvances: opts.MaxAdvances},
		store:      opts.Store,
	}
}

// Do executes one operation. The operation set is closed; an unknown
// concrete type is a programming error, not a fallback path.
func (p *Planner) Do(ctx context.Context, op Op) (any, error) {
	switch op := op.(type) {
	case CreatePlan:
		return p.CreatePlan(ctx, op)
	case DecomposeTask:
		return p.Decompose(ctx, op)
	case UpdatePlan:
		return p.UpdatePlan(ctx, op)
	case AnalyzeDependencies:
		return p.Analyze(ctx, op)
	default:
		return nil, fmt.Errorf("unknown planner operation %T", op)
	}
}

// CreatePlan schedules the given tasks into a new plan and opens a session
// for it. Tasks without ids get generated ones; tasks referencing each
// other must carry explicit ids.
func (p *Planner) CreatePlan(ctx context.Context, op CreatePlan) (*PlanResult, error) {
	start := op.Start
	if start.IsZero() {
		start = time.Now()
	}

	pl := &Plan{
		ID:          uuid.NewString(),
		Title:       op.Title,
		Description: op.Description,
		Start:       start,
		End:         op.End,
		Status:      PlanDraft,
	}
	for _, t := range op.Tasks {
		ct := clonePlannedTask(t)
		if ct.ID == "" {
			ct.ID = uuid.NewString()
		}
		pl.Tasks = append(pl.Tasks, ct)
	}

	if err := p.optimize(pl); err != nil {
		return nil, fmt.Errorf("plan %q: %w", op.Title, err)
	}
	pl.Status = PlanScheduled

	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		Plan:      pl,
		Status:    SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.arena.Put(s)
	p.saveSession(ctx, cloneSession(s))

	return &PlanResult{SessionID: s.ID, Plan: clonePlan(pl)}, nil
}

// Decompose scores the task's complexity and, above the threshold, splits
// it into research, implementation and testing phases chained
// finish_to_start. At or below the threshold the task stays whole.
func (p *Planner) Decompose(_ context.Context, op DecomposeTask) (*DecomposeResult, error) {
	if op.Task == nil {
		return nil, fmt.Errorf("decompose: no task given")
	}

	parent := clonePlannedTask(op.Task)
	if parent.ID == "" {
		parent.ID = uuid.NewString()
	}

	res := &DecomposeResult{Parent: parent, Score: complexityScore(parent)}
	if res.Score <= DecomposeThreshold {
		return res, nil
	}

	phases := []struct {
		name         string
		share        float64
		capabilities []string
	}{
		{"research", 0.2, []string{"research"}},
		{"implementation", 0.6, parent.Capabilities},
		{"testing", 0.2, []string{"testing"}},
	}

	prev := ""
	for _, ph := range phases {
		sub := &PlannedTask{
			ID:           uuid.NewString(),
			Title:        fmt.Sprintf("%s (%s)", parent.Title, ph.name),
			Description:  fmt.Sprintf("%s phase of %s", ph.name, parent.Title),
			Duration:     time.Duration(float64(parent.Duration) * ph.share),
			Priority:     parent.Priority,
			Capabilities: append([]string(nil), ph.capabilities...),
		}
		if prev != "" {
			sub.Dependencies = []Dependency{{TaskID: prev, Relation: FinishToStart}}
		}
		prev = sub.ID
		res.Subtasks = append(res.Subtasks, sub)
	}
	return res, nil
}

// complexityScore weighs capability spread, resource spread, duration
// against an eight-hour reference, and description length, capped at 1.
func complexityScore(t *PlannedTask) float64 {
	score := 0.2*float64(len(t.Capabilities)) +
		0.15*float64(len(t.Resources)) +
		0.3*(t.Duration.Hours()/8) +
		0.01*float64(len(strings.Fields(t.Description)))
	if score > 1 {
		score = 1
	}
	return score
}

// UpdatePlan applies additions, patches and removals to a session's plan
// and re-optimizes it. The work happens on a copy; the session only takes
// the new plan when every step succeeded.
func (p *Planner) UpdatePlan(ctx context.Context, op UpdatePlan) (*PlanResult, error) {
	var snap *Plan
	err := p.arena.Update(op.SessionID, func(s *Session) error {
		pl := clonePlan(s.Plan)

		for _, t := range op.Add {
			ct := clonePlannedTask(t)
			if ct.ID == "" {
				ct.ID = uuid.NewString()
			}
			pl.Tasks = append(pl.Tasks, ct)
		}

		for id, patch := range op.Update {
			task := findTask(pl, id)
			if task == nil {
				return fmt.Errorf("task %q: %w", id, ErrNotFound)
			}
			applyPatch(task, patch)
		}

		if len(op.Remove) > 0 {
			removed := make(map[string]bool, len(op.Remove))
			for _, id := range op.Remove {
				removed[id] = true
			}
			var kept []*PlannedTask
			for _, t := range pl.Tasks {
				if removed[t.ID] {
					continue
				}
				// Edges into removed tasks go with them, so the plan
				// stays buildable.
				var deps []Dependency
				for _, d := range t.Dependencies {
					if !removed[d.TaskID] {
						deps = append(deps, d)
					}
				}
				t.Dependencies = deps
				kept = append(kept, t)
			}
			pl.Tasks = kept
		}

		if err := p.optimize(pl); err != nil {
			return err
		}

		s.Plan = pl
		s.UpdatedAt = time.Now()
		snap = clonePlan(pl)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s, ok := p.arena.Snapshot(op.SessionID); ok {
		p.saveSession(ctx, s)
	}
	return &PlanResult{SessionID: op.SessionID, Plan: snap}, nil
}

// Analyze builds the dependency graph for a session's plan and reports the
// critical path, conflicts and graph statistics.
func (p *Planner) Analyze(_ context.Context, op AnalyzeDependencies) (*Analysis, error) {
	s, ok := p.arena.Snapshot(op.SessionID)
	if !ok {
		return nil, fmt.Errorf("session %q: %w", op.SessionID, ErrNotFound)
	}
	return p.analyzePlan(s.Plan)
}

func (p *Planner) analyzePlan(pl *Plan) (*Analysis, error) {
	g, err := BuildGraph(pl.Tasks)
	if err != nil {
		return nil, err
	}
	sched, err := ComputeSchedule(g, pl.Start)
	if err != nil {
		return nil, err
	}
	return &Analysis{
		CriticalPath:      sched.CriticalPath,
		Makespan:          sched.Makespan,
		MaxDepth:          g.MaxDepth(),
		TotalDependencies: g.TotalDependencies(),
		Conflicts:         DetectConflicts(pl.Tasks, p.capacities),
		Tasks:             sched.Tasks,
	}, nil
}

// ExportPlan returns a JSON-ready snapshot of a session with its analysis.
func (p *Planner) ExportPlan(sessionID string) (*PlanExport, error) {
	s, ok := p.arena.Snapshot(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	analysis, err := p.analyzePlan(s.Plan)
	if err != nil {
		return nil, err
	}
	return &PlanExport{Session: s, Analysis: analysis}, nil
}

// CloseSession marks a session closed, persists the final snapshot, and
// removes it from the arena.
func (p *Planner) CloseSession(ctx context.Context, sessionID string) error {
	var closed *Session
	err := p.arena.Update(sessionID, func(s *Session) error {
		s.Status = SessionClosed
		s.UpdatedAt = time.Now()
		closed = cloneSession(s)
		return nil
	})
	if err != nil {
		return err
	}
	p.arena.Delete(sessionID)
	p.saveSession(ctx, closed)
	return nil
}

// Session returns a snapshot of one live session.
func (p *Planner) Session(id string) (*Session, bool) {
	return p.arena.Snapshot(id)
}

// Sessions returns the live session ids in sorted order.
func (p *Planner) Sessions() []string {
	return p.arena.IDs()
}

// Restore puts a previously saved session back into the arena. Closed
// sessions are ignored.
func (p *Planner) Restore(s *Session) {
	if s == nil || s.Status != SessionActive {
		return
	}
	p.arena.Put(cloneSession(s))
}

// optimize schedules the plan's tasks from the dependency graph, anchors
// them to the plan start, then levels resource contention. Plan bounds
// stretch to cover the final placements.
func (p *Planner) optimize(pl *Plan) error {
	g, err := BuildGraph(pl.Tasks)
	if err != nil {
		return err
	}
	sched, err := ComputeSchedule(g, pl.Start)
	if err != nil {
		return err
	}
	for _, t := range pl.Tasks {
		ts := sched.Tasks[t.ID]
		t.Start = ts.Start
		t.Finish = ts.Finish
	}
	if err := Level(pl.Tasks, p.levelOpts); err != nil {
		return err
	}

	end := pl.End
	for _, t := range pl.Tasks {
		if t.Finish.After(end) {
			end = t.Finish
		}
	}
	pl.End = end
	return nil
}

func findTask(pl *Plan, id string) *PlannedTask {
	for _, t := range pl.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func applyPatch(t *PlannedTask, patch TaskPatch) {
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Duration != nil {
		t.Duration = *patch.Duration
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.Capabilities != nil {
		t.Capabilities = append([]string(nil), patch.Capabilities...)
	}
	if patch.Dependencies != nil {
		t.Dependencies = append([]Dependency(nil), patch.Dependencies...)
	}
	if patch.Resources != nil {
		t.Resources = append([]ResourceRequirement(nil), patch.Resources...)
	}
}

func (p *Planner) saveSession(ctx context.Context, s *Session) {
	if p.store == nil || s == nil {
		return
	}
	if err := p.store.SaveSession(ctx, s); err != nil {
		log.Printf("WARNING: failed to save session %s: %v", s.ID, err)
	}
}

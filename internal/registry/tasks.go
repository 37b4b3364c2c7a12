package registry

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djh00t/steve/internal/events"
)

// defaultMaxDuration bounds task execution when a TaskSpec leaves
// MaxDuration unset.
const defaultMaxDuration = time.Hour

// CreateTask allocates a pending task and appends it to the priority queue.
// When spec.Parent is set it must name an existing task.
func (r *Registry) CreateTask(spec TaskSpec) (string, error) {
	r.mu.Lock()
	t, err := r.createLocked(spec)
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	snap := cloneTask(t)
	r.mu.Unlock()

	r.publish(events.TopicTask, events.TaskQueuedEvent{
		ID:        snap.ID,
		Type:      snap.Type,
		Priority:  snap.Priority.Level,
		Timestamp: snap.CreatedAt,
	})
	r.persistTask(snap)
	return snap.ID, nil
}

func (r *Registry) createLocked(spec TaskSpec) (*Task, error) {
	if spec.Parent != "" {
		if _, ok := r.tasks[spec.Parent]; !ok {
			return nil, fmt.Errorf("parent task %q: %w", spec.Parent, ErrNotFound)
		}
	}

	if spec.Requirements.MaxDuration <= 0 {
		spec.Requirements.MaxDuration = defaultMaxDuration
	}

	t := &Task{
		ID:           uuid.NewString(),
		Type:         spec.Type,
		Description:  spec.Description,
		Requirements: spec.Requirements,
		Priority:     spec.Priority,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
		Parent:       spec.Parent,
	}
	// Detach from the caller's spec so later mutation cannot reach the table.
	t.Requirements.Capabilities = spec.Requirements.Capabilities.Clone()

	r.tasks[t.ID] = t
	r.queue = append(r.queue, t.ID)
	r.sortQueueLocked()
	return t, nil
}

// Task returns a snapshot of the task with the given ID.
func (r *Registry) Task(taskID string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", taskID, ErrNotFound)
	}
	return cloneTask(t), nil
}

// TaskStatus returns the current status of a task.
func (r *Registry) TaskStatus(taskID string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return StatusPending, fmt.Errorf("task %q: %w", taskID, ErrNotFound)
	}
	return t.Status, nil
}

// TaskResult returns the recorded result of a task, or nil when none exists yet.
func (r *Registry) TaskResult(taskID string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", taskID, ErrNotFound)
	}
	if t.Result == nil {
		return nil, nil
	}
	res := *t.Result
	return &res, nil
}

// Assign moves a queued task to the given agent. It returns false when the
// task is absent or no longer queued, or when the agent is absent, inactive
// or out of capacity. The dequeue and the capacity check share one critical
// section, so concurrent scheduler passes can never overbook an agent.
func (r *Registry) Assign(taskID, agentID string) bool {
	r.mu.Lock()

	t, ok := r.tasks[taskID]
	if !ok || t.Status != StatusPending {
		r.mu.Unlock()
		return false
	}
	agent, ok := r.agents[agentID]
	if !ok || !agent.Active || agent.FreeSlots() <= 0 {
		r.mu.Unlock()
		return false
	}
	if !r.dequeueLocked(taskID) {
		r.mu.Unlock()
		return false
	}

	now := time.Now()
	t.Status = StatusAssigned
	t.AgentID = agentID
	t.StartedAt = now
	agent.Current = append(agent.Current, taskID)

	taskSnap := cloneTask(t)
	agentSnap := cloneAgent(agent)
	r.mu.Unlock()

	r.publish(events.TopicTask, events.TaskAssignedEvent{
		ID:        taskID,
		AgentID:   agentID,
		Timestamp: now,
	})
	r.persistTask(taskSnap)
	r.persistAgent(agentSnap)
	return true
}

// Complete records a terminal result for a task. Returns false when the task
// is unknown or already terminal; terminal states are final. The task is
// released from its agent so the slot frees up. When the completed task has a
// parent whose every subtask is now completed, the parent is marked completed
// too. The parent check runs single level per call and repeats on every
// subtask completion, so out-of-order completion is handled.
func (r *Registry) Complete(taskID string, res Result) bool {
	r.mu.Lock()

	t, ok := r.tasks[taskID]
	if !ok || t.Status.Terminal() {
		r.mu.Unlock()
		return false
	}

	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}
	if res.Success {
		t.Status = StatusCompleted
	} else {
		t.Status = StatusFailed
	}
	t.Result = &res
	r.dequeueLocked(taskID) // a result can arrive for a still-queued task
	agentID := t.AgentID
	r.releaseFromAgentLocked(t)

	taskSnaps := []*Task{cloneTask(t)}
	var agentSnaps []*Agent
	if a, ok := r.agents[agentID]; ok {
		agentSnaps = append(agentSnaps, cloneAgent(a))
	}

	var evs []events.Event
	if res.Success {
		evs = append(evs, events.TaskCompletedEvent{ID: taskID, AgentID: agentID, Timestamp: res.CompletedAt})
	} else {
		evs = append(evs, events.TaskFailedEvent{ID: taskID, AgentID: agentID, Reason: res.Err, Timestamp: res.CompletedAt})
	}

	if t.Status == StatusCompleted && t.Parent != "" {
		if parent, ok := r.tasks[t.Parent]; ok && !parent.Status.Terminal() && len(parent.Subtasks) > 0 {
			done := true
			for _, subID := range parent.Subtasks {
				sub, ok := r.tasks[subID]
				if !ok || sub.Status != StatusCompleted {
					done = false
					break
				}
			}
			if done {
				parent.Status = StatusCompleted
				r.dequeueLocked(parent.ID)
				parentAgent := parent.AgentID
				r.releaseFromAgentLocked(parent)
				taskSnaps = append(taskSnaps, cloneTask(parent))
				if a, ok := r.agents[parentAgent]; ok {
					agentSnaps = append(agentSnaps, cloneAgent(a))
				}
				evs = append(evs, events.TaskCompletedEvent{ID: parent.ID, AgentID: parentAgent, Timestamp: res.CompletedAt})
			}
		}
	}
	r.mu.Unlock()

	for _, ev := range evs {
		r.publish(events.TopicTask, ev)
	}
	for _, snap := range taskSnaps {
		r.persistTask(snap)
	}
	for _, snap := range agentSnaps {
		r.persistAgent(snap)
	}
	return true
}

// Cancel cancels a task and, depth-first, its whole subtask tree: children
// are cancelled before their parent, so a caller observes a fully-cancelled
// subtree when Cancel returns. Pending tasks leave the queue; assigned tasks
// release their agent slot. Returns false when the task is unknown or already
// terminal. Subtasks that already reached a terminal state keep it.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()

	root, ok := r.tasks[taskID]
	if !ok || root.Status.Terminal() {
		r.mu.Unlock()
		return false
	}

	// Walk the subtree iteratively; reversing the walk yields descendants
	// before ancestors without unbounded call recursion.
	walk := []string{taskID}
	seen := map[string]bool{taskID: true}
	for i := 0; i < len(walk); i++ {
		t, ok := r.tasks[walk[i]]
		if !ok {
			continue
		}
		for _, subID := range t.Subtasks {
			if !seen[subID] {
				seen[subID] = true
				walk = append(walk, subID)
			}
		}
	}

	now := time.Now()
	var taskSnaps []*Task
	var agentSnaps []*Agent
	var evs []events.Event
	for i := len(walk) - 1; i >= 0; i-- {
		t, ok := r.tasks[walk[i]]
		if !ok || t.Status.Terminal() {
			continue
		}
		r.dequeueLocked(t.ID)
		agentID := t.AgentID
		r.releaseFromAgentLocked(t)
		t.Status = StatusCancelled
		taskSnaps = append(taskSnaps, cloneTask(t))
		if a, ok := r.agents[agentID]; ok {
			agentSnaps = append(agentSnaps, cloneAgent(a))
		}
		evs = append(evs, events.TaskCancelledEvent{ID: t.ID, AgentID: agentID, Timestamp: now})
	}
	r.mu.Unlock()

	for _, ev := range evs {
		r.publish(events.TopicTask, ev)
	}
	for _, snap := range taskSnaps {
		r.persistTask(snap)
	}
	for _, snap := range agentSnaps {
		r.persistAgent(snap)
	}
	return true
}

// CreateSubtasks creates each spec as a subtask of parentID and appends the
// new IDs to the parent's subtask list, in order.
func (r *Registry) CreateSubtasks(parentID string, specs []TaskSpec) ([]string, error) {
	r.mu.Lock()

	parent, ok := r.tasks[parentID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("parent task %q: %w", parentID, ErrNotFound)
	}

	ids := make([]string, 0, len(specs))
	var snaps []*Task
	var evs []events.Event
	for _, spec := range specs {
		spec.Parent = parentID
		t, err := r.createLocked(spec)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		parent.Subtasks = append(parent.Subtasks, t.ID)
		ids = append(ids, t.ID)
		snaps = append(snaps, cloneTask(t))
		evs = append(evs, events.TaskQueuedEvent{
			ID:        t.ID,
			Type:      t.Type,
			Priority:  t.Priority.Level,
			Timestamp: t.CreatedAt,
		})
	}
	parentSnap := cloneTask(parent)
	r.mu.Unlock()

	for _, ev := range evs {
		r.publish(events.TopicTask, ev)
	}
	for _, snap := range snaps {
		r.persistTask(snap)
	}
	r.persistTask(parentSnap)
	return ids, nil
}

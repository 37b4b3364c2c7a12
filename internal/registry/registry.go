package registry

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/djh00t/steve/internal/events"
)

// ErrNotFound is returned when a referenced task or agent does not exist.
var ErrNotFound = errors.New("not found")

// Store persists registry mutations. Implementations must be safe for
// concurrent use. Persistence is best-effort: failures are logged, never
// surfaced to scheduling.
type Store interface {
	SaveTask(ctx context.Context, t *Task) error
	SaveAgent(ctx context.Context, a *Agent) error
}

// Registry owns the task table, the pending queue and the agent table.
// A single mutex guards all three: assignment has to dequeue the task and
// re-check agent capacity in one critical section, so the tables cannot
// live behind separate locks (see Assign).
//
// Domain events and persistence writes happen after the lock is released,
// in commit order.
type Registry struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	queue  []string // pending task IDs, priority order
	agents map[string]*Agent

	bus   *events.Bus // optional, nil disables event publishing
	store Store       // optional, nil disables write-through
}

// New creates an empty registry. bus and store may be nil.
func New(bus *events.Bus, store Store) *Registry {
	return &Registry{
		tasks:  make(map[string]*Task),
		agents: make(map[string]*Agent),
		bus:    bus,
		store:  store,
	}
}

// publish forwards a domain event to the bus, if one is attached.
func (r *Registry) publish(topic string, ev events.Event) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(topic, ev)
}

func (r *Registry) persistTask(t *Task) {
	if r.store == nil || t == nil {
		return
	}
	if err := r.store.SaveTask(context.Background(), t); err != nil {
		log.Printf("WARNING: failed to persist task %s: %v", t.ID, err)
	}
}

func (r *Registry) persistAgent(a *Agent) {
	if r.store == nil || a == nil {
		return
	}
	if err := r.store.SaveAgent(context.Background(), a); err != nil {
		log.Printf("WARNING: failed to persist agent %s: %v", a.ID, err)
	}
}

// sortQueueLocked re-sorts the pending queue by priority level descending.
// The sort is stable, so equal levels keep insertion order.
func (r *Registry) sortQueueLocked() {
	sort.SliceStable(r.queue, func(i, j int) bool {
		return r.tasks[r.queue[i]].Priority.Level > r.tasks[r.queue[j]].Priority.Level
	})
}

// dequeueLocked removes a task ID from the pending queue.
// Returns false when the ID is not queued.
func (r *Registry) dequeueLocked(taskID string) bool {
	for i, id := range r.queue {
		if id == taskID {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return true
		}
	}
	return false
}

// releaseFromAgentLocked removes a task from its owning agent's current set.
func (r *Registry) releaseFromAgentLocked(t *Task) {
	if t.AgentID == "" {
		return
	}
	agent, ok := r.agents[t.AgentID]
	if !ok {
		return
	}
	for i, id := range agent.Current {
		if id == t.ID {
			agent.Current = append(agent.Current[:i], agent.Current[i+1:]...)
			return
		}
	}
}

// Tasks returns snapshots of every task, in no particular order.
func (r *Registry) Tasks() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, cloneTask(t))
	}
	return tasks
}

// Pending returns snapshots of the queued tasks in priority order.
func (r *Registry) Pending() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]*Task, 0, len(r.queue))
	for _, id := range r.queue {
		pending = append(pending, cloneTask(r.tasks[id]))
	}
	return pending
}

// QueueDepth returns the number of queued tasks.
func (r *Registry) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

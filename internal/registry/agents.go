package registry

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djh00t/steve/internal/events"
)

// Eviction describes one agent removed by the liveness monitor.
type Eviction struct {
	AgentID       string
	Name          string
	LastHeartbeat time.Time
	Orphaned      []string // task IDs left assigned to the dead agent
	Reclaimed     []string // task IDs returned to the queue (reclaim mode only)
}

// RegisterAgent adds an active agent to the registry and returns its ID.
// maxConcurrent values below 1 default to 1. Registration counts as the
// first heartbeat.
func (r *Registry) RegisterAgent(name string, caps Capabilities, maxConcurrent int) string {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	agent := &Agent{
		ID:            uuid.NewString(),
		Name:          name,
		Capabilities:  caps.Clone(),
		MaxConcurrent: maxConcurrent,
		Current:       []string{},
		LastHeartbeat: time.Now(),
		Active:        true,
	}

	r.mu.Lock()
	r.agents[agent.ID] = agent
	snap := cloneAgent(agent)
	r.mu.Unlock()

	r.publish(events.TopicAgent, events.AgentRegisteredEvent{
		ID:           snap.ID,
		Name:         snap.Name,
		Capabilities: snap.Capabilities.List(),
		Timestamp:    snap.LastHeartbeat,
	})
	r.persistAgent(snap)
	return snap.ID
}

// Agent returns a snapshot of the agent with the given ID.
func (r *Registry) Agent(agentID string) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", agentID, ErrNotFound)
	}
	return cloneAgent(a), nil
}

// Agents returns snapshots of every registered agent.
func (r *Registry) Agents() []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, cloneAgent(a))
	}
	return agents
}

// AgentsByCapability returns snapshots of the active agents advertising the
// given capability tag.
func (r *Registry) AgentsByCapability(tag string) []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Agent
	for _, a := range r.agents {
		if a.Active && a.Capabilities.Contains(tag) {
			matched = append(matched, cloneAgent(a))
		}
	}
	return matched
}

// Heartbeat records a liveness signal for an agent. Returns false when the
// agent is not registered.
func (r *Registry) Heartbeat(agentID string, at time.Time) bool {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	a.LastHeartbeat = at
	snap := cloneAgent(a)
	r.mu.Unlock()

	r.publish(events.TopicAgent, events.AgentHeartbeatEvent{ID: agentID, Timestamp: at})
	r.persistAgent(snap)
	return true
}

// RecordAgentError increments an agent's error counter. Returns false when
// the agent is not registered.
func (r *Registry) RecordAgentError(agentID string) bool {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	a.ErrorCount++
	snap := cloneAgent(a)
	r.mu.Unlock()

	r.persistAgent(snap)
	return true
}

// DeregisterAgent marks an agent inactive and removes it from the registry.
// Tasks still assigned to it stay assigned and orphaned; reassignment is the
// caller's decision. Returns false when the agent is not registered.
func (r *Registry) DeregisterAgent(agentID string) bool {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	a.Active = false
	delete(r.agents, agentID)
	snap := cloneAgent(a)
	r.mu.Unlock()

	r.publish(events.TopicAgent, events.AgentDeregisteredEvent{ID: agentID, Timestamp: time.Now()})
	r.persistAgent(snap)
	return true
}

// EvictStale removes every agent whose last heartbeat is older than cutoff.
// With reclaim enabled the evicted agent's in-flight tasks return to the
// pending queue inside the same critical section; otherwise they are left
// assigned and orphaned, which is the faithful base behavior.
func (r *Registry) EvictStale(cutoff time.Time, reclaim bool) []Eviction {
	r.mu.Lock()

	now := time.Now()
	var evictions []Eviction
	var taskSnaps []*Task
	var agentSnaps []*Agent
	var evs []events.Event

	for id, a := range r.agents {
		if !a.LastHeartbeat.Before(cutoff) {
			continue
		}

		ev := Eviction{
			AgentID:       id,
			Name:          a.Name,
			LastHeartbeat: a.LastHeartbeat,
		}

		for _, taskID := range a.Current {
			t, ok := r.tasks[taskID]
			if !ok {
				continue
			}
			if reclaim {
				t.Status = StatusPending
				t.AgentID = ""
				t.StartedAt = time.Time{}
				r.queue = append(r.queue, taskID)
				ev.Reclaimed = append(ev.Reclaimed, taskID)
				taskSnaps = append(taskSnaps, cloneTask(t))
				evs = append(evs, events.TaskQueuedEvent{
					ID:        t.ID,
					Type:      t.Type,
					Priority:  t.Priority.Level,
					Timestamp: now,
				})
			} else {
				ev.Orphaned = append(ev.Orphaned, taskID)
			}
		}

		a.Active = false
		a.Current = []string{}
		delete(r.agents, id)
		agentSnaps = append(agentSnaps, cloneAgent(a))
		evs = append(evs, events.AgentEvictedEvent{
			ID:            id,
			LastHeartbeat: ev.LastHeartbeat,
			Orphaned:      ev.Orphaned,
			Reclaimed:     ev.Reclaimed,
			Timestamp:     now,
		})
		evictions = append(evictions, ev)
	}
	if reclaim && len(evictions) > 0 {
		r.sortQueueLocked()
	}
	r.mu.Unlock()

	for _, ev := range evs {
		topic := events.TopicAgent
		if _, isTask := ev.(events.TaskQueuedEvent); isTask {
			topic = events.TopicTask
		}
		r.publish(topic, ev)
	}
	for _, snap := range taskSnaps {
		r.persistTask(snap)
	}
	for _, snap := range agentSnaps {
		r.persistAgent(snap)
	}
	return evictions
}

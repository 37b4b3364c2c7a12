package events

import (
	"time"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() string
	Subject() string
}

// Topic constants
const (
	TopicTask  = "task"
	TopicAgent = "agent"
	TopicPlan  = "plan"
)

// Event type constants
const (
	EventTypeTaskQueued        = "task.queued"
	EventTypeTaskAssigned      = "task.assigned"
	EventTypeTaskCompleted     = "task.completed"
	EventTypeTaskFailed        = "task.failed"
	EventTypeTaskCancelled     = "task.cancelled"
	EventTypeAgentRegistered   = "agent.registered"
	EventTypeAgentDeregistered = "agent.deregistered"
	EventTypeAgentEvicted      = "agent.evicted"
	EventTypeAgentHeartbeat    = "agent.heartbeat"
	EventTypePlanCreated       = "plan.created"
)

// TaskQueuedEvent is published when a task enters the pending queue.
type TaskQueuedEvent struct {
	ID        string
	Type      string
	Priority  int
	Timestamp time.Time
}

func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) Subject() string   { return e.ID }

// TaskAssignedEvent is published when a task is assigned to an agent.
type TaskAssignedEvent struct {
	ID        string
	AgentID   string
	Timestamp time.Time
}

func (e TaskAssignedEvent) EventType() string { return EventTypeTaskAssigned }
func (e TaskAssignedEvent) Subject() string   { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	AgentID   string
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Subject() string   { return e.ID }

// TaskFailedEvent is published when a task completes unsuccessfully.
type TaskFailedEvent struct {
	ID        string
	AgentID   string
	Reason    string
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Subject() string   { return e.ID }

// TaskCancelledEvent is published when a task is cancelled.
// AgentID is empty when the task was never assigned.
type TaskCancelledEvent struct {
	ID        string
	AgentID   string
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) Subject() string   { return e.ID }

// AgentRegisteredEvent is published when an agent joins the registry.
type AgentRegisteredEvent struct {
	ID           string
	Name         string
	Capabilities []string
	Timestamp    time.Time
}

func (e AgentRegisteredEvent) EventType() string { return EventTypeAgentRegistered }
func (e AgentRegisteredEvent) Subject() string   { return e.ID }

// AgentDeregisteredEvent is published when an agent is removed from the registry.
type AgentDeregisteredEvent struct {
	ID        string
	Timestamp time.Time
}

func (e AgentDeregisteredEvent) EventType() string { return EventTypeAgentDeregistered }
func (e AgentDeregisteredEvent) Subject() string   { return e.ID }

// AgentEvictedEvent is published when the liveness monitor evicts a stale agent.
type AgentEvictedEvent struct {
	ID            string
	LastHeartbeat time.Time
	Orphaned      []string // task IDs left assigned to the evicted agent
	Reclaimed     []string // task IDs returned to the queue (reclaim mode only)
	Timestamp     time.Time
}

func (e AgentEvictedEvent) EventType() string { return EventTypeAgentEvicted }
func (e AgentEvictedEvent) Subject() string   { return e.ID }

// AgentHeartbeatEvent is published when a heartbeat is recorded.
type AgentHeartbeatEvent struct {
	ID        string
	Timestamp time.Time
}

func (e AgentHeartbeatEvent) EventType() string { return EventTypeAgentHeartbeat }
func (e AgentHeartbeatEvent) Subject() string   { return e.ID }

// PlanCreatedEvent is published when the planner opens a new session.
type PlanCreatedEvent struct {
	SessionID string
	Title     string
	TaskCount int
	Timestamp time.Time
}

func (e PlanCreatedEvent) EventType() string { return EventTypePlanCreated }
func (e PlanCreatedEvent) Subject() string   { return e.SessionID }

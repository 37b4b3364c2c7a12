package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/djh00t/steve/internal/bus"
	"github.com/djh00t/steve/internal/registry"
)

// Intake pumps agent traffic from the message bus into the registry:
// task completions from `task.completed` and liveness signals from
// `agent.heartbeat`. Malformed messages are logged and skipped; they never
// stop the pump.
type Intake struct {
	registry *registry.Registry
	bus      bus.Bus
}

// NewIntake creates an intake pump over the given registry and bus.
func NewIntake(reg *registry.Registry, b bus.Bus) *Intake {
	return &Intake{registry: reg, bus: b}
}

// Run subscribes to both inbound topics and applies messages until the
// context ends or the bus closes.
func (i *Intake) Run(ctx context.Context) error {
	completions, cancelCompletions, err := i.bus.Subscribe(ctx, bus.TopicTaskCompleted)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.TopicTaskCompleted, err)
	}
	defer cancelCompletions()

	heartbeats, cancelHeartbeats, err := i.bus.Subscribe(ctx, bus.TopicAgentHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.TopicAgentHeartbeat, err)
	}
	defer cancelHeartbeats()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-completions:
			if !ok {
				return nil
			}
			i.applyCompletion(msg)
		case msg, ok := <-heartbeats:
			if !ok {
				return nil
			}
			i.applyHeartbeat(msg)
		}
	}
}

// applyCompletion turns a task_completed message into a registry Complete
// call. Expected content: task_id, success, and result (map) or error
// (string).
func (i *Intake) applyCompletion(msg bus.Message) {
	taskID, _ := msg.Content["task_id"].(string)
	if taskID == "" {
		log.Printf("WARNING: completion from %s has no task_id, skipping", msg.Sender)
		return
	}

	success, _ := msg.Content["success"].(bool)
	res := registry.Result{Success: success, CompletedAt: msg.Timestamp}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}
	if success {
		if data, ok := msg.Content["result"].(map[string]any); ok {
			res.Data = data
		}
	} else {
		res.Err, _ = msg.Content["error"].(string)
		// A failure report counts against the reporting agent.
		if msg.Sender != "" {
			i.registry.RecordAgentError(msg.Sender)
		}
	}

	if !i.registry.Complete(taskID, res) {
		log.Printf("WARNING: completion for unknown or finished task %s, skipping", taskID)
	}
}

// applyHeartbeat records a heartbeat for the sending agent.
func (i *Intake) applyHeartbeat(msg bus.Message) {
	if msg.Sender == "" {
		log.Printf("WARNING: heartbeat with no sender, skipping")
		return
	}
	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	if !i.registry.Heartbeat(msg.Sender, at) {
		log.Printf("WARNING: heartbeat from unknown agent %s, skipping", msg.Sender)
	}
}

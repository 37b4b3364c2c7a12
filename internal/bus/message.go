// Package bus carries the messages exchanged between the scheduler and its
// agents: directed notifications out, completions and heartbeats in. Two
// implementations exist, Redis pub/sub for real deployments and an
// in-process one for tests and redis-less runs.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SenderScheduler is the sender id the scheduling core stamps on every
// message it emits.
const SenderScheduler = "scheduler"

// Well-known topics. Directed messages go to each agent's own topic.
const (
	TopicTaskCompleted  = "task.completed"
	TopicAgentHeartbeat = "agent.heartbeat"
)

// AgentTopic returns the directed topic for one agent.
func AgentTopic(agentID string) string {
	return "agent." + agentID
}

// Message types.
const (
	TypeTaskAssigned  = "task_assigned"
	TypeTaskCancelled = "task_cancelled"
	TypeTaskCompleted = "task_completed"
	TypeHeartbeat     = "heartbeat"
	TypeShutdown      = "shutdown"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Message is the wire envelope, JSON-encoded on transports that need one.
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Sender    string         `json:"sender"`
	Receiver  string         `json:"receiver,omitempty"`
	Content   map[string]any `json:"content,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ReplyTo   string         `json:"reply_to,omitempty"`
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(msgType, sender, receiver string, content map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Bus is the transport seam. Subscribe returns a receive channel and an
// unsubscribe func; the channel closes when the subscription ends. A slow
// subscriber never blocks a publisher: deliveries that find a full buffer
// are dropped with a warning.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error)
	Close() error
}

// subscriberBuffer is the per-subscription channel depth.
const subscriberBuffer = 64

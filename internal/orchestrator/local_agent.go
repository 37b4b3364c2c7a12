package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/djh00t/steve/internal/bus"
	"github.com/djh00t/steve/internal/registry"
)

// LocalAgentOptions configures a LocalAgent.
type LocalAgentOptions struct {
	Capabilities  registry.Capabilities
	MaxConcurrent int

	// Work is the simulated execution time per task (default 25ms).
	Work time.Duration

	// Heartbeat is the liveness publish interval (default 5s).
	Heartbeat time.Duration
}

// LocalAgent is an in-process worker harness: it subscribes to its own
// directed topic, pretends to execute each assigned task for a fixed
// duration, and reports completions and heartbeats over the bus. Demo mode
// and integration tests use it; it is a harness, not a real executor.
type LocalAgent struct {
	ID   string
	Name string

	reg  *registry.Registry
	bus  bus.Bus
	work time.Duration
	beat time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc // task id -> abort for the simulated run
}

// NewLocalAgent registers a local agent with the service's registry. The
// agent is eligible for assignment immediately; call Run to start the
// message loop that actually executes.
func NewLocalAgent(svc *Service, name string, opts LocalAgentOptions) *LocalAgent {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.Work <= 0 {
		opts.Work = 25 * time.Millisecond
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Second
	}

	a := &LocalAgent{
		Name:    name,
		reg:     svc.registry,
		bus:     svc.bus,
		work:    opts.Work,
		beat:    opts.Heartbeat,
		running: make(map[string]context.CancelFunc),
	}
	a.ID = svc.registry.RegisterAgent(name, opts.Capabilities, opts.MaxConcurrent)
	return a
}

// Run processes directed messages and publishes heartbeats until ctx is
// cancelled, the bus closes, or a shutdown message arrives.
func (a *LocalAgent) Run(ctx context.Context) error {
	msgs, unsubscribe, err := a.bus.Subscribe(ctx, bus.AgentTopic(a.ID))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.AgentTopic(a.ID), err)
	}
	defer unsubscribe()

	ticker := time.NewTicker(a.beat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.heartbeat(ctx)
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			switch msg.Type {
			case bus.TypeTaskAssigned:
				a.begin(ctx, msg)
			case bus.TypeTaskCancelled:
				a.abort(msg)
			case bus.TypeShutdown:
				a.abortAll()
				return nil
			}
		}
	}
}

// begin simulates one task in its own goroutine so a later cancel can
// interrupt the sleep.
func (a *LocalAgent) begin(ctx context.Context, msg bus.Message) {
	taskID, _ := msg.Content["task_id"].(string)
	if taskID == "" {
		log.Printf("WARNING: agent %s: assignment without task_id, ignoring", a.Name)
		return
	}

	kind := "task"
	if t, err := a.reg.Task(taskID); err == nil && t.Type != "" {
		kind = t.Type
	}
	log.Printf("agent %s: executing %s %s", a.Name, kind, taskID)

	taskCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.running[taskID] = cancel
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.running, taskID)
			a.mu.Unlock()
			cancel()
		}()

		timer := time.NewTimer(a.work)
		defer timer.Stop()
		select {
		case <-taskCtx.Done():
			// Cancelled mid-run. The registry already recorded the
			// cancellation, so there is nothing to report.
			return
		case <-timer.C:
		}

		done := bus.NewMessage(bus.TypeTaskCompleted, a.ID, bus.SenderScheduler, map[string]any{
			"task_id": taskID,
			"success": true,
			"result":  map[string]any{"worker": a.Name},
		})
		if err := a.bus.Publish(ctx, bus.TopicTaskCompleted, done); err != nil {
			log.Printf("WARNING: agent %s: failed to report completion of %s: %v", a.Name, taskID, err)
		}
	}()
}

// abort interrupts one simulated task.
func (a *LocalAgent) abort(msg bus.Message) {
	taskID, _ := msg.Content["task_id"].(string)

	a.mu.Lock()
	cancel, ok := a.running[taskID]
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

// abortAll interrupts every simulated task.
func (a *LocalAgent) abortAll() {
	a.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(a.running))
	for _, cancel := range a.running {
		cancels = append(cancels, cancel)
	}
	a.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (a *LocalAgent) heartbeat(ctx context.Context) {
	hb := bus.NewMessage(bus.TypeHeartbeat, a.ID, "", nil)
	if err := a.bus.Publish(ctx, bus.TopicAgentHeartbeat, hb); err != nil {
		log.Printf("WARNING: agent %s: failed to publish heartbeat: %v", a.Name, err)
	}
}

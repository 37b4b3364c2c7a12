// Package orchestrator assembles the platform: task registry, planner,
// matching scheduler, liveness monitor, bus intake, result waiter and
// notifier, wired into one service with authorization in front and
// persistence behind. The service owns the run loops; everything else is
// library code it composes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/djh00t/steve/internal/auth"
	"github.com/djh00t/steve/internal/bus"
	"github.com/djh00t/steve/internal/events"
	"github.com/djh00t/steve/internal/metrics"
	"github.com/djh00t/steve/internal/plan"
	"github.com/djh00t/steve/internal/registry"
	"github.com/djh00t/steve/internal/scheduler"
	"github.com/djh00t/steve/internal/state"
)

// Options configures a Service. Every field is optional; zero values get
// working defaults (in-process bus, private metrics, no persistence).
type Options struct {
	// Bus is the agent-facing transport. Nil gets an in-process bus,
	// owned and closed by the service.
	Bus bus.Bus

	// Events is the domain event bus. Nil gets a private one, closed on
	// Stop.
	Events *events.Bus

	// Store receives registry write-through, Audit receives authorization
	// decisions, State persists planner sessions. All may be nil.
	Store registry.Store
	Audit auth.AuditSink
	State *state.Manager

	// Metrics receives scheduler and notifier counts. Nil gets a private
	// instance.
	Metrics *metrics.Metrics

	// MatchInterval and HeartbeatInterval pace the two loops; zero means
	// the scheduler defaults. ReclaimOrphans re-queues an evicted agent's
	// in-flight tasks. Strategy selects the assignment strategy by name.
	MatchInterval     time.Duration
	HeartbeatInterval time.Duration
	ReclaimOrphans    bool
	Strategy          string

	// Capacities and MaxAdvances tune the planner's resource leveler.
	Capacities  map[string]float64
	MaxAdvances int

	// PrivilegedCapabilities lists capability tags whose use in task
	// requirements demands an authorized security context. Each tag is
	// registered as a grantable permission of the same name.
	PrivilegedCapabilities []string

	// Retry tunes outbound notification backoff. Zero means defaults.
	Retry RetryConfig
}

// Service is the assembled platform. Construct with NewService, launch the
// run loops with Start, shut down with Stop.
type Service struct {
	registry *registry.Registry
	planner  *plan.Planner
	matcher  *scheduler.Matcher
	monitor  *scheduler.Monitor
	intake   *scheduler.Intake
	notifier *Notifier
	waiter   *waiter
	auth     *auth.Manager
	state    *state.Manager
	metrics  *metrics.Metrics

	bus       bus.Bus
	ownBus    bool
	events    *events.Bus
	ownEvents bool

	privileged map[string]struct{}

	mu      sync.Mutex
	running bool
	stopped bool
	started time.Time
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewService wires the platform components together.
func NewService(opts Options) *Service {
	s := &Service{
		state:      opts.State,
		bus:        opts.Bus,
		events:     opts.Events,
		metrics:    opts.Metrics,
		privileged: make(map[string]struct{}, len(opts.PrivilegedCapabilities)),
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.events == nil {
		s.events = events.NewBus()
		s.ownEvents = true
	}
	if s.bus == nil {
		s.bus = bus.NewMemory()
		s.ownBus = true
	}

	s.registry = registry.New(s.events, opts.Store)

	var sessions plan.SessionStore
	if opts.State != nil {
		sessions = stateSessions{manager: opts.State}
	}
	s.planner = plan.NewPlanner(plan.Options{
		Capacities:  opts.Capacities,
		MaxAdvances: opts.MaxAdvances,
		Store:       sessions,
	})

	s.matcher = scheduler.NewMatcher(s.registry, scheduler.Options{
		Interval: opts.MatchInterval,
		Strategy: scheduler.StrategyByName(opts.Strategy),
		Metrics:  s.metrics,
	})
	s.monitor = scheduler.NewMonitor(s.registry, scheduler.MonitorOptions{
		Interval: opts.HeartbeatInterval,
		Reclaim:  opts.ReclaimOrphans,
		Metrics:  s.metrics,
	})
	s.intake = scheduler.NewIntake(s.registry, s.bus)
	s.notifier = NewNotifier(s.events, s.bus, NotifierOptions{
		Retry:   opts.Retry,
		Metrics: s.metrics,
	})
	s.waiter = newWaiter(s.registry)

	s.auth = auth.NewManager(opts.Audit)
	for _, tag := range opts.PrivilegedCapabilities {
		s.privileged[tag] = struct{}{}
		s.auth.RegisterPermission(auth.Permission{
			Name:        tag,
			Description: "submit tasks requiring the " + tag + " capability",
		})
	}

	return s
}

// Start launches the matching loop, liveness monitor, intake pump, result
// waiter and notifier. It returns immediately; Stop shuts everything down.
// A service starts at most once.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("orchestrator already running")
	}
	if s.stopped {
		return errors.New("orchestrator already stopped")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	taskFeed := s.events.Subscribe(events.TopicTask, 0)

	g.Go(func() error { return s.matcher.Run(gctx) })
	g.Go(func() error { return s.monitor.Run(gctx) })
	g.Go(func() error { return s.intake.Run(gctx) })
	g.Go(func() error { return s.notifier.Run(gctx) })
	g.Go(func() error { return s.waiter.run(gctx, taskFeed) })

	s.cancel = cancel
	s.group = g
	s.running = true
	s.started = time.Now()
	return nil
}

// Stop cancels the run loops, waits for them to exit, and closes the buses
// the service created itself. Idempotent; safe to call without Start.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	running := s.running
	s.running = false
	cancel := s.cancel
	g := s.group
	s.mu.Unlock()

	var err error
	if running {
		cancel()
		err = g.Wait()
	}

	if s.ownBus {
		if cerr := s.bus.Close(); cerr != nil {
			log.Printf("WARNING: orchestrator: failed to close bus: %v", cerr)
		}
	}
	if s.ownEvents {
		s.events.Close()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// SubmitTask admits a task into the registry. A task requiring privileged
// capabilities must present a security context authorized for those tags;
// denial is ErrPermissionDenied and nothing is created.
func (s *Service) SubmitTask(ctx context.Context, contextID string, spec registry.TaskSpec) (string, error) {
	if tags := s.privilegedTags(spec.Requirements.Capabilities); len(tags) > 0 {
		op := auth.Operation{
			Type:        "task.submit",
			Resource:    spec.Type,
			Permissions: tags,
			Level:       auth.LevelElevated,
		}
		if !s.auth.Authorize(ctx, contextID, op) {
			return "", fmt.Errorf("task %q requires %s: %w", spec.Type, strings.Join(tags, ", "), auth.ErrPermissionDenied)
		}
	}
	return s.registry.CreateTask(spec)
}

// PlanSubmission is the outcome of SubmitPlan: the planning session, the
// scheduled plan, and the registry ids of the admitted tasks keyed by
// planned task id.
type PlanSubmission struct {
	SessionID string
	Plan      *plan.Plan
	TaskIDs   map[string]string
}

// SubmitPlan schedules the given tasks into a plan and admits every planned
// task into the registry. Dependencies shape the computed schedule, and the
// schedule lands on each admitted task as metadata: the leveled finish
// becomes the priority deadline, the duration estimate becomes the
// execution cap. Structural plan errors and denied authorization abort the
// whole submission with nothing admitted.
func (s *Service) SubmitPlan(ctx context.Context, contextID string, op plan.CreatePlan) (*PlanSubmission, error) {
	// One authorization decision covers every privileged tag in the plan.
	seen := make(map[string]struct{})
	var tags []string
	for _, t := range op.Tasks {
		for _, tag := range t.Capabilities {
			if _, priv := s.privileged[tag]; !priv {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	if len(tags) > 0 {
		authOp := auth.Operation{
			Type:        "plan.submit",
			Resource:    op.Title,
			Permissions: tags,
			Level:       auth.LevelElevated,
		}
		if !s.auth.Authorize(ctx, contextID, authOp) {
			return nil, fmt.Errorf("plan %q requires %s: %w", op.Title, strings.Join(tags, ", "), auth.ErrPermissionDenied)
		}
	}

	res, err := s.planner.CreatePlan(ctx, op)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]string, len(res.Plan.Tasks))
	for _, t := range res.Plan.Tasks {
		id, err := s.registry.CreateTask(registry.TaskSpec{
			Type:        t.Title,
			Description: t.Description,
			Requirements: registry.Requirements{
				Capabilities: registry.NewCapabilities(t.Capabilities...),
				MaxDuration:  t.Duration,
			},
			Priority: registry.Priority{Level: t.Priority, Deadline: t.Finish},
		})
		if err != nil {
			return nil, fmt.Errorf("admit planned task %q: %w", t.Title, err)
		}
		ids[t.ID] = id
	}

	return &PlanSubmission{SessionID: res.SessionID, Plan: res.Plan, TaskIDs: ids}, nil
}

// privilegedTags returns the required capability tags listed as
// privileged, sorted.
func (s *Service) privilegedTags(caps registry.Capabilities) []string {
	var tags []string
	for _, tag := range caps.List() {
		if _, ok := s.privileged[tag]; ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

// CancelTask cancels a task and, depth-first, its whole subtask tree.
func (s *Service) CancelTask(taskID string) bool {
	return s.registry.Cancel(taskID)
}

// AwaitResult blocks until the task reaches a terminal status and returns
// its final snapshot. The service must be started for waits to resolve.
func (s *Service) AwaitResult(ctx context.Context, taskID string) (*registry.Task, error) {
	return s.waiter.await(ctx, taskID)
}

// RegisterAgent adds an active agent to the registry and returns its id.
func (s *Service) RegisterAgent(name string, caps registry.Capabilities, maxConcurrent int) string {
	return s.registry.RegisterAgent(name, caps, maxConcurrent)
}

// DeregisterAgent removes an agent. Its in-flight tasks stay assigned and
// orphaned; the agent is told to shut down via the bus.
func (s *Service) DeregisterAgent(agentID string) bool {
	return s.registry.DeregisterAgent(agentID)
}

// RecoverSessions reloads planner sessions persisted in the shared state
// layer, typically after a restart. Returns the number restored.
func (s *Service) RecoverSessions(ctx context.Context) (int, error) {
	if s.state == nil {
		return 0, nil
	}
	keys, err := s.state.Keys(ctx, sessionKeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("list persisted sessions: %w", err)
	}

	restored := 0
	for _, key := range keys {
		var sess plan.Session
		ok, err := s.state.Get(ctx, key, &sess)
		if err != nil {
			log.Printf("WARNING: orchestrator: failed to load session %s: %v", key, err)
			continue
		}
		if !ok || sess.Status != plan.SessionActive {
			continue
		}
		s.planner.Restore(&sess)
		restored++
	}
	return restored, nil
}

// Tasks returns snapshots of every task in the registry.
func (s *Service) Tasks() []*registry.Task {
	return s.registry.Tasks()
}

// Task returns one task snapshot.
func (s *Service) Task(taskID string) (*registry.Task, error) {
	return s.registry.Task(taskID)
}

// Agents returns snapshots of every registered agent.
func (s *Service) Agents() []*registry.Agent {
	return s.registry.Agents()
}

// QueueDepth returns the number of tasks waiting for assignment.
func (s *Service) QueueDepth() int {
	return s.registry.QueueDepth()
}

// Auth returns the authorization manager, for granting security contexts.
func (s *Service) Auth() *auth.Manager {
	return s.auth
}

// Planner returns the planning engine, for session inspection and export.
func (s *Service) Planner() *plan.Planner {
	return s.planner
}

// Events returns the domain event bus, for dashboards and tests.
func (s *Service) Events() *events.Bus {
	return s.events
}

// Bus returns the agent-facing transport.
func (s *Service) Bus() bus.Bus {
	return s.bus
}

// Health is the liveness snapshot served by the ops endpoint.
type Health struct {
	Status     string `json:"status"`
	QueueDepth int    `json:"queue_depth"`
	Agents     int    `json:"agents"`
	Uptime     string `json:"uptime"`
}

// Health reports the service state for /healthz.
func (s *Service) Health() Health {
	s.mu.Lock()
	running := s.running
	started := s.started
	s.mu.Unlock()

	h := Health{
		Status:     "ok",
		QueueDepth: s.registry.QueueDepth(),
		Agents:     len(s.registry.Agents()),
		Uptime:     "0s",
	}
	if !running {
		h.Status = "stopped"
		return h
	}
	h.Uptime = time.Since(started).Round(time.Second).String()
	return h
}

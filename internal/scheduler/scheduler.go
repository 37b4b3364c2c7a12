// Package scheduler matches queued tasks to capable agents and keeps the
// agent pool honest: a fast matching loop assigns work, a liveness monitor
// evicts agents whose heartbeats lapsed, and the bus intake applies
// completions and heartbeats arriving from outside the process.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/djh00t/steve/internal/metrics"
	"github.com/djh00t/steve/internal/registry"
)

// DefaultInterval is the matching loop tick.
const DefaultInterval = time.Second

// Options configures a Matcher.
type Options struct {
	// Interval between matching cycles. Zero means DefaultInterval.
	Interval time.Duration

	// Strategy picks among eligible agents. Nil means FirstFit.
	Strategy Strategy

	// Metrics receives cycle observations. Nil gets a fresh instance.
	Metrics *metrics.Metrics
}

// Matcher is the matching scheduler. It holds no task state of its own;
// every cycle works on fresh registry snapshots, so a restart loses
// nothing.
type Matcher struct {
	registry *registry.Registry
	strategy Strategy
	interval time.Duration
	metrics  *metrics.Metrics
}

// NewMatcher creates a matching scheduler over the given registry.
func NewMatcher(reg *registry.Registry, opts Options) *Matcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Strategy == nil {
		opts.Strategy = FirstFit{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Matcher{
		registry: reg,
		strategy: opts.Strategy,
		interval: opts.Interval,
		metrics:  opts.Metrics,
	}
}

// Run executes matching cycles on a ticker until the context ends.
func (m *Matcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunCycle()
		}
	}
}

// RunCycle walks the pending queue in priority order and assigns every task
// that has an eligible agent. Returns the number of assignments made.
//
// Assignment goes through registry.Assign, which re-checks capacity under
// the registry lock; losing that race just leaves the task queued for the
// next cycle.
func (m *Matcher) RunCycle() int {
	start := time.Now()

	pending := m.registry.Pending()
	agents := m.registry.Agents()
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	active := 0
	for _, a := range agents {
		if a.Active {
			active++
		}
	}

	assigned := 0
	for _, task := range pending {
		candidates := eligible(agents, task)
		if len(candidates) == 0 {
			// Nobody can take it. The task stays queued; there is no
			// backoff and no starvation guard.
			continue
		}
		pick := m.strategy.Select(task, candidates)
		if !m.registry.Assign(task.ID, pick.ID) {
			continue
		}
		// Keep the local snapshot honest for the rest of the cycle.
		pick.Current = append(pick.Current, task.ID)
		assigned++
	}

	m.metrics.RecordCycle(time.Since(start), assigned, m.registry.QueueDepth(), active)
	return assigned
}

// eligible filters the agents that can take the task right now: active,
// below capacity, and advertising every required capability. An empty
// requirement set matches any agent.
func eligible(agents []*registry.Agent, task *registry.Task) []*registry.Agent {
	var out []*registry.Agent
	for _, a := range agents {
		if !a.Active || a.FreeSlots() <= 0 {
			continue
		}
		if !a.Capabilities.ContainsAll(task.Requirements.Capabilities) {
			continue
		}
		out = append(out, a)
	}
	return out
}

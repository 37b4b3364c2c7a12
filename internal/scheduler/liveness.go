package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/djh00t/steve/internal/metrics"
	"github.com/djh00t/steve/internal/registry"
)

// DefaultHeartbeatInterval is the liveness sweep tick. Agents silent for
// more than twice this interval are evicted.
const DefaultHeartbeatInterval = 30 * time.Second

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	// Interval between sweeps. Zero means DefaultHeartbeatInterval.
	Interval time.Duration

	// Reclaim returns an evicted agent's in-flight tasks to the pending
	// queue. Off by default: orphaned tasks stay assigned to the dead
	// agent, which matches the base behavior.
	Reclaim bool

	// Metrics receives eviction counts. Nil gets a fresh instance.
	Metrics *metrics.Metrics
}

// Monitor evicts agents whose heartbeats lapsed.
type Monitor struct {
	registry *registry.Registry
	interval time.Duration
	reclaim  bool
	metrics  *metrics.Metrics
}

// NewMonitor creates a liveness monitor over the given registry.
func NewMonitor(reg *registry.Registry, opts MonitorOptions) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultHeartbeatInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Monitor{
		registry: reg,
		interval: opts.Interval,
		reclaim:  opts.Reclaim,
		metrics:  opts.Metrics,
	}
}

// Run sweeps on a ticker until the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep evicts every agent whose last heartbeat is older than twice the
// sweep interval and returns the evictions.
func (m *Monitor) Sweep() []registry.Eviction {
	cutoff := time.Now().Add(-2 * m.interval)
	evictions := m.registry.EvictStale(cutoff, m.reclaim)

	for _, ev := range evictions {
		log.Printf("WARNING: evicted agent %s (%s): last heartbeat %s, %d orphaned, %d reclaimed",
			ev.AgentID, ev.Name, ev.LastHeartbeat.Format(time.RFC3339), len(ev.Orphaned), len(ev.Reclaimed))
	}
	if len(evictions) > 0 {
		m.metrics.RecordEvictions(len(evictions))
	}
	return evictions
}

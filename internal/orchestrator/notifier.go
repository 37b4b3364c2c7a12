package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/djh00t/steve/internal/bus"
	"github.com/djh00t/steve/internal/events"
	"github.com/djh00t/steve/internal/metrics"
	"github.com/djh00t/steve/internal/registry"
)

// RetryConfig configures exponential backoff for outbound notifications.
type RetryConfig struct {
	InitialInterval     time.Duration // initial retry interval (default 100ms)
	MaxInterval         time.Duration // maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // maximum total retry time (default 2min)
	Multiplier          float64       // backoff multiplier (default 2.0)
	RandomizationFactor float64       // jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// NotifierOptions configures a Notifier.
type NotifierOptions struct {
	// Retry tunes the publish backoff. A zero value means the defaults.
	Retry RetryConfig

	// Metrics receives terminal-status and publish-error counts. Nil gets
	// a private instance.
	Metrics *metrics.Metrics
}

// Notifier turns registry domain events into directed notifications on the
// transport bus: task_assigned and task_cancelled to the owning agent's
// topic, shutdown when an agent is deregistered or evicted.
//
// Registry state is already committed when an event reaches the notifier,
// so a transport failure can only lose a notification, never state. Each
// agent's topic sits behind its own circuit breaker; a notification that
// exhausts its retries, or finds the breaker open, is logged and dropped.
type Notifier struct {
	events  *events.Bus
	bus     bus.Bus
	retry   RetryConfig
	metrics *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewNotifier creates a notifier pumping domain events from evs onto the
// transport.
func NewNotifier(evs *events.Bus, transport bus.Bus, opts NotifierOptions) *Notifier {
	if opts.Retry.InitialInterval <= 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Notifier{
		events:   evs,
		bus:      transport,
		retry:    opts.Retry,
		metrics:  opts.Metrics,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Run consumes domain events until ctx is cancelled or the event bus
// closes.
func (n *Notifier) Run(ctx context.Context) error {
	feed := n.events.SubscribeAll(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-feed:
			if !ok {
				return nil
			}
			n.dispatch(ctx, ev)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, ev events.Event) {
	switch ev := ev.(type) {
	case events.TaskAssignedEvent:
		n.notify(ctx, ev.AgentID, bus.TypeTaskAssigned, map[string]any{"task_id": ev.ID})
	case events.TaskCancelledEvent:
		n.metrics.RecordTerminal(registry.StatusCancelled.String())
		// A task cancelled before assignment has no agent to tell.
		if ev.AgentID != "" {
			n.notify(ctx, ev.AgentID, bus.TypeTaskCancelled, map[string]any{"task_id": ev.ID})
		}
	case events.TaskCompletedEvent:
		n.metrics.RecordTerminal(registry.StatusCompleted.String())
	case events.TaskFailedEvent:
		n.metrics.RecordTerminal(registry.StatusFailed.String())
	case events.AgentDeregisteredEvent:
		n.notify(ctx, ev.ID, bus.TypeShutdown, map[string]any{"reason": "deregistered"})
	case events.AgentEvictedEvent:
		n.notify(ctx, ev.ID, bus.TypeShutdown, map[string]any{"reason": "evicted"})
	}
}

func (n *Notifier) notify(ctx context.Context, agentID, msgType string, content map[string]any) {
	msg := bus.NewMessage(msgType, bus.SenderScheduler, agentID, content)
	if err := n.publishWithRetry(ctx, bus.AgentTopic(agentID), msg, n.breaker(agentID)); err != nil {
		n.metrics.RecordPublishError()
		log.Printf("ERROR: notifier: dropping %s for agent %s: %v", msgType, agentID, err)
	}
}

// publishWithRetry publishes one message with exponential backoff behind
// the agent's circuit breaker.
func (n *Notifier) publishWithRetry(ctx context.Context, topic string, msg bus.Message, cb *gobreaker.CircuitBreaker) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, err := cb.Execute(func() (interface{}, error) {
			return nil, n.bus.Publish(ctx, topic, msg)
		})
		if err != nil {
			// An open breaker will not recover inside one notification's
			// retry window; stop immediately.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.retry.InitialInterval
	policy.MaxInterval = n.retry.MaxInterval
	policy.MaxElapsedTime = n.retry.MaxElapsedTime
	policy.Multiplier = n.retry.Multiplier
	policy.RandomizationFactor = n.retry.RandomizationFactor

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// breaker returns the circuit breaker guarding one agent's topic, creating
// it on first use.
func (n *Notifier) breaker(agentID string) *gobreaker.CircuitBreaker {
	n.mu.Lock()
	defer n.mu.Unlock()

	if cb, ok := n.breakers[agentID]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agentID,
		MaxRequests: 3, // probes allowed half-open
		Interval:    0, // never clear counts on a timer
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("notifier: circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// A cancelled publish is the caller shutting down, not the
			// transport failing.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	n.breakers[agentID] = cb
	return cb
}

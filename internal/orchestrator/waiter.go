package orchestrator

import (
	"context"
	"sync"

	"github.com/djh00t/steve/internal/events"
	"github.com/djh00t/steve/internal/registry"
)

// waiter resolves AwaitResult calls when tasks reach a terminal status.
// Waiters register a buffered channel per call; the event pump wakes every
// channel registered for a task the moment its terminal event arrives.
type waiter struct {
	reg *registry.Registry

	mu    sync.Mutex
	waits map[string][]chan *registry.Task
}

func newWaiter(reg *registry.Registry) *waiter {
	return &waiter{
		reg:   reg,
		waits: make(map[string][]chan *registry.Task),
	}
}

// run watches the task event feed and wakes the waiters of any task that
// went terminal. Returns when ctx is cancelled or the feed closes.
func (w *waiter) run(ctx context.Context, feed <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-feed:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case events.TaskCompletedEvent:
				w.wake(ev.ID)
			case events.TaskFailedEvent:
				w.wake(ev.ID)
			case events.TaskCancelledEvent:
				w.wake(ev.ID)
			}
		}
	}
}

// await blocks until the task reaches a terminal status and returns its
// terminal snapshot.
func (w *waiter) await(ctx context.Context, taskID string) (*registry.Task, error) {
	t, err := w.reg.Task(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return t, nil
	}

	ch := make(chan *registry.Task, 1)
	w.mu.Lock()
	w.waits[taskID] = append(w.waits[taskID], ch)
	w.mu.Unlock()

	// The task may have gone terminal between the first look and the
	// registration; a second look closes that window.
	if t, err := w.reg.Task(taskID); err == nil && t.Status.Terminal() {
		w.drop(taskID, ch)
		return t, nil
	}

	select {
	case t := <-ch:
		return t, nil
	case <-ctx.Done():
		w.drop(taskID, ch)
		return nil, ctx.Err()
	}
}

// wake delivers a fresh terminal snapshot to everyone waiting on the task.
func (w *waiter) wake(taskID string) {
	w.mu.Lock()
	waiting := w.waits[taskID]
	delete(w.waits, taskID)
	w.mu.Unlock()

	for _, ch := range waiting {
		if t, err := w.reg.Task(taskID); err == nil {
			ch <- t
		}
	}
}

// drop removes one waiter channel, leaving the rest untouched.
func (w *waiter) drop(taskID string, ch chan *registry.Task) {
	w.mu.Lock()
	defer w.mu.Unlock()

	waiting := w.waits[taskID]
	for i, c := range waiting {
		if c == ch {
			w.waits[taskID] = append(waiting[:i], waiting[i+1:]...)
			break
		}
	}
	if len(w.waits[taskID]) == 0 {
		delete(w.waits, taskID)
	}
}

package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/djh00t/steve/internal/events"
)

func queuedIDs(r *Registry) []string {
	ids := []string{}
	for _, t := range r.Pending() {
		ids = append(ids, t.ID)
	}
	return ids
}

// TestCreateTaskQueueOrder verifies priority-descending queue order with
// stable insertion-order ties.
func TestCreateTaskQueueOrder(t *testing.T) {
	r := New(nil, nil)

	low, _ := r.CreateTask(TaskSpec{Type: "analysis", Priority: Priority{Level: 0}})
	midA, _ := r.CreateTask(TaskSpec{Type: "analysis", Priority: Priority{Level: 5}})
	midB, _ := r.CreateTask(TaskSpec{Type: "analysis", Priority: Priority{Level: 5}})
	high, _ := r.CreateTask(TaskSpec{Type: "analysis", Priority: Priority{Level: 10}})

	want := []string{high, midA, midB, low}
	got := queuedIDs(r)
	if len(got) != len(want) {
		t.Fatalf("queue length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queue[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestTaskLookupNotFound(t *testing.T) {
	r := New(nil, nil)

	if _, err := r.Task("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Task() error = %v, want ErrNotFound", err)
	}
	if _, err := r.TaskStatus("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TaskStatus() error = %v, want ErrNotFound", err)
	}
	if _, err := r.TaskResult("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TaskResult() error = %v, want ErrNotFound", err)
	}
}

func TestCreateTaskUnknownParent(t *testing.T) {
	r := New(nil, nil)

	if _, err := r.CreateTask(TaskSpec{Type: "analysis", Parent: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateTask() error = %v, want ErrNotFound", err)
	}
}

// TestAssign covers the assignment preconditions and the committed state.
func TestAssign(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *Registry) (taskID, agentID string)
		want  bool
	}{
		{
			name: "queued task to available agent",
			setup: func(r *Registry) (string, string) {
				taskID, _ := r.CreateTask(TaskSpec{Type: "build"})
				agentID := r.RegisterAgent("worker", NewCapabilities("build"), 2)
				return taskID, agentID
			},
			want: true,
		},
		{
			name: "unknown task",
			setup: func(r *Registry) (string, string) {
				agentID := r.RegisterAgent("worker", nil, 1)
				return "missing", agentID
			},
			want: false,
		},
		{
			name: "unknown agent",
			setup: func(r *Registry) (string, string) {
				taskID, _ := r.CreateTask(TaskSpec{Type: "build"})
				return taskID, "missing"
			},
			want: false,
		},
		{
			name: "task already assigned",
			setup: func(r *Registry) (string, string) {
				taskID, _ := r.CreateTask(TaskSpec{Type: "build"})
				agentID := r.RegisterAgent("worker", nil, 2)
				r.Assign(taskID, agentID)
				return taskID, agentID
			},
			want: false,
		},
		{
			name: "agent at capacity",
			setup: func(r *Registry) (string, string) {
				first, _ := r.CreateTask(TaskSpec{Type: "build"})
				second, _ := r.CreateTask(TaskSpec{Type: "build"})
				agentID := r.RegisterAgent("worker", nil, 1)
				r.Assign(first, agentID)
				return second, agentID
			},
			want: false,
		},
		{
			name: "cancelled task",
			setup: func(r *Registry) (string, string) {
				taskID, _ := r.CreateTask(TaskSpec{Type: "build"})
				agentID := r.RegisterAgent("worker", nil, 1)
				r.Cancel(taskID)
				return taskID, agentID
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(nil, nil)
			taskID, agentID := tt.setup(r)

			if got := r.Assign(taskID, agentID); got != tt.want {
				t.Fatalf("Assign() = %v, want %v", got, tt.want)
			}
			if !tt.want {
				return
			}

			task, err := r.Task(taskID)
			if err != nil {
				t.Fatalf("Task() error = %v", err)
			}
			if task.Status != StatusAssigned {
				t.Errorf("status = %s, want assigned", task.Status)
			}
			if task.AgentID != agentID {
				t.Errorf("agent = %q, want %q", task.AgentID, agentID)
			}
			if task.StartedAt.IsZero() {
				t.Error("StartedAt not recorded")
			}
			for _, id := range queuedIDs(r) {
				if id == taskID {
					t.Error("assigned task still queued")
				}
			}
			agent, _ := r.Agent(agentID)
			found := false
			for _, id := range agent.Current {
				if id == taskID {
					found = true
				}
			}
			if !found {
				t.Error("task missing from agent's current set")
			}
		})
	}
}

// TestAssignConcurrent hammers one capacity-3 agent from several goroutines;
// the atomic check-then-act must admit exactly three tasks.
func TestAssignConcurrent(t *testing.T) {
	r := New(nil, nil)
	agentID := r.RegisterAgent("worker", nil, 3)

	taskIDs := make([]string, 20)
	for i := range taskIDs {
		taskIDs[i], _ = r.CreateTask(TaskSpec{Type: "build"})
	}

	var mu sync.Mutex
	assigned := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range taskIDs {
				if r.Assign(id, agentID) {
					mu.Lock()
					assigned++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if assigned != 3 {
		t.Errorf("assigned %d tasks, want 3", assigned)
	}
	agent, _ := r.Agent(agentID)
	if len(agent.Current) != 3 {
		t.Errorf("agent holds %d tasks, want 3", len(agent.Current))
	}
}

func TestComplete(t *testing.T) {
	t.Run("unknown task", func(t *testing.T) {
		r := New(nil, nil)
		if r.Complete("missing", Result{Success: true}) {
			t.Error("Complete() = true for unknown task")
		}
	})

	t.Run("success and failure statuses", func(t *testing.T) {
		r := New(nil, nil)
		ok, _ := r.CreateTask(TaskSpec{Type: "build"})
		bad, _ := r.CreateTask(TaskSpec{Type: "build"})

		if !r.Complete(ok, Result{Success: true, Data: map[string]any{"exit": 0}}) {
			t.Fatal("Complete() = false for known task")
		}
		if !r.Complete(bad, Result{Success: false, Err: "boom"}) {
			t.Fatal("Complete() = false for known task")
		}

		if st, _ := r.TaskStatus(ok); st != StatusCompleted {
			t.Errorf("status = %s, want completed", st)
		}
		if st, _ := r.TaskStatus(bad); st != StatusFailed {
			t.Errorf("status = %s, want failed", st)
		}
		res, _ := r.TaskResult(bad)
		if res == nil || res.Err != "boom" {
			t.Errorf("result = %+v, want error preserved", res)
		}
	})

	t.Run("terminal task keeps first result", func(t *testing.T) {
		r := New(nil, nil)
		taskID, _ := r.CreateTask(TaskSpec{Type: "build"})
		r.Complete(taskID, Result{Success: true})

		if r.Complete(taskID, Result{Success: false, Err: "late"}) {
			t.Error("Complete() = true for terminal task")
		}
		res, _ := r.TaskResult(taskID)
		if !res.Success {
			t.Error("second completion overwrote the recorded result")
		}
	})

	t.Run("frees the agent slot", func(t *testing.T) {
		r := New(nil, nil)
		agentID := r.RegisterAgent("worker", nil, 1)
		first, _ := r.CreateTask(TaskSpec{Type: "build"})
		second, _ := r.CreateTask(TaskSpec{Type: "build"})

		if !r.Assign(first, agentID) {
			t.Fatal("first Assign() = false")
		}
		if r.Assign(second, agentID) {
			t.Fatal("second Assign() = true while agent full")
		}
		r.Complete(first, Result{Success: true})
		if !r.Assign(second, agentID) {
			t.Error("Assign() = false after slot freed")
		}
	})
}

// TestParentCompletion verifies out-of-order subtask completion: the parent
// completes exactly when the last subtask does.
func TestParentCompletion(t *testing.T) {
	r := New(nil, nil)
	parent, _ := r.CreateTask(TaskSpec{Type: "project"})
	subs, err := r.CreateSubtasks(parent, []TaskSpec{
		{Type: "phase", Description: "one"},
		{Type: "phase", Description: "two"},
		{Type: "phase", Description: "three"},
	})
	if err != nil {
		t.Fatalf("CreateSubtasks() error = %v", err)
	}

	order := []int{1, 2, 0} // complete out of creation order
	for i, idx := range order {
		r.Complete(subs[idx], Result{Success: true})

		st, _ := r.TaskStatus(parent)
		last := i == len(order)-1
		if last && st != StatusCompleted {
			t.Errorf("after final subtask: parent status = %s, want completed", st)
		}
		if !last && st != StatusPending {
			t.Errorf("after %d subtasks: parent status = %s, want pending", i+1, st)
		}
	}

	for _, id := range queuedIDs(r) {
		if id == parent {
			t.Error("completed parent still queued")
		}
	}
}

func TestParentBlockedByFailedSubtask(t *testing.T) {
	r := New(nil, nil)
	parent, _ := r.CreateTask(TaskSpec{Type: "project"})
	subs, _ := r.CreateSubtasks(parent, []TaskSpec{
		{Type: "phase"}, {Type: "phase"},
	})

	r.Complete(subs[0], Result{Success: true})
	r.Complete(subs[1], Result{Success: false, Err: "broken"})

	if st, _ := r.TaskStatus(parent); st != StatusPending {
		t.Errorf("parent status = %s, want pending while a subtask failed", st)
	}
}

// TestCancelCascade builds a three-level tree and verifies the cascade is
// depth-first: every descendant is cancelled before its ancestor.
func TestCancelCascade(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(events.TopicTask, 64)

	r := New(bus, nil)
	root, _ := r.CreateTask(TaskSpec{Type: "project"})
	level1, _ := r.CreateSubtasks(root, []TaskSpec{{Type: "phase"}, {Type: "phase"}})
	level2, _ := r.CreateSubtasks(level1[1], []TaskSpec{{Type: "step"}})

	if !r.Cancel(root) {
		t.Fatal("Cancel() = false")
	}

	for _, id := range append(append([]string{root}, level1...), level2...) {
		if st, _ := r.TaskStatus(id); st != StatusCancelled {
			t.Errorf("task %s status = %s, want cancelled", id, st)
		}
	}
	if depth := r.QueueDepth(); depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}

	// Drain cancellation events and check ordering: descendants first.
	position := map[string]int{}
	idx := 0
	for {
		var done bool
		select {
		case ev := <-sub:
			if c, ok := ev.(events.TaskCancelledEvent); ok {
				position[c.ID] = idx
				idx++
			}
		default:
			done = true
		}
		if done {
			break
		}
	}
	if position[level2[0]] > position[level1[1]] {
		t.Error("grandchild cancelled after its parent")
	}
	if position[level1[0]] > position[root] || position[level1[1]] > position[root] {
		t.Error("child cancelled after the root")
	}
}

func TestCancel(t *testing.T) {
	t.Run("terminal task is a no-op", func(t *testing.T) {
		r := New(nil, nil)
		taskID, _ := r.CreateTask(TaskSpec{Type: "build"})
		r.Complete(taskID, Result{Success: true})

		if r.Cancel(taskID) {
			t.Error("Cancel() = true for completed task")
		}
		if st, _ := r.TaskStatus(taskID); st != StatusCompleted {
			t.Errorf("status = %s, want completed untouched", st)
		}
	})

	t.Run("assigned task releases its agent", func(t *testing.T) {
		r := New(nil, nil)
		agentID := r.RegisterAgent("worker", nil, 1)
		taskID, _ := r.CreateTask(TaskSpec{Type: "build"})
		r.Assign(taskID, agentID)

		if !r.Cancel(taskID) {
			t.Fatal("Cancel() = false")
		}
		agent, _ := r.Agent(agentID)
		if len(agent.Current) != 0 {
			t.Errorf("agent still holds %d tasks", len(agent.Current))
		}
	})

	t.Run("completed subtask keeps its state", func(t *testing.T) {
		r := New(nil, nil)
		parent, _ := r.CreateTask(TaskSpec{Type: "project"})
		subs, _ := r.CreateSubtasks(parent, []TaskSpec{{Type: "phase"}, {Type: "phase"}})
		r.Complete(subs[0], Result{Success: true})

		if !r.Cancel(parent) {
			t.Fatal("Cancel() = false")
		}
		if st, _ := r.TaskStatus(subs[0]); st != StatusCompleted {
			t.Errorf("completed subtask status = %s, want completed", st)
		}
		if st, _ := r.TaskStatus(subs[1]); st != StatusCancelled {
			t.Errorf("pending subtask status = %s, want cancelled", st)
		}
	})
}

func TestCreateSubtasks(t *testing.T) {
	t.Run("unknown parent", func(t *testing.T) {
		r := New(nil, nil)
		if _, err := r.CreateSubtasks("ghost", []TaskSpec{{Type: "phase"}}); !errors.Is(err, ErrNotFound) {
			t.Errorf("CreateSubtasks() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ids recorded in order", func(t *testing.T) {
		r := New(nil, nil)
		parent, _ := r.CreateTask(TaskSpec{Type: "project"})
		ids, err := r.CreateSubtasks(parent, []TaskSpec{
			{Type: "phase", Description: "a"},
			{Type: "phase", Description: "b"},
		})
		if err != nil {
			t.Fatalf("CreateSubtasks() error = %v", err)
		}

		p, _ := r.Task(parent)
		if len(p.Subtasks) != 2 {
			t.Fatalf("parent has %d subtasks, want 2", len(p.Subtasks))
		}
		for i := range ids {
			if p.Subtasks[i] != ids[i] {
				t.Errorf("subtask[%d] = %s, want %s", i, p.Subtasks[i], ids[i])
			}
			sub, _ := r.Task(ids[i])
			if sub.Parent != parent {
				t.Errorf("subtask %s parent = %q, want %q", ids[i], sub.Parent, parent)
			}
		}
	})
}

func TestDefaultMaxDuration(t *testing.T) {
	r := New(nil, nil)
	taskID, _ := r.CreateTask(TaskSpec{Type: "build"})

	task, _ := r.Task(taskID)
	if task.Requirements.MaxDuration != time.Hour {
		t.Errorf("MaxDuration = %v, want %v", task.Requirements.MaxDuration, time.Hour)
	}
}

package plan

import (
	"fmt"
	"sort"
	"time"
)

// TaskSchedule is the computed timing of one task. Offsets are durations
// from the plan start; Start and Finish anchor them to the wall clock.
type TaskSchedule struct {
	TaskID         string        `json:"task_id"`
	EarliestStart  time.Duration `json:"earliest_start"`
	EarliestFinish time.Duration `json:"earliest_finish"`
	LatestStart    time.Duration `json:"latest_start"`
	LatestFinish   time.Duration `json:"latest_finish"`
	Slack          time.Duration `json:"slack"`
	Critical       bool          `json:"critical"`
	Start          time.Time     `json:"start"`
	Finish         time.Time     `json:"finish"`
}

// Schedule is the result of a full critical-path computation.
type Schedule struct {
	Start        time.Time                `json:"start"`
	Tasks        map[string]*TaskSchedule `json:"tasks"`
	CriticalPath []string                 `json:"critical_path"`
	Makespan     time.Duration            `json:"makespan"`
}

// ComputeSchedule runs the two critical-path passes over a validated
// graph. The forward pass (topological order) fixes earliest times; the
// backward pass (reverse topological order) fixes latest times, anchoring
// every task without dependents to its own earliest finish. Slack is
// latest start minus earliest start; zero slack marks the critical path,
// returned ordered by earliest start ascending. An unsupported relation
// aborts the whole computation.
func ComputeSchedule(g *Graph, start time.Time) (*Schedule, error) {
	order := g.Order()

	es := make(map[string]time.Duration, len(order))
	ef := make(map[string]time.Duration, len(order))

	for _, id := range order {
		t, _ := g.Task(id)
		var earliest time.Duration
		for _, dep := range t.Dependencies {
			var candidate time.Duration
			switch dep.Relation {
			case FinishToStart:
				candidate = ef[dep.TaskID] + dep.Lag
			case StartToStart:
				candidate = es[dep.TaskID] + dep.Lag
			case FinishToFinish:
				candidate = ef[dep.TaskID] + dep.Lag - t.Duration
			case StartToFinish:
				candidate = es[dep.TaskID] + dep.Lag - t.Duration
			default:
				return nil, fmt.Errorf("task %q dependency on %q: %w %q", id, dep.TaskID, ErrUnsupportedRelation, dep.Relation)
			}
			if candidate > earliest {
				earliest = candidate
			}
		}
		if earliest < 0 {
			// Negative lags never push a task before the plan start.
			earliest = 0
		}
		es[id] = earliest
		ef[id] = earliest + t.Duration
	}

	ls := make(map[string]time.Duration, len(order))
	lf := make(map[string]time.Duration, len(order))

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		t, _ := g.Task(id)
		dependents := g.Dependents(id)

		if len(dependents) == 0 {
			// Sinks anchor to their own earliest finish, so every sink
			// sits on the critical path of its own chain.
			lf[id] = ef[id]
		} else {
			var latest time.Duration
			set := false
			for _, depID := range dependents {
				dependent, _ := g.Task(depID)
				for _, edge := range dependent.Dependencies {
					if edge.TaskID != id {
						continue
					}
					var candidate time.Duration
					switch edge.Relation {
					case FinishToStart:
						candidate = ls[depID] - edge.Lag
					case StartToStart:
						candidate = ls[depID] - edge.Lag + t.Duration
					case FinishToFinish:
						candidate = lf[depID] - edge.Lag
					case StartToFinish:
						candidate = lf[depID] - edge.Lag + t.Duration
					default:
						return nil, fmt.Errorf("task %q dependency on %q: %w %q", depID, id, ErrUnsupportedRelation, edge.Relation)
					}
					if !set || candidate < latest {
						latest = candidate
						set = true
					}
				}
			}
			lf[id] = latest
		}
		ls[id] = lf[id] - t.Duration
	}

	sched := &Schedule{
		Start: start,
		Tasks: make(map[string]*TaskSchedule, len(order)),
	}

	var critical []string
	for _, id := range order {
		ts := &TaskSchedule{
			TaskID:         id,
			EarliestStart:  es[id],
			EarliestFinish: ef[id],
			LatestStart:    ls[id],
			LatestFinish:   lf[id],
			Slack:          ls[id] - es[id],
			Start:          start.Add(es[id]),
			Finish:         start.Add(ef[id]),
		}
		ts.Critical = ts.Slack == 0
		sched.Tasks[id] = ts

		if ts.Critical {
			critical = append(critical, id)
		}
		if ef[id] > sched.Makespan {
			sched.Makespan = ef[id]
		}
	}

	sort.SliceStable(critical, func(i, j int) bool {
		return es[critical[i]] < es[critical[j]]
	})
	sched.CriticalPath = critical

	return sched, nil
}

package plan

import (
	"fmt"
	"sort"
	"time"
)

const (
	// DefaultCapacity is assumed for resource types with no configured
	// capacity.
	DefaultCapacity = 1.0

	// DefaultMaxAdvances bounds the slot search per task during leveling.
	DefaultMaxAdvances = 1000
)

// Conflict reports two tasks whose demand on one resource type overlaps in
// time and jointly exceeds the type's capacity.
type Conflict struct {
	Resource string    `json:"resource"`
	TaskA    string    `json:"task_a"`
	TaskB    string    `json:"task_b"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Amount   float64   `json:"amount"`
}

// LevelOptions tunes the leveling pass.
type LevelOptions struct {
	// MaxAdvances caps how many occupied slots one task may be pushed
	// past before leveling gives up. Zero means DefaultMaxAdvances.
	MaxAdvances int
}

type claim struct {
	task   *PlannedTask
	amount float64
}

func capacityFor(capacities map[string]float64, typ string) float64 {
	if c, ok := capacities[typ]; ok && c > 0 {
		return c
	}
	return DefaultCapacity
}

// claimsByType groups scheduled tasks by the resource types they demand.
// Tasks without known start/finish times carry no interval and are skipped.
func claimsByType(tasks []*PlannedTask) (map[string][]claim, []string) {
	byType := make(map[string][]claim)
	for _, t := range tasks {
		if t.Start.IsZero() || t.Finish.IsZero() {
			continue
		}
		for _, req := range t.Resources {
			byType[req.Type] = append(byType[req.Type], claim{task: t, amount: req.Amount})
		}
	}

	types := make([]string, 0, len(byType))
	for typ := range byType {
		types = append(types, typ)
	}
	sort.Strings(types)
	return byType, types
}

// DetectConflicts reports every pair of tasks whose intervals overlap on a
// shared resource type while their combined demand exceeds the type's
// capacity (1.0 when unconfigured).
func DetectConflicts(tasks []*PlannedTask, capacities map[string]float64) []Conflict {
	byType, types := claimsByType(tasks)

	var conflicts []Conflict
	for _, typ := range types {
		claims := byType[typ]
		sort.SliceStable(claims, func(i, j int) bool {
			if !claims[i].task.Start.Equal(claims[j].task.Start) {
				return claims[i].task.Start.Before(claims[j].task.Start)
			}
			return claims[i].task.ID < claims[j].task.ID
		})

		capacity := capacityFor(capacities, typ)
		for i := 0; i < len(claims); i++ {
			for j := i + 1; j < len(claims); j++ {
				a, b := claims[i], claims[j]
				// Sorted by start, so b starts at or after a.
				if !a.task.Finish.After(b.task.Start) {
					continue
				}
				combined := a.amount + b.amount
				if combined <= capacity {
					continue
				}
				end := a.task.Finish
				if b.task.Finish.Before(end) {
					end = b.task.Finish
				}
				conflicts = append(conflicts, Conflict{
					Resource: typ,
					TaskA:    a.task.ID,
					TaskB:    b.task.ID,
					Start:    b.task.Start,
					End:      end,
					Amount:   combined,
				})
			}
		}
	}
	return conflicts
}

type span struct {
	start time.Time
	end   time.Time
}

func firstOverlap(candidate time.Time, dur time.Duration, placed []span) (time.Time, bool) {
	end := candidate.Add(dur)
	for _, p := range placed {
		if p.start.Before(end) && p.end.After(candidate) {
			return p.end, true
		}
	}
	return time.Time{}, false
}

// Level serializes contention in place: per resource type, tasks are
// ordered by priority descending then dependency count ascending, and each
// is moved to the earliest slot whose whole interval overlaps no earlier
// placement for that type. The candidate slot advances past the end of the
// first overlapping placement until a free slot is found; the search is
// capped so a pathological plan reports ErrHorizonExceeded instead of
// hanging. Greedy, not makespan-optimal: the contract is only that no two
// placements for the same type overlap afterwards.
func Level(tasks []*PlannedTask, opts LevelOptions) error {
	maxAdvances := opts.MaxAdvances
	if maxAdvances <= 0 {
		maxAdvances = DefaultMaxAdvances
	}

	byType, types := claimsByType(tasks)
	for _, typ := range types {
		claims := byType[typ]
		sort.SliceStable(claims, func(i, j int) bool {
			a, b := claims[i].task, claims[j].task
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			return len(a.Dependencies) < len(b.Dependencies)
		})

		placed := make([]span, 0, len(claims))
		for _, c := range claims {
			t := c.task
			dur := t.Finish.Sub(t.Start)
			candidate := t.Start

			advances := 0
			for {
				next, overlapping := firstOverlap(candidate, dur, placed)
				if !overlapping {
					break
				}
				candidate = next
				advances++
				if advances > maxAdvances {
					return fmt.Errorf("resource %q: placing task %q: %w after %d advances", typ, t.ID, ErrHorizonExceeded, maxAdvances)
				}
			}

			t.Start = candidate
			t.Finish = candidate.Add(dur)
			placed = append(placed, span{start: candidate, end: t.Finish})
		}
	}
	return nil
}

package plan

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// Graph is a validated, acyclic dependency graph over a set of planned
// tasks. Build it with BuildGraph; a Graph that exists is already ordered.
type Graph struct {
	tasks      map[string]*PlannedTask
	dependents map[string][]string // taskID -> tasks that depend on it
	order      []string            // topological, dependencies first
}

// BuildGraph indexes the tasks, checks referential integrity, and orders
// them topologically. Referential integrity is checked before any ordering
// work: an edge naming an id absent from the set fails immediately. A
// cycle fails the whole build; the order is never truncated.
func BuildGraph(tasks []*PlannedTask) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*PlannedTask, len(tasks)),
		dependents: make(map[string][]string),
	}

	for _, t := range tasks {
		if _, exists := g.tasks[t.ID]; exists {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		g.tasks[t.ID] = t
	}

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, exists := g.tasks[dep.TaskID]; !exists {
				return nil, fmt.Errorf("task %q: referenced task %q: %w", t.ID, dep.TaskID, ErrNotFound)
			}
			g.dependents[dep.TaskID] = append(g.dependents[dep.TaskID], t.ID)
		}
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.Dependencies) == 0 {
			// Edge from nil keeps dependency-free tasks in the sort.
			edges = append(edges, toposort.Edge{nil, t.ID})
		} else {
			for _, dep := range t.Dependencies {
				edges = append(edges, toposort.Edge{dep.TaskID, t.ID})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]string, 0, len(g.tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(g.tasks) {
		missing := []string{}
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			seen[id] = true
		}
		for id := range g.tasks {
			if !seen[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("%w: order lost %d tasks: %s", ErrCycle, len(missing), strings.Join(missing, ", "))
	}

	g.order = order
	return g, nil
}

// Order returns the full topological order, dependencies first.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Task returns the graph's task by id.
func (g *Graph) Task(id string) (*PlannedTask, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Dependencies returns the incoming edges of a task.
func (g *Graph) Dependencies(id string) []Dependency {
	t, ok := g.tasks[id]
	if !ok {
		return nil
	}
	return append([]Dependency(nil), t.Dependencies...)
}

// Dependents returns the ids of tasks that depend on the given task.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// DependencyCount returns the number of direct dependencies of a task.
func (g *Graph) DependencyCount(id string) int {
	t, ok := g.tasks[id]
	if !ok {
		return 0
	}
	return len(t.Dependencies)
}

// TotalDependencies returns the number of dependency edges in the graph.
func (g *Graph) TotalDependencies() int {
	n := 0
	for _, t := range g.tasks {
		n += len(t.Dependencies)
	}
	return n
}

// MaxDepth returns the longest dependency chain, measured in edges from a
// task with no dependencies. Depths are computed once per task in
// topological order, so diamond-shaped graphs stay linear.
func (g *Graph) MaxDepth() int {
	depth := make(map[string]int, len(g.order))
	max := 0
	for _, id := range g.order {
		d := 0
		for _, dep := range g.tasks[id].Dependencies {
			if dd := depth[dep.TaskID] + 1; dd > d {
				d = dd
			}
		}
		depth[id] = d
		if d > max {
			max = d
		}
	}
	return max
}

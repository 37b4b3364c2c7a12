package scheduler

import (
	"github.com/djh00t/steve/internal/registry"
)

// Strategy picks the agent that receives a task once eligibility filtering
// is done. Select is only called with a non-empty candidate slice, sorted
// by agent ID.
type Strategy interface {
	Name() string
	Select(task *registry.Task, candidates []*registry.Agent) *registry.Agent
}

// FirstFit always takes the first candidate. Deterministic and cheap, not
// load-balanced.
type FirstFit struct{}

func (FirstFit) Name() string { return "first_fit" }

func (FirstFit) Select(_ *registry.Task, candidates []*registry.Agent) *registry.Agent {
	return candidates[0]
}

// LeastLoaded takes the candidate with the most free slots, first candidate
// on ties.
type LeastLoaded struct{}

func (LeastLoaded) Name() string { return "least_loaded" }

func (LeastLoaded) Select(_ *registry.Task, candidates []*registry.Agent) *registry.Agent {
	best := candidates[0]
	for _, a := range candidates[1:] {
		if a.FreeSlots() > best.FreeSlots() {
			best = a
		}
	}
	return best
}

// StrategyByName maps a config value to a strategy. Unknown names fall back
// to first-fit.
func StrategyByName(name string) Strategy {
	switch name {
	case "least_loaded":
		return LeastLoaded{}
	default:
		return FirstFit{}
	}
}

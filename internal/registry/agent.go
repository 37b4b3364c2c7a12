package registry

import (
	"time"
)

// Agent is a registered worker that executes tasks.
type Agent struct {
	ID            string
	Name          string
	Capabilities  Capabilities
	MaxConcurrent int
	Current       []string // task IDs currently assigned to this agent
	LastHeartbeat time.Time
	ErrorCount    int
	Active        bool
}

// FreeSlots returns how many more tasks the agent can accept.
func (a *Agent) FreeSlots() int {
	return a.MaxConcurrent - len(a.Current)
}

func cloneAgent(a *Agent) *Agent {
	if a == nil {
		return nil
	}

	cp := *a
	cp.Capabilities = a.Capabilities.Clone()
	if a.Current != nil {
		cp.Current = append([]string(nil), a.Current...)
	}
	return &cp
}

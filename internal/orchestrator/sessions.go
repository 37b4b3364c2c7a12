package orchestrator

import (
	"context"

	"github.com/djh00t/steve/internal/plan"
	"github.com/djh00t/steve/internal/state"
)

// sessionKeyPrefix namespaces planner sessions inside the shared state
// layer.
const sessionKeyPrefix = "plan/session/"

// stateSessions adapts the shared state manager to the planner's session
// store seam. Sessions are small JSON documents, so the state layer's
// envelope and cache carry them as-is.
type stateSessions struct {
	manager *state.Manager
}

func (s stateSessions) SaveSession(ctx context.Context, sess *plan.Session) error {
	return s.manager.Set(ctx, sessionKeyPrefix+sess.ID, sess, state.SetOptions{
		Metadata: map[string]string{"status": string(sess.Status)},
	})
}

// Package auth admits or denies privileged operations. Agents act under
// security contexts holding granted permissions and an auth level; every
// decision, allowed or not, lands in the audit log.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrPermissionDenied surfaces a denied authorization to callers. A denial
// is never a silent drop.
var ErrPermissionDenied = errors.New("permission denied")

// Level orders how much an agent is trusted.
type Level int

const (
	LevelNone Level = iota
	LevelBasic
	LevelElevated
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelBasic:
		return "basic"
	case LevelElevated:
		return "elevated"
	case LevelAdmin:
		return "admin"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a configured level name back to its Level value.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "none":
		return LevelNone, true
	case "basic":
		return LevelBasic, true
	case "elevated":
		return LevelElevated, true
	case "admin":
		return LevelAdmin, true
	}
	return LevelNone, false
}

// Permission is a named grant an operation can require.
type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Operation describes a privileged action about to happen.
type Operation struct {
	Type        string   `json:"type"`
	Resource    string   `json:"resource"`
	Permissions []string `json:"permissions,omitempty"`
	Level       Level    `json:"level"`
}

// SecurityContext is one agent's standing: granted permissions, trust
// level, optional expiry.
type SecurityContext struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	Permissions []string  `json:"permissions"`
	Level       Level     `json:"level"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Record is one audited authorization decision.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	ContextID string    `json:"context_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Operation string    `json:"operation"`
	Resource  string    `json:"resource"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
}

// AuditSink receives audit records for durable storage. Failures are
// logged, never propagated into the decision.
type AuditSink interface {
	SaveAudit(ctx context.Context, rec Record) error
}

type securityContext struct {
	id          string
	agentID     string
	permissions map[string]struct{}
	level       Level
	createdAt   time.Time
	expiresAt   time.Time
}

func (sc *securityContext) missing(required []string) []string {
	var missing []string
	for _, p := range required {
		if _, ok := sc.permissions[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// Manager owns the permission registry, the live contexts and the audit
// log.
type Manager struct {
	mu       sync.Mutex
	perms    map[string]Permission
	contexts map[string]*securityContext
	audit    []Record
	sink     AuditSink
}

// NewManager creates a manager. The sink may be nil.
func NewManager(sink AuditSink) *Manager {
	return &Manager{
		perms:    make(map[string]Permission),
		contexts: make(map[string]*securityContext),
		sink:     sink,
	}
}

// RegisterPermission makes a permission grantable.
func (m *Manager) RegisterPermission(p Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perms[p.Name] = p
}

// Permissions lists the registered permissions by name.
func (m *Manager) Permissions() []Permission {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateContext opens a security context for an agent. Every granted
// permission must have been registered; ttl <= 0 means no expiry.
func (m *Manager) CreateContext(agentID string, permissions []string, level Level, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	grants := make(map[string]struct{}, len(permissions))
	for _, name := range permissions {
		if _, ok := m.perms[name]; !ok {
			return "", fmt.Errorf("permission %q not registered", name)
		}
		grants[name] = struct{}{}
	}

	now := time.Now()
	sc := &securityContext{
		id:          uuid.NewString(),
		agentID:     agentID,
		permissions: grants,
		level:       level,
		createdAt:   now,
	}
	if ttl > 0 {
		sc.expiresAt = now.Add(ttl)
	}
	m.contexts[sc.id] = sc
	return sc.id, nil
}

// RevokeContext removes a context, reporting whether it existed.
func (m *Manager) RevokeContext(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contexts[id]; !ok {
		return false
	}
	delete(m.contexts, id)
	return true
}

// Context returns a snapshot of a live context.
func (m *Manager) Context(id string) (SecurityContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.contexts[id]
	if !ok {
		return SecurityContext{}, false
	}
	perms := make([]string, 0, len(sc.permissions))
	for p := range sc.permissions {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return SecurityContext{
		ID:          sc.id,
		AgentID:     sc.agentID,
		Permissions: perms,
		Level:       sc.level,
		CreatedAt:   sc.createdAt,
		ExpiresAt:   sc.expiresAt,
	}, true
}

// Authorize decides whether the context may perform the operation. The
// checks run in order: the context must exist, must not be expired, must
// hold every required permission, and must sit at or above the required
// level. The decision is always audited.
func (m *Manager) Authorize(ctx context.Context, contextID string, op Operation) bool {
	m.mu.Lock()

	now := time.Now()
	sc := m.contexts[contextID]

	allowed := false
	reason := ""
	agentID := ""
	switch {
	case sc == nil:
		reason = "unknown security context"
	case !sc.expiresAt.IsZero() && now.After(sc.expiresAt):
		agentID = sc.agentID
		reason = "security context expired"
	default:
		agentID = sc.agentID
		if missing := sc.missing(op.Permissions); len(missing) > 0 {
			reason = "missing permissions: " + strings.Join(missing, ", ")
		} else if sc.level < op.Level {
			reason = fmt.Sprintf("auth level %s below required %s", sc.level, op.Level)
		} else {
			allowed = true
		}
	}

	rec := Record{
		Timestamp: now,
		ContextID: contextID,
		AgentID:   agentID,
		Operation: op.Type,
		Resource:  op.Resource,
		Allowed:   allowed,
		Reason:    reason,
	}
	m.audit = append(m.audit, rec)
	m.mu.Unlock()

	if !allowed {
		log.Printf("WARNING: auth: denied %s on %q for context %s: %s", op.Type, op.Resource, contextID, reason)
	}
	if m.sink != nil {
		if err := m.sink.SaveAudit(ctx, rec); err != nil {
			log.Printf("WARNING: auth: failed to persist audit record: %v", err)
		}
	}
	return allowed
}

// AuditLog returns a snapshot of every decision so far.
func (m *Manager) AuditLog() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.audit...)
}

package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(nil)
	m.RegisterPermission(Permission{Name: "task.create", Description: "create tasks"})
	m.RegisterPermission(Permission{Name: "task.cancel", Description: "cancel tasks"})
	m.RegisterPermission(Permission{Name: "system.admin"})
	return m
}

func TestCreateContext(t *testing.T) {
	m := newTestManager(t)

	id, err := m.CreateContext("agent-1", []string{"task.create"}, LevelBasic, 0)
	if err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}

	sc, ok := m.Context(id)
	if !ok {
		t.Fatal("context not found after create")
	}
	if sc.AgentID != "agent-1" || sc.Level != LevelBasic {
		t.Errorf("context = %+v, want agent-1 at basic", sc)
	}
	if !sc.ExpiresAt.IsZero() {
		t.Error("zero ttl still produced an expiry")
	}
}

func TestCreateContextUnknownPermission(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateContext("agent-1", []string{"task.create", "fleet.destroy"}, LevelBasic, 0)
	if err == nil || !strings.Contains(err.Error(), "fleet.destroy") {
		t.Fatalf("CreateContext() error = %v, want unregistered permission error", err)
	}
}

// TestAuthorize walks the denial ladder: unknown context, expired context,
// missing permission, insufficient level, then success.
func TestAuthorize(t *testing.T) {
	op := Operation{
		Type:        "create_task",
		Resource:    "tasks",
		Permissions: []string{"task.create"},
		Level:       LevelBasic,
	}

	tests := []struct {
		name       string
		contextID  func(m *Manager) string
		op         Operation
		want       bool
		wantReason string
	}{
		{
			name:       "unknown context",
			contextID:  func(*Manager) string { return "ghost" },
			op:         op,
			want:       false,
			wantReason: "unknown security context",
		},
		{
			name: "expired context",
			contextID: func(m *Manager) string {
				id, _ := m.CreateContext("agent-1", []string{"task.create"}, LevelBasic, time.Nanosecond)
				time.Sleep(5 * time.Millisecond)
				return id
			},
			op:         op,
			want:       false,
			wantReason: "expired",
		},
		{
			name: "missing permission",
			contextID: func(m *Manager) string {
				id, _ := m.CreateContext("agent-1", []string{"task.cancel"}, LevelBasic, 0)
				return id
			},
			op:         op,
			want:       false,
			wantReason: "missing permissions: task.create",
		},
		{
			name: "insufficient level",
			contextID: func(m *Manager) string {
				id, _ := m.CreateContext("agent-1", []string{"task.create"}, LevelBasic, 0)
				return id
			},
			op: Operation{
				Type:        "purge",
				Resource:    "registry",
				Permissions: []string{"task.create"},
				Level:       LevelAdmin,
			},
			want:       false,
			wantReason: "below required admin",
		},
		{
			name: "granted",
			contextID: func(m *Manager) string {
				id, _ := m.CreateContext("agent-1", []string{"task.create"}, LevelElevated, time.Hour)
				return id
			},
			op:   op,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			id := tt.contextID(m)

			if got := m.Authorize(context.Background(), id, tt.op); got != tt.want {
				t.Fatalf("Authorize() = %v, want %v", got, tt.want)
			}

			records := m.AuditLog()
			if len(records) != 1 {
				t.Fatalf("audit log has %d records, want 1", len(records))
			}
			rec := records[0]
			if rec.Allowed != tt.want {
				t.Errorf("audit allowed = %v, want %v", rec.Allowed, tt.want)
			}
			if rec.Operation != tt.op.Type || rec.Resource != tt.op.Resource {
				t.Errorf("audit names %s on %s, want %s on %s", rec.Operation, rec.Resource, tt.op.Type, tt.op.Resource)
			}
			if !tt.want && !strings.Contains(rec.Reason, tt.wantReason) {
				t.Errorf("audit reason %q does not mention %q", rec.Reason, tt.wantReason)
			}
			if tt.want && rec.Reason != "" {
				t.Errorf("granted decision carries reason %q", rec.Reason)
			}
		})
	}
}

func TestRevokeContext(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.CreateContext("agent-1", nil, LevelBasic, 0)

	if !m.RevokeContext(id) {
		t.Fatal("RevokeContext() = false for live context")
	}
	if m.RevokeContext(id) {
		t.Error("RevokeContext() = true on second call")
	}
	if m.Authorize(context.Background(), id, Operation{Type: "create_task"}) {
		t.Error("revoked context still authorized")
	}
}

type fakeSink struct {
	mu     sync.Mutex
	saved  []Record
	broken bool
}

func (f *fakeSink) SaveAudit(_ context.Context, rec Record) error {
	if f.broken {
		return errors.New("sink down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rec)
	return nil
}

func TestAuditSink(t *testing.T) {
	sink := &fakeSink{}
	m := NewManager(sink)
	m.RegisterPermission(Permission{Name: "task.create"})
	id, _ := m.CreateContext("agent-1", []string{"task.create"}, LevelBasic, 0)

	m.Authorize(context.Background(), id, Operation{Type: "create_task", Permissions: []string{"task.create"}})
	m.Authorize(context.Background(), "ghost", Operation{Type: "create_task"})

	if len(sink.saved) != 2 {
		t.Fatalf("sink saw %d records, want 2", len(sink.saved))
	}
	if !sink.saved[0].Allowed || sink.saved[1].Allowed {
		t.Error("sink records do not mirror the decisions")
	}
}

func TestAuditSinkFailureDoesNotBlockDecisions(t *testing.T) {
	m := NewManager(&fakeSink{broken: true})
	m.RegisterPermission(Permission{Name: "task.create"})
	id, _ := m.CreateContext("agent-1", []string{"task.create"}, LevelBasic, 0)

	if !m.Authorize(context.Background(), id, Operation{Type: "create_task", Permissions: []string{"task.create"}}) {
		t.Error("sink failure flipped an allow into a deny")
	}
	if len(m.AuditLog()) != 1 {
		t.Error("in-memory audit log missing the record")
	}
}

func TestLevelString(t *testing.T) {
	for level, want := range map[Level]string{
		LevelNone:     "none",
		LevelBasic:    "basic",
		LevelElevated: "elevated",
		LevelAdmin:    "admin",
		Level(9):      "level(9)",
	} {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", int(level), got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{
		"none":     LevelNone,
		"basic":    LevelBasic,
		"elevated": LevelElevated,
		"admin":    LevelAdmin,
	} {
		got, ok := ParseLevel(name)
		if !ok || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v, true", name, got, ok, want)
		}
	}
	if _, ok := ParseLevel("supreme"); ok {
		t.Error("ParseLevel accepted an unknown name")
	}
}

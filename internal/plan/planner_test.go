package plan

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSessionStore struct {
	mu     sync.Mutex
	saved  []*Session
	broken bool
}

func (f *fakeSessionStore) SaveSession(_ context.Context, s *Session) error {
	if f.broken {
		return errors.New("store down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, s)
	return nil
}

func TestCreatePlan(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	p := NewPlanner(Options{})

	res, err := p.CreatePlan(context.Background(), CreatePlan{
		Title: "release",
		Start: start,
		Tasks: []*PlannedTask{
			planTask("build", 2*time.Hour),
			planTask("deploy", time.Hour, fs("build")),
		},
	})
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}

	if res.SessionID == "" {
		t.Error("no session id returned")
	}
	if res.Plan.Status != PlanScheduled {
		t.Errorf("plan status = %s, want scheduled", res.Plan.Status)
	}

	byID := map[string]*PlannedTask{}
	for _, task := range res.Plan.Tasks {
		byID[task.ID] = task
	}
	if got := byID["deploy"].Start; !got.Equal(start.Add(2 * time.Hour)) {
		t.Errorf("deploy start = %v, want after build", got)
	}
	if !res.Plan.End.Equal(start.Add(3 * time.Hour)) {
		t.Errorf("plan end = %v, want start+3h", res.Plan.End)
	}

	if _, ok := p.Session(res.SessionID); !ok {
		t.Error("session not in the arena")
	}
}

func TestCreatePlanRejectsCycles(t *testing.T) {
	p := NewPlanner(Options{})

	_, err := p.CreatePlan(context.Background(), CreatePlan{
		Title: "broken",
		Tasks: []*PlannedTask{
			planTask("a", time.Hour, fs("b")),
			planTask("b", time.Hour, fs("a")),
		},
	})
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("CreatePlan() error = %v, want cycle error", err)
	}
	if got := len(p.Sessions()); got != 0 {
		t.Errorf("arena holds %d sessions after failed create, want 0", got)
	}
}

func TestDoDispatch(t *testing.T) {
	p := NewPlanner(Options{})

	out, err := p.Do(context.Background(), CreatePlan{Title: "via do"})
	if err != nil {
		t.Fatalf("Do(CreatePlan) error = %v", err)
	}
	if _, ok := out.(*PlanResult); !ok {
		t.Errorf("Do(CreatePlan) = %T, want *PlanResult", out)
	}
}

type bogusOp struct{}

func (bogusOp) isOp() {}

func TestDoRejectsUnknownOp(t *testing.T) {
	p := NewPlanner(Options{})

	_, err := p.Do(context.Background(), bogusOp{})
	if err == nil || !strings.Contains(err.Error(), "unknown planner operation") {
		t.Fatalf("Do(bogusOp) error = %v, want unknown-operation error", err)
	}
}

func TestDecompose(t *testing.T) {
	p := NewPlanner(Options{})

	t.Run("complex task splits into three phases", func(t *testing.T) {
		res, err := p.Decompose(context.Background(), DecomposeTask{Task: &PlannedTask{
			ID:           "feature",
			Title:        "payment flow",
			Duration:     8 * time.Hour,
			Capabilities: []string{"coding", "review"},
			Resources:    []ResourceRequirement{{Type: "developer", Amount: 1}},
		}})
		if err != nil {
			t.Fatalf("Decompose() error = %v", err)
		}

		// 0.2*2 caps + 0.15*1 resource + 0.3*1 duration = 0.85
		if math.Abs(res.Score-0.85) > 1e-9 {
			t.Errorf("score = %v, want 0.85", res.Score)
		}
		if len(res.Subtasks) != 3 {
			t.Fatalf("got %d subtasks, want 3", len(res.Subtasks))
		}

		research, impl, testing := res.Subtasks[0], res.Subtasks[1], res.Subtasks[2]
		if research.Duration != 96*time.Minute {
			t.Errorf("research duration = %v, want 20%% of 8h", research.Duration)
		}
		if impl.Duration != 288*time.Minute {
			t.Errorf("implementation duration = %v, want 60%% of 8h", impl.Duration)
		}
		if testing.Duration != 96*time.Minute {
			t.Errorf("testing duration = %v, want 20%% of 8h", testing.Duration)
		}

		if len(research.Capabilities) != 1 || research.Capabilities[0] != "research" {
			t.Errorf("research capabilities = %v", research.Capabilities)
		}
		if len(impl.Capabilities) != 2 {
			t.Errorf("implementation capabilities = %v, want the parent's", impl.Capabilities)
		}
		if len(testing.Capabilities) != 1 || testing.Capabilities[0] != "testing" {
			t.Errorf("testing capabilities = %v", testing.Capabilities)
		}

		if len(research.Dependencies) != 0 {
			t.Errorf("research has dependencies: %v", research.Dependencies)
		}
		if len(impl.Dependencies) != 1 || impl.Dependencies[0].TaskID != research.ID || impl.Dependencies[0].Relation != FinishToStart {
			t.Errorf("implementation dependencies = %v, want finish_to_start on research", impl.Dependencies)
		}
		if len(testing.Dependencies) != 1 || testing.Dependencies[0].TaskID != impl.ID {
			t.Errorf("testing dependencies = %v, want finish_to_start on implementation", testing.Dependencies)
		}
	})

	t.Run("simple task stays whole", func(t *testing.T) {
		res, err := p.Decompose(context.Background(), DecomposeTask{Task: &PlannedTask{
			ID:          "chore",
			Title:       "rotate logs",
			Description: "rotate logs",
			Duration:    time.Hour,
		}})
		if err != nil {
			t.Fatalf("Decompose() error = %v", err)
		}
		if len(res.Subtasks) != 0 {
			t.Errorf("got %d subtasks, want 0", len(res.Subtasks))
		}
		if res.Score > DecomposeThreshold {
			t.Errorf("score = %v, want at most %v", res.Score, DecomposeThreshold)
		}
	})

	t.Run("long description alone crosses the threshold", func(t *testing.T) {
		res, err := p.Decompose(context.Background(), DecomposeTask{Task: &PlannedTask{
			ID:          "essay",
			Title:       "review architecture",
			Description: strings.TrimSpace(strings.Repeat("word ", 71)),
		}})
		if err != nil {
			t.Fatalf("Decompose() error = %v", err)
		}
		if len(res.Subtasks) != 3 {
			t.Errorf("got %d subtasks, want 3", len(res.Subtasks))
		}
	})

	t.Run("score caps at one", func(t *testing.T) {
		res, err := p.Decompose(context.Background(), DecomposeTask{Task: &PlannedTask{
			ID:           "monster",
			Title:        "rebuild everything",
			Duration:     40 * time.Hour,
			Capabilities: []string{"a", "b", "c", "d", "e"},
		}})
		if err != nil {
			t.Fatalf("Decompose() error = %v", err)
		}
		if res.Score != 1 {
			t.Errorf("score = %v, want capped at 1", res.Score)
		}
	})

	t.Run("nil task", func(t *testing.T) {
		if _, err := p.Decompose(context.Background(), DecomposeTask{}); err == nil {
			t.Error("Decompose() accepted a nil task")
		}
	})
}

func TestUpdatePlan(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	newSession := func(t *testing.T, p *Planner) string {
		t.Helper()
		res, err := p.CreatePlan(context.Background(), CreatePlan{
			Title: "release",
			Start: start,
			Tasks: []*PlannedTask{
				planTask("build", 2*time.Hour),
				planTask("deploy", time.Hour, fs("build")),
			},
		})
		if err != nil {
			t.Fatalf("CreatePlan() error = %v", err)
		}
		return res.SessionID
	}

	t.Run("unknown session", func(t *testing.T) {
		p := NewPlanner(Options{})
		_, err := p.UpdatePlan(context.Background(), UpdatePlan{SessionID: "ghost"})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("UpdatePlan() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("add patch and reschedule", func(t *testing.T) {
		p := NewPlanner(Options{})
		sid := newSession(t, p)

		longer := 4 * time.Hour
		res, err := p.UpdatePlan(context.Background(), UpdatePlan{
			SessionID: sid,
			Add:       []*PlannedTask{planTask("verify", time.Hour, fs("deploy"))},
			Update:    map[string]TaskPatch{"build": {Duration: &longer}},
		})
		if err != nil {
			t.Fatalf("UpdatePlan() error = %v", err)
		}

		byID := map[string]*PlannedTask{}
		for _, task := range res.Plan.Tasks {
			byID[task.ID] = task
		}
		if len(byID) != 3 {
			t.Fatalf("plan has %d tasks, want 3", len(byID))
		}
		if got := byID["verify"].Start; !got.Equal(start.Add(5 * time.Hour)) {
			t.Errorf("verify start = %v, want start+5h after the longer build", got)
		}
		if !res.Plan.End.Equal(start.Add(6 * time.Hour)) {
			t.Errorf("plan end = %v, want start+6h", res.Plan.End)
		}
	})

	t.Run("patching an unknown task", func(t *testing.T) {
		p := NewPlanner(Options{})
		sid := newSession(t, p)

		title := "renamed"
		_, err := p.UpdatePlan(context.Background(), UpdatePlan{
			SessionID: sid,
			Update:    map[string]TaskPatch{"ghost": {Title: &title}},
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("UpdatePlan() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("removal strips edges into the removed task", func(t *testing.T) {
		p := NewPlanner(Options{})
		sid := newSession(t, p)

		res, err := p.UpdatePlan(context.Background(), UpdatePlan{
			SessionID: sid,
			Remove:    []string{"build"},
		})
		if err != nil {
			t.Fatalf("UpdatePlan() error = %v", err)
		}
		if len(res.Plan.Tasks) != 1 {
			t.Fatalf("plan has %d tasks, want 1", len(res.Plan.Tasks))
		}
		deploy := res.Plan.Tasks[0]
		if len(deploy.Dependencies) != 0 {
			t.Errorf("deploy still depends on %v", deploy.Dependencies)
		}
		if !deploy.Start.Equal(start) {
			t.Errorf("deploy start = %v, want the plan start", deploy.Start)
		}
	})

	t.Run("failed update leaves the session untouched", func(t *testing.T) {
		p := NewPlanner(Options{})
		sid := newSession(t, p)

		_, err := p.UpdatePlan(context.Background(), UpdatePlan{
			SessionID: sid,
			Add: []*PlannedTask{
				planTask("x", time.Hour, fs("y")),
				planTask("y", time.Hour, fs("x")),
			},
		})
		if err == nil {
			t.Fatal("UpdatePlan() accepted a cyclic addition")
		}

		s, ok := p.Session(sid)
		if !ok {
			t.Fatal("session gone after failed update")
		}
		if got := len(s.Plan.Tasks); got != 2 {
			t.Errorf("plan has %d tasks after failed update, want 2", got)
		}
	})
}

func TestAnalyze(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	p := NewPlanner(Options{})

	res, err := p.CreatePlan(context.Background(), CreatePlan{
		Title: "pipeline",
		Start: start,
		Tasks: []*PlannedTask{
			planTask("a", 8*time.Hour),
			planTask("b", 8*time.Hour, fs("a")),
			planTask("c", 8*time.Hour, fs("b")),
		},
	})
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}

	analysis, err := p.Analyze(context.Background(), AnalyzeDependencies{SessionID: res.SessionID})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if analysis.MaxDepth != 2 {
		t.Errorf("max depth = %d, want 2", analysis.MaxDepth)
	}
	if analysis.TotalDependencies != 2 {
		t.Errorf("total dependencies = %d, want 2", analysis.TotalDependencies)
	}
	if analysis.Makespan != 24*time.Hour {
		t.Errorf("makespan = %v, want 24h", analysis.Makespan)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if analysis.CriticalPath[i] != want[i] {
			t.Fatalf("critical path = %v, want %v", analysis.CriticalPath, want)
		}
	}

	if _, err := p.Analyze(context.Background(), AnalyzeDependencies{SessionID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Analyze(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestExportAndClose(t *testing.T) {
	p := NewPlanner(Options{})
	res, err := p.CreatePlan(context.Background(), CreatePlan{
		Title: "short",
		Tasks: []*PlannedTask{planTask("only", time.Hour)},
	})
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}

	export, err := p.ExportPlan(res.SessionID)
	if err != nil {
		t.Fatalf("ExportPlan() error = %v", err)
	}
	if export.Session == nil || export.Session.ID != res.SessionID {
		t.Error("export missing the session")
	}
	if export.Analysis == nil || len(export.Analysis.CriticalPath) != 1 {
		t.Errorf("export analysis = %+v, want one critical task", export.Analysis)
	}

	if err := p.CloseSession(context.Background(), res.SessionID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if _, ok := p.Session(res.SessionID); ok {
		t.Error("session still live after close")
	}
	if err := p.CloseSession(context.Background(), res.SessionID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second CloseSession() error = %v, want ErrNotFound", err)
	}
}

func TestPlannerPersistsSessions(t *testing.T) {
	store := &fakeSessionStore{}
	p := NewPlanner(Options{Store: store})

	res, err := p.CreatePlan(context.Background(), CreatePlan{
		Title: "tracked",
		Tasks: []*PlannedTask{planTask("only", time.Hour)},
	})
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	if _, err := p.UpdatePlan(context.Background(), UpdatePlan{SessionID: res.SessionID}); err != nil {
		t.Fatalf("UpdatePlan() error = %v", err)
	}
	if err := p.CloseSession(context.Background(), res.SessionID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}

	if len(store.saved) != 3 {
		t.Fatalf("store saw %d saves, want 3", len(store.saved))
	}
	if last := store.saved[2]; last.Status != SessionClosed {
		t.Errorf("final snapshot status = %s, want closed", last.Status)
	}
}

func TestPlannerSurvivesStoreFailure(t *testing.T) {
	p := NewPlanner(Options{Store: &fakeSessionStore{broken: true}})

	res, err := p.CreatePlan(context.Background(), CreatePlan{
		Title: "unpersisted",
		Tasks: []*PlannedTask{planTask("only", time.Hour)},
	})
	if err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	if _, ok := p.Session(res.SessionID); !ok {
		t.Error("session lost when the store failed")
	}
}

func TestRestore(t *testing.T) {
	p := NewPlanner(Options{})

	p.Restore(&Session{ID: "alive", Status: SessionActive, Plan: &Plan{ID: "p1"}})
	p.Restore(&Session{ID: "done", Status: SessionClosed, Plan: &Plan{ID: "p2"}})

	if _, ok := p.Session("alive"); !ok {
		t.Error("active session not restored")
	}
	if _, ok := p.Session("done"); ok {
		t.Error("closed session restored")
	}
}

package enforce

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aristath/delegator/internal/taskgraph"
)

func buildGraph(t *testing.T, pairs map[string][]string) *taskgraph.Graph {
	t.Helper()
	specs := make([]taskgraph.Spec, 0, len(pairs))
	for id, deps := range pairs {
		specs = append(specs, taskgraph.Spec{ID: id, WorkerType: "explore", Description: id, DependsOn: deps})
	}
	g, err := taskgraph.New(specs)
	if err != nil {
		t.Fatalf("taskgraph.New: %v", err)
	}
	return g
}

func TestValidateSpawn(t *testing.T) {
	g := buildGraph(t, map[string][]string{"a": {}, "b": {}, "c": {"a", "b"}})
	e := New(g, Config{})

	tests := []struct {
		name       string
		taskID     string
		setup      func()
		wantOK     bool
		wantReason string
	}{
		{name: "ready task", taskID: "a", wantOK: true},
		{name: "second ready task", taskID: "b", wantOK: true},
		{name: "unknown task", taskID: "ghost", wantOK: false, wantReason: "unknown task"},
		{name: "unmet dependencies", taskID: "c", wantOK: false, wantReason: "unmet dependencies"},
		{
			name:   "already spawned",
			taskID: "a",
			setup: func() {
				if err := e.RecordSpawn("a", "agent-a", time.Now()); err != nil {
					t.Fatalf("RecordSpawn: %v", err)
				}
			},
			wantOK:     false,
			wantReason: "already spawned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			ok, reason := e.ValidateSpawn(tt.taskID)
			if ok != tt.wantOK {
				t.Fatalf("ValidateSpawn(%q) = %v (%q), want %v", tt.taskID, ok, reason, tt.wantOK)
			}
			if !ok && !strings.Contains(reason, tt.wantReason) {
				t.Errorf("reason = %q, want substring %q", reason, tt.wantReason)
			}
		})
	}
}

// TestDependencyCheckBeatsTiming verifies timing never substitutes for
// dependency checks: a task whose dependency is incomplete is rejected no
// matter how the wave clock looks.
func TestDependencyCheckBeatsTiming(t *testing.T) {
	g := buildGraph(t, map[string][]string{"a": {}, "b": {"a"}})
	e := New(g, Config{ParallelWindow: time.Hour})

	if err := e.RecordSpawn("a", "agent-a", time.Now()); err != nil {
		t.Fatalf("RecordSpawn: %v", err)
	}

	ok, reason := e.ValidateSpawn("b")
	if ok {
		t.Fatal("ValidateSpawn(b) = true with incomplete dependency")
	}
	if !strings.Contains(reason, "unmet dependencies") {
		t.Errorf("reason = %q, want unmet dependencies", reason)
	}
}

func TestParallelCompliance(t *testing.T) {
	base := time.Now()

	tests := []struct {
		name          string
		strict        bool
		offsets       map[string]time.Duration
		wantCompliant bool
		wantErr       bool
	}{
		{
			name:          "within window",
			strict:        true,
			offsets:       map[string]time.Duration{"a": 0, "b": 300 * time.Millisecond},
			wantCompliant: true,
		},
		{
			name:          "outside window strict",
			strict:        true,
			offsets:       map[string]time.Duration{"a": 0, "b": 650 * time.Millisecond},
			wantCompliant: false,
			wantErr:       true,
		},
		{
			name:          "outside window lenient",
			strict:        false,
			offsets:       map[string]time.Duration{"a": 0, "b": 650 * time.Millisecond},
			wantCompliant: false,
		},
		{
			name:          "single spawn",
			strict:        true,
			offsets:       map[string]time.Duration{"a": 0},
			wantCompliant: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, map[string][]string{"a": {}, "b": {}})
			e := New(g, Config{ParallelWindow: 500 * time.Millisecond, Strict: tt.strict})

			for id, off := range tt.offsets {
				if err := e.RecordSpawn(id, "agent-"+id, base.Add(off)); err != nil {
					t.Fatalf("RecordSpawn(%q): %v", id, err)
				}
			}

			compliant, detail, err := e.CheckParallelCompliance()
			if compliant != tt.wantCompliant {
				t.Errorf("compliant = %v (%q), want %v", compliant, detail, tt.wantCompliant)
			}
			if tt.wantErr {
				var pe *ParallelExecutionError
				if !errors.As(err, &pe) {
					t.Fatalf("err = %v, want ParallelExecutionError", err)
				}
				if pe.Spread != 650*time.Millisecond {
					t.Errorf("spread = %v, want 650ms", pe.Spread)
				}
				if pe.Window != 500*time.Millisecond {
					t.Errorf("window = %v, want 500ms", pe.Window)
				}
			} else if err != nil {
				t.Errorf("err = %v, want nil", err)
			}
		})
	}
}

// TestSizeOneWaveCompliant: a wave of size 1 has no parallelism to violate.
func TestSizeOneWaveCompliant(t *testing.T) {
	g := buildGraph(t, map[string][]string{"a": {}})
	e := New(g, Config{ParallelWindow: time.Millisecond, Strict: true})

	if err := e.RecordSpawn("a", "agent-a", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("RecordSpawn: %v", err)
	}

	compliant, _, err := e.CheckParallelCompliance()
	if !compliant || err != nil {
		t.Errorf("compliant = %v, err = %v, want true, nil", compliant, err)
	}
}

func TestAdvanceWave(t *testing.T) {
	g := buildGraph(t, map[string][]string{"a": {}, "b": {}, "c": {"a", "b"}})
	e := New(g, Config{})

	// Cannot advance while wave 0 has non-terminal tasks.
	if err := e.AdvanceWave(); err == nil {
		t.Fatal("AdvanceWave with pending tasks succeeded, want error")
	}

	now := time.Now()
	for _, id := range []string{"a", "b"} {
		if err := e.RecordSpawn(id, "agent-"+id, now); err != nil {
			t.Fatalf("RecordSpawn(%q): %v", id, err)
		}
	}

	// A mix of completed and failed still counts as terminal.
	if err := e.MarkTaskCompleted("a"); err != nil {
		t.Fatalf("MarkTaskCompleted: %v", err)
	}
	if e.CurrentWave() != 0 {
		t.Fatalf("wave advanced with b still running")
	}
	if err := e.MarkTaskFailed("b", errors.New("worker crashed")); err != nil {
		t.Fatalf("MarkTaskFailed: %v", err)
	}

	// b's failure cascades to c, terminalizing wave 1 too: the enforcer
	// should have advanced past every wave.
	if !e.Done() {
		t.Errorf("Done() = false after cascade, wave = %d", e.CurrentWave())
	}

	if err := e.AdvanceWave(); err == nil {
		t.Error("AdvanceWave past the last wave succeeded, want error")
	}
}

func TestAutoAdvance(t *testing.T) {
	g := buildGraph(t, map[string][]string{"a": {}, "b": {"a"}})
	e := New(g, Config{})

	if err := e.RecordSpawn("a", "agent-a", time.Now()); err != nil {
		t.Fatalf("RecordSpawn: %v", err)
	}
	if err := e.MarkTaskCompleted("a"); err != nil {
		t.Fatalf("MarkTaskCompleted: %v", err)
	}

	if e.CurrentWave() != 1 {
		t.Fatalf("wave = %d after completing wave 0, want 1", e.CurrentWave())
	}
	ready := e.ReadyTasks()
	if len(ready) != 1 || ready[0] != "b" {
		t.Errorf("ReadyTasks() = %v, want [b]", ready)
	}
}

// TestStrictViolationHaltsAdvance: when the last task of a non-compliant
// wave completes under strict mode, the auto-advance raises and the wave
// cursor stays put.
func TestStrictViolationHaltsAdvance(t *testing.T) {
	g := buildGraph(t, map[string][]string{"a": {}, "b": {}, "c": {"a", "b"}})
	e := New(g, Config{ParallelWindow: 100 * time.Millisecond, Strict: true})

	base := time.Now()
	if err := e.RecordSpawn("a", "agent-a", base); err != nil {
		t.Fatalf("RecordSpawn: %v", err)
	}
	if err := e.RecordSpawn("b", "agent-b", base.Add(time.Second)); err != nil {
		t.Fatalf("RecordSpawn: %v", err)
	}

	if err := e.MarkTaskCompleted("a"); err != nil {
		t.Fatalf("MarkTaskCompleted(a): %v", err)
	}

	err := e.MarkTaskCompleted("b")
	var pe *ParallelExecutionError
	if !errors.As(err, &pe) {
		t.Fatalf("MarkTaskCompleted(b) err = %v, want ParallelExecutionError", err)
	}
	if e.CurrentWave() != 0 {
		t.Errorf("wave = %d after strict violation, want 0", e.CurrentWave())
	}
}

func TestLenientViolationAdvances(t *testing.T) {
	g := buildGraph(t, map[string][]string{"a": {}, "b": {}})
	e := New(g, Config{ParallelWindow: 100 * time.Millisecond, Strict: false})

	base := time.Now()
	if err := e.RecordSpawn("a", "agent-a", base); err != nil {
		t.Fatalf("RecordSpawn: %v", err)
	}
	if err := e.RecordSpawn("b", "agent-b", base.Add(time.Second)); err != nil {
		t.Fatalf("RecordSpawn: %v", err)
	}

	if err := e.MarkTaskCompleted("a"); err != nil {
		t.Fatalf("MarkTaskCompleted(a): %v", err)
	}
	if err := e.MarkTaskCompleted("b"); err != nil {
		t.Fatalf("MarkTaskCompleted(b): %v", err)
	}

	if !e.Done() {
		t.Error("Done() = false, lenient mode should advance past violations")
	}
	report := e.Status()
	if len(report.Violations) != 1 {
		t.Errorf("violations = %v, want one recorded", report.Violations)
	}
}

func TestStatusReport(t *testing.T) {
	g := buildGraph(t, map[string][]string{"a": {}, "b": {}})
	e := New(g, Config{})

	if err := e.RecordSpawn("a", "agent-a", time.Now()); err != nil {
		t.Fatalf("RecordSpawn: %v", err)
	}

	report := e.Status()
	if report.CurrentWave != 1 || report.TotalWaves != 1 {
		t.Errorf("wave %d/%d, want 1/1", report.CurrentWave, report.TotalWaves)
	}
	if len(report.WaveTasks) != 2 {
		t.Errorf("WaveTasks = %v, want [a b]", report.WaveTasks)
	}
	if report.TaskStatuses["a"] != "spawned" {
		t.Errorf("status of a = %q, want spawned", report.TaskStatuses["a"])
	}
	if report.TaskStatuses["b"] != "pending" {
		t.Errorf("status of b = %q, want pending", report.TaskStatuses["b"])
	}
}

// TestEndToEndScenario mirrors the canonical research/docs/implement flow:
// two independent tasks spawned 50ms apart pass a 500ms window, then the
// dependent task becomes the sole ready task of a trivially compliant wave.
func TestEndToEndScenario(t *testing.T) {
	g := buildGraph(t, map[string][]string{
		"research":  {},
		"docs":      {},
		"implement": {"research", "docs"},
	})
	e := New(g, Config{ParallelWindow: 500 * time.Millisecond, Strict: true})

	base := time.Now()
	if err := e.RecordSpawn("research", "agent-1", base); err != nil {
		t.Fatalf("RecordSpawn(research): %v", err)
	}
	if err := e.RecordSpawn("docs", "agent-2", base.Add(50*time.Millisecond)); err != nil {
		t.Fatalf("RecordSpawn(docs): %v", err)
	}

	compliant, _, err := e.CheckParallelCompliance()
	if !compliant || err != nil {
		t.Fatalf("compliance = %v, err = %v, want true, nil", compliant, err)
	}

	if err := e.MarkTaskCompleted("research"); err != nil {
		t.Fatalf("MarkTaskCompleted(research): %v", err)
	}
	if err := e.MarkTaskCompleted("docs"); err != nil {
		t.Fatalf("MarkTaskCompleted(docs): %v", err)
	}

	ready := e.ReadyTasks()
	if len(ready) != 1 || ready[0] != "implement" {
		t.Fatalf("ReadyTasks() = %v, want [implement]", ready)
	}

	ok, reason := e.ValidateSpawn("implement")
	if !ok {
		t.Fatalf("ValidateSpawn(implement) = false: %s", reason)
	}
	if err := e.RecordSpawn("implement", "agent-3", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RecordSpawn(implement): %v", err)
	}
	if err := e.MarkTaskCompleted("implement"); err != nil {
		t.Fatalf("MarkTaskCompleted(implement): %v", err)
	}
	if !e.Done() {
		t.Error("Done() = false after all waves complete")
	}
}

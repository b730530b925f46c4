package enforce

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/aristath/delegator/internal/taskgraph"
)

// DefaultParallelWindow is the maximum spawn-timestamp spread within one
// wave for it to count as truly parallel, unless configured otherwise.
const DefaultParallelWindow = 2 * time.Second

// ParallelExecutionError is raised in strict mode when a wave's spawns
// were spread wider than the allowed window. It is a policy violation by
// the caller's usage pattern, not a worker failure: the fix is batching
// spawn calls, not retrying.
type ParallelExecutionError struct {
	Wave   int
	Spread time.Duration
	Window time.Duration
}

func (e *ParallelExecutionError) Error() string {
	return fmt.Sprintf("wave %d tasks not spawned in parallel: spread %v exceeds window %v", e.Wave+1, e.Spread, e.Window)
}

// Config configures an Enforcer.
type Config struct {
	ParallelWindow time.Duration // Max spawn spread per wave (default 2s)
	Strict         bool          // Violations halt wave advancement
}

// Enforcer validates spawn eligibility against one task graph and checks,
// after the fact, that each wave's spawns were sufficiently concurrent.
// It is ephemeral: one enforcer per orchestration session.
type Enforcer struct {
	mu         sync.Mutex
	graph      *taskgraph.Graph
	wave       int
	spawnLog   map[string]time.Time
	window     time.Duration
	strict     bool
	violations []string
}

// New creates an Enforcer over the given graph.
func New(graph *taskgraph.Graph, cfg Config) *Enforcer {
	window := cfg.ParallelWindow
	if window <= 0 {
		window = DefaultParallelWindow
	}

	return &Enforcer{
		graph:    graph,
		spawnLog: make(map[string]time.Time),
		window:   window,
		strict:   cfg.Strict,
	}
}

// CurrentWave returns the zero-based index of the wave currently eligible
// for spawning.
func (e *Enforcer) CurrentWave() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wave
}

// Done reports whether every wave has been completed and advanced past.
func (e *Enforcer) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wave >= e.graph.WaveCount()
}

// ReadyTasks returns the still-pending task IDs of the current wave.
func (e *Enforcer) ReadyTasks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.ReadyTasks(e.wave)
}

// ValidateSpawn checks whether the given task may be spawned right now.
// It has no side effects; the orchestration entry point must call it
// before touching the process manager. Dependency state is checked before
// wave membership so a stale caller gets the most actionable reason.
func (e *Enforcer) ValidateSpawn(taskID string) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, exists := e.graph.Get(taskID)
	if !exists {
		return false, fmt.Sprintf("unknown task %q", taskID)
	}

	if !e.graph.DependenciesMet(taskID) {
		var unmet []string
		for _, depID := range task.DependsOn {
			dep, _ := e.graph.Get(depID)
			if dep == nil || dep.Status != taskgraph.StatusCompleted {
				unmet = append(unmet, depID)
			}
		}
		return false, fmt.Sprintf("task %q has unmet dependencies: %v", taskID, unmet)
	}

	if !e.inCurrentWave(taskID) {
		return false, fmt.Sprintf("task %q is not in the current wave (%d)", taskID, e.wave+1)
	}

	if task.Status != taskgraph.StatusPending {
		return false, fmt.Sprintf("task %q already %s", taskID, task.Status)
	}

	return true, ""
}

// inCurrentWave reports wave membership. Caller holds e.mu.
func (e *Enforcer) inCurrentWave(taskID string) bool {
	for _, id := range e.graph.Wave(e.wave) {
		if id == taskID {
			return true
		}
	}
	return false
}

// RecordSpawn records the spawn timestamp and links the task to its
// worker process handle. Must only be called after a successful
// ValidateSpawn and a successful process launch.
func (e *Enforcer) RecordSpawn(taskID, agentTaskID string, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.graph.MarkSpawned(taskID, agentTaskID, at); err != nil {
		return err
	}
	e.spawnLog[taskID] = at
	return nil
}

// CheckParallelCompliance computes the spawn-timestamp spread of the
// current wave. A wave with fewer than two spawned tasks is trivially
// compliant. In strict mode a violation is returned as a
// *ParallelExecutionError; otherwise only the detail string reports it.
func (e *Enforcer) CheckParallelCompliance() (bool, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkCompliance()
}

// checkCompliance is the lock-free core of CheckParallelCompliance.
// Caller holds e.mu.
func (e *Enforcer) checkCompliance() (bool, string, error) {
	spread, spawned := e.waveSpread()
	if spawned < 2 {
		return true, "", nil
	}

	if spread <= e.window {
		return true, "", nil
	}

	detail := fmt.Sprintf("wave %d tasks not spawned in parallel: spread %v exceeds window %v", e.wave+1, spread, e.window)
	if e.strict {
		return false, detail, &ParallelExecutionError{Wave: e.wave, Spread: spread, Window: e.window}
	}
	return false, detail, nil
}

// waveSpread returns the max-min spawn time over the current wave and the
// number of spawned tasks considered. Caller holds e.mu.
func (e *Enforcer) waveSpread() (time.Duration, int) {
	var earliest, latest time.Time
	spawned := 0

	for _, id := range e.graph.Wave(e.wave) {
		at, ok := e.spawnLog[id]
		if !ok {
			continue
		}
		if spawned == 0 || at.Before(earliest) {
			earliest = at
		}
		if spawned == 0 || at.After(latest) {
			latest = at
		}
		spawned++
	}

	return latest.Sub(earliest), spawned
}

// AdvanceWave moves the cursor to the next wave. It is an error to call
// it while any current-wave task is non-terminal. In strict mode a
// parallel-compliance violation halts advancement; otherwise the
// violation is logged and the wave advances anyway.
func (e *Enforcer) AdvanceWave() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceWave()
}

// advanceWave is the lock-free core of AdvanceWave. Caller holds e.mu.
func (e *Enforcer) advanceWave() error {
	if e.wave >= e.graph.WaveCount() {
		return fmt.Errorf("all %d waves already complete", e.graph.WaveCount())
	}

	if !e.graph.WaveTerminal(e.wave) {
		return fmt.Errorf("wave %d has non-terminal tasks, cannot advance", e.wave+1)
	}

	compliant, detail, err := e.checkCompliance()
	if err != nil {
		return err
	}
	if !compliant {
		log.Printf("WARNING: %s", detail)
		e.violations = append(e.violations, detail)
	}

	e.wave++
	return nil
}

// MarkTaskCompleted forwards the completion to the graph and, when this
// makes the current wave fully terminal, advances it automatically so the
// caller never tracks wave boundaries by hand. A strict-mode compliance
// violation surfaces here.
func (e *Enforcer) MarkTaskCompleted(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.graph.MarkCompleted(taskID); err != nil {
		return err
	}
	return e.maybeAdvance()
}

// MarkTaskFailed forwards the failure to the graph (cascading to blocked
// dependents) and auto-advances like MarkTaskCompleted. A cancelled task
// is reported through this path: terminal, just unsuccessfully so.
func (e *Enforcer) MarkTaskFailed(taskID string, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.graph.MarkFailed(taskID, cause); err != nil {
		return err
	}
	return e.maybeAdvance()
}

// maybeAdvance advances past every consecutively terminal wave. Cascade
// failures can terminalize several future waves at once. Caller holds e.mu.
func (e *Enforcer) maybeAdvance() error {
	for e.wave < e.graph.WaveCount() && e.graph.WaveTerminal(e.wave) {
		if err := e.advanceWave(); err != nil {
			return err
		}
	}
	return nil
}

// Report is a point-in-time snapshot of enforcement state, for progress
// display and debugging. Wave numbers are 1-based.
type Report struct {
	CurrentWave  int
	TotalWaves   int
	Done         bool
	WaveTasks    []string
	TaskStatuses map[string]string
	SpawnSpread  time.Duration
	Window       time.Duration
	Strict       bool
	Violations   []string
}

// Status returns the current enforcement report.
func (e *Enforcer) Status() Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	statuses := make(map[string]string)
	for _, task := range e.graph.Tasks() {
		statuses[task.ID] = task.Status.String()
	}

	spread, _ := e.waveSpread()
	report := Report{
		CurrentWave:  e.wave + 1,
		TotalWaves:   e.graph.WaveCount(),
		Done:         e.wave >= e.graph.WaveCount(),
		WaveTasks:    e.graph.Wave(e.wave),
		TaskStatuses: statuses,
		SpawnSpread:  spread,
		Window:       e.window,
		Strict:       e.strict,
		Violations:   append([]string(nil), e.violations...),
	}
	sort.Strings(report.WaveTasks)
	return report
}

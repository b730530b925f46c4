package taskgraph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

// Graph is an immutable-after-construction DAG of tasks plus its derived
// wave partition. Status transitions are the only mutation after New.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	dependents map[string][]string // taskID -> tasks that depend on it
	waves      [][]string          // earliest-layer partition, wave -> sorted task IDs
}

// New builds a graph from task specifications. It fails with
// *UnknownDependencyError if a dependency names an undeclared task and
// with *CycleError if the dependency relation is cyclic.
func New(specs []Spec) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*Task, len(specs)),
		dependents: make(map[string][]string),
	}

	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("task spec with empty id")
		}
		if _, exists := g.tasks[spec.ID]; exists {
			return nil, fmt.Errorf("duplicate task id %q", spec.ID)
		}
		g.tasks[spec.ID] = &Task{
			ID:          spec.ID,
			WorkerType:  spec.WorkerType,
			Description: spec.Description,
			DependsOn:   append([]string(nil), spec.DependsOn...),
			Status:      StatusPending,
		}
	}

	for id, task := range g.tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, &UnknownDependencyError{TaskID: id, DepID: depID}
			}
			g.dependents[depID] = append(g.dependents[depID], id)
		}
	}

	if err := g.validate(); err != nil {
		return nil, err
	}

	g.waves = g.computeWaves()
	return g, nil
}

// validate runs a topological sort over the dependency edges purely to
// detect cycles. Dependency existence was already checked.
func (g *Graph) validate() error {
	var edges []toposort.Edge
	for id, task := range g.tasks {
		if len(task.DependsOn) == 0 {
			// Edge from nil ensures isolated tasks appear in the sort.
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return &CycleError{Detail: err.Error()}
	}
	return nil
}

// computeWaves partitions tasks into earliest-possible layers: wave 0 is
// every task with no dependencies, wave i+1 is every unplaced task whose
// dependencies all sit in waves <= i. This is longest-path layering, not
// an arbitrary topological sort, so tasks sharing a wave are guaranteed
// mutually independent.
func (g *Graph) computeWaves() [][]string {
	placed := make(map[string]int, len(g.tasks))
	var waves [][]string

	for len(placed) < len(g.tasks) {
		var wave []string
		for id, task := range g.tasks {
			if _, done := placed[id]; done {
				continue
			}
			ready := true
			for _, depID := range task.DependsOn {
				if _, done := placed[depID]; !done {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, id)
			}
		}

		// A cycle would stall progress here, but cycles were rejected in
		// validate, so an empty wave is an internal invariant violation.
		if len(wave) == 0 {
			panic(fmt.Sprintf("taskgraph: wave computation stalled with %d of %d tasks placed", len(placed), len(g.tasks)))
		}

		sort.Strings(wave)
		for _, id := range wave {
			placed[id] = len(waves)
		}
		waves = append(waves, wave)
	}

	return waves
}

// Waves returns a copy of the wave partition.
func (g *Graph) Waves() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([][]string, len(g.waves))
	for i, wave := range g.waves {
		out[i] = append([]string(nil), wave...)
	}
	return out
}

// WaveCount returns the number of waves.
func (g *Graph) WaveCount() int {
	return len(g.waves)
}

// Wave returns a copy of the task IDs in wave i.
func (g *Graph) Wave(i int) []string {
	if i < 0 || i >= len(g.waves) {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.waves[i]...)
}

// ReadyTasks returns the IDs in wave i whose status is still pending.
// Pure query, no side effects.
func (g *Graph) ReadyTasks(i int) []string {
	if i < 0 || i >= len(g.waves) {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.waves[i] {
		if g.tasks[id].Status == StatusPending {
			ready = append(ready, id)
		}
	}
	return ready
}

// WaveTerminal reports whether every task in wave i reached a terminal
// status.
func (g *Graph) WaveTerminal(i int) bool {
	if i < 0 || i >= len(g.waves) {
		return false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range g.waves[i] {
		if !g.tasks[id].Status.Terminal() {
			return false
		}
	}
	return true
}

// Get returns a copy of the task with the given ID.
func (g *Graph) Get(id string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, exists := g.tasks[id]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Task, 0, len(g.tasks))
	for _, task := range g.tasks {
		out = append(out, cloneTask(task))
	}
	return out
}

// DependenciesMet reports whether every dependency of the task completed.
func (g *Graph) DependenciesMet(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, exists := g.tasks[id]
	if !exists {
		return false
	}
	for _, depID := range task.DependsOn {
		if g.tasks[depID].Status != StatusCompleted {
			return false
		}
	}
	return true
}

// MarkSpawned records a successful spawn: status, handle back-reference,
// and the spawn timestamp (set exactly once).
func (g *Graph) MarkSpawned(id, agentTaskID string, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[id]
	if !exists {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status != StatusPending {
		return fmt.Errorf("task %q is %s, cannot mark spawned", id, task.Status)
	}

	task.Status = StatusSpawned
	task.AgentTaskID = agentTaskID
	if task.SpawnTime == nil {
		ts := at
		task.SpawnTime = &ts
	}
	return nil
}

// MarkRunning transitions a spawned task to running.
func (g *Graph) MarkRunning(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[id]
	if !exists {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status.Terminal() {
		return nil
	}
	task.Status = StatusRunning
	return nil
}

// MarkCompleted transitions a task to completed. Calling it on an
// already-terminal task is a no-op so duplicate completion notifications
// from asynchronous monitors are tolerated.
func (g *Graph) MarkCompleted(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[id]
	if !exists {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status.Terminal() {
		return nil
	}
	task.Status = StatusCompleted
	return nil
}

// MarkFailed transitions a task to failed and cascades: every pending
// dependent that can now never run is failed with a
// *DependencyFailedError. Idempotent on terminal tasks.
func (g *Graph) MarkFailed(id string, cause error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[id]
	if !exists {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status.Terminal() {
		return nil
	}

	task.Status = StatusFailed
	task.Err = cause
	g.cascadeFailure(id)
	return nil
}

// cascadeFailure fails all transitive dependents of failedID that are
// still pending. Caller holds g.mu.
func (g *Graph) cascadeFailure(failedID string) {
	for _, depID := range g.dependents[failedID] {
		dependent := g.tasks[depID]
		if dependent.Status != StatusPending {
			continue
		}
		dependent.Status = StatusFailed
		dependent.Err = &DependencyFailedError{TaskID: depID, DepID: failedID}
		g.cascadeFailure(depID)
	}
}

package taskgraph

import "time"

// Status represents the current state of a task.
type Status int

const (
	StatusPending   Status = iota // Waiting for dependencies or spawn
	StatusSpawned                 // Spawn recorded, worker process starting
	StatusRunning                 // Worker process executing
	StatusCompleted               // Finished successfully (terminal)
	StatusFailed                  // Finished with error (terminal)
)

// String returns the lowercase name used in reports and persistence.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSpawned:
		return "spawned"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Spec is the construction input for a single task. A task file is a
// JSON array of these records.
type Spec struct {
	ID          string   `json:"id"`
	WorkerType  string   `json:"worker_type"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
}

// Task represents one declared unit of work in the graph.
type Task struct {
	ID          string
	WorkerType  string   // Opaque tag, resolved by the launcher registry
	Description string
	DependsOn   []string // Task IDs that must complete before this task
	Status      Status
	AgentTaskID string     // Handle ID once spawned, empty before
	SpawnTime   *time.Time // Set exactly once, at successful spawn
	Err         error      // Failure cause if StatusFailed
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}

	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.SpawnTime != nil {
		ts := *t.SpawnTime
		cp.SpawnTime = &ts
	}
	return &cp
}

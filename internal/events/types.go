package events

import "time"

// Event is the base interface for all events.
type Event interface {
	EventType() string
	AgentTaskID() string
}

// Topic constants
const (
	TopicAgent = "agent"
	TopicWave  = "wave"
)

// Event type constants
const (
	EventTypeAgentSpawned        = "agent.spawned"
	EventTypeAgentOutput         = "agent.output"
	EventTypeAgentCompleted      = "agent.completed"
	EventTypeAgentFailed         = "agent.failed"
	EventTypeAgentCancelled      = "agent.cancelled"
	EventTypeWaveAdvanced        = "wave.advanced"
	EventTypeComplianceViolation = "wave.compliance_violation"
	EventTypeGraphProgress       = "wave.graph_progress"
)

// AgentSpawnedEvent is published when a worker process starts.
type AgentSpawnedEvent struct {
	ID          string
	TaskID      string // Graph task ID, empty for ad-hoc spawns
	WorkerType  string
	Description string
	PID         int
	Timestamp   time.Time
}

func (e AgentSpawnedEvent) EventType() string   { return EventTypeAgentSpawned }
func (e AgentSpawnedEvent) AgentTaskID() string { return e.ID }

// AgentOutputEvent is published for each line a worker process emits.
type AgentOutputEvent struct {
	ID        string
	Line      string
	Timestamp time.Time
}

func (e AgentOutputEvent) EventType() string   { return EventTypeAgentOutput }
func (e AgentOutputEvent) AgentTaskID() string { return e.ID }

// AgentCompletedEvent is published when a worker process exits cleanly.
type AgentCompletedEvent struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e AgentCompletedEvent) EventType() string   { return EventTypeAgentCompleted }
func (e AgentCompletedEvent) AgentTaskID() string { return e.ID }

// AgentFailedEvent is published when a worker process exits abnormally.
type AgentFailedEvent struct {
	ID        string
	ExitCode  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e AgentFailedEvent) EventType() string   { return EventTypeAgentFailed }
func (e AgentFailedEvent) AgentTaskID() string { return e.ID }

// AgentCancelledEvent is published when a worker process is cancelled.
type AgentCancelledEvent struct {
	ID        string
	Timestamp time.Time
}

func (e AgentCancelledEvent) EventType() string   { return EventTypeAgentCancelled }
func (e AgentCancelledEvent) AgentTaskID() string { return e.ID }

// WaveAdvancedEvent is published when the enforcer moves to the next wave.
type WaveAdvancedEvent struct {
	Wave       int // 1-based wave just entered
	TotalWaves int
	Timestamp  time.Time
}

func (e WaveAdvancedEvent) EventType() string   { return EventTypeWaveAdvanced }
func (e WaveAdvancedEvent) AgentTaskID() string { return "" }

// ComplianceViolationEvent is published when a wave's spawns exceeded the
// parallel window (lenient mode only; strict mode halts instead).
type ComplianceViolationEvent struct {
	Wave      int
	Detail    string
	Timestamp time.Time
}

func (e ComplianceViolationEvent) EventType() string   { return EventTypeComplianceViolation }
func (e ComplianceViolationEvent) AgentTaskID() string { return "" }

// GraphProgressEvent is published when task counts change.
type GraphProgressEvent struct {
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Wave      int
	Timestamp time.Time
}

func (e GraphProgressEvent) EventType() string   { return EventTypeGraphProgress }
func (e GraphProgressEvent) AgentTaskID() string { return "" }

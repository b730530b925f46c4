package config

// WorkerConfig defines how to launch one worker type. The command is
// executed directly; "{payload}" in Args is replaced with the task
// payload, otherwise the payload is fed on stdin.
type WorkerConfig struct {
	Command string   `json:"command"`        // Binary name or path (e.g., "claude", "sh")
	Args    []string `json:"args,omitempty"` // Arguments, may contain the payload placeholder
	Env     []string `json:"env,omitempty"`  // Extra KEY=VALUE pairs appended to the environment
	Dir     string   `json:"dir,omitempty"`  // Working directory, empty means inherit
}

// EnforcementConfig controls parallel-execution compliance checking.
type EnforcementConfig struct {
	ParallelWindowMS int  `json:"parallel_window_ms"` // Max spawn spread within a wave, in milliseconds
	Strict           bool `json:"strict"`             // Halt on violations instead of logging and advancing
}

// RetryConfig tunes exponential backoff for failed spawns.
type RetryConfig struct {
	InitialIntervalMS   int     `json:"initial_interval_ms"`
	MaxIntervalMS       int     `json:"max_interval_ms"`
	MaxElapsedMS        int     `json:"max_elapsed_ms"`
	Multiplier          float64 `json:"multiplier"`
	RandomizationFactor float64 `json:"randomization_factor"`
}

// Config is the top-level configuration.
type Config struct {
	Workers     map[string]WorkerConfig `json:"workers"`
	Enforcement EnforcementConfig       `json:"enforcement"`
	Retry       RetryConfig             `json:"retry"`
	HistoryPath string                  `json:"history_path,omitempty"` // SQLite run-history database; empty disables history
}

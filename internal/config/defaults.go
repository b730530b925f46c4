package config

// DefaultConfig returns the default configuration with built-in worker
// types. The defaults assume the common CLI agents are on PATH; projects
// override or extend the map with their own worker definitions.
func DefaultConfig() *Config {
	return &Config{
		Workers: map[string]WorkerConfig{
			"claude": {
				Command: "claude",
				Args:    []string{"-p", "{payload}"},
			},
			"codex": {
				Command: "codex",
				Args:    []string{"exec", "{payload}"},
			},
			"shell": {
				Command: "sh",
				Args:    []string{"-c", "{payload}"},
			},
		},
		Enforcement: EnforcementConfig{
			ParallelWindowMS: 2000,
			Strict:           false,
		},
		Retry: RetryConfig{
			InitialIntervalMS:   500,
			MaxIntervalMS:       10000,
			MaxElapsedMS:        60000,
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		globalJSON    string
		projectJSON   string
		expectWorkers int
		checkWorker   string
		expectCommand string
		expectWindow  int
		expectStrict  bool
	}{
		{
			name:          "No config files - returns defaults",
			expectWorkers: 3,
			expectWindow:  2000,
			expectStrict:  false,
		},
		{
			name:          "Global only - adds new worker",
			globalJSON:    `{"workers": {"researcher": {"command": "claude", "args": ["-p", "{payload}"]}}}`,
			expectWorkers: 4,
			checkWorker:   "researcher",
			expectCommand: "claude",
			expectWindow:  2000,
		},
		{
			name:          "Project only - overrides worker command",
			projectJSON:   `{"workers": {"shell": {"command": "bash", "args": ["-c", "{payload}"]}}}`,
			expectWorkers: 3,
			checkWorker:   "shell",
			expectCommand: "bash",
			expectWindow:  2000,
		},
		{
			name:          "Project overrides global - project wins",
			globalJSON:    `{"workers": {"shell": {"command": "zsh"}}, "enforcement": {"parallel_window_ms": 5000, "strict": false}}`,
			projectJSON:   `{"workers": {"shell": {"command": "bash"}}, "enforcement": {"parallel_window_ms": 1000, "strict": true}}`,
			expectWorkers: 3,
			checkWorker:   "shell",
			expectCommand: "bash",
			expectWindow:  1000,
			expectStrict:  true,
		},
		{
			name:          "Enforcement section replaces defaults when set",
			globalJSON:    `{"enforcement": {"parallel_window_ms": 750, "strict": true}}`,
			expectWorkers: 3,
			expectWindow:  750,
			expectStrict:  true,
		},
		{
			name:          "Unset sections keep defaults",
			globalJSON:    `{"history_path": "/tmp/delegator/history.db"}`,
			expectWorkers: 3,
			expectWindow:  2000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalJSON != "" {
				globalPath = writeConfigFile(t, tmpDir, "global.json", tt.globalJSON)
			}
			projectPath := ""
			if tt.projectJSON != "" {
				projectPath = writeConfigFile(t, tmpDir, "project.json", tt.projectJSON)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := len(cfg.Workers); got != tt.expectWorkers {
				t.Errorf("workers count = %d, want %d", got, tt.expectWorkers)
			}
			if cfg.Enforcement.ParallelWindowMS != tt.expectWindow {
				t.Errorf("parallel window = %d, want %d", cfg.Enforcement.ParallelWindowMS, tt.expectWindow)
			}
			if cfg.Enforcement.Strict != tt.expectStrict {
				t.Errorf("strict = %v, want %v", cfg.Enforcement.Strict, tt.expectStrict)
			}

			if tt.checkWorker != "" {
				worker, exists := cfg.Workers[tt.checkWorker]
				if !exists {
					t.Fatalf("expected worker %q not found", tt.checkWorker)
				}
				if worker.Command != tt.expectCommand {
					t.Errorf("worker %q command = %q, want %q", tt.checkWorker, worker.Command, tt.expectCommand)
				}
			}
		})
	}
}

func TestLoad_HistoryPathMerge(t *testing.T) {
	tmpDir := t.TempDir()
	globalPath := writeConfigFile(t, tmpDir, "global.json", `{"history_path": "/var/lib/delegator/history.db"}`)

	cfg, err := Load(globalPath, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HistoryPath != "/var/lib/delegator/history.db" {
		t.Errorf("history path = %q, want /var/lib/delegator/history.db", cfg.HistoryPath)
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()
	globalPath := writeConfigFile(t, tmpDir, "global.json", "{invalid json")

	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}

	if len(cfg.Workers) != 3 {
		t.Errorf("workers count = %d, want 3", len(cfg.Workers))
	}
	if cfg.Retry.Multiplier != 2.0 {
		t.Errorf("retry multiplier = %v, want 2.0", cfg.Retry.Multiplier)
	}
}

// Package launcher owns the mapping from worker types to concrete
// executables. The scheduler never interprets a worker type beyond
// handing it to this registry.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
)

// PayloadPlaceholder marks where the payload is substituted into a
// command's arguments. Specs without it receive the payload on stdin.
const PayloadPlaceholder = "{payload}"

// CommandSpec describes how to launch one worker type.
type CommandSpec struct {
	Command string   // Binary name or path
	Args    []string // Arguments, may contain PayloadPlaceholder
	Env     []string // Extra KEY=VALUE pairs appended to the environment
	Dir     string   // Working directory, empty for inherited
}

// UnknownWorkerTypeError indicates a spawn named a worker type the
// registry was never configured with.
type UnknownWorkerTypeError struct {
	WorkerType string
}

func (e *UnknownWorkerTypeError) Error() string {
	return fmt.Sprintf("no launcher registered for worker type %q", e.WorkerType)
}

// Registry is the closed routing table of worker types. It is built once
// from configuration and read-only afterward.
type Registry struct {
	specs map[string]CommandSpec
}

// NewRegistry validates and indexes the given command specs.
func NewRegistry(specs map[string]CommandSpec) (*Registry, error) {
	for workerType, spec := range specs {
		if workerType == "" {
			return nil, fmt.Errorf("worker type with empty name")
		}
		if spec.Command == "" {
			return nil, fmt.Errorf("worker type %q has no command", workerType)
		}
	}

	indexed := make(map[string]CommandSpec, len(specs))
	for workerType, spec := range specs {
		indexed[workerType] = spec
	}
	return &Registry{specs: indexed}, nil
}

// Types returns the registered worker types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.specs))
	for workerType := range r.specs {
		types = append(types, workerType)
	}
	sort.Strings(types)
	return types
}

// Has reports whether a worker type is registered.
func (r *Registry) Has(workerType string) bool {
	_, ok := r.specs[workerType]
	return ok
}

// Command builds an unstarted exec.Cmd for the given worker type and
// payload. The command runs in its own process group so the whole
// subprocess tree can be terminated together.
func (r *Registry) Command(ctx context.Context, workerType, payload string) (*exec.Cmd, error) {
	spec, ok := r.specs[workerType]
	if !ok {
		return nil, &UnknownWorkerTypeError{WorkerType: workerType}
	}

	args := make([]string, len(spec.Args))
	substituted := false
	for i, arg := range spec.Args {
		if strings.Contains(arg, PayloadPlaceholder) {
			args[i] = strings.ReplaceAll(arg, PayloadPlaceholder, payload)
			substituted = true
		} else {
			args[i] = arg
		}
	}

	cmd := exec.CommandContext(ctx, spec.Command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // New process group for signal propagation
	}
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if !substituted {
		cmd.Stdin = strings.NewReader(payload)
	}

	return cmd, nil
}

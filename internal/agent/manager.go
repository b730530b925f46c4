package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/aristath/delegator/internal/events"
	"github.com/aristath/delegator/internal/launcher"
)

// cancelGracePeriod is how long Cancel waits after SIGTERM before
// escalating to SIGKILL.
const cancelGracePeriod = 5 * time.Second

// defaultTailLines bounds GetProgress output when the caller asks for 0.
const defaultTailLines = 20

// SpawnError indicates the worker process could not even be launched:
// unknown worker type, missing executable, permission denied, or an open
// launch breaker. It is surfaced synchronously and never retried here.
type SpawnError struct {
	WorkerType string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s worker: %v", e.WorkerType, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// SpawnOptions carries optional spawn metadata.
type SpawnOptions struct {
	Description string
	TaskID      string // Graph task ID for event correlation, empty for ad-hoc
}

// Result is the outcome snapshot returned by GetOutput.
type Result struct {
	AgentTaskID string
	Status      Status
	Output      string
	ExitCode    int
}

// Progress is a best-effort snapshot for human-facing polling.
type Progress struct {
	AgentTaskID string
	WorkerType  string
	Description string
	Status      Status
	Elapsed     time.Duration
	Running     string // Humanized elapsed time
	Tail        []string
}

// Manager spawns worker processes without blocking the caller and owns
// the process-wide handle registry. Each spawn gets one background
// monitor goroutine that drains output and records the exit outcome;
// handles stay registered until explicitly removed so output can be
// retrieved after completion.
type Manager struct {
	mu       sync.Mutex
	handles  map[string]*Handle
	registry *launcher.Registry
	breakers *breakerRegistry
	bus      *events.Bus // Optional, nil disables publishing
}

// NewManager creates a Manager over the given launcher registry. bus may
// be nil when no observer is attached.
func NewManager(registry *launcher.Registry, bus *events.Bus) *Manager {
	return &Manager{
		handles:  make(map[string]*Handle),
		registry: registry,
		breakers: newBreakerRegistry(),
		bus:      bus,
	}
}

// Spawn launches a worker process for the given type and payload. It
// returns as soon as the OS process has started; output collection and
// exit handling happen on the monitor goroutine. Launch failures are
// returned synchronously as a *SpawnError.
func (m *Manager) Spawn(ctx context.Context, workerType, payload string, opts SpawnOptions) (*Handle, error) {
	cmd, err := m.registry.Command(ctx, workerType, payload)
	if err != nil {
		return nil, &SpawnError{WorkerType: workerType, Err: err}
	}

	started, err := m.breakers.get(workerType).Execute(func() (interface{}, error) {
		return startCommand(cmd)
	})
	if err != nil {
		return nil, &SpawnError{WorkerType: workerType, Err: err}
	}
	pipes := started.(*startedCommand)

	id := "agent-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	description := opts.Description
	if description == "" {
		description = truncatePayload(payload)
	}
	handle := newHandle(id, workerType, description, opts.TaskID, cmd)

	m.mu.Lock()
	m.handles[id] = handle
	m.mu.Unlock()

	m.publish(events.AgentSpawnedEvent{
		ID:          id,
		TaskID:      opts.TaskID,
		WorkerType:  workerType,
		Description: description,
		PID:         handle.PID(),
		Timestamp:   time.Now(),
	})

	go m.monitor(handle, pipes)
	return handle, nil
}

// startedCommand bundles the pipes of a successfully started process.
type startedCommand struct {
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// startCommand wires the output pipes and starts the process. Pipes must
// exist before Start, so both live inside the breaker-guarded call.
func startCommand(cmd *exec.Cmd) (*startedCommand, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &startedCommand{stdout: stdout, stderr: stderr}, nil
}

// monitor drains both pipes into the handle's buffer, waits for the
// process to exit, and records the terminal outcome. Both pipes are
// fully drained before Wait so large outputs cannot deadlock.
func (m *Manager) monitor(handle *Handle, pipes *startedCommand) {
	var wg sync.WaitGroup
	wg.Add(2)
	go m.drain(handle, pipes.stdout, &wg)
	go m.drain(handle, pipes.stderr, &wg)
	wg.Wait()

	waitErr := handle.cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	status := handle.finish(exitCode, waitErr)
	now := time.Now()
	switch status {
	case StatusCompleted:
		m.publish(events.AgentCompletedEvent{ID: handle.ID(), Duration: handle.Elapsed(), Timestamp: now})
	case StatusCancelled:
		m.publish(events.AgentCancelledEvent{ID: handle.ID(), Timestamp: now})
	default:
		m.publish(events.AgentFailedEvent{ID: handle.ID(), ExitCode: exitCode, Duration: handle.Elapsed(), Timestamp: now})
	}
}

// drain copies one pipe into the handle line by line. Line length is
// unbounded: workers emit arbitrary bytes, and a capped reader would
// abandon the pipe mid-line and wedge the child on a full buffer.
func (m *Manager) drain(handle *Handle, pipe io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	reader := bufio.NewReader(pipe)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			handle.appendLine(line)
			m.publish(events.AgentOutputEvent{ID: handle.ID(), Line: line, Timestamp: time.Now()})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("WARNING: reading output of %s: %v", handle.ID(), err)
			}
			return
		}
	}
}

// GetOutput returns the accumulated output and status of a handle. With
// block=true it waits on the handle's completion signal (or ctx), never
// on a shared lock, so concurrent waiters on different handles do not
// serialize.
func (m *Manager) GetOutput(ctx context.Context, agentTaskID string, block bool) (Result, error) {
	handle, ok := m.GetHandle(agentTaskID)
	if !ok {
		return Result{}, fmt.Errorf("agent task %q not found", agentTaskID)
	}

	if block {
		select {
		case <-handle.Done():
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	exitCode, _ := handle.ExitCode()
	return Result{
		AgentTaskID: handle.ID(),
		Status:      handle.Status(),
		Output:      handle.Output(),
		ExitCode:    exitCode,
	}, nil
}

// GetProgress returns the last tailLines of output plus elapsed
// wall-clock time. Best effort: the buffer only ever grows.
func (m *Manager) GetProgress(agentTaskID string, tailLines int) (Progress, error) {
	handle, ok := m.GetHandle(agentTaskID)
	if !ok {
		return Progress{}, fmt.Errorf("agent task %q not found", agentTaskID)
	}
	if tailLines <= 0 {
		tailLines = defaultTailLines
	}

	lines := strings.Split(strings.TrimRight(handle.Output(), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}

	elapsed := handle.Elapsed()
	return Progress{
		AgentTaskID: handle.ID(),
		WorkerType:  handle.WorkerType(),
		Description: handle.Description(),
		Status:      handle.Status(),
		Elapsed:     elapsed,
		Running:     humanize.RelTime(time.Now().Add(-elapsed), time.Now(), "", ""),
		Tail:        lines,
	}, nil
}

// Cancel requests termination of a running worker process: SIGTERM to the
// process group, SIGKILL if it lingers past the grace period. Returns
// false without side effects when the handle is unknown or already
// terminal, so a second Cancel is a no-op.
func (m *Manager) Cancel(agentTaskID string) bool {
	handle, ok := m.GetHandle(agentTaskID)
	if !ok {
		return false
	}
	if !handle.markCancelled() {
		return false
	}

	if err := signalProcessGroup(handle.PID(), syscall.SIGTERM); err != nil {
		// Process may already be gone; the monitor still records the exit.
		return true
	}

	go func() {
		select {
		case <-handle.Exited():
		case <-time.After(cancelGracePeriod):
			_ = signalProcessGroup(handle.PID(), syscall.SIGKILL)
		}
	}()

	return true
}

// StopAll cancels every running handle and returns how many were
// signalled. Used on shutdown.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	stopped := 0
	for _, id := range ids {
		if m.Cancel(id) {
			stopped++
		}
	}
	return stopped
}

// GetHandle returns the handle for an agent task ID.
func (m *Manager) GetHandle(agentTaskID string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle, ok := m.handles[agentTaskID]
	return handle, ok
}

// ListHandles returns all registered handles ordered by start time.
func (m *Manager) ListHandles() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Handle, 0, len(m.handles))
	for _, handle := range m.handles {
		out = append(out, handle)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime().Before(out[j].StartTime())
	})
	return out
}

// Remove discards a handle from the registry. Output is not persisted
// anywhere else, so callers retrieve it first. Running handles cannot be
// removed.
func (m *Manager) Remove(agentTaskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, ok := m.handles[agentTaskID]
	if !ok || !handle.Status().Terminal() {
		return false
	}
	delete(m.handles, agentTaskID)
	return true
}

func (m *Manager) publish(event events.Event) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.TopicAgent, event)
}

func truncatePayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if idx := strings.IndexByte(payload, '\n'); idx >= 0 {
		payload = payload[:idx]
	}
	if len(payload) > 50 {
		return payload[:50]
	}
	return payload
}

package agent

import (
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Status represents the state of a worker process handle.
type Status int

const (
	StatusRunning   Status = iota // Process started, monitor attached
	StatusCompleted               // Exited with code 0
	StatusFailed                  // Exited abnormally
	StatusCancelled               // Terminated on request
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Handle is the live-state record of one externally spawned worker
// process. The monitor goroutine is the only writer of the output buffer
// and terminal fields; everything is read through the mutex.
type Handle struct {
	id          string
	workerType  string
	description string
	taskID      string // Graph task ID, empty for ad-hoc spawns
	pid         int
	cmd         *exec.Cmd

	mu        sync.Mutex
	status    Status
	output    strings.Builder // Append-only combined stdout+stderr
	startTime time.Time
	endTime   time.Time // Zero until terminal
	exitCode  int       // Meaningful only once terminal
	done      chan struct{} // Closed when status turns terminal
	exited    chan struct{} // Closed when the process has exited
}

func newHandle(id, workerType, description, taskID string, cmd *exec.Cmd) *Handle {
	return &Handle{
		id:          id,
		workerType:  workerType,
		description: description,
		taskID:      taskID,
		pid:         cmd.Process.Pid,
		cmd:         cmd,
		status:      StatusRunning,
		startTime:   time.Now(),
		exitCode:    -1,
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
}

// ID returns the agent task ID.
func (h *Handle) ID() string { return h.id }

// WorkerType returns the worker type this process was launched as.
func (h *Handle) WorkerType() string { return h.workerType }

// Description returns the human-readable description.
func (h *Handle) Description() string { return h.description }

// TaskID returns the graph task ID, or "" for ad-hoc spawns.
func (h *Handle) TaskID() string { return h.taskID }

// PID returns the OS process ID.
func (h *Handle) PID() int { return h.pid }

// StartTime returns when the process was started.
func (h *Handle) StartTime() time.Time { return h.startTime }

// Done returns a channel closed when the handle reaches a terminal
// status. Blocking retrieval waits on this, never on a shared lock. A
// cancelled handle is terminal the moment Cancel flips it, not when the
// process eventually dies; Exited signals the latter.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited returns a channel closed once the underlying process has
// actually exited and its output is fully collected.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// Status returns the current status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Output returns the accumulated combined output so far.
func (h *Handle) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output.String()
}

// ExitCode returns the process exit code and whether it is known yet.
func (h *Handle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.status.Terminal()
}

// Elapsed returns wall-clock runtime: start to end for terminal handles,
// start to now otherwise.
func (h *Handle) Elapsed() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.endTime.IsZero() {
		return h.endTime.Sub(h.startTime)
	}
	return time.Since(h.startTime)
}

// appendLine is called by the monitor for each output line.
func (h *Handle) appendLine(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.output.WriteString(line)
	h.output.WriteByte('\n')
}

// markCancelled flips a running handle to cancelled and wakes blocked
// waiters immediately; the process itself may take the whole grace
// period to die. Returns false when the handle is already terminal,
// making repeat cancels a no-op.
func (h *Handle) markCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusRunning {
		return false
	}
	h.status = StatusCancelled
	close(h.done)
	return true
}

// finish records the exit outcome. A handle already marked cancelled
// keeps that status regardless of exit code, and its done channel was
// already closed by markCancelled.
func (h *Handle) finish(exitCode int, exitErr error) Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.endTime = time.Now()
	h.exitCode = exitCode
	if h.status == StatusRunning {
		if exitErr == nil {
			h.status = StatusCompleted
		} else {
			h.status = StatusFailed
		}
		close(h.done)
	}
	close(h.exited)
	return h.status
}

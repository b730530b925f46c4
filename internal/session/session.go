// Package session ties the task graph, the delegation enforcer and the
// agent manager together into one delegation run. A Session owns the
// spawn path: every graph task goes through enforcement validation
// before a worker process is launched, and every worker outcome flows
// back into the graph so waves advance.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/delegator/internal/agent"
	"github.com/aristath/delegator/internal/enforce"
	"github.com/aristath/delegator/internal/events"
	"github.com/aristath/delegator/internal/store"
	"github.com/aristath/delegator/internal/taskgraph"
)

// TaskResult is the outcome of one graph task.
type TaskResult struct {
	TaskID      string
	AgentTaskID string
	Success     bool
	Output      string
	ExitCode    int
	Error       error
}

// Options configures optional session collaborators.
type Options struct {
	Bus     *events.Bus // Optional event bus (nil disables publishing)
	History store.Store // Optional run-history store (nil disables persistence)
	Retry   RetryConfig // Zero value means DefaultRetryConfig
}

// Session executes one task graph through enforced parallel delegation.
type Session struct {
	graph    *taskgraph.Graph
	enforcer *enforce.Enforcer
	manager  *agent.Manager
	bus      *events.Bus
	history  store.Store
	retry    RetryConfig

	mu      sync.Mutex
	results []TaskResult
}

// New creates a session over an already-built graph. The enforcer may
// be nil, in which case spawns skip wave validation and compliance
// checking entirely; dependency order still comes from the graph.
func New(graph *taskgraph.Graph, enforcer *enforce.Enforcer, manager *agent.Manager, opts Options) *Session {
	retry := opts.Retry
	if retry.InitialInterval <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Session{
		graph:    graph,
		enforcer: enforcer,
		manager:  manager,
		bus:      opts.Bus,
		history:  opts.History,
		retry:    retry,
	}
}

// SpawnTask validates a graph task against the enforcer, launches its
// worker and records the spawn timestamp. This is the only spawn path
// for graph tasks; callers that bypass it bypass enforcement. An empty
// payload means the task's description is the payload.
func (s *Session) SpawnTask(ctx context.Context, taskID, payload string) (*agent.Handle, error) {
	task, ok := s.graph.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("task %q not found", taskID)
	}
	if payload == "" {
		payload = task.Description
	}

	if s.enforcer != nil {
		if ok, reason := s.enforcer.ValidateSpawn(taskID); !ok {
			return nil, fmt.Errorf("spawn rejected for task %q: %s", taskID, reason)
		}
	}

	handle, err := s.spawnWithRetry(ctx, task.WorkerType, payload, agent.SpawnOptions{
		Description: task.Description,
		TaskID:      taskID,
	})
	if err != nil {
		if markErr := s.markFailed(taskID, err); markErr != nil {
			log.Printf("WARNING: failed to mark task %q failed: %v", taskID, markErr)
		}
		return nil, err
	}

	if err := s.recordSpawn(taskID, handle.ID(), handle.StartTime()); err != nil {
		// The worker is already running; cancel it rather than leave an
		// untracked process behind.
		s.manager.Cancel(handle.ID())
		return nil, fmt.Errorf("recording spawn of task %q: %w", taskID, err)
	}

	return handle, nil
}

// RetryTask respawns a failed task's worker with the same payload. The
// graph keeps its failed status: the retry is an operator action and
// its outcome is read through the returned handle, not the wave driver.
func (s *Session) RetryTask(ctx context.Context, taskID string) (*agent.Handle, error) {
	task, ok := s.graph.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("task %q not found", taskID)
	}
	if task.Status != taskgraph.StatusFailed {
		return nil, fmt.Errorf("task %q is %s, only failed tasks can be retried", taskID, task.Status)
	}

	return s.spawnWithRetry(ctx, task.WorkerType, task.Description, agent.SpawnOptions{
		Description: task.Description,
		TaskID:      taskID,
	})
}

// SpawnAdhoc launches a worker outside the graph. Ad-hoc workers are
// tracked by the manager but invisible to wave enforcement.
func (s *Session) SpawnAdhoc(ctx context.Context, workerType, payload string) (*agent.Handle, error) {
	return s.spawnWithRetry(ctx, workerType, payload, agent.SpawnOptions{Description: payload})
}

// Run drives the graph wave by wave until every task is terminal.
// Tasks within a wave are spawned back to back, then awaited
// concurrently. In strict enforcement mode a parallel-window violation
// aborts the run; in lenient mode it is logged and published. Without
// an enforcer the driver walks the wave partition itself with no
// compliance checking. The returned results cover every graph task
// whether the run completes or aborts.
func (s *Session) Run(ctx context.Context) ([]TaskResult, error) {
	cursor := 0 // wave cursor when running without an enforcer
	for {
		if s.enforcer != nil {
			if s.enforcer.Done() {
				break
			}
		} else if cursor >= s.graph.WaveCount() {
			break
		}
		if err := ctx.Err(); err != nil {
			s.collectCascadedResults()
			return s.Results(), err
		}

		wave := cursor
		if s.enforcer != nil {
			wave = s.enforcer.CurrentWave()
		}

		ready := s.graph.ReadyTasks(wave)
		if len(ready) == 0 && s.enforcer != nil {
			// Every pending task in the wave was cascade-failed and
			// advancement already happened, or the graph is wedged.
			s.collectCascadedResults()
			return s.Results(), fmt.Errorf("wave %d has no ready tasks", wave+1)
		}

		handles := make(map[string]*agent.Handle, len(ready))
		for _, taskID := range ready {
			handle, err := s.SpawnTask(ctx, taskID, "")
			if err != nil {
				log.Printf("WARNING: spawn failed for task %q: %v", taskID, err)
				continue // Failure is recorded in the graph; dependents cascade.
			}
			handles[taskID] = handle
		}

		if s.enforcer != nil {
			if ok, detail, err := s.enforcer.CheckParallelCompliance(); err != nil {
				s.stopHandles(handles)
				s.collectCascadedResults()
				return s.Results(), err
			} else if !ok {
				log.Printf("WARNING: wave %d parallel violation: %s", wave+1, detail)
				s.publish(events.TopicWave, events.ComplianceViolationEvent{
					Wave:      wave + 1,
					Detail:    detail,
					Timestamp: time.Now(),
				})
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		for taskID, handle := range handles {
			g.Go(func() error {
				return s.awaitTask(gctx, taskID, handle)
			})
		}
		if err := g.Wait(); err != nil {
			s.collectCascadedResults()
			if ctx.Err() != nil {
				return s.Results(), ctx.Err()
			}
			return s.Results(), err
		}

		cursor++
		s.publishWaveProgress()
	}

	s.collectCascadedResults()
	return s.Results(), nil
}

// awaitTask blocks until the worker exits, persists the run and feeds
// the outcome back into the enforcer. A strict-mode violation surfaces
// as the returned error; everything else is recorded in results.
func (s *Session) awaitTask(ctx context.Context, taskID string, handle *agent.Handle) error {
	res, err := s.manager.GetOutput(ctx, handle.ID(), true)
	if err != nil {
		cause := fmt.Errorf("awaiting task %q: %w", taskID, err)
		if markErr := s.markFailed(taskID, cause); markErr != nil {
			log.Printf("WARNING: failed to mark task %q failed: %v", taskID, markErr)
		}
		s.recordResult(TaskResult{TaskID: taskID, AgentTaskID: handle.ID(), Error: cause})
		return err
	}

	s.persistRun(ctx, taskID, handle, res)

	var markErr error
	if res.Status == agent.StatusCompleted {
		markErr = s.markCompleted(taskID)
		s.recordResult(TaskResult{
			TaskID:      taskID,
			AgentTaskID: handle.ID(),
			Success:     true,
			Output:      res.Output,
			ExitCode:    res.ExitCode,
		})
	} else {
		cause := fmt.Errorf("worker %s in state %s with exit code %d", handle.ID(), res.Status, res.ExitCode)
		markErr = s.markFailed(taskID, cause)
		s.recordResult(TaskResult{
			TaskID:      taskID,
			AgentTaskID: handle.ID(),
			Output:      res.Output,
			ExitCode:    res.ExitCode,
			Error:       cause,
		})
	}

	var violation *enforce.ParallelExecutionError
	if errors.As(markErr, &violation) {
		return markErr
	}
	if markErr != nil {
		log.Printf("WARNING: recording outcome of task %q: %v", taskID, markErr)
	}
	return nil
}

// collectCascadedResults records tasks that never spawned because a
// dependency failed, so every graph task appears in the final results.
func (s *Session) collectCascadedResults() {
	s.mu.Lock()
	seen := make(map[string]bool, len(s.results))
	for _, res := range s.results {
		seen[res.TaskID] = true
	}
	s.mu.Unlock()

	for _, task := range s.graph.Tasks() {
		if seen[task.ID] {
			continue
		}
		s.recordResult(TaskResult{
			TaskID:      task.ID,
			AgentTaskID: task.AgentTaskID,
			Success:     task.Status == taskgraph.StatusCompleted,
			Error:       task.Err,
		})
	}
}

// Results returns a copy of the results recorded so far.
func (s *Session) Results() []TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskResult, len(s.results))
	copy(out, s.results)
	return out
}

// Status returns the enforcer's current report. Without an enforcer it
// synthesizes a report from graph state alone.
func (s *Session) Status() enforce.Report {
	if s.enforcer != nil {
		return s.enforcer.Status()
	}

	statuses := make(map[string]string)
	done := true
	for _, task := range s.graph.Tasks() {
		statuses[task.ID] = task.Status.String()
		if !task.Status.Terminal() {
			done = false
		}
	}
	return enforce.Report{
		TotalWaves:   s.graph.WaveCount(),
		Done:         done,
		TaskStatuses: statuses,
	}
}

// markCompleted, markFailed and recordSpawn route graph transitions
// through the enforcer when one is present so waves advance.
func (s *Session) markCompleted(taskID string) error {
	if s.enforcer != nil {
		return s.enforcer.MarkTaskCompleted(taskID)
	}
	return s.graph.MarkCompleted(taskID)
}

func (s *Session) markFailed(taskID string, cause error) error {
	if s.enforcer != nil {
		return s.enforcer.MarkTaskFailed(taskID, cause)
	}
	return s.graph.MarkFailed(taskID, cause)
}

func (s *Session) recordSpawn(taskID, agentTaskID string, at time.Time) error {
	if s.enforcer != nil {
		return s.enforcer.RecordSpawn(taskID, agentTaskID, at)
	}
	return s.graph.MarkSpawned(taskID, agentTaskID, at)
}

func (s *Session) recordResult(res TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
}

func (s *Session) stopHandles(handles map[string]*agent.Handle) {
	for _, handle := range handles {
		s.manager.Cancel(handle.ID())
	}
}

func (s *Session) persistRun(ctx context.Context, taskID string, handle *agent.Handle, res agent.Result) {
	if s.history == nil {
		return
	}
	rec := store.Record{
		AgentTaskID: handle.ID(),
		TaskID:      taskID,
		WorkerType:  handle.WorkerType(),
		Description: handle.Description(),
		Status:      res.Status.String(),
		Output:      res.Output,
		ExitCode:    res.ExitCode,
		StartedAt:   handle.StartTime(),
		EndedAt:     handle.StartTime().Add(handle.Elapsed()),
	}
	if err := s.history.SaveRecord(ctx, rec); err != nil {
		log.Printf("WARNING: failed to persist run %s: %v", handle.ID(), err)
	}
}

func (s *Session) publishWaveProgress() {
	report := s.Status()
	s.publish(events.TopicWave, events.WaveAdvancedEvent{
		Wave:       report.CurrentWave,
		TotalWaves: report.TotalWaves,
		Timestamp:  time.Now(),
	})

	var completed, running, failed, pending int
	for _, task := range s.graph.Tasks() {
		switch task.Status {
		case taskgraph.StatusCompleted:
			completed++
		case taskgraph.StatusFailed:
			failed++
		case taskgraph.StatusSpawned, taskgraph.StatusRunning:
			running++
		default:
			pending++
		}
	}
	s.publish(events.TopicWave, events.GraphProgressEvent{
		Total:     len(s.graph.Tasks()),
		Completed: completed,
		Running:   running,
		Failed:    failed,
		Pending:   pending,
		Wave:      report.CurrentWave,
		Timestamp: time.Now(),
	})
}

func (s *Session) publish(topic string, event events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, event)
}

package taskgraph

import "fmt"

// CycleError indicates the declared dependency relation contains a cycle.
// Construction fails, nothing is partially built.
type CycleError struct {
	Detail string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("task graph contains cycle: %s", e.Detail)
}

// UnknownDependencyError indicates a task depends on an ID that is not
// itself a declared task.
type UnknownDependencyError struct {
	TaskID string
	DepID  string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on non-existent task %q", e.TaskID, e.DepID)
}

// DependencyFailedError is recorded on a task that can never run because
// one of its dependencies failed.
type DependencyFailedError struct {
	TaskID string
	DepID  string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("task %q cannot run: dependency %q failed", e.TaskID, e.DepID)
}

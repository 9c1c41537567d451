package taskrun

import (
	"fmt"
	"strings"
	"time"
)

// NotFoundError means no task carries the requested label.
type NotFoundError struct {
	Label     string
	Available []string
}

func (e *NotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("task %q not found (no tasks configured)", e.Label)
	}
	return fmt.Sprintf("task %q not found; available: %s", e.Label, strings.Join(e.Available, ", "))
}

// LaunchError means the process could not be started.
type LaunchError struct {
	Label string
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("task %q failed to start: %v", e.Label, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TimeoutError means the task outlived its timeout and was killed.
type TimeoutError struct {
	Label   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q timed out after %s", e.Label, e.Timeout)
}

// CancellationError means the run was cancelled before the task finished.
type CancellationError struct {
	Label string
	Cause error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("task %q cancelled", e.Label)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

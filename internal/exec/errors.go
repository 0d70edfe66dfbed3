package exec

import (
	"fmt"
	"time"
)

// TimeoutError reports a process killed after exceeding its deadline.
type TimeoutError struct {
	// Argv is the command that timed out.
	Argv []string
	// Elapsed is the time spent before termination.
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("process timed out after %s: %v", e.Elapsed.Round(time.Millisecond), e.Argv)
}

// SpawnError reports a process that could not be started at all, as
// opposed to one that ran and exited non-zero.
type SpawnError struct {
	// Argv is the command that failed to start.
	Argv []string
	// Err is the underlying cause.
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start process %v: %v", e.Argv, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

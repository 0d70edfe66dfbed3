// Package exec runs external coding-tool processes under a bounded
// concurrency pool with per-call timeouts.
package exec

import (
	"context"
	"time"
)

// Command describes one external process invocation.
type Command struct {
	// Argv is the program and its arguments. Argv[0] is the tool binary.
	Argv []string
	// Dir is the working directory. Empty means the caller's directory.
	Dir string
	// Env holds environment overrides layered on top of os.Environ.
	Env map[string]string
	// Timeout bounds the process lifetime. Zero means no deadline.
	Timeout time.Duration
	// Stdin is optional input piped to the process.
	Stdin string
}

// Result is the outcome of a completed invocation. A non-zero exit is a
// result with Success=false, not an error; errors are reserved for spawn
// failures and timeouts.
type Result struct {
	// ExitCode is the process exit status.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// Duration is the wall-clock run time.
	Duration time.Duration
	// Success is true iff the process exited zero.
	Success bool
}

// Runner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type Runner interface {
	// Run executes the command to completion, blocking until a pool slot
	// is free. It returns a *TimeoutError when the deadline expires and a
	// *SpawnError when the process cannot be started.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

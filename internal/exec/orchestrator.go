package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	osexec "os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultPoolSize is the default number of simultaneous external processes.
const DefaultPoolSize = 3

// DefaultHistoryLimit bounds the diagnostic execution history.
const DefaultHistoryLimit = 100

// waitDelay is the grace period between context cancellation and SIGKILL.
const waitDelay = 5 * time.Second

// Record is one entry in the diagnostic execution history.
type Record struct {
	// Command is the rendered argv.
	Command string
	// Dir is the working directory used.
	Dir string
	// ExitCode is the process exit status, -1 for spawn failure or timeout.
	ExitCode int
	// Duration is the wall-clock run time.
	Duration time.Duration
	// Success is true iff the process exited zero.
	Success bool
	// Timestamp is when the invocation finished.
	Timestamp time.Time
}

// Stats summarizes the execution history.
type Stats struct {
	// Total is the number of recorded invocations.
	Total int
	// Succeeded is the number of zero-exit invocations.
	Succeeded int
	// AvgDuration is the mean run time across recorded invocations.
	AvgDuration time.Duration
}

// Orchestrator runs external processes inside a fixed-size admission pool.
// Callers block until a slot frees; this is deliberate backpressure against
// the host machine and external-tool rate limits.
type Orchestrator struct {
	// slots is the admission semaphore; capacity is the pool size.
	slots chan struct{}
	// historyLimit bounds the history ring.
	historyLimit int
	// history holds the most recent invocations, oldest first.
	history []Record
	// mu protects history.
	mu sync.Mutex
}

// NewOrchestrator creates an Orchestrator with the given pool size.
// A size of zero or less falls back to DefaultPoolSize.
func NewOrchestrator(poolSize int) *Orchestrator {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &Orchestrator{
		slots:        make(chan struct{}, poolSize),
		historyLimit: DefaultHistoryLimit,
	}
}

// PoolSize returns the maximum number of concurrent processes.
func (o *Orchestrator) PoolSize() int {
	return cap(o.slots)
}

// Run executes the command to completion. It blocks until a pool slot is
// free or the context is cancelled while queued.
func (o *Orchestrator) Run(ctx context.Context, cmd Command) (*Result, error) {
	select {
	case o.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-o.slots }()

	return o.runOne(ctx, cmd)
}

// runOne executes a single admitted command.
func (o *Orchestrator) runOne(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, &SpawnError{Argv: cmd.Argv, Err: errors.New("empty command")}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	proc := osexec.CommandContext(runCtx, cmd.Argv[0], cmd.Argv[1:]...)
	proc.Dir = cmd.Dir
	proc.WaitDelay = waitDelay
	if len(cmd.Env) > 0 {
		env := os.Environ()
		for k, v := range cmd.Env {
			env = append(env, k+"="+v)
		}
		proc.Env = env
	}
	if cmd.Stdin != "" {
		proc.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	log.Printf("[exec] running: %s", strings.Join(cmd.Argv, " "))
	start := time.Now()
	err := proc.Run()
	elapsed := time.Since(start)

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	switch {
	case err == nil:
		result.ExitCode = 0
		result.Success = true
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		// Deadline came from cmd.Timeout, not the caller. CommandContext
		// has already killed the process and Run consumed the wait.
		result.ExitCode = -1
		o.record(cmd, result)
		log.Printf("[exec] timeout after %s: %s", elapsed.Round(time.Millisecond), cmd.Argv[0])
		return result, &TimeoutError{Argv: cmd.Argv, Elapsed: elapsed}
	case ctx.Err() != nil:
		result.ExitCode = -1
		o.record(cmd, result)
		return result, ctx.Err()
	default:
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) {
			// Tool rejected the input: a result, not an error.
			result.ExitCode = exitErr.ExitCode()
			result.Success = false
		} else {
			result.ExitCode = -1
			o.record(cmd, result)
			return result, &SpawnError{Argv: cmd.Argv, Err: err}
		}
	}

	o.record(cmd, result)
	log.Printf("[exec] completed in %s, exit=%d, success=%v",
		elapsed.Round(time.Millisecond), result.ExitCode, result.Success)
	return result, nil
}

// record appends one invocation to the bounded history.
func (o *Orchestrator) record(cmd Command, res *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.history = append(o.history, Record{
		Command:   strings.Join(cmd.Argv, " "),
		Dir:       cmd.Dir,
		ExitCode:  res.ExitCode,
		Duration:  res.Duration,
		Success:   res.Success,
		Timestamp: time.Now(),
	})
	if len(o.history) > o.historyLimit {
		o.history = o.history[len(o.history)-o.historyLimit:]
	}
}

// History returns a copy of the recorded invocations, oldest first.
func (o *Orchestrator) History() []Record {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Record, len(o.history))
	copy(out, o.history)
	return out
}

// GetStats summarizes the recorded history.
func (o *Orchestrator) GetStats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := Stats{Total: len(o.history)}
	if stats.Total == 0 {
		return stats
	}
	var total time.Duration
	for _, r := range o.history {
		if r.Success {
			stats.Succeeded++
		}
		total += r.Duration
	}
	stats.AvgDuration = total / time.Duration(stats.Total)
	return stats
}

// LookPath reports whether the named binary is on PATH.
func LookPath(name string) bool {
	_, err := osexec.LookPath(name)
	return err == nil
}

// Describe renders a command for logs and error messages.
func Describe(cmd Command) string {
	if cmd.Dir == "" {
		return strings.Join(cmd.Argv, " ")
	}
	return fmt.Sprintf("%s (in %s)", strings.Join(cmd.Argv, " "), cmd.Dir)
}

// Verify Orchestrator implements Runner at compile time.
var _ Runner = (*Orchestrator)(nil)

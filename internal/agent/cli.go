package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nocturnd/nocturnd/internal/exec"
	"github.com/nocturnd/nocturnd/pkg/models"
)

// Options tunes CLI adapter behavior. The zero value selects defaults.
type Options struct {
	// Timeout bounds one agent invocation. Zero means DefaultTaskTimeout.
	Timeout time.Duration
	// MaxRetries bounds attempts on spawn and timeout failures.
	// Zero means DefaultMaxRetries.
	MaxRetries int
	// BackoffBase seeds the exponential backoff between attempts.
	// Zero means DefaultBackoffBase.
	BackoffBase time.Duration
}

const (
	// DefaultTaskTimeout bounds one CLI agent invocation.
	DefaultTaskTimeout = 10 * time.Minute
	// DefaultMaxRetries is how many times a failed invocation is retried
	// before the adapter gives up and fallback takes over.
	DefaultMaxRetries = 3
	// DefaultBackoffBase seeds the exponential backoff between retries.
	DefaultBackoffBase = 2 * time.Second
	// versionProbeTimeout bounds availability checks.
	versionProbeTimeout = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTaskTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	return o
}

// CLIAdapter runs a coding agent through its command-line tool. The concrete
// adapters differ only in binary name and argument layout.
type CLIAdapter struct {
	kind      models.AgentKind
	binary    string
	runner    exec.Runner
	opts      Options
	buildArgv func(prompt string) []string
}

// NewClaudeCodeAdapter creates an adapter for the Claude Code CLI.
func NewClaudeCodeAdapter(runner exec.Runner, opts Options) *CLIAdapter {
	return &CLIAdapter{
		kind:   models.AgentClaudeCode,
		binary: "claude",
		runner: runner,
		opts:   opts.withDefaults(),
		buildArgv: func(prompt string) []string {
			// Project .claude/settings.json can still deny specific patterns.
			return []string{
				"claude",
				"--print",
				"--output-format", "text",
				"--allowedTools", "Read,Write,Edit,Bash,Glob,Grep",
				"-p", prompt,
			}
		},
	}
}

// NewCopilotAdapter creates an adapter for the GitHub Copilot CLI.
func NewCopilotAdapter(runner exec.Runner, opts Options) *CLIAdapter {
	return &CLIAdapter{
		kind:   models.AgentGitHubCopilot,
		binary: "gh",
		runner: runner,
		opts:   opts.withDefaults(),
		buildArgv: func(prompt string) []string {
			return []string{"gh", "copilot", "suggest", "--target", "shell", prompt}
		},
	}
}

// NewCursorAdapter creates an adapter for the Cursor agent CLI.
func NewCursorAdapter(runner exec.Runner, opts Options) *CLIAdapter {
	return &CLIAdapter{
		kind:   models.AgentCursor,
		binary: "cursor-agent",
		runner: runner,
		opts:   opts.withDefaults(),
		buildArgv: func(prompt string) []string {
			return []string{"cursor-agent", "--print", prompt}
		},
	}
}

// Kind identifies the agent backend.
func (a *CLIAdapter) Kind() models.AgentKind {
	return a.kind
}

// Available reports whether the agent's binary is installed and answers a
// version probe.
func (a *CLIAdapter) Available(ctx context.Context) bool {
	if !exec.LookPath(a.binary) {
		return false
	}
	res, err := a.runner.Run(ctx, exec.Command{
		Argv:    []string{a.binary, "--version"},
		Timeout: versionProbeTimeout,
	})
	return err == nil && res.Success
}

// ExecuteTask runs the task through the CLI tool with retry on spawn and
// timeout failures. A non-zero exit from the tool is a failed result, not a
// retryable error.
func (a *CLIAdapter) ExecuteTask(ctx context.Context, task *models.Task) (*models.ExecutionResult, error) {
	prompt := buildPrompt(task)
	cmd := exec.Command{
		Argv:    a.buildArgv(prompt),
		Dir:     task.WorkingDir,
		Timeout: a.opts.Timeout,
	}

	var res *exec.Result
	var err error
	for attempt := 1; attempt <= a.opts.MaxRetries; attempt++ {
		res, err = a.runner.Run(ctx, cmd)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == a.opts.MaxRetries {
			return nil, fmt.Errorf("%s: %d attempts failed: %w", a.kind, a.opts.MaxRetries, err)
		}

		backoff := a.opts.BackoffBase * (1 << (attempt - 1))
		log.Printf("[agent] %s attempt %d failed (%v), retrying in %s", a.kind, attempt, err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result := models.NewExecutionResult(task.ID, a.kind)
	result.Success = res.Success
	result.GeneratedCode = res.Stdout
	result.Duration = res.Duration
	if !res.Success {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("%s exited with code %d", a.binary, res.ExitCode)
		}
		result.Errors = append(result.Errors, msg)
	}
	return result, nil
}

var _ CodingAgent = (*CLIAdapter)(nil)

package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nocturnd/nocturnd/internal/agent"
	"github.com/nocturnd/nocturnd/internal/api"
	"github.com/nocturnd/nocturnd/internal/config"
	"github.com/nocturnd/nocturnd/internal/exec"
	"github.com/nocturnd/nocturnd/internal/git"
	"github.com/nocturnd/nocturnd/internal/quality"
	"github.com/nocturnd/nocturnd/internal/runner"
	"github.com/nocturnd/nocturnd/internal/safety"
	"github.com/nocturnd/nocturnd/internal/window"
	"github.com/nocturnd/nocturnd/pkg/models"
)

var (
	runTasksFile    string
	runPriority     string
	runOnce         bool
	runIgnoreWindow bool
)

var runCmd = &cobra.Command{
	Use:   "run [task description]...",
	Short: "Run the nightly session",
	Long: `Start the nightly control loop in the current directory.

Tasks can be given as arguments, loaded from a file with one description
per line, or both. The loop waits for the execution window to open,
executes tasks through the available coding agents and applies the safety
and quality protocols around each one.

Examples:
  nocturnd run "add input validation to the parser"
  nocturnd run --tasks-file tonight.txt
  nocturnd run --once --ignore-window "fix the flaky cache test"`,
	RunE: runNightly,
}

func init() {
	runCmd.Flags().StringVar(&runTasksFile, "tasks-file", "", "File with one task description per line")
	runCmd.Flags().StringVar(&runPriority, "priority", "medium", "Priority for the queued tasks (low|medium|high|urgent)")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Process the queued tasks and exit")
	runCmd.Flags().BoolVar(&runIgnoreWindow, "ignore-window", false, "Run regardless of the configured time window")
}

func runNightly(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	descriptions, err := collectTasks(args)
	if err != nil {
		return err
	}
	if len(descriptions) == 0 && runOnce {
		return fmt.Errorf("no tasks given; pass descriptions or --tasks-file")
	}
	priority := models.TaskPriority(runPriority)
	if !priority.Valid() {
		return fmt.Errorf("invalid priority %q", runPriority)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	ctrl, err := window.NewController(cfg.Window)
	if err != nil {
		return fmt.Errorf("window controller: %w", err)
	}
	if runIgnoreWindow {
		ctrl.IgnoreSchedule()
	}

	pool := exec.NewOrchestrator(cfg.Execution.PoolSize)
	manager, client := buildAgents(cfg, pool)

	gitRunner := git.NewRunner(cwd)
	coord, err := safety.NewCoordinator(cwd, cfg.Safety, gitRunner)
	if err != nil {
		return fmt.Errorf("safety coordinator: %w", err)
	}
	defer coord.Close()

	cycle := quality.NewCycle(
		quality.HeuristicScorer{},
		quality.NewClaudeAnalyzer(client),
		manager.Execute,
		&treeReverter{git: gitRunner, rollbacks: coord.Rollbacks()},
		cfg.Quality.Threshold,
		cfg.Quality.MaxAttempts,
	)

	r := runner.New(runner.Options{
		Controller: ctrl,
		Executor:   manager,
		Safety:     coord,
		Quality:    cycle,
		Git:        gitRunner,
	})
	for _, desc := range descriptions {
		task := models.NewTask(desc)
		task.Priority = priority
		task.WorkingDir = cwd
		task.MinQuality = cfg.Quality.Threshold
		r.Add(task)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Window.ControlDir != "" {
		watcher, err := window.NewWatcher(cfg.Window.ControlDir, ctrl, cancel)
		if err != nil {
			return fmt.Errorf("control watcher: %w", err)
		}
		defer watcher.Close()
	}

	go printEvents(r.Events())

	if runOnce {
		return r.RunOnce(ctx)
	}
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// collectTasks merges argument tasks with the optional tasks file.
func collectTasks(args []string) ([]string, error) {
	out := append([]string(nil), args...)
	if runTasksFile == "" {
		return out, nil
	}

	f, err := os.Open(runTasksFile)
	if err != nil {
		return nil, fmt.Errorf("open tasks file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	return out, nil
}

// buildAgents registers the CLI adapters and, when credentials exist, the
// API adapter. The returned client is nil when the API is unavailable.
func buildAgents(cfg *config.Config, pool *exec.Orchestrator) (*agent.Manager, *api.Client) {
	opts := agent.Options{
		Timeout:     cfg.Agents.TaskTimeout,
		MaxRetries:  cfg.Agents.MaxRetries,
		BackoffBase: cfg.Agents.RetryBackoffBase,
	}

	manager := agent.NewManager()
	manager.Register(agent.NewClaudeCodeAdapter(pool, opts))
	manager.Register(agent.NewCopilotAdapter(pool, opts))
	manager.Register(agent.NewCursorAdapter(pool, opts))

	var client *api.Client
	if cfg.Anthropic.APIKey != "" || cfg.Anthropic.UseBedrock || os.Getenv("ANTHROPIC_API_KEY") != "" {
		c, err := api.NewClient(api.ClientConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        cfg.Anthropic.APIKey,
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			log.Printf("[cli] anthropic client unavailable: %v", err)
		} else {
			client = c
			manager.Register(agent.NewAPIAdapter(client, cfg.Agents.TaskTimeout))
		}
	}

	manager.SetFallback(cfg.Agents.FallbackEnabled)
	if cfg.Agents.Preferred != "" {
		manager.SetPreferred(models.AgentKind(cfg.Agents.Preferred))
	}
	return manager, client
}

// treeReverter adapts the git and rollback layers to the quality cycle.
type treeReverter struct {
	git       git.Runner
	rollbacks *safety.RollbackManager
}

func (t *treeReverter) Head() (string, error) {
	return t.git.Head()
}

func (t *treeReverter) RollbackToCommit(commit, reason string) error {
	return t.rollbacks.RollbackToCommit(commit, reason)
}

// printEvents renders session events for the operator.
func printEvents(events <-chan runner.Event) {
	for ev := range events {
		ts := ev.Timestamp.Format(time.TimeOnly)
		switch ev.Type {
		case runner.EventTaskQueued:
			fmt.Printf("%s %s queued: %s\n", ts, color.CyanString("•"), ev.Message)
		case runner.EventTaskStarted:
			fmt.Printf("%s %s started %.8s\n", ts, color.CyanString("▶"), ev.TaskID)
		case runner.EventTaskCompleted:
			fmt.Printf("%s %s task %.8s done (quality %.2f, %s)\n",
				ts, color.GreenString("✓"), ev.TaskID, ev.Quality, ev.Duration.Round(time.Second))
		case runner.EventTaskFailed:
			detail := ev.Message
			if ev.Error != nil {
				detail = ev.Error.Error()
			}
			fmt.Printf("%s %s task %.8s failed: %s\n", ts, color.RedString("✗"), ev.TaskID, detail)
		case runner.EventTaskBlocked:
			detail := ev.Message
			if ev.Error != nil {
				detail = ev.Error.Error()
			}
			fmt.Printf("%s %s task %.8s blocked: %s\n", ts, color.YellowString("⚠"), ev.TaskID, detail)
		case runner.EventWindowChanged:
			fmt.Printf("%s %s window %s\n", ts, color.CyanString("◷"), ev.Message)
		case runner.EventSafetyViolation:
			fmt.Printf("%s %s safety: %s\n", ts, color.YellowString("⚠"), ev.Message)
		case runner.EventRollback:
			fmt.Printf("%s %s rollback: %s\n", ts, color.YellowString("↺"), ev.Message)
		case runner.EventSessionDone:
			fmt.Printf("%s %s session done: %s\n", ts, color.GreenString("■"), ev.Message)
		}
	}
}

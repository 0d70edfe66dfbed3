// Package runner composes the execution window, agent layer, safety
// coordinator and quality cycle into the nightly control loop.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nocturnd/nocturnd/internal/quality"
	"github.com/nocturnd/nocturnd/internal/safety"
	"github.com/nocturnd/nocturnd/internal/window"
	"github.com/nocturnd/nocturnd/pkg/models"
)

// Idle and backoff waits for the control loop.
const (
	// DefaultIdleWait is how long the loop sleeps when the queue is empty.
	DefaultIdleWait = 30 * time.Second
	// DefaultBlockedWait is how long the loop sleeps when the window
	// refuses work.
	DefaultBlockedWait = 60 * time.Second
)

// TaskExecutor runs one task through the agent layer.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.Task) (*models.ExecutionResult, error)
}

// SafetyGate is the slice of the safety coordinator the loop consumes.
type SafetyGate interface {
	InitializeSession() error
	PreTaskCheck(task *models.Task, plannedCode string) (*safety.CheckResult, error)
	PostTaskCheck(task *models.Task, result *models.ExecutionResult) (*safety.RollbackPoint, error)
	EmergencyRecovery(reason string) (*safety.RecoveryResult, error)
	FinalizeSession() (*safety.SessionSummary, error)
}

// QualityGate scores results and drives improvement rounds.
type QualityGate interface {
	Run(ctx context.Context, task *models.Task, result *models.ExecutionResult) (*models.ExecutionResult, []quality.ImprovementAttempt, error)
	Threshold() float64
}

// ChangeInspector reports what a task attempt touched.
type ChangeInspector interface {
	Head() (string, error)
	ChangedFiles(ref string) ([]string, error)
	IsRepository() bool
}

// Stats tallies one nightly session.
type Stats struct {
	TasksAttempted      int
	TasksCompleted      int
	TasksFailed         int
	TasksBlocked        int
	QualityImprovements int
	TotalExecutionTime  time.Duration
}

// Runner drives the nightly session: it admits tasks through the window
// controller, checks them against the safety layer, executes them through
// the agent layer and feeds the results through the quality cycle.
type Runner struct {
	controller *window.Controller
	executor   TaskExecutor
	safety     SafetyGate
	quality    QualityGate
	git        ChangeInspector
	queue      *Queue
	emitter    *Emitter

	idleWait    time.Duration
	blockedWait time.Duration

	mu    sync.Mutex
	stats Stats
}

// Options configures a Runner. Controller, Executor, Safety and Quality
// are required; Git may be nil when the project is not a repository.
type Options struct {
	Controller  *window.Controller
	Executor    TaskExecutor
	Safety      SafetyGate
	Quality     QualityGate
	Git         ChangeInspector
	IdleWait    time.Duration
	BlockedWait time.Duration
	EventBuffer int
}

// New assembles a Runner and wires window and safety events into its
// event stream.
func New(opts Options) *Runner {
	r := &Runner{
		controller:  opts.Controller,
		executor:    opts.Executor,
		safety:      opts.Safety,
		quality:     opts.Quality,
		git:         opts.Git,
		queue:       NewQueue(),
		emitter:     NewEmitter(opts.EventBuffer),
		idleWait:    opts.IdleWait,
		blockedWait: opts.BlockedWait,
	}
	if r.idleWait <= 0 {
		r.idleWait = DefaultIdleWait
	}
	if r.blockedWait <= 0 {
		r.blockedWait = DefaultBlockedWait
	}

	r.controller.Subscribe(func(from, to window.State, _ time.Time) {
		r.emitter.Emit(Event{
			Type:    EventWindowChanged,
			Message: fmt.Sprintf("%s -> %s", from, to),
		})
	})
	if coord, ok := r.safety.(*safety.Coordinator); ok {
		coord.AddDangerCallback(func(taskID string, a safety.Analysis) {
			r.emitter.Emit(Event{
				Type:    EventSafetyViolation,
				TaskID:  taskID,
				Message: a.Risk,
			})
		})
		coord.AddRollbackCallback(func(commit, reason string) {
			r.emitter.Emit(Event{
				Type:    EventRollback,
				Message: fmt.Sprintf("%s (%.8s)", reason, commit),
			})
		})
	}
	return r
}

// Events returns the session event stream.
func (r *Runner) Events() <-chan Event {
	return r.emitter.Events()
}

// Queue returns the pending task queue.
func (r *Runner) Queue() *Queue {
	return r.queue
}

// Controller returns the window controller.
func (r *Runner) Controller() *window.Controller {
	return r.controller
}

// Add enqueues a task for the next available slot.
func (r *Runner) Add(task *models.Task) {
	r.queue.Add(task)
	r.emitter.Emit(Event{Type: EventTaskQueued, TaskID: task.ID, Message: task.Description})
	log.Printf("[runner] queued task %s (priority %s)", task.ID, task.Priority)
}

// Stats returns a snapshot of the session tallies.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run drives the control loop until the context is cancelled. It opens a
// safety session on entry and finalizes it on exit.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.safety.InitializeSession(); err != nil {
		return fmt.Errorf("initializing safety session: %w", err)
	}
	defer r.finalize()

	go r.controller.Run(ctx)
	log.Printf("[runner] session started, window %s", r.controller.Window())

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		processed, err := r.Step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Printf("[runner] step failed: %v", err)
			if !sleep(ctx, r.blockedWait) {
				return ctx.Err()
			}
			continue
		}
		if !processed {
			wait := r.idleWait
			if r.controller.State() != window.StateActive {
				wait = r.blockedWait
			}
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
		}
	}
}

// RunOnce processes the queued tasks and returns when the queue drains,
// the window refuses further work, or the context is cancelled. Used by
// the CLI's one-shot mode.
func (r *Runner) RunOnce(ctx context.Context) error {
	if err := r.safety.InitializeSession(); err != nil {
		return fmt.Errorf("initializing safety session: %w", err)
	}
	defer r.finalize()

	r.controller.Evaluate()
	for r.queue.Len() > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		processed, err := r.Step(ctx)
		if err != nil {
			return err
		}
		if !processed {
			// Window closed or the head task was refused admission.
			log.Printf("[runner] stopping one-shot run with %d task(s) pending", r.queue.Len())
			return nil
		}
	}
	return nil
}

// Step attempts to execute the next queued task. It returns false when
// nothing was attempted: the window is closed, the queue is empty, or the
// head task was refused admission and requeued.
func (r *Runner) Step(ctx context.Context) (bool, error) {
	if r.controller.State() != window.StateActive {
		return false, nil
	}

	task, ok := r.queue.Next()
	if !ok {
		return false, nil
	}

	if can, reason := r.controller.CanStartTask(task); !can {
		log.Printf("[runner] task %s refused: %s", task.ID, reason)
		r.emitter.Emit(Event{Type: EventTaskBlocked, TaskID: task.ID, Message: reason})
		// Back of the line for its priority class.
		r.queue.Add(task)
		return false, nil
	}

	return true, r.executeTask(ctx, task)
}

// executeTask runs one admitted task end to end.
func (r *Runner) executeTask(ctx context.Context, task *models.Task) error {
	task.Start()
	r.emitter.Emit(Event{Type: EventTaskStarted, TaskID: task.ID, Message: task.Description})
	r.tally(func(s *Stats) { s.TasksAttempted++ })
	start := time.Now()

	if _, err := r.safety.PreTaskCheck(task, ""); err != nil {
		if errors.Is(err, safety.ErrUnsafeOperation) {
			log.Printf("[runner] task %s blocked by safety check: %v", task.ID, err)
			r.emitter.Emit(Event{Type: EventTaskBlocked, TaskID: task.ID, Error: err})
			task.Complete(false)
			r.tally(func(s *Stats) { s.TasksBlocked++ })
			return nil
		}
		return fmt.Errorf("pre-task check: %w", err)
	}

	commitBefore := ""
	if r.git != nil && r.git.IsRepository() {
		if head, err := r.git.Head(); err == nil {
			commitBefore = head
		}
	}

	result, err := r.executor.Execute(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			task.Complete(false)
			return ctx.Err()
		}
		log.Printf("[runner] task %s execution error: %v", task.ID, err)
		r.recover(fmt.Sprintf("task %s execution error: %v", task.ID, err))
		r.failTask(task, start, err)
		return nil
	}

	if commitBefore != "" && len(result.FilesModified) == 0 {
		if files, err := r.git.ChangedFiles(commitBefore); err == nil {
			result.FilesModified = files
		}
	}

	final, attempts, err := r.quality.Run(ctx, task, result)
	if err != nil {
		if ctx.Err() != nil {
			task.Complete(false)
			return ctx.Err()
		}
		log.Printf("[runner] quality cycle failed for task %s: %v", task.ID, err)
		r.recover(fmt.Sprintf("quality cycle failure for task %s: %v", task.ID, err))
		r.failTask(task, start, err)
		return nil
	}
	if len(attempts) > 0 {
		r.tally(func(s *Stats) { s.QualityImprovements++ })
	}

	if _, err := r.safety.PostTaskCheck(task, final); err != nil {
		log.Printf("[runner] post-task check failed for task %s: %v", task.ID, err)
	}

	elapsed := time.Since(start)
	final.Duration = elapsed
	success := final.Success && final.Quality.Acceptable(r.quality.Threshold())
	task.Complete(success)
	r.controller.RegisterTaskCompletion(final.MadeChanges())
	r.tally(func(s *Stats) { s.TotalExecutionTime += elapsed })

	if success {
		r.tally(func(s *Stats) { s.TasksCompleted++ })
		r.emitter.Emit(Event{
			Type:     EventTaskCompleted,
			TaskID:   task.ID,
			Quality:  final.Quality.Overall,
			Duration: elapsed,
		})
		log.Printf("[runner] task %s completed, quality %.3f", task.ID, final.Quality.Overall)
	} else {
		r.tally(func(s *Stats) { s.TasksFailed++ })
		r.emitter.Emit(Event{
			Type:     EventTaskFailed,
			TaskID:   task.ID,
			Quality:  final.Quality.Overall,
			Duration: elapsed,
			Message:  fmt.Sprintf("quality %.3f, threshold %.2f", final.Quality.Overall, r.quality.Threshold()),
		})
		log.Printf("[runner] task %s failed, quality %.3f", task.ID, final.Quality.Overall)
	}
	return nil
}

// failTask records a failed attempt that produced no usable result.
func (r *Runner) failTask(task *models.Task, start time.Time, cause error) {
	elapsed := time.Since(start)
	task.Complete(false)
	r.tally(func(s *Stats) {
		s.TasksFailed++
		s.TotalExecutionTime += elapsed
	})
	r.emitter.Emit(Event{Type: EventTaskFailed, TaskID: task.ID, Error: cause, Duration: elapsed})
}

// recover attempts an emergency recovery and logs the outcome.
func (r *Runner) recover(reason string) {
	res, err := r.safety.EmergencyRecovery(reason)
	if err != nil {
		log.Printf("[runner] emergency recovery failed: %v", err)
		return
	}
	log.Printf("[runner] emergency recovery via %s", res.Method)
}

// finalize closes the safety session and emits the session summary.
func (r *Runner) finalize() {
	summary, err := r.safety.FinalizeSession()
	if err != nil {
		log.Printf("[runner] finalize failed: %v", err)
		r.emitter.Emit(Event{Type: EventSessionDone, Error: err})
		return
	}
	stats := r.Stats()
	r.emitter.Emit(Event{
		Type: EventSessionDone,
		Message: fmt.Sprintf("attempted %d, completed %d, failed %d, blocked %d",
			stats.TasksAttempted, stats.TasksCompleted, stats.TasksFailed, stats.TasksBlocked),
	})
	violations := 0
	for _, n := range summary.ViolationsByLevel {
		violations += n
	}
	log.Printf("[runner] session %s finished: %d backups, %d rollback points, %d violations",
		summary.SessionID, summary.BackupsCreated, summary.PointsCreated, violations)
}

func (r *Runner) tally(fn func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
}

// sleep waits for d or context cancellation, reporting false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

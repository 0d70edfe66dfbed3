package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nocturnd/nocturnd/internal/config"
	"github.com/nocturnd/nocturnd/internal/quality"
	"github.com/nocturnd/nocturnd/internal/safety"
	"github.com/nocturnd/nocturnd/internal/window"
	"github.com/nocturnd/nocturnd/pkg/models"
)

type fakeExecutor struct {
	result *models.ExecutionResult
	err    error

	mu    sync.Mutex
	calls int
}

func (f *fakeExecutor) Execute(_ context.Context, task *models.Task) (*models.ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.TaskID = task.ID
	return &res, nil
}

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSafety struct {
	blockAll   bool
	initCalls  int
	preCalls   int
	postCalls  int
	recoveries []string
	finalized  bool
}

func (f *fakeSafety) InitializeSession() error {
	f.initCalls++
	return nil
}

func (f *fakeSafety) PreTaskCheck(task *models.Task, _ string) (*safety.CheckResult, error) {
	f.preCalls++
	if f.blockAll {
		return &safety.CheckResult{Reason: "blocked"}, fmt.Errorf("task %s: %w", task.ID, safety.ErrUnsafeOperation)
	}
	return &safety.CheckResult{Approved: true}, nil
}

func (f *fakeSafety) PostTaskCheck(_ *models.Task, _ *models.ExecutionResult) (*safety.RollbackPoint, error) {
	f.postCalls++
	return nil, nil
}

func (f *fakeSafety) EmergencyRecovery(reason string) (*safety.RecoveryResult, error) {
	f.recoveries = append(f.recoveries, reason)
	return &safety.RecoveryResult{Method: "rollback_point"}, nil
}

func (f *fakeSafety) FinalizeSession() (*safety.SessionSummary, error) {
	f.finalized = true
	return &safety.SessionSummary{SessionID: "s"}, nil
}

type fakeQuality struct {
	score    float64
	attempts int
	err      error
	seen     *models.ExecutionResult
}

func (f *fakeQuality) Run(_ context.Context, _ *models.Task, result *models.ExecutionResult) (*models.ExecutionResult, []quality.ImprovementAttempt, error) {
	f.seen = result
	if f.err != nil {
		return result, nil, f.err
	}
	result.Quality = models.QualityScore{Overall: f.score}
	return result, make([]quality.ImprovementAttempt, f.attempts), nil
}

func (f *fakeQuality) Threshold() float64 { return 0.85 }

type fakeGit struct {
	head    string
	changed []string
	isRepo  bool
}

func (f *fakeGit) Head() (string, error)                 { return f.head, nil }
func (f *fakeGit) ChangedFiles(string) ([]string, error) { return f.changed, nil }
func (f *fakeGit) IsRepository() bool                    { return f.isRepo }

// newActiveController returns a controller with the schedule ignored and
// therefore always open.
func newActiveController(t *testing.T) *window.Controller {
	t.Helper()
	ctrl, err := window.NewController(config.WindowConfig{
		Start:              "22:00",
		End:                "06:00",
		Timezone:           "UTC",
		Enabled:            true,
		MaxTaskDuration:    30 * time.Minute,
		MaxSessionDuration: 8 * time.Hour,
		MaxDailyChanges:    10,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	ctrl.IgnoreSchedule()
	return ctrl
}

func successResult() *models.ExecutionResult {
	res := models.NewExecutionResult("", models.AgentClaudeCode)
	res.Success = true
	res.GeneratedCode = "func done() {}"
	res.FilesModified = []string{"done.go"}
	return res
}

func newTestRunner(t *testing.T, exec *fakeExecutor, gate *fakeSafety, q *fakeQuality, g ChangeInspector) *Runner {
	t.Helper()
	return New(Options{
		Controller:  newActiveController(t),
		Executor:    exec,
		Safety:      gate,
		Quality:     q,
		Git:         g,
		IdleWait:    time.Millisecond,
		BlockedWait: time.Millisecond,
	})
}

func drainEvents(r *Runner) []Event {
	var out []Event
	for {
		select {
		case ev := <-r.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestRunner_StepExecutesTask(t *testing.T) {
	exec := &fakeExecutor{result: successResult()}
	gate := &fakeSafety{}
	qual := &fakeQuality{score: 0.92}
	r := newTestRunner(t, exec, gate, qual, nil)

	task := models.NewTask("add feature")
	r.Add(task)

	processed, err := r.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !processed {
		t.Fatal("task should have been processed")
	}
	if exec.Calls() != 1 || gate.preCalls != 1 || gate.postCalls != 1 {
		t.Errorf("calls: exec=%d pre=%d post=%d, want 1 each", exec.Calls(), gate.preCalls, gate.postCalls)
	}
	if task.Status != models.StatusCompleted {
		t.Errorf("task status = %s, want completed", task.Status)
	}

	stats := r.Stats()
	if stats.TasksAttempted != 1 || stats.TasksCompleted != 1 || stats.TasksFailed != 0 {
		t.Errorf("stats = %+v", stats)
	}

	types := eventTypes(drainEvents(r))
	want := []EventType{EventTaskQueued, EventTaskStarted, EventTaskCompleted}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestRunner_StepWindowClosed(t *testing.T) {
	exec := &fakeExecutor{result: successResult()}
	// Not evaluated: the controller still reports inactive.
	r := New(Options{
		Controller: mustController(t, config.WindowConfig{
			Start: "22:00", End: "06:00", Timezone: "UTC", Enabled: true,
			MaxTaskDuration: 30 * time.Minute, MaxDailyChanges: 10,
		}),
		Executor: exec,
		Safety:   &fakeSafety{},
		Quality:  &fakeQuality{score: 0.9},
	})
	r.Add(models.NewTask("t"))

	processed, err := r.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if processed {
		t.Error("closed window should not process tasks")
	}
	if exec.Calls() != 0 {
		t.Error("executor should not run outside the window")
	}
	if r.Queue().Len() != 1 {
		t.Error("task should stay queued")
	}
}

func mustController(t *testing.T, cfg config.WindowConfig) *window.Controller {
	t.Helper()
	ctrl, err := window.NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return ctrl
}

func TestRunner_SafetyBlockedTask(t *testing.T) {
	exec := &fakeExecutor{result: successResult()}
	gate := &fakeSafety{blockAll: true}
	r := newTestRunner(t, exec, gate, &fakeQuality{score: 0.9}, nil)

	task := models.NewTask("rm everything")
	r.Add(task)

	processed, err := r.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !processed {
		t.Fatal("blocked task still counts as an attempt")
	}
	if exec.Calls() != 0 {
		t.Error("blocked task must not reach the executor")
	}
	if task.Status != models.StatusFailed {
		t.Errorf("task status = %s, want failed", task.Status)
	}
	if stats := r.Stats(); stats.TasksBlocked != 1 {
		t.Errorf("blocked = %d, want 1", stats.TasksBlocked)
	}
}

func TestRunner_ExecutorErrorTriggersRecovery(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("all agents exhausted")}
	gate := &fakeSafety{}
	r := newTestRunner(t, exec, gate, &fakeQuality{score: 0.9}, nil)
	r.Add(models.NewTask("t"))

	if _, err := r.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(gate.recoveries) != 1 {
		t.Fatalf("recoveries = %v, want one", gate.recoveries)
	}
	if stats := r.Stats(); stats.TasksFailed != 1 {
		t.Errorf("failed = %d, want 1", stats.TasksFailed)
	}
}

func TestRunner_LowQualityFails(t *testing.T) {
	exec := &fakeExecutor{result: successResult()}
	r := newTestRunner(t, exec, &fakeSafety{}, &fakeQuality{score: 0.5}, nil)

	task := models.NewTask("t")
	r.Add(task)

	if _, err := r.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if task.Status != models.StatusFailed {
		t.Errorf("task status = %s, want failed below threshold", task.Status)
	}
	if stats := r.Stats(); stats.TasksCompleted != 0 || stats.TasksFailed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRunner_QualityAttemptsCounted(t *testing.T) {
	exec := &fakeExecutor{result: successResult()}
	r := newTestRunner(t, exec, &fakeSafety{}, &fakeQuality{score: 0.9, attempts: 2}, nil)
	r.Add(models.NewTask("t"))

	if _, err := r.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if stats := r.Stats(); stats.QualityImprovements != 1 {
		t.Errorf("quality improvements = %d, want 1", stats.QualityImprovements)
	}
}

func TestRunner_FilesModifiedFromGit(t *testing.T) {
	res := successResult()
	res.FilesModified = nil
	exec := &fakeExecutor{result: res}
	qual := &fakeQuality{score: 0.9}
	g := &fakeGit{head: "abc123", changed: []string{"a.go", "b.go"}, isRepo: true}
	r := newTestRunner(t, exec, &fakeSafety{}, qual, g)
	r.Add(models.NewTask("t"))

	if _, err := r.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if qual.seen == nil || len(qual.seen.FilesModified) != 2 {
		t.Errorf("result should carry files discovered via git, got %+v", qual.seen)
	}
}

func TestRunner_RefusedTaskRequeued(t *testing.T) {
	exec := &fakeExecutor{result: successResult()}
	r := newTestRunner(t, exec, &fakeSafety{}, &fakeQuality{score: 0.9}, nil)

	task := models.NewTask("t")
	task.EstimatedDuration = 2 * time.Hour
	r.Add(task)

	processed, err := r.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if processed {
		t.Error("over-budget task should be refused")
	}
	if r.Queue().Len() != 1 {
		t.Error("refused task should be requeued")
	}
	if exec.Calls() != 0 {
		t.Error("refused task must not execute")
	}
}

func TestRunner_RunFinalizesSession(t *testing.T) {
	gate := &fakeSafety{}
	r := newTestRunner(t, &fakeExecutor{result: successResult()}, gate, &fakeQuality{score: 0.9}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if gate.initCalls != 1 {
		t.Errorf("init calls = %d, want 1", gate.initCalls)
	}
	if !gate.finalized {
		t.Error("session should be finalized on exit")
	}

	types := eventTypes(drainEvents(r))
	found := false
	for _, tp := range types {
		if tp == EventSessionDone {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v, want a session_done", types)
	}
}

func TestRunner_RunProcessesQueuedTasks(t *testing.T) {
	exec := &fakeExecutor{result: successResult()}
	gate := &fakeSafety{}
	r := newTestRunner(t, exec, gate, &fakeQuality{score: 0.9}, nil)
	r.Add(models.NewTask("one"))
	r.Add(models.NewTask("two"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for exec.Calls() < 2 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("only %d tasks executed", exec.Calls())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if stats := r.Stats(); stats.TasksCompleted != 2 {
		t.Errorf("completed = %d, want 2", stats.TasksCompleted)
	}
}

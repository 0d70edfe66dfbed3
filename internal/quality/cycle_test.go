package quality

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nocturnd/nocturnd/pkg/models"
)

// fakeScorer returns a scripted sequence of overall scores, one per call.
type fakeScorer struct {
	scores []float64
	calls  int
}

func (f *fakeScorer) Score(_ context.Context, _ *models.Task, _ *models.ExecutionResult) (models.QualityScore, error) {
	if f.calls >= len(f.scores) {
		return models.QualityScore{}, fmt.Errorf("unexpected scoring call %d", f.calls+1)
	}
	s := f.scores[f.calls]
	f.calls++
	return models.QualityScore{Overall: s}, nil
}

type fakeAnalyzer struct {
	issues []string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ *models.Task, _ *models.ExecutionResult, _ models.QualityScore) (FailureAnalysis, error) {
	return FailureAnalysis{PrimaryCause: "scripted", SuggestedFixes: f.issues, Confidence: 1}, nil
}

type rollbackCall struct {
	commit string
	reason string
}

// fakeReverter tracks HEAD as a plain string. Executors advance it to
// simulate commits; rollbacks move it back.
type fakeReverter struct {
	head      string
	rollbacks []rollbackCall
}

func (f *fakeReverter) Head() (string, error) { return f.head, nil }

func (f *fakeReverter) RollbackToCommit(commit, reason string) error {
	f.rollbacks = append(f.rollbacks, rollbackCall{commit: commit, reason: reason})
	f.head = commit
	return nil
}

// committingExecutor returns an executor that advances the reverter's head
// on every call and yields a fresh result.
func committingExecutor(rev *fakeReverter) Executor {
	call := 0
	return func(_ context.Context, task *models.Task) (*models.ExecutionResult, error) {
		call++
		rev.head = fmt.Sprintf("c%d", call)
		res := models.NewExecutionResult(task.ID, models.AgentClaudeCode)
		res.GeneratedCode = "func improved() {}"
		res.FilesModified = []string{"improved.go"}
		return res, nil
	}
}

func TestCycle_MeetsThresholdImmediately(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.90}}
	rev := &fakeReverter{head: "c0"}
	cycle := NewCycle(scorer, &fakeAnalyzer{}, committingExecutor(rev), rev, 0.85, 3)

	task := models.NewTask("t")
	result := models.NewExecutionResult(task.ID, models.AgentClaudeCode)

	final, attempts, err := cycle.Run(context.Background(), task, result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final != result {
		t.Error("acceptable result should be returned unchanged")
	}
	if final.Quality.Overall != 0.90 {
		t.Errorf("quality = %v, want 0.90", final.Quality.Overall)
	}
	if len(attempts) != 0 {
		t.Errorf("attempts = %d, want 0", len(attempts))
	}
	if len(rev.rollbacks) != 0 {
		t.Errorf("rollbacks = %v, want none", rev.rollbacks)
	}
}

func TestCycle_RollbackThenKeepThenSucceed(t *testing.T) {
	// Initial 0.60. Attempt one degrades to 0.55 and is rolled back.
	// Attempt two improves to 0.70 and becomes the baseline. Attempt
	// three reaches 0.90 and succeeds.
	scorer := &fakeScorer{scores: []float64{0.60, 0.55, 0.70, 0.90}}
	rev := &fakeReverter{head: "c0"}
	analyzer := &fakeAnalyzer{issues: []string{"add tests"}}
	cycle := NewCycle(scorer, analyzer, committingExecutor(rev), rev, 0.85, 3)

	task := models.NewTask("t")
	result := models.NewExecutionResult(task.ID, models.AgentClaudeCode)

	final, attempts, err := cycle.Run(context.Background(), task, result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !final.Success {
		t.Error("final result should be marked successful")
	}
	if final.Quality.Overall != 0.90 {
		t.Errorf("final quality = %v, want 0.90", final.Quality.Overall)
	}
	if final.ImprovementAttempts != 3 {
		t.Errorf("improvement attempts = %d, want 3", final.ImprovementAttempts)
	}
	if len(attempts) != 3 {
		t.Fatalf("attempt records = %d, want 3", len(attempts))
	}

	if attempts[0].FailureReason != RollbackQualityDegradation {
		t.Errorf("attempt 1 reason = %q, want %q", attempts[0].FailureReason, RollbackQualityDegradation)
	}
	if attempts[1].Success || attempts[1].FailureReason != "" {
		t.Errorf("attempt 2 should be a kept baseline: %+v", attempts[1])
	}
	if !attempts[2].Success {
		t.Error("attempt 3 should succeed")
	}
	if attempts[0].OriginalQuality != 0.60 || attempts[2].OriginalQuality != 0.60 {
		t.Error("every attempt should record the initial quality as original")
	}

	// Only the degraded attempt rolled back, to the state before it.
	if len(rev.rollbacks) != 1 {
		t.Fatalf("rollbacks = %v, want exactly one", rev.rollbacks)
	}
	if rev.rollbacks[0] != (rollbackCall{commit: "c0", reason: RollbackQualityDegradation}) {
		t.Errorf("rollback = %+v", rev.rollbacks[0])
	}

	// Attempt three started from the kept baseline of attempt two.
	if attempts[2].CommitBefore != "c2" {
		t.Errorf("attempt 3 started from %s, want c2", attempts[2].CommitBefore)
	}
}

func TestCycle_ExhaustionRestoresOriginal(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.60, 0.65, 0.70, 0.75}}
	rev := &fakeReverter{head: "c0"}
	cycle := NewCycle(scorer, &fakeAnalyzer{}, committingExecutor(rev), rev, 0.85, 3)

	task := models.NewTask("t")
	result := models.NewExecutionResult(task.ID, models.AgentClaudeCode)

	final, attempts, err := cycle.Run(context.Background(), task, result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if final != result {
		t.Error("exhaustion should return the original result")
	}
	if !final.ImprovementFailed {
		t.Error("ImprovementFailed should be set")
	}
	if final.ImprovementAttempts != 3 {
		t.Errorf("improvement attempts = %d, want 3", final.ImprovementAttempts)
	}
	if final.Quality.Overall != 0.60 {
		t.Errorf("final quality = %v, want the original 0.60", final.Quality.Overall)
	}
	if len(attempts) != 3 {
		t.Errorf("attempt records = %d, want 3", len(attempts))
	}

	last := rev.rollbacks[len(rev.rollbacks)-1]
	if last != (rollbackCall{commit: "c0", reason: RollbackImprovementExhausted}) {
		t.Errorf("final rollback = %+v, want restore to original", last)
	}
	if rev.head != "c0" {
		t.Errorf("head = %s, want original c0", rev.head)
	}
}

func TestCycle_EveryAttemptDegrades(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.60, 0.50, 0.40, 0.30}}
	rev := &fakeReverter{head: "c0"}
	cycle := NewCycle(scorer, &fakeAnalyzer{}, committingExecutor(rev), rev, 0.85, 3)

	task := models.NewTask("t")
	result := models.NewExecutionResult(task.ID, models.AgentClaudeCode)

	final, attempts, err := cycle.Run(context.Background(), task, result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !final.ImprovementFailed {
		t.Error("ImprovementFailed should be set")
	}
	for i, a := range attempts {
		if a.FailureReason != RollbackQualityDegradation {
			t.Errorf("attempt %d reason = %q, want degradation", i+1, a.FailureReason)
		}
	}
	// Three per-attempt rollbacks plus the final restore.
	if len(rev.rollbacks) != 4 {
		t.Errorf("rollbacks = %d, want 4", len(rev.rollbacks))
	}
}

func TestCycle_ExecutorErrorCountsAsAttempt(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.60, 0.90}}
	rev := &fakeReverter{head: "c0"}
	call := 0
	execute := func(_ context.Context, task *models.Task) (*models.ExecutionResult, error) {
		call++
		if call == 1 {
			return nil, errors.New("agent crashed")
		}
		rev.head = "c1"
		res := models.NewExecutionResult(task.ID, models.AgentClaudeCode)
		res.GeneratedCode = "func fixed() {}"
		return res, nil
	}
	cycle := NewCycle(scorer, &fakeAnalyzer{}, execute, rev, 0.85, 3)

	task := models.NewTask("t")
	result := models.NewExecutionResult(task.ID, models.AgentClaudeCode)

	final, attempts, err := cycle.Run(context.Background(), task, result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempt records = %d, want 2", len(attempts))
	}
	if attempts[0].FailureReason != "agent crashed" {
		t.Errorf("attempt 1 reason = %q", attempts[0].FailureReason)
	}
	if !attempts[1].Success {
		t.Error("attempt 2 should succeed")
	}
	if final.Quality.Overall != 0.90 {
		t.Errorf("final quality = %v, want 0.90", final.Quality.Overall)
	}
}

func TestCycle_ContextCancelStopsCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scorer := &fakeScorer{scores: []float64{0.60}}
	rev := &fakeReverter{head: "c0"}
	execute := func(ctx context.Context, _ *models.Task) (*models.ExecutionResult, error) {
		cancel()
		return nil, ctx.Err()
	}
	cycle := NewCycle(scorer, &fakeAnalyzer{}, execute, rev, 0.85, 3)

	task := models.NewTask("t")
	result := models.NewExecutionResult(task.ID, models.AgentClaudeCode)

	_, _, err := cycle.Run(ctx, task, result)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCycle_ImprovementsAccumulate(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.60, 0.70, 0.90}}
	rev := &fakeReverter{head: "c0"}
	analyzer := &fakeAnalyzer{issues: []string{"add tests"}}
	cycle := NewCycle(scorer, analyzer, committingExecutor(rev), rev, 0.85, 3)

	task := models.NewTask("t")
	result := models.NewExecutionResult(task.ID, models.AgentClaudeCode)

	final, _, err := cycle.Run(context.Background(), task, result)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// One issue recorded per round: the kept baseline plus the success.
	if len(final.Improvements) != 2 {
		t.Errorf("improvements = %v, want 2 entries", final.Improvements)
	}
}

func TestNewCycle_Defaults(t *testing.T) {
	c := NewCycle(HeuristicScorer{}, &fakeAnalyzer{}, nil, nil, 0, 0)
	if c.Threshold() != 0.85 {
		t.Errorf("default threshold = %v, want 0.85", c.Threshold())
	}
	if c.maxAttempts != 3 {
		t.Errorf("default max attempts = %d, want 3", c.maxAttempts)
	}
}

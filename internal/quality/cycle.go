package quality

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nocturnd/nocturnd/internal/agent"
	"github.com/nocturnd/nocturnd/pkg/models"
)

// RollbackQualityDegradation is the rollback reason recorded when an
// improvement attempt made the score worse.
const RollbackQualityDegradation = "quality_degradation"

// RollbackImprovementExhausted is the rollback reason recorded when all
// attempts are spent without reaching the threshold.
const RollbackImprovementExhausted = "improvement_exhausted"

// ImprovementAttempt records one round of the improvement cycle.
type ImprovementAttempt struct {
	Attempt         int       `json:"attempt"`
	Timestamp       time.Time `json:"timestamp"`
	OriginalQuality float64   `json:"original_quality"`
	TargetQuality   float64   `json:"target_quality"`
	ResultQuality   float64   `json:"result_quality"`
	Cause           string    `json:"cause,omitempty"`
	Issues          []string  `json:"issues,omitempty"`
	Success         bool      `json:"success"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	CommitBefore    string    `json:"commit_before,omitempty"`
	CommitAfter     string    `json:"commit_after,omitempty"`
}

// Cycle drives the quality improvement loop. A result below the threshold
// gets up to maxAttempts improvement rounds. Each round that degrades the
// score is rolled back to the state before that round; a round that
// improves the score without reaching the threshold becomes the new
// baseline. When all rounds are spent the working tree is restored to the
// state before the first round and the original result is returned with
// ImprovementFailed set.
type Cycle struct {
	scorer      Scorer
	analyzer    Analyzer
	execute     Executor
	revert      Reverter
	threshold   float64
	maxAttempts int
}

// NewCycle assembles an improvement cycle.
func NewCycle(scorer Scorer, analyzer Analyzer, execute Executor, revert Reverter, threshold float64, maxAttempts int) *Cycle {
	if threshold <= 0 {
		threshold = 0.85
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Cycle{
		scorer:      scorer,
		analyzer:    analyzer,
		execute:     execute,
		revert:      revert,
		threshold:   threshold,
		maxAttempts: maxAttempts,
	}
}

// Threshold returns the configured acceptance threshold.
func (c *Cycle) Threshold() float64 { return c.threshold }

// Run scores the result and, if it falls short, drives improvement
// rounds until the threshold is met or the attempts are exhausted. The
// returned result always carries its quality score.
func (c *Cycle) Run(ctx context.Context, task *models.Task, result *models.ExecutionResult) (*models.ExecutionResult, []ImprovementAttempt, error) {
	score, err := c.scorer.Score(ctx, task, result)
	if err != nil {
		return result, nil, fmt.Errorf("scoring initial result: %w", err)
	}
	result.Quality = score

	if score.Acceptable(c.threshold) {
		log.Printf("[quality] task %s scored %.3f, meets threshold %.2f", task.ID, score.Overall, c.threshold)
		return result, nil, nil
	}
	log.Printf("[quality] task %s scored %.3f, below threshold %.2f, starting improvement cycle",
		task.ID, score.Overall, c.threshold)

	originalCommit, err := c.revert.Head()
	if err != nil {
		return result, nil, fmt.Errorf("recording original state: %w", err)
	}

	var attempts []ImprovementAttempt
	current := result
	for n := 1; n <= c.maxAttempts; n++ {
		attempt, improved, err := c.runAttempt(ctx, task, current, result.Quality.Overall, n)
		if err != nil {
			return current, attempts, err
		}
		attempts = append(attempts, attempt)

		if attempt.Success {
			improved.Success = true
			improved.ImprovementAttempts = n
			log.Printf("[quality] task %s improved to %.3f after %d attempt(s)", task.ID, attempt.ResultQuality, n)
			return improved, attempts, nil
		}
		if improved != nil && attempt.FailureReason == "" {
			// Better but still short. Keep the change as the new baseline.
			current = improved
		}
	}

	log.Printf("[quality] task %s exhausted %d improvement attempts, restoring original state", task.ID, c.maxAttempts)
	if err := c.revert.RollbackToCommit(originalCommit, RollbackImprovementExhausted); err != nil {
		return current, attempts, fmt.Errorf("restoring original state: %w", err)
	}
	result.ImprovementFailed = true
	result.ImprovementAttempts = len(attempts)
	return result, attempts, nil
}

// runAttempt executes one improvement round. The returned result is nil
// when the round produced nothing to keep.
func (c *Cycle) runAttempt(ctx context.Context, task *models.Task, current *models.ExecutionResult, originalQuality float64, n int) (ImprovementAttempt, *models.ExecutionResult, error) {
	attempt := ImprovementAttempt{
		Attempt:         n,
		Timestamp:       time.Now(),
		OriginalQuality: originalQuality,
		TargetQuality:   c.threshold,
		ResultQuality:   current.Quality.Overall,
	}

	commitBefore, err := c.revert.Head()
	if err != nil {
		return attempt, nil, fmt.Errorf("attempt %d: recording state: %w", n, err)
	}
	attempt.CommitBefore = commitBefore

	analysis, err := c.analyzer.Analyze(ctx, task, current, current.Quality)
	if err != nil {
		return attempt, nil, fmt.Errorf("attempt %d: analyzing result: %w", n, err)
	}
	issues := analysis.SuggestedFixes
	attempt.Issues = issues
	attempt.Cause = analysis.PrimaryCause

	improved, err := c.execute(ctx, agent.ImprovementTask(task, issues))
	if err != nil {
		if ctx.Err() != nil {
			return attempt, nil, ctx.Err()
		}
		log.Printf("[quality] improvement attempt %d failed: %v", n, err)
		attempt.FailureReason = err.Error()
		return attempt, nil, nil
	}

	score, err := c.scorer.Score(ctx, task, improved)
	if err != nil {
		return attempt, nil, fmt.Errorf("attempt %d: scoring result: %w", n, err)
	}
	improved.Quality = score
	improved.Improvements = append(append([]string(nil), current.Improvements...), issues...)
	attempt.ResultQuality = score.Overall
	if after, err := c.revert.Head(); err == nil {
		attempt.CommitAfter = after
	}

	if score.Acceptable(c.threshold) {
		attempt.Success = true
		return attempt, improved, nil
	}

	if score.Overall < current.Quality.Overall {
		log.Printf("[quality] attempt %d degraded score to %.3f, rolling back", n, score.Overall)
		if err := c.revert.RollbackToCommit(commitBefore, RollbackQualityDegradation); err != nil {
			return attempt, nil, fmt.Errorf("attempt %d: rolling back degraded change: %w", n, err)
		}
		attempt.FailureReason = RollbackQualityDegradation
		return attempt, nil, nil
	}

	log.Printf("[quality] attempt %d improved score to %.3f, keeping as new baseline", n, score.Overall)
	return attempt, improved, nil
}

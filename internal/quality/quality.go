// Package quality scores task results and drives the improvement cycle
// that retries low-quality work before accepting or rolling it back.
package quality

import (
	"context"

	"github.com/nocturnd/nocturnd/pkg/models"
)

// Scorer assigns a quality score to one execution result. The cycle
// propagates the returned Overall value unchanged; it never recomputes it
// from the sub-scores.
type Scorer interface {
	Score(ctx context.Context, task *models.Task, result *models.ExecutionResult) (models.QualityScore, error)
}

// FailureAnalysis explains why a result scored below the threshold and
// what the next attempt should change. SuggestedFixes is never empty.
type FailureAnalysis struct {
	PrimaryCause        string   `json:"primary_cause"`
	ContributingFactors []string `json:"contributing_factors,omitempty"`
	SuggestedFixes      []string `json:"suggested_fixes"`
	Confidence          float64  `json:"confidence"`
}

// Analyzer turns a below-threshold result into a failure analysis whose
// suggested fixes feed the next improvement attempt.
type Analyzer interface {
	Analyze(ctx context.Context, task *models.Task, result *models.ExecutionResult, score models.QualityScore) (FailureAnalysis, error)
}

// Executor runs one task attempt. The cycle hands it derived improvement
// tasks; the runner wires it to the agent manager.
type Executor func(ctx context.Context, task *models.Task) (*models.ExecutionResult, error)

// Reverter restores the working tree to a recorded commit. The runner
// wires it to the safety layer's rollback manager.
type Reverter interface {
	Head() (string, error)
	RollbackToCommit(commit, reason string) error
}

package models

import "time"

// AgentKind identifies an external coding tool.
type AgentKind string

const (
	// AgentClaudeCode is the Claude Code CLI.
	AgentClaudeCode AgentKind = "claude_code"
	// AgentClaudeAPI is direct Anthropic API generation.
	AgentClaudeAPI AgentKind = "claude_api"
	// AgentGitHubCopilot is the GitHub Copilot CLI (via gh).
	AgentGitHubCopilot AgentKind = "github_copilot"
	// AgentCursor is the Cursor CLI.
	AgentCursor AgentKind = "cursor"
)

// Valid returns true if the kind is a known value.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentClaudeCode, AgentClaudeAPI, AgentGitHubCopilot, AgentCursor:
		return true
	default:
		return false
	}
}

// QualityScore is the normalized assessment of a generated change.
// Overall is the gating value; the core propagates it unchanged and never
// recomputes it from the sub-scores. Immutable once produced.
type QualityScore struct {
	Overall      float64 `json:"overall"`
	CodeQuality  float64 `json:"code_quality"`
	Consistency  float64 `json:"consistency"`
	TestCoverage float64 `json:"test_coverage"`
	Security     float64 `json:"security"`
	Performance  float64 `json:"performance"`
}

// Acceptable returns true if the overall score meets the threshold.
func (q QualityScore) Acceptable(threshold float64) bool {
	return q.Overall >= threshold
}

// ExecutionResult is the outcome of one task attempt. Produced once per
// attempt and never mutated, only superseded by a later attempt.
type ExecutionResult struct {
	// TaskID references the task this result belongs to.
	TaskID string `json:"task_id"`
	// Success is false for both tool failures and rejected output.
	Success bool `json:"success"`
	// Quality is the score assigned by the external scorer.
	Quality QualityScore `json:"quality"`
	// GeneratedCode is the artifact the agent produced.
	GeneratedCode string `json:"generated_code,omitempty"`
	// AgentUsed is the tool that produced this result.
	AgentUsed AgentKind `json:"agent_used"`
	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`
	// Errors lists failures encountered during the attempt.
	Errors []string `json:"errors,omitempty"`
	// Improvements lists improvement actions applied, if any.
	Improvements []string `json:"improvements,omitempty"`
	// FilesModified lists workspace files the attempt changed.
	FilesModified []string `json:"files_modified,omitempty"`
	// CostIncurred is the monetary cost, passed through opaquely.
	CostIncurred float64 `json:"cost_incurred,omitempty"`
	// ImprovementFailed is set when the improvement cycle exhausted its
	// attempts and restored the original state.
	ImprovementFailed bool `json:"improvement_failed,omitempty"`
	// ImprovementAttempts is the number of improvement rounds run.
	ImprovementAttempts int `json:"improvement_attempts,omitempty"`
	// CreatedAt is when this result was produced.
	CreatedAt time.Time `json:"created_at"`
}

// NewExecutionResult creates an empty result for one task attempt.
func NewExecutionResult(taskID string, agent AgentKind) *ExecutionResult {
	return &ExecutionResult{
		TaskID:    taskID,
		AgentUsed: agent,
		CreatedAt: time.Now(),
	}
}

// MadeChanges returns true if the attempt touched any workspace files.
func (r *ExecutionResult) MadeChanges() bool {
	return len(r.FilesModified) > 0
}

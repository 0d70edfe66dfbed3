package quality

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/nocturnd/nocturnd/internal/api"
	"github.com/nocturnd/nocturnd/pkg/models"
)

const analyzerSystemPrompt = `You are a code reviewer for an autonomous coding agent.
You are given a task, the code an agent produced for it, and the quality
scores the code received. Identify the root cause of the low scores and
suggest specific fixes.

Respond in exactly this format and nothing else:
Cause: <one line naming the primary problem>
Factors:
- <contributing factor, zero or more lines>
Fixes:
- <specific fix, one or more lines>
Confidence: <number between 0.0 and 1.0>`

const maxCodeExcerpt = 4000

// heuristicConfidence is reported by the deterministic fallback, which
// sees scores but never reads the code.
const heuristicConfidence = 0.5

// ClaudeAnalyzer asks the Anthropic API why a result scored low. When the
// API is unavailable or returns nothing usable it falls back to a
// deterministic analysis derived from the sub-scores.
type ClaudeAnalyzer struct {
	client *api.Client
}

var _ Analyzer = (*ClaudeAnalyzer)(nil)

// NewClaudeAnalyzer wraps an API client. A nil client is allowed; every
// call then uses the deterministic fallback.
func NewClaudeAnalyzer(client *api.Client) *ClaudeAnalyzer {
	return &ClaudeAnalyzer{client: client}
}

// Analyze implements Analyzer.
func (a *ClaudeAnalyzer) Analyze(ctx context.Context, task *models.Task, result *models.ExecutionResult, score models.QualityScore) (FailureAnalysis, error) {
	if a.client == nil {
		return fallbackAnalysis(result, score), nil
	}

	text, err := a.client.Complete(ctx, analyzerSystemPrompt, analysisPrompt(task, result, score))
	if err != nil {
		if ctx.Err() != nil {
			return FailureAnalysis{}, ctx.Err()
		}
		log.Printf("[quality] analysis call failed, using heuristic analysis: %v", err)
		return fallbackAnalysis(result, score), nil
	}

	analysis := parseAnalysis(text)
	if len(analysis.SuggestedFixes) == 0 {
		return fallbackAnalysis(result, score), nil
	}
	return analysis, nil
}

func analysisPrompt(task *models.Task, result *models.ExecutionResult, score models.QualityScore) string {
	code := result.GeneratedCode
	if len(code) > maxCodeExcerpt {
		code = code[:maxCodeExcerpt] + "\n... (truncated)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", task.Description)
	fmt.Fprintf(&b, "Generated code:\n%s\n\n", code)
	fmt.Fprintf(&b, "Scores (0.0 to 1.0):\n")
	fmt.Fprintf(&b, "  overall:       %.3f\n", score.Overall)
	fmt.Fprintf(&b, "  code quality:  %.3f\n", score.CodeQuality)
	fmt.Fprintf(&b, "  consistency:   %.3f\n", score.Consistency)
	fmt.Fprintf(&b, "  test coverage: %.3f\n", score.TestCoverage)
	fmt.Fprintf(&b, "  security:      %.3f\n", score.Security)
	fmt.Fprintf(&b, "  performance:   %.3f\n", score.Performance)
	if len(result.Errors) > 0 {
		b.WriteString("\nErrors during execution:\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

// parseAnalysis reads the structured reviewer reply. Bullet lines before
// any "Fixes:" header count as contributing factors; an unparseable
// confidence keeps the zero value so the caller falls back.
func parseAnalysis(text string) FailureAnalysis {
	var analysis FailureAnalysis
	inFixes := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Cause:"):
			analysis.PrimaryCause = strings.TrimSpace(strings.TrimPrefix(line, "Cause:"))
		case strings.HasPrefix(line, "Factors:"):
			inFixes = false
		case strings.HasPrefix(line, "Fixes:"):
			inFixes = true
		case strings.HasPrefix(line, "Confidence:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "Confidence:"))
			if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
				analysis.Confidence = v
			}
		default:
			rest, ok := strings.CutPrefix(line, "- ")
			if !ok {
				continue
			}
			rest = strings.TrimSpace(rest)
			if rest == "" {
				continue
			}
			if inFixes {
				analysis.SuggestedFixes = append(analysis.SuggestedFixes, rest)
			} else {
				analysis.ContributingFactors = append(analysis.ContributingFactors, rest)
			}
		}
	}
	return analysis
}

// fallbackAnalysis derives an analysis from whichever sub-scores are
// dragging the overall value down. The lowest sub-score becomes the
// primary cause, the other low ones contributing factors.
func fallbackAnalysis(result *models.ExecutionResult, score models.QualityScore) FailureAnalysis {
	type weakness struct {
		name  string
		value float64
		fix   string
	}
	candidates := []weakness{
		{"code quality", score.CodeQuality, "Simplify the implementation and remove incomplete sections such as TODO markers"},
		{"consistency", score.Consistency, "Align naming and structure with the existing code in the project"},
		{"test coverage", score.TestCoverage, "Add tests covering the new behavior, including edge cases"},
		{"security", score.Security, "Remove hardcoded credentials and validate all external input"},
		{"performance", score.Performance, "Remove sleeps, panics and reflection from the main code path"},
	}

	analysis := FailureAnalysis{Confidence: heuristicConfidence}
	lowest := weakness{value: 2}
	for _, c := range candidates {
		if c.value >= 0.8 {
			continue
		}
		analysis.SuggestedFixes = append(analysis.SuggestedFixes, c.fix)
		analysis.ContributingFactors = append(analysis.ContributingFactors, fmt.Sprintf("low %s score (%.2f)", c.name, c.value))
		if c.value < lowest.value {
			lowest = c
		}
	}
	if lowest.value <= 1 {
		analysis.PrimaryCause = fmt.Sprintf("low %s score (%.2f)", lowest.name, lowest.value)
	}

	for _, e := range result.Errors {
		analysis.SuggestedFixes = append(analysis.SuggestedFixes, fmt.Sprintf("Resolve the execution error: %s", e))
	}
	if analysis.PrimaryCause == "" && len(result.Errors) > 0 {
		analysis.PrimaryCause = result.Errors[0]
	}
	if len(analysis.SuggestedFixes) == 0 {
		analysis.SuggestedFixes = append(analysis.SuggestedFixes, "Review the change for correctness and completeness")
	}
	if analysis.PrimaryCause == "" {
		analysis.PrimaryCause = "overall score below threshold with no single weak sub-score"
	}
	return analysis
}

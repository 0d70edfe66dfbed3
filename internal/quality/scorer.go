package quality

import (
	"context"
	"regexp"
	"strings"

	"github.com/nocturnd/nocturnd/pkg/models"
)

// Weights for combining sub-scores into the overall value.
const (
	weightCodeQuality  = 0.30
	weightConsistency  = 0.25
	weightTestCoverage = 0.15
	weightSecurity     = 0.20
	weightPerformance  = 0.10
)

var securityMarkers = []string{
	"password",
	"secret",
	"api_key",
	"apikey",
	"credential",
	"private_key",
}

var performanceAntipatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)time\.Sleep\(`),
	regexp.MustCompile(`(?i)reflect\.DeepEqual\(`),
	regexp.MustCompile(`(?i)panic\(`),
}

var testMarkers = []string{
	"func Test",
	"t.Run(",
	"testing.T",
	"func Benchmark",
}

// HeuristicScorer scores results from the result fields and the generated
// code text alone. It never runs external tools, so it works for any
// language the agents produce and gives identical scores for identical
// inputs.
type HeuristicScorer struct{}

var _ Scorer = (*HeuristicScorer)(nil)

// Score implements Scorer.
func (HeuristicScorer) Score(_ context.Context, _ *models.Task, result *models.ExecutionResult) (models.QualityScore, error) {
	code := result.GeneratedCode

	s := models.QualityScore{
		CodeQuality:  scoreCodeQuality(result),
		Consistency:  scoreConsistency(result),
		TestCoverage: scoreTestCoverage(code),
		Security:     scoreSecurity(code),
		Performance:  scorePerformance(code),
	}
	s.Overall = weightCodeQuality*s.CodeQuality +
		weightConsistency*s.Consistency +
		weightTestCoverage*s.TestCoverage +
		weightSecurity*s.Security +
		weightPerformance*s.Performance
	return s, nil
}

func scoreCodeQuality(result *models.ExecutionResult) float64 {
	if result.GeneratedCode == "" {
		return 0.3
	}
	score := 1.0
	score -= 0.1 * float64(len(result.Errors))
	score -= 0.05 * float64(strings.Count(result.GeneratedCode, "TODO")+strings.Count(result.GeneratedCode, "FIXME"))
	if !result.Success {
		score -= 0.2
	}
	return clamp(score)
}

func scoreConsistency(result *models.ExecutionResult) float64 {
	score := 0.85
	score -= 0.1 * float64(len(result.Errors))
	return clamp(score)
}

// scoreTestCoverage estimates coverage from the share of test code in the
// generated change. Full credit at thirty percent test lines.
func scoreTestCoverage(code string) float64 {
	if code == "" {
		return 0.0
	}
	lines := strings.Split(code, "\n")
	testLines := 0
	for _, line := range lines {
		for _, marker := range testMarkers {
			if strings.Contains(line, marker) {
				testLines++
				break
			}
		}
	}
	if testLines == 0 {
		return 0.0
	}
	ratio := float64(testLines) / (float64(len(lines)) * 0.3)
	if ratio > 1.0 {
		ratio = 1.0
	}
	return ratio
}

func scoreSecurity(code string) float64 {
	lower := strings.ToLower(code)
	issues := 0
	for _, marker := range securityMarkers {
		if strings.Contains(lower, marker) {
			issues++
		}
	}
	return clamp(1.0 - 0.1*float64(issues))
}

func scorePerformance(code string) float64 {
	issues := 0
	for _, re := range performanceAntipatterns {
		if re.MatchString(code) {
			issues++
		}
	}
	return clamp(1.0 - 0.05*float64(issues))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

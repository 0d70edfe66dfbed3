package models

import "testing"

func TestAgentKind_Valid(t *testing.T) {
	tests := []struct {
		name string
		kind AgentKind
		want bool
	}{
		{"claude_code is valid", AgentClaudeCode, true},
		{"claude_api is valid", AgentClaudeAPI, true},
		{"github_copilot is valid", AgentGitHubCopilot, true},
		{"cursor is valid", AgentCursor, true},
		{"empty is invalid", AgentKind(""), false},
		{"unknown is invalid", AgentKind("codex"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.Valid(); got != tt.want {
				t.Errorf("AgentKind(%q).Valid() = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestQualityScore_Acceptable(t *testing.T) {
	tests := []struct {
		name      string
		overall   float64
		threshold float64
		want      bool
	}{
		{"above threshold", 0.90, 0.85, true},
		{"exactly at threshold", 0.85, 0.85, true},
		{"below threshold", 0.84, 0.85, false},
		{"zero score", 0.0, 0.85, false},
		{"zero threshold accepts anything", 0.0, 0.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := QualityScore{Overall: tt.overall}
			if got := score.Acceptable(tt.threshold); got != tt.want {
				t.Errorf("Acceptable(%v) with overall %v = %v, want %v",
					tt.threshold, tt.overall, got, tt.want)
			}
		})
	}
}

func TestExecutionResult_MadeChanges(t *testing.T) {
	r := &ExecutionResult{TaskID: "t1", Success: true}
	if r.MadeChanges() {
		t.Error("result with no modified files should report no changes")
	}

	r.FilesModified = []string{"main.go"}
	if !r.MadeChanges() {
		t.Error("result with modified files should report changes")
	}
}

package agent

import (
	"fmt"
	"strings"

	"github.com/nocturnd/nocturnd/pkg/models"
)

// buildPrompt renders a task into the instruction text handed to an agent.
// All adapters share this format so fallback between agents does not change
// what the task asks for.
func buildPrompt(task *models.Task) string {
	var b strings.Builder

	b.WriteString("Complete the following coding task.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", task.Description)

	if len(task.Requirements) > 0 {
		b.WriteString("\nRequirements:\n")
		for _, req := range task.Requirements {
			fmt.Fprintf(&b, "- %s\n", req)
		}
	}

	if len(task.Constraints) > 0 {
		b.WriteString("\nConstraints:\n")
		for _, c := range task.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	b.WriteString("\nMake the smallest change that satisfies the task. ")
	b.WriteString("Run existing tests if present and keep them passing.")

	return b.String()
}

// ImprovementTask derives a follow-up task that asks the agent to fix
// specific quality issues in its previous attempt. The derived task keeps
// the original's identity and limits so quotas attribute to one task.
func ImprovementTask(task *models.Task, issues []string) *models.Task {
	derived := *task

	var b strings.Builder
	fmt.Fprintf(&b, "Your previous attempt at this task needs improvement.\n\n")
	fmt.Fprintf(&b, "Original task: %s\n", task.Description)
	if len(issues) > 0 {
		b.WriteString("\nIssues to address:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	b.WriteString("\nFix these issues without regressing what already works.")

	derived.Description = b.String()
	return &derived
}

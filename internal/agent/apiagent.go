package agent

import (
	"context"
	"time"

	"github.com/nocturnd/nocturnd/internal/api"
	"github.com/nocturnd/nocturnd/pkg/models"
)

const apiSystemPrompt = `You are an autonomous coding agent working unattended overnight.
Produce complete, working code for the task. Output only code and the
minimal explanation needed to apply it.`

// APIAdapter executes tasks through the Anthropic API directly instead of a
// local CLI tool. It serves as a fallback when no CLI agent is installed.
type APIAdapter struct {
	client  *api.Client
	timeout time.Duration
}

// NewAPIAdapter creates an API-backed agent adapter.
func NewAPIAdapter(client *api.Client, timeout time.Duration) *APIAdapter {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &APIAdapter{client: client, timeout: timeout}
}

// Kind identifies the agent backend.
func (a *APIAdapter) Kind() models.AgentKind {
	return models.AgentClaudeAPI
}

// Available reports whether the adapter has a usable client.
func (a *APIAdapter) Available(ctx context.Context) bool {
	return a.client != nil
}

// ExecuteTask generates code for the task with a single API conversation.
// Unlike the CLI adapters the output is not applied to the working tree;
// the generated code is returned for the caller to review or apply.
func (a *APIAdapter) ExecuteTask(ctx context.Context, task *models.Task) (*models.ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	costBefore := a.client.Tracker().Cost()
	start := time.Now()

	text, err := a.client.Complete(ctx, apiSystemPrompt, buildPrompt(task))
	if err != nil {
		return nil, err
	}

	result := models.NewExecutionResult(task.ID, models.AgentClaudeAPI)
	result.Duration = time.Since(start)
	result.GeneratedCode = text
	result.Success = text != ""
	result.CostIncurred = a.client.Tracker().Cost() - costBefore
	if !result.Success {
		result.Errors = append(result.Errors, "api returned an empty response")
	}
	return result, nil
}

var _ CodingAgent = (*APIAdapter)(nil)

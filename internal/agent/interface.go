// Package agent provides coding-agent adapters and fallback management.
// Each adapter wraps one AI coding tool behind a common interface so the
// runner can execute a task with whichever agent is available.
package agent

import (
	"context"
	"errors"

	"github.com/nocturnd/nocturnd/pkg/models"
)

// CodingAgent defines the interface every agent adapter implements.
type CodingAgent interface {
	// Kind identifies the agent backend.
	Kind() models.AgentKind
	// Available reports whether the agent can be used right now.
	// It must be cheap enough to call before every task.
	Available(ctx context.Context) bool
	// ExecuteTask runs one task to completion. A task the agent ran but
	// could not complete is a result with Success=false, not an error;
	// errors are reserved for the agent itself being unusable.
	ExecuteTask(ctx context.Context, task *models.Task) (*models.ExecutionResult, error)
}

// ErrAllAgentsExhausted is returned when no registered agent could even be
// attempted for a task.
var ErrAllAgentsExhausted = errors.New("all agents exhausted")

package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/nocturnd/nocturnd/pkg/models"
)

// Manager holds the registered agents and runs tasks with automatic
// fallback. Agents are tried in registration order, preferred agent first;
// an agent that errors or produces a failed result is skipped and the next
// one gets the task.
type Manager struct {
	mu        sync.RWMutex
	agents    map[models.AgentKind]CodingAgent
	order     []models.AgentKind
	preferred models.AgentKind
	fallback  bool
}

// NewManager creates an empty agent manager. Fallback between agents is
// enabled unless disabled with SetFallback.
func NewManager() *Manager {
	return &Manager{
		agents:   make(map[models.AgentKind]CodingAgent),
		fallback: true,
	}
}

// Register adds an agent. Registering the same kind twice replaces the
// earlier adapter but keeps its position in the fallback order.
func (m *Manager) Register(agent CodingAgent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind := agent.Kind()
	if _, exists := m.agents[kind]; !exists {
		m.order = append(m.order, kind)
	}
	m.agents[kind] = agent
	log.Printf("[agent] registered %s (%d total)", kind, len(m.order))
}

// SetPreferred sets the agent tried first. An unregistered kind is ignored
// at execution time.
func (m *Manager) SetPreferred(kind models.AgentKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferred = kind
}

// SetFallback enables or disables trying other agents after the first fails.
func (m *Manager) SetFallback(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = enabled
}

// Get returns the registered agent of the given kind.
func (m *Manager) Get(kind models.AgentKind) (CodingAgent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[kind]
	return a, ok
}

// Kinds returns the registered agent kinds in fallback order.
func (m *Manager) Kinds() []models.AgentKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AgentKind, len(m.order))
	copy(out, m.order)
	return out
}

// candidates returns the agents in the order they should be tried.
func (m *Manager) candidates() []CodingAgent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CodingAgent
	if a, ok := m.agents[m.preferred]; ok {
		out = append(out, a)
	}
	for _, kind := range m.order {
		if kind == m.preferred {
			continue
		}
		out = append(out, m.agents[kind])
	}
	return out
}

// Execute runs the task with the first available agent, falling back to the
// next on failure. When every attempted agent fails, the last failed result
// is returned with the accumulated error trail; ErrAllAgentsExhausted is
// returned only when no agent could be attempted at all.
func (m *Manager) Execute(ctx context.Context, task *models.Task) (*models.ExecutionResult, error) {
	agents := m.candidates()
	if len(agents) == 0 {
		return nil, fmt.Errorf("no agents registered: %w", ErrAllAgentsExhausted)
	}

	// A task without a pinned working directory runs in a throwaway
	// scratch dir so agent output never lands in the daemon's cwd. The
	// dir is removed when the execution ends, fallback attempts included.
	if task.WorkingDir == "" {
		scratch, err := os.MkdirTemp("", "nocturnd-task-")
		if err != nil {
			return nil, fmt.Errorf("creating scratch dir: %w", err)
		}
		defer os.RemoveAll(scratch)
		scoped := *task
		scoped.WorkingDir = scratch
		task = &scoped
	}

	var trail []string
	var last *models.ExecutionResult

	for _, a := range agents {
		kind := a.Kind()
		if !a.Available(ctx) {
			trail = append(trail, fmt.Sprintf("%s: not available", kind))
			continue
		}

		log.Printf("[agent] executing task %s with %s", task.ID, kind)
		res, err := a.ExecuteTask(ctx, task)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			trail = append(trail, fmt.Sprintf("%s: %v", kind, err))
			if !m.fallbackEnabled() {
				break
			}
			continue
		}
		if res.Success {
			res.Errors = append(trail, res.Errors...)
			return res, nil
		}

		trail = append(trail, res.Errors...)
		last = res
		if !m.fallbackEnabled() {
			break
		}
		log.Printf("[agent] %s failed task %s, trying next agent", kind, task.ID)
	}

	if last == nil {
		return nil, fmt.Errorf("no agent available for task %s: %w", task.ID, ErrAllAgentsExhausted)
	}

	// Every attempted agent failed. Hand back a failed result so the caller
	// can record it rather than treat it as an infrastructure error.
	last.Errors = trail
	return last, nil
}

// ExecuteWith runs the task with one specific agent, without fallback.
func (m *Manager) ExecuteWith(ctx context.Context, kind models.AgentKind, task *models.Task) (*models.ExecutionResult, error) {
	a, ok := m.Get(kind)
	if !ok {
		return nil, fmt.Errorf("agent %s is not registered", kind)
	}
	if !a.Available(ctx) {
		return nil, fmt.Errorf("agent %s is not available", kind)
	}
	return a.ExecuteTask(ctx, task)
}

func (m *Manager) fallbackEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fallback
}

package safety

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nocturnd/nocturnd/internal/git"
)

// ErrRollbackFailed wraps a rollback that could not restore the tree.
var ErrRollbackFailed = errors.New("rollback failed")

// RollbackPoint is a named commit the project can be reset to.
type RollbackPoint struct {
	ID          string    `json:"id"`
	Commit      string    `json:"commit"`
	Branch      string    `json:"branch,omitempty"`
	Description string    `json:"description,omitempty"`
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// RollbackManager creates rollback points and restores the working tree to
// them with git hard resets.
type RollbackManager struct {
	git           git.Runner
	store         *Store
	retentionDays int
}

// NewRollbackManager creates a rollback manager.
func NewRollbackManager(gitRunner git.Runner, store *Store, retentionDays int) *RollbackManager {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &RollbackManager{git: gitRunner, store: store, retentionDays: retentionDays}
}

// CreatePoint snapshots the current HEAD as a rollback point. Uncommitted
// changes are committed first so the point captures them.
func (m *RollbackManager) CreatePoint(description, sessionID string) (*RollbackPoint, error) {
	changed, err := m.git.HasChanges()
	if err != nil {
		return nil, fmt.Errorf("create rollback point: %w", err)
	}
	if changed {
		if err := m.git.Add("-A"); err != nil {
			return nil, fmt.Errorf("stage changes: %w", err)
		}
		msg := "nocturnd checkpoint"
		if description != "" {
			msg = "nocturnd checkpoint: " + description
		}
		if err := m.git.Commit(msg); err != nil {
			return nil, fmt.Errorf("commit checkpoint: %w", err)
		}
	}

	commit, err := m.git.Head()
	if err != nil {
		return nil, fmt.Errorf("create rollback point: %w", err)
	}
	branch, err := m.git.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("create rollback point: %w", err)
	}

	p := &RollbackPoint{
		ID:          uuid.New().String(),
		Commit:      commit,
		Branch:      branch,
		Description: description,
		SessionID:   sessionID,
		CreatedAt:   time.Now(),
	}
	if err := m.store.SaveRollbackPoint(p); err != nil {
		return nil, err
	}

	log.Printf("[safety] rollback point %s at %.8s (%s)", p.ID, commit, description)
	return p, nil
}

// RollbackTo resets the working tree to the given point and verifies that
// HEAD landed on the recorded commit.
func (m *RollbackManager) RollbackTo(pointID, reason string) error {
	p, err := m.store.GetRollbackPoint(pointID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRollbackFailed, err)
	}
	return m.RollbackToCommit(p.Commit, reason)
}

// RollbackToCommit resets the working tree to a specific commit.
func (m *RollbackManager) RollbackToCommit(commit, reason string) error {
	log.Printf("[safety] rolling back to %.8s (%s)", commit, reason)

	if err := m.git.ResetHard(commit); err != nil {
		return fmt.Errorf("%w: %v", ErrRollbackFailed, err)
	}

	head, err := m.git.Head()
	if err != nil {
		return fmt.Errorf("%w: verify head: %v", ErrRollbackFailed, err)
	}
	if head != commit {
		return fmt.Errorf("%w: head is %.8s, want %.8s", ErrRollbackFailed, head, commit)
	}
	return nil
}

// Latest returns the most recent rollback point, if any.
func (m *RollbackManager) Latest() *RollbackPoint {
	points, err := m.store.ListRollbackPoints(1)
	if err != nil || len(points) == 0 {
		return nil
	}
	return points[0]
}

// List returns rollback points newest first.
func (m *RollbackManager) List(limit int) ([]*RollbackPoint, error) {
	return m.store.ListRollbackPoints(limit)
}

// Cleanup removes points past retention, keeping the newest of each
// session. Points of protectedSession are never removed.
func (m *RollbackManager) Cleanup(protectedSession string) (int, error) {
	points, err := m.store.ListRollbackPoints(1000)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -m.retentionDays)
	newestPerSession := make(map[string]bool)
	removed := 0
	for _, p := range points {
		if p.SessionID == protectedSession {
			continue
		}
		// ListRollbackPoints is newest first; the first point seen for a
		// session is its newest and is kept as that session's anchor.
		if !newestPerSession[p.SessionID] {
			newestPerSession[p.SessionID] = true
			continue
		}
		if p.CreatedAt.After(cutoff) {
			continue
		}
		if err := m.store.DeleteRollbackPoint(p.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[safety] pruned %d expired rollback points", removed)
	}
	return removed, nil
}

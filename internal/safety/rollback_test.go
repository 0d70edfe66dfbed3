package safety

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRollbackManager_CreatePoint_CommitsPendingChanges(t *testing.T) {
	project := newTestProject(t)
	gitRunner := newTestRepo(t, project)
	m := NewRollbackManager(gitRunner, newTestStore(t), 7)

	if err := os.WriteFile(filepath.Join(project, "new.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := m.CreatePoint("before task", "session-1")
	if err != nil {
		t.Fatalf("CreatePoint: %v", err)
	}
	if len(p.Commit) != 40 {
		t.Errorf("commit = %q, want full hash", p.Commit)
	}

	changed, err := gitRunner.HasChanges()
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("pending changes should be committed into the point")
	}
}

func TestRollbackManager_RollbackTo(t *testing.T) {
	project := newTestProject(t)
	gitRunner := newTestRepo(t, project)
	m := NewRollbackManager(gitRunner, newTestStore(t), 7)

	p, err := m.CreatePoint("clean state", "session-1")
	if err != nil {
		t.Fatal(err)
	}

	// Damage the tree with a committed change.
	if err := os.WriteFile(filepath.Join(project, "main.go"), []byte("broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreatePoint("broken state", "session-1"); err != nil {
		t.Fatal(err)
	}

	if err := m.RollbackTo(p.ID, "quality_degradation"); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(project, "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "package main\n" {
		t.Errorf("content after rollback = %q, want original", content)
	}
	head, _ := gitRunner.Head()
	if head != p.Commit {
		t.Errorf("HEAD = %s, want %s", head, p.Commit)
	}
}

func TestRollbackManager_RollbackToCommit_BadCommit(t *testing.T) {
	project := newTestProject(t)
	gitRunner := newTestRepo(t, project)
	m := NewRollbackManager(gitRunner, newTestStore(t), 7)

	err := m.RollbackToCommit("0000000000000000000000000000000000000000", "test")
	if !errors.Is(err, ErrRollbackFailed) {
		t.Errorf("expected ErrRollbackFailed, got %v", err)
	}
}

func TestRollbackManager_Cleanup(t *testing.T) {
	project := newTestProject(t)
	gitRunner := newTestRepo(t, project)
	store := newTestStore(t)
	m := NewRollbackManager(gitRunner, store, 7)

	head, err := gitRunner.Head()
	if err != nil {
		t.Fatal(err)
	}

	// Two expired points from an old session plus one current point.
	expired := time.Now().AddDate(0, 0, -30)
	for i, desc := range []string{"old newest", "old older"} {
		p := &RollbackPoint{
			ID:          uuid.New().String(),
			Commit:      head,
			Description: desc,
			SessionID:   "old-session",
			CreatedAt:   expired.Add(-time.Duration(i) * time.Hour),
		}
		if err := store.SaveRollbackPoint(p); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.CreatePoint("current", "current-session"); err != nil {
		t.Fatal(err)
	}

	removed, err := m.Cleanup("current-session")
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	// The old session keeps its newest point as an anchor.
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	points, _ := m.List(10)
	if len(points) != 2 {
		t.Errorf("remaining points = %d, want 2", len(points))
	}
	for _, p := range points {
		if p.Description == "old older" {
			t.Error("expired non-anchor point should be pruned")
		}
	}
}

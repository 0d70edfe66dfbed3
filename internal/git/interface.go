// Package git provides an interface for the git operations nocturnd
// consumes: reading the current reference, hard resets for rollback, and
// change inspection around agent runs.
package git

// Runner defines the interface for git operations.
// This abstraction allows mocking git in tests.
type Runner interface {
	// Head returns the commit hash of HEAD.
	Head() (string, error)
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// ResetHard restores the working tree to the given reference.
	// A non-zero git exit is returned as an error, never ignored.
	ResetHard(ref string) error
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// ChangedFiles returns files changed since the given reference.
	ChangedFiles(ref string) ([]string, error)
	// Add stages the specified paths for commit.
	Add(paths ...string) error
	// Commit creates a new commit with the given message.
	Commit(message string) error
	// IsRepository reports whether the directory is inside a git work tree.
	IsRepository() bool
}

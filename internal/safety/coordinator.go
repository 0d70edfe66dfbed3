package safety

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nocturnd/nocturnd/internal/config"
	"github.com/nocturnd/nocturnd/internal/git"
	"github.com/nocturnd/nocturnd/pkg/models"
)

// ErrUnsafeOperation marks a task blocked by the danger detector.
var ErrUnsafeOperation = errors.New("unsafe operation")

// CheckResult is the outcome of a pre- or post-task safety check.
type CheckResult struct {
	// Approved is false when the task must not run.
	Approved bool
	// Analysis is the danger scan behind the decision.
	Analysis Analysis
	// Reason explains a refusal in human terms.
	Reason string
}

// RecoveryResult describes how an emergency recovery ended.
type RecoveryResult struct {
	// Method is "rollback_point", "backup", or "escalation".
	Method string
	// Commit is the commit restored to, when applicable.
	Commit string
	// BackupID is the backup restored from, when applicable.
	BackupID string
	// Escalated is true when no automatic recovery path worked and a
	// human has to intervene.
	Escalated bool
}

// SessionSummary is the safety report produced when a session ends.
type SessionSummary struct {
	SessionID         string
	Duration          time.Duration
	ViolationsByLevel map[DangerLevel]int
	BlockedTasks      int
	BackupsCreated    int
	PointsCreated     int
	PrunedBackups     int
	PrunedPoints      int
}

// Coordinator runs the safety protocol around every task: a session-opening
// backup and rollback point, a danger scan before each task, a new rollback
// point after each change, and an escalating recovery ladder when the tree
// is left broken.
type Coordinator struct {
	projectPath string
	detector    *Detector
	backups     *BackupManager
	rollbacks   *RollbackManager
	store       *Store

	mu             sync.Mutex
	sessionID      string
	sessionStart   time.Time
	sessionBackup  *BackupInfo
	sessionPoint   *RollbackPoint
	blockedTasks   int
	backupsCreated int
	pointsCreated  int

	dangerCallbacks   []func(taskID string, a Analysis)
	backupCallbacks   []func(*BackupInfo)
	rollbackCallbacks []func(commit, reason string)
}

// NewCoordinator wires the detector, stores, and managers for one project.
func NewCoordinator(projectPath string, cfg config.SafetyConfig, gitRunner git.Runner) (*Coordinator, error) {
	detector, err := NewDetector(DangerLevel(cfg.BlockLevel), cfg.DisabledCategories)
	if err != nil {
		return nil, err
	}
	if cfg.CustomPatternsFile != "" {
		if err := detector.LoadCustomPatterns(cfg.CustomPatternsFile); err != nil {
			return nil, err
		}
	}

	storePath := cfg.StorePath
	if storePath == "" {
		storePath = DefaultStorePath(projectPath)
	}
	store, err := OpenStore(storePath)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		projectPath: projectPath,
		detector:    detector,
		backups:     NewBackupManager(projectPath, store, gitRunner, cfg.BackupRetentionDays, cfg.MaxBackups),
		rollbacks:   NewRollbackManager(gitRunner, store, cfg.RollbackRetentionDays),
		store:       store,
	}, nil
}

// Detector exposes the danger detector for runtime pattern management.
func (c *Coordinator) Detector() *Detector {
	return c.detector
}

// Backups exposes the backup manager.
func (c *Coordinator) Backups() *BackupManager {
	return c.backups
}

// Rollbacks exposes the rollback manager.
func (c *Coordinator) Rollbacks() *RollbackManager {
	return c.rollbacks
}

// Close releases the underlying store.
func (c *Coordinator) Close() error {
	return c.store.Close()
}

// InitializeSession opens a safety session: one pre-execution backup,
// verified before the session relies on it, and one rollback point
// anchoring the session's starting state.
func (c *Coordinator) InitializeSession() error {
	sessionID := uuid.New().String()

	c.mu.Lock()
	c.sessionID = sessionID
	c.sessionStart = time.Now()
	c.sessionBackup = nil
	c.sessionPoint = nil
	c.blockedTasks = 0
	c.backupsCreated = 0
	c.pointsCreated = 0
	c.mu.Unlock()

	backup, err := c.backups.CreatePreExecutionBackup(sessionID)
	if err != nil {
		return fmt.Errorf("initialize safety session: %w", err)
	}
	if err := c.backups.Verify(backup); err != nil {
		return fmt.Errorf("initialize safety session: session backup failed verification: %w", err)
	}

	point, err := c.rollbacks.CreatePoint("session start", sessionID)
	if err != nil {
		return fmt.Errorf("initialize safety session: %w", err)
	}

	c.mu.Lock()
	c.sessionBackup = backup
	c.sessionPoint = point
	c.backupsCreated++
	c.pointsCreated++
	c.mu.Unlock()

	c.notifyBackup(backup)
	log.Printf("[safety] session %s initialized", sessionID)
	return nil
}

// SessionID returns the active session's identifier.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// PreTaskCheck scans a task before execution. A blocked task returns
// ErrUnsafeOperation; a dangerous-but-allowed task is recorded and passes.
func (c *Coordinator) PreTaskCheck(task *models.Task, plannedCode string) (*CheckResult, error) {
	text := task.Description
	if plannedCode != "" {
		text += "\n" + plannedCode
	}
	analysis := c.detector.Analyze(text)

	result := &CheckResult{
		Approved: !analysis.Blocked,
		Analysis: analysis,
	}

	if analysis.Dangerous {
		c.recordViolation(task.ID, analysis)
	}
	if analysis.Blocked {
		c.mu.Lock()
		c.blockedTasks++
		c.mu.Unlock()
		result.Reason = analysis.Risk
		return result, fmt.Errorf("task %s: %w: %s", task.ID, ErrUnsafeOperation, analysis.Risk)
	}
	return result, nil
}

// PostTaskCheck runs after a task finishes. A task that changed files gets
// a fresh rollback point; its generated code is scanned and any match is
// recorded without blocking, since the change already exists on disk.
func (c *Coordinator) PostTaskCheck(task *models.Task, result *models.ExecutionResult) (*RollbackPoint, error) {
	if result.GeneratedCode != "" {
		if analysis := c.detector.Analyze(result.GeneratedCode); analysis.Dangerous {
			c.recordViolation(task.ID, analysis)
		}
	}

	if !result.MadeChanges() {
		return nil, nil
	}

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	point, err := c.rollbacks.CreatePoint(fmt.Sprintf("after task %.8s", task.ID), sessionID)
	if err != nil {
		return nil, fmt.Errorf("post-task check: %w", err)
	}

	c.mu.Lock()
	c.pointsCreated++
	c.mu.Unlock()
	return point, nil
}

// EmergencyRecovery restores the project after a failure, escalating
// through the ladder: newest rollback point, then newest backup, then
// human escalation.
func (c *Coordinator) EmergencyRecovery(reason string) (*RecoveryResult, error) {
	log.Printf("[safety] emergency recovery: %s", reason)

	var failures []string

	if point := c.rollbacks.Latest(); point != nil {
		if err := c.rollbacks.RollbackToCommit(point.Commit, reason); err == nil {
			c.notifyRollback(point.Commit, reason)
			return &RecoveryResult{Method: "rollback_point", Commit: point.Commit}, nil
		} else {
			failures = append(failures, fmt.Sprintf("rollback point: %v", err))
		}
	} else {
		failures = append(failures, "rollback point: none recorded")
	}

	if backup := c.backups.LatestVerified(); backup != nil {
		if err := c.backups.Restore(backup); err == nil {
			c.notifyRollback(backup.GitCommit, reason)
			return &RecoveryResult{Method: "backup", BackupID: backup.ID, Commit: backup.GitCommit}, nil
		} else {
			failures = append(failures, fmt.Sprintf("backup restore: %v", err))
		}
	} else {
		failures = append(failures, "backup restore: no verified backup")
	}

	log.Printf("[safety] recovery exhausted, escalating to operator")
	return &RecoveryResult{Method: "escalation", Escalated: true},
		fmt.Errorf("emergency recovery escalated: %s", strings.Join(failures, "; "))
}

// FinalizeSession closes the session: prunes expired artifacts (the ending
// session's own stay protected), reports what happened, and marks the
// session inactive so later checks cannot attribute to it.
func (c *Coordinator) FinalizeSession() (*SessionSummary, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	start := c.sessionStart
	blocked := c.blockedTasks
	backupsCreated := c.backupsCreated
	pointsCreated := c.pointsCreated
	c.sessionID = ""
	c.sessionStart = time.Time{}
	c.sessionBackup = nil
	c.sessionPoint = nil
	c.blockedTasks = 0
	c.backupsCreated = 0
	c.pointsCreated = 0
	c.mu.Unlock()

	if sessionID == "" {
		return nil, fmt.Errorf("no active safety session")
	}

	byLevel, err := c.store.CountViolationsByLevel(sessionID)
	if err != nil {
		return nil, err
	}

	prunedBackups, err := c.backups.Cleanup(sessionID)
	if err != nil {
		return nil, err
	}
	prunedPoints, err := c.rollbacks.Cleanup(sessionID)
	if err != nil {
		return nil, err
	}

	summary := &SessionSummary{
		SessionID:         sessionID,
		Duration:          time.Since(start),
		ViolationsByLevel: byLevel,
		BlockedTasks:      blocked,
		BackupsCreated:    backupsCreated,
		PointsCreated:     pointsCreated,
		PrunedBackups:     prunedBackups,
		PrunedPoints:      prunedPoints,
	}
	log.Printf("[safety] session %s finalized: %d blocked tasks, %d rollback points",
		sessionID, blocked, pointsCreated)
	return summary, nil
}

// AddDangerCallback registers a best-effort observer for danger detections.
func (c *Coordinator) AddDangerCallback(fn func(taskID string, a Analysis)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dangerCallbacks = append(c.dangerCallbacks, fn)
}

// AddBackupCallback registers a best-effort observer for created backups.
func (c *Coordinator) AddBackupCallback(fn func(*BackupInfo)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backupCallbacks = append(c.backupCallbacks, fn)
}

// AddRollbackCallback registers a best-effort observer for rollbacks.
func (c *Coordinator) AddRollbackCallback(fn func(commit, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbackCallbacks = append(c.rollbackCallbacks, fn)
}

func (c *Coordinator) recordViolation(taskID string, a Analysis) {
	names := make([]string, len(a.Matches))
	for i, m := range a.Matches {
		names[i] = m.Name
	}

	c.mu.Lock()
	sessionID := c.sessionID
	callbacks := make([]func(string, Analysis), len(c.dangerCallbacks))
	copy(callbacks, c.dangerCallbacks)
	c.mu.Unlock()

	if err := c.store.SaveViolation(taskID, sessionID, names, a.Level, a.Blocked); err != nil {
		log.Printf("[safety] record violation: %v", err)
	}
	for _, fn := range callbacks {
		fn(taskID, a)
	}
}

func (c *Coordinator) notifyBackup(b *BackupInfo) {
	c.mu.Lock()
	callbacks := make([]func(*BackupInfo), len(c.backupCallbacks))
	copy(callbacks, c.backupCallbacks)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(b)
	}
}

func (c *Coordinator) notifyRollback(commit, reason string) {
	c.mu.Lock()
	callbacks := make([]func(string, string), len(c.rollbackCallbacks))
	copy(callbacks, c.rollbackCallbacks)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(commit, reason)
	}
}

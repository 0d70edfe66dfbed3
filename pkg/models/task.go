// Package models defines the shared data types for nocturnd.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskPriority represents the urgency of a task.
type TaskPriority string

const (
	// PriorityLow indicates the task can wait indefinitely.
	PriorityLow TaskPriority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium TaskPriority = "medium"
	// PriorityHigh indicates the task should run ahead of normal work.
	PriorityHigh TaskPriority = "high"
	// PriorityUrgent indicates the task should run as soon as a slot opens.
	PriorityUrgent TaskPriority = "urgent"
)

// Valid returns true if the priority is a known value.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Rank returns a numeric rank for ordering; higher runs first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// StatusPending indicates the task has not started.
	StatusPending TaskStatus = "pending"
	// StatusInProgress indicates the task is executing.
	StatusInProgress TaskStatus = "in_progress"
	// StatusCompleted indicates the task finished successfully.
	StatusCompleted TaskStatus = "completed"
	// StatusFailed indicates the task finished unsuccessfully.
	StatusFailed TaskStatus = "failed"
	// StatusCancelled indicates the task was cancelled before completion.
	StatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task represents one development task handed to a coding agent.
// The task is owned by the caller and mutated only by the component
// currently executing it.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Description is the natural-language statement of the work.
	Description string `json:"description"`
	// Requirements are ordered statements the result must satisfy.
	Requirements []string `json:"requirements,omitempty"`
	// Constraints are ordered statements the result must not violate.
	Constraints []string `json:"constraints,omitempty"`
	// Priority orders the task relative to others.
	Priority TaskPriority `json:"priority"`
	// MinQuality is the minimum acceptable overall quality score (0.0-1.0).
	MinQuality float64 `json:"min_quality"`
	// ConsistencyThreshold is the minimum acceptable consistency score (0.0-1.0).
	ConsistencyThreshold float64 `json:"consistency_threshold"`
	// WorkingDir is the directory the agent operates in.
	WorkingDir string `json:"working_dir,omitempty"`
	// EstimatedDuration is the caller's estimate, used for window admission.
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	// Status is the lifecycle state of the task.
	Status TaskStatus `json:"status"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a pending task with defaults matching the nightly runner.
func NewTask(description string) *Task {
	return &Task{
		ID:                   uuid.New().String(),
		Description:          description,
		Priority:             PriorityMedium,
		MinQuality:           0.85,
		ConsistencyThreshold: 0.85,
		Status:               StatusPending,
		CreatedAt:            time.Now(),
	}
}

// Start marks the task as in progress and records the start time.
func (t *Task) Start() {
	now := time.Now()
	t.Status = StatusInProgress
	t.StartedAt = &now
}

// Complete marks the task completed or failed and records the end time.
func (t *Task) Complete(success bool) {
	now := time.Now()
	if success {
		t.Status = StatusCompleted
	} else {
		t.Status = StatusFailed
	}
	t.CompletedAt = &now
}

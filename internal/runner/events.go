package runner

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType represents the type of runner event.
type EventType string

const (
	// EventTaskQueued indicates a task was added to the queue.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskBlocked indicates a task was refused by the window or safety layer.
	EventTaskBlocked EventType = "task_blocked"
	// EventWindowChanged indicates the execution window changed state.
	EventWindowChanged EventType = "window_changed"
	// EventSafetyViolation indicates a danger pattern matched.
	EventSafetyViolation EventType = "safety_violation"
	// EventRollback indicates the working tree was rolled back.
	EventRollback EventType = "rollback"
	// EventSessionDone indicates the nightly session finished.
	EventSessionDone EventType = "session_done"
)

// Event is one occurrence in the nightly session, consumed by the CLI.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Quality is the overall score for completion events.
	Quality float64
	// Duration is the elapsed time for completion events.
	Duration time.Duration
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Emitter fans session events out to one consumer over a buffered channel.
// A full channel drops events rather than stalling the control loop.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Emitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event, waiting briefly for the consumer before dropping.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[runner] event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Emit must not be called afterwards.
func (e *Emitter) Close() {
	close(e.events)
}

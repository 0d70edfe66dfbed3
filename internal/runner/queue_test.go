package runner

import (
	"testing"

	"github.com/nocturnd/nocturnd/pkg/models"
)

func taskWithPriority(desc string, p models.TaskPriority) *models.Task {
	t := models.NewTask(desc)
	t.Priority = p
	return t
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q := NewQueue()
	q.Add(taskWithPriority("low", models.PriorityLow))
	q.Add(taskWithPriority("urgent", models.PriorityUrgent))
	q.Add(taskWithPriority("medium", models.PriorityMedium))
	q.Add(taskWithPriority("high", models.PriorityHigh))

	want := []string{"urgent", "high", "medium", "low"}
	for _, desc := range want {
		task, ok := q.Next()
		if !ok {
			t.Fatalf("queue exhausted before %q", desc)
		}
		if task.Description != desc {
			t.Errorf("popped %q, want %q", task.Description, desc)
		}
	}
	if _, ok := q.Next(); ok {
		t.Error("queue should be empty")
	}
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := NewQueue()
	for _, desc := range []string{"first", "second", "third"} {
		q.Add(taskWithPriority(desc, models.PriorityMedium))
	}

	for _, want := range []string{"first", "second", "third"} {
		task, _ := q.Next()
		if task.Description != want {
			t.Errorf("popped %q, want %q", task.Description, want)
		}
	}
}

func TestQueue_RequeueGoesBehindSamePriority(t *testing.T) {
	q := NewQueue()
	q.Add(taskWithPriority("stuck", models.PriorityMedium))
	q.Add(taskWithPriority("runnable", models.PriorityMedium))

	stuck, _ := q.Next()
	q.Add(stuck)

	next, _ := q.Next()
	if next.Description != "runnable" {
		t.Errorf("popped %q, requeued task should not starve the rest", next.Description)
	}
}

func TestQueue_Snapshot(t *testing.T) {
	q := NewQueue()
	q.Add(taskWithPriority("b", models.PriorityMedium))
	q.Add(taskWithPriority("a", models.PriorityHigh))

	snap := q.Snapshot()
	if len(snap) != 2 || snap[0].Description != "a" || snap[1].Description != "b" {
		t.Errorf("snapshot = %v, want pop order [a b]", snap)
	}
	if q.Len() != 2 {
		t.Errorf("snapshot should not drain the queue, len = %d", q.Len())
	}
}

func TestQueue_Empty(t *testing.T) {
	q := NewQueue()
	if q.Len() != 0 {
		t.Errorf("len = %d, want 0", q.Len())
	}
	if _, ok := q.Next(); ok {
		t.Error("Next on empty queue should report false")
	}
	if snap := q.Snapshot(); len(snap) != 0 {
		t.Errorf("snapshot = %v, want empty", snap)
	}
}

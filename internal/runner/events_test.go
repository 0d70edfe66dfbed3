package runner

import (
	"testing"
	"time"
)

func TestEmitter_EmitAndReceive(t *testing.T) {
	e := NewEmitter(4)
	e.Emit(Event{Type: EventTaskQueued, TaskID: "t1"})

	select {
	case ev := <-e.Events():
		if ev.Type != EventTaskQueued || ev.TaskID != "t1" {
			t.Errorf("received %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp should be stamped on emit")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	e := NewEmitter(1)
	e.Emit(Event{Type: EventTaskQueued})
	e.Emit(Event{Type: EventTaskStarted})
	e.Emit(Event{Type: EventTaskCompleted})

	if got := e.DroppedCount(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}

func TestEmitter_CloseEndsStream(t *testing.T) {
	e := NewEmitter(1)
	e.Close()
	if _, ok := <-e.Events(); ok {
		t.Error("closed emitter should yield a closed channel")
	}
}

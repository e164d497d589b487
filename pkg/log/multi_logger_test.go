package log

import (
	"sync"
	"testing"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(Event{SessionID: "one"})
	m.Log(Event{SessionID: "two"})

	for i, r := range []*recordingLogger{a, b} {
		if len(r.events) != 2 {
			t.Fatalf("logger %d got %d events, want 2", i, len(r.events))
		}
		if r.events[1].SessionID != "two" {
			t.Errorf("logger %d second event = %q", i, r.events[1].SessionID)
		}
	}
}

func TestMultiLoggerEmpty(t *testing.T) {
	NewMultiLogger().Log(Event{})
	NewMultiLogger(nil, nil).Log(Event{})
}

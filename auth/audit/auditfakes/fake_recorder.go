// Package auditfakes provides an in-memory audit Recorder for tests.
package auditfakes

import (
	"sync"

	"github.com/healthguide/go-health-api/auth/audit"
)

// FakeRecorder captures audit events in memory, preserving emission order.
type FakeRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

// NewFakeRecorder creates an empty FakeRecorder.
func NewFakeRecorder() *FakeRecorder {
	return &FakeRecorder{}
}

// Record appends the event.
func (f *FakeRecorder) Record(event audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

// Events returns a copy of all recorded events in order.
func (f *FakeRecorder) Events() []audit.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]audit.Event, len(f.events))
	copy(out, f.events)
	return out
}

// ByType returns the recorded events of the given type, in order.
func (f *FakeRecorder) ByType(t audit.EventType) []audit.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []audit.Event
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards all recorded events.
func (f *FakeRecorder) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

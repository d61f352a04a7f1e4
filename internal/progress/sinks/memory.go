package sinks

import (
	"context"
	"sync"

	"github.com/Rosersn/rose-vanblog/internal/progress"
)

// MemorySink retains the most recent events in a bounded ring so the admin
// API can serve a revalidation activity feed.
type MemorySink struct {
	mu     sync.Mutex
	events []progress.Event
	max    int
}

// NewMemorySink constructs a sink keeping at most max events (default 256).
func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 256
	}
	return &MemorySink{max: max}
}

// Consume appends the event, evicting the oldest past capacity.
func (s *MemorySink) Consume(_ context.Context, evt progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *MemorySink) Close(context.Context) error {
	return nil
}

// Snapshot returns the retained events, newest last.
func (s *MemorySink) Snapshot() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.Event, len(s.events))
	copy(out, s.events)
	return out
}

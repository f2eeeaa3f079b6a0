package sinks

import (
	"context"
	"sync"

	"github.com/mirrornet/pagepool/internal/progress"
)

const defaultRingCapacity = 200

// RingSink keeps the most recent events in memory so the admin API can show
// a generation history without a durable event store.
type RingSink struct {
	mu       sync.Mutex
	capacity int
	events   []progress.Event
}

// NewRingSink creates a RingSink holding up to capacity events.
func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &RingSink{capacity: capacity}
}

// Consume appends the batch, evicting the oldest events past capacity.
func (s *RingSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	if excess := len(s.events) - s.capacity; excess > 0 {
		s.events = append([]progress.Event(nil), s.events[excess:]...)
	}
	return nil
}

// Recent returns the stored events, newest last.
func (s *RingSink) Recent() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Event(nil), s.events...)
}

// Close implements the Sink interface; it performs no action.
func (s *RingSink) Close(context.Context) error {
	return nil
}

package main

import (
	"sync"

	"gitea.girino.org/girino/tracker-relay/tracker"
)

// seenFilter remembers the ids of the last few forwarded events.
type seenFilter struct {
	mu sync.Mutex
	t  *tracker.Tracker
}

func newSeenFilter(limit int) (*seenFilter, error) {
	t, err := tracker.New(limit)
	if err != nil {
		return nil, err
	}
	return &seenFilter{t: t}, nil
}

// Seen reports whether id was seen recently, and remembers it if not.
// Events without an id count as seen so they are never forwarded.
func (s *seenFilter) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t.Contains(id) {
		return true
	}
	return s.t.Add(tracker.Message{ID: id}) != nil
}

func (s *seenFilter) Stats() tracker.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Stats()
}

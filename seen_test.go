package main

import (
	"fmt"
	"testing"
)

func TestSeenFilter(t *testing.T) {
	s, err := newSeenFilter(2)
	if err != nil {
		t.Fatalf("newSeenFilter: %v", err)
	}
	if s.Seen("a") {
		t.Error("first Seen(a): got true")
	}
	if !s.Seen("a") {
		t.Error("second Seen(a): got false")
	}
	s.Seen("b")
	s.Seen("c") // pushes a out

	if s.Seen("a") {
		t.Error("Seen(a) after it fell out of the window: got true")
	}
	if !s.Seen("") {
		t.Error("Seen of empty id: got false")
	}

	st := s.Stats()
	if st.Len != 2 || st.Evicted != 2 || st.Rejected != 1 {
		t.Errorf("stats: got %+v", st)
	}
}

func TestSeenFilter_InvalidLimit(t *testing.T) {
	if _, err := newSeenFilter(0); err == nil {
		t.Fatal("expected error for zero limit")
	}
}

func TestSeenFilter_Concurrent(t *testing.T) {
	s, _ := newSeenFilter(16)
	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				s.Seen(fmt.Sprintf("%d-%d", g, i))
			}
		}(g)
	}
	for g := 0; g < 4; g++ {
		<-done
	}
	if st := s.Stats(); st.Len != 16 || st.Added != 400 {
		t.Errorf("stats: got %+v", st)
	}
}

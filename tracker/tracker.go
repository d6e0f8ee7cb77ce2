// Package tracker keeps a fixed number of messages in first-in-first-out
// order and never stores the same message id twice.
//
// A message whose id is already tracked is ignored by Add: the stored copy
// keeps its payload and its place in line. When an Add pushes the tracker
// past its capacity the oldest message is evicted.
//
// Messages are held in a linked list and indexed by id through the list
// elements, so Add, Get, Delete and eviction are all O(1). Messages is O(n).
//
// A Tracker is not safe for concurrent use. Callers that share one must
// guard it themselves.
package tracker

import "container/list"

// MessageTracker tracks a configurable fixed amount of messages.
type MessageTracker interface {
	// Add stores a message, evicting the oldest one if the tracker is full.
	Add(m Message) error
	// Delete removes and returns the message with the given id.
	Delete(id string) (Message, bool)
	// Get returns the message with the given id. It stays tracked.
	Get(id string) (Message, bool)
	// Messages returns all tracked messages, oldest first.
	Messages() []Message
}

var _ MessageTracker = (*Tracker)(nil)

// Option configures a Tracker.
type Option func(*Tracker)

// WithEvictHook registers fn to be called with every message dropped
// because the tracker was full. Deleted messages are not reported.
func WithEvictHook(fn func(Message)) Option {
	return func(t *Tracker) {
		t.onEvict = fn
	}
}

// Tracker is a capacity-bounded FIFO of messages with an id index.
type Tracker struct {
	capacity int
	order    *list.List // of Message, front is oldest
	index    map[string]*list.Element

	onEvict func(Message)
	stats   counters
}

// New returns an empty tracker holding at most capacity messages.
func New(capacity int, opts ...Option) (*Tracker, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	t := &Tracker{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Add appends m to the tracker. A message with an id that is already
// tracked is dropped and nil is returned.
func (t *Tracker) Add(m Message) error {
	if m.ID == "" {
		t.stats.rejected++
		return ErrInvalidMessage
	}
	if _, ok := t.index[m.ID]; ok {
		t.stats.duplicates++
		return nil
	}

	t.index[m.ID] = t.order.PushBack(m.clone())
	t.stats.added++

	if t.order.Len() > t.capacity {
		evicted := t.remove(t.order.Front())
		t.stats.evicted++
		if t.onEvict != nil {
			t.onEvict(evicted.clone())
		}
	}
	return nil
}

// Delete removes the message with the given id and returns it.
func (t *Tracker) Delete(id string) (Message, bool) {
	e, ok := t.index[id]
	if !ok {
		return Message{}, false
	}
	t.stats.deleted++
	return t.remove(e), true
}

// Get returns a copy of the message with the given id.
func (t *Tracker) Get(id string) (Message, bool) {
	e, ok := t.index[id]
	if !ok {
		return Message{}, false
	}
	return e.Value.(Message).clone(), true
}

// Contains reports whether a message with the given id is tracked.
func (t *Tracker) Contains(id string) bool {
	_, ok := t.index[id]
	return ok
}

// Messages returns copies of all tracked messages in FIFO order.
func (t *Tracker) Messages() []Message {
	out := make([]Message, 0, t.order.Len())
	for e := t.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Message).clone())
	}
	return out
}

// Oldest returns the message that will be evicted next.
func (t *Tracker) Oldest() (Message, bool) {
	return peek(t.order.Front())
}

// Newest returns the most recently added message.
func (t *Tracker) Newest() (Message, bool) {
	return peek(t.order.Back())
}

// Len returns the number of tracked messages.
func (t *Tracker) Len() int {
	return t.order.Len()
}

// Cap returns the capacity the tracker was created with.
func (t *Tracker) Cap() int {
	return t.capacity
}

// remove unlinks e from both the list and the index.
func (t *Tracker) remove(e *list.Element) Message {
	m := t.order.Remove(e).(Message)
	delete(t.index, m.ID)
	return m
}

func peek(e *list.Element) (Message, bool) {
	if e == nil {
		return Message{}, false
	}
	return e.Value.(Message).clone(), true
}

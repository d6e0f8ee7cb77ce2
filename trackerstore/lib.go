// Package trackerstore is an eventstore backend that keeps only the most
// recent events. Events live in a tracker.Tracker, so the store never holds
// more than Capacity events and the oldest one is dropped to make room.
package trackerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/exp/slices"

	"gitea.girino.org/girino/tracker-relay/tracker"
)

var _ eventstore.Store = (*TrackerStore)(nil)

const (
	DefaultCapacity = 500
	DefaultMaxLimit = 500
)

type TrackerStore struct {
	Capacity int
	MaxLimit int

	mu      sync.RWMutex
	tracker *tracker.Tracker
	log     *slog.Logger

	// query timings, per path
	scanstats indexTimer
	idstats   indexTimer
}

func (b *TrackerStore) Init() error {
	if b.Capacity == 0 {
		b.Capacity = DefaultCapacity
	}
	if b.MaxLimit == 0 {
		b.MaxLimit = DefaultMaxLimit
	}
	b.log = slog.Default().With("component", "trackerstore")

	t, err := tracker.New(b.Capacity, tracker.WithEvictHook(func(m tracker.Message) {
		b.log.Debug("evicted event", "id", m.ID, "pubkey", m.PeerID)
	}))
	if err != nil {
		return fmt.Errorf("trackerstore: %w", err)
	}
	b.tracker = t
	return nil
}

func (b *TrackerStore) Close() {}

func (b *TrackerStore) SaveEvent(ctx context.Context, evt *nostr.Event) error {
	m, err := toMessage(evt)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tracker.Contains(evt.ID) {
		return eventstore.ErrDupEvent
	}
	if err := b.tracker.Add(m); err != nil {
		return fmt.Errorf("trackerstore: save %s: %w", evt.ID, err)
	}
	return nil
}

func (b *TrackerStore) DeleteEvent(ctx context.Context, evt *nostr.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// we may not have this event, which is fine
	b.tracker.Delete(evt.ID)
	return nil
}

func (b *TrackerStore) QueryEvents(ctx context.Context, filter nostr.Filter) (chan *nostr.Event, error) {
	ch := make(chan *nostr.Event)
	if filter.Limit > b.MaxLimit || filter.Limit == 0 {
		filter.Limit = b.MaxLimit
	}

	// if index can be used, use it
	if len(filter.IDs) == 1 {
		b.mu.RLock()
		m, ok := b.tracker.Get(filter.IDs[0])
		b.mu.RUnlock()

		go func() {
			defer close(ch)
			measureTime(&b.idstats, func() int {
				if !ok {
					return 0
				}
				evt, err := fromMessage(m)
				if err != nil {
					b.log.Warn("skipping undecodable event", "id", m.ID, "err", err)
					return 0
				}
				if !filter.Matches(evt) {
					return 0
				}
				select {
				case ch <- evt:
					return 1
				case <-ctx.Done():
					return 0
				}
			})
		}()
		return ch, nil
	}

	events := b.snapshot()
	go func() {
		// stats are recorded before the channel closes
		defer close(ch)
		measureTime(&b.scanstats, func() int {
			count := 0
			for _, evt := range events {
				if count == filter.Limit {
					break
				}
				if filter.Matches(evt) {
					select {
					case ch <- evt:
					case <-ctx.Done():
						return count
					}
					count++
				}
			}
			return count
		})
	}()
	return ch, nil
}

func (b *TrackerStore) CountEvents(ctx context.Context, filter nostr.Filter) (int64, error) {
	var val int64
	for _, evt := range b.snapshot() {
		if filter.Matches(evt) {
			val++
		}
	}
	return val, nil
}

// Len returns the number of stored events.
func (b *TrackerStore) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tracker.Len()
}

// Has reports whether an event with the given id is stored.
func (b *TrackerStore) Has(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tracker.Contains(id)
}

// snapshot decodes the stored events, newest first.
func (b *TrackerStore) snapshot() []*nostr.Event {
	b.mu.RLock()
	msgs := b.tracker.Messages()
	b.mu.RUnlock()

	events := make([]*nostr.Event, 0, len(msgs))
	for _, m := range msgs {
		evt, err := fromMessage(m)
		if err != nil {
			b.log.Warn("skipping undecodable event", "id", m.ID, "err", err)
			continue
		}
		events = append(events, evt)
	}
	slices.SortStableFunc(events, eventComparator)
	return events
}

func toMessage(evt *nostr.Event) (tracker.Message, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return tracker.Message{}, fmt.Errorf("trackerstore: encode %s: %w", evt.ID, err)
	}
	return tracker.Message{ID: evt.ID, PeerID: evt.PubKey, Data: data}, nil
}

func fromMessage(m tracker.Message) (*nostr.Event, error) {
	var evt nostr.Event
	if err := json.Unmarshal(m.Data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// eventComparator orders events newest first, ties broken by id.
func eventComparator(a *nostr.Event, b *nostr.Event) int {
	c := int(b.CreatedAt) - int(a.CreatedAt)
	if c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

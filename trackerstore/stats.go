package trackerstore

import (
	"sync"
	"time"

	"gitea.girino.org/girino/tracker-relay/tracker"
)

type IndexStats struct {
	Count     int
	Runcount  int
	Maxtime   time.Duration
	Mintime   time.Duration
	TotalTime time.Duration
}

// AverageTime is the mean time spent per returned event.
func (s IndexStats) AverageTime() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Count)
}

// AveragePerRun is the mean time spent per query.
func (s IndexStats) AveragePerRun() time.Duration {
	if s.Runcount == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Runcount)
}

// Stats is a snapshot of the store's counters.
type Stats struct {
	Tracker tracker.Stats
	Scan    IndexStats // queries answered by walking all events
	ByID    IndexStats // single-id queries answered from the index
}

type indexTimer struct {
	mu sync.Mutex
	s  IndexStats
}

func (t *indexTimer) get() IndexStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}

// Stats returns the current tracker counters and query timings.
func (b *TrackerStore) Stats() Stats {
	b.mu.RLock()
	ts := b.tracker.Stats()
	b.mu.RUnlock()
	return Stats{
		Tracker: ts,
		Scan:    b.scanstats.get(),
		ByID:    b.idstats.get(),
	}
}

// LogStats writes the current stats to the store's logger.
func (b *TrackerStore) LogStats() {
	s := b.Stats()
	b.log.Info("store stats",
		"len", s.Tracker.Len,
		"cap", s.Tracker.Cap,
		"added", s.Tracker.Added,
		"duplicates", s.Tracker.Duplicates,
		"evicted", s.Tracker.Evicted,
		"deleted", s.Tracker.Deleted,
	)
	logIndexStats(b, "scan", s.Scan)
	logIndexStats(b, "id", s.ByID)
}

func logIndexStats(b *TrackerStore, name string, s IndexStats) {
	b.log.Info("query stats",
		"index", name,
		"count", s.Count,
		"runcount", s.Runcount,
		"maxtime", s.Maxtime,
		"mintime", s.Mintime,
		"average", s.AverageTime(),
		"average_per_run", s.AveragePerRun(),
	)
}

// measureTime runs f, which returns how many events it produced, and
// records its running time in t.
func measureTime(t *indexTimer, f func() int) {
	start := time.Now()
	increment := f()
	elapsed := time.Since(start)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.TotalTime += elapsed
	t.s.Count += increment
	t.s.Runcount++
	if elapsed > t.s.Maxtime {
		t.s.Maxtime = elapsed
	}
	if t.s.Runcount == 1 || elapsed < t.s.Mintime {
		t.s.Mintime = elapsed
	}
}

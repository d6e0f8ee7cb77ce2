package tracker

// Stats is a point-in-time view of a tracker's counters.
type Stats struct {
	Len int
	Cap int

	Added      uint64 // messages stored
	Duplicates uint64 // messages ignored because their id was tracked
	Evicted    uint64 // messages dropped for capacity
	Deleted    uint64 // messages removed by Delete
	Rejected   uint64 // messages refused as invalid
}

type counters struct {
	added      uint64
	duplicates uint64
	evicted    uint64
	deleted    uint64
	rejected   uint64
}

// Stats returns the tracker's current counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Len:        t.order.Len(),
		Cap:        t.capacity,
		Added:      t.stats.added,
		Duplicates: t.stats.duplicates,
		Evicted:    t.stats.evicted,
		Deleted:    t.stats.deleted,
		Rejected:   t.stats.rejected,
	}
}

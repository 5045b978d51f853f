package pool

import "sync/atomic"

// Stats holds the §3 Pool.stats monotonic counters: safe for unsynchronized
// reads since every field is an atomic counter.
type Stats struct {
	Attempted atomic.Uint64
	Performed atomic.Uint64
	Dropped   atomic.Uint64
	FromSVG   atomic.Uint64
	FromOptions atomic.Uint64
	TimeSpentTotalMs atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats, safe to pass by value.
type StatsSnapshot struct {
	Attempted        uint64
	Performed        uint64
	Dropped          uint64
	FromSVG          uint64
	FromOptions      uint64
	TimeSpentTotalMs uint64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Attempted:        s.Attempted.Load(),
		Performed:        s.Performed.Load(),
		Dropped:          s.Dropped.Load(),
		FromSVG:          s.FromSVG.Load(),
		FromOptions:      s.FromOptions.Load(),
		TimeSpentTotalMs: s.TimeSpentTotalMs.Load(),
	}
}

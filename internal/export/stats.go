package export

import (
	"sync"
	"sync/atomic"
	"time"
)

// movingAverageWindow is the number of one-minute samples retained, giving
// the §6 GET /health "movingAverage" its 30-minute window.
const movingAverageWindow = 30

// Stats holds the orchestrator-level counters surfaced on GET /health:
// attemptedExports, performedExports, failedExports, averageExportTime, and
// the 30-minute moving average of the success ratio.
type Stats struct {
	Attempted atomic.Uint64
	Performed atomic.Uint64
	Failed    atomic.Uint64
	TimeSpentTotalMs atomic.Uint64

	mu     sync.Mutex
	window []float64
}

// NewStats constructs an empty Stats.
func NewStats() *Stats { return &Stats{} }

// RecordAttempt records an accepted export request.
func (s *Stats) RecordAttempt() { s.Attempted.Add(1) }

// RecordSuccess records a completed export and its duration.
func (s *Stats) RecordSuccess(d time.Duration) {
	s.Performed.Add(1)
	s.TimeSpentTotalMs.Add(uint64(d.Milliseconds()))
}

// RecordFailure records a failed export.
func (s *Stats) RecordFailure() { s.Failed.Add(1) }

// AverageExportTimeMs returns the mean duration, in milliseconds, of every
// export performed since process start.
func (s *Stats) AverageExportTimeMs() float64 {
	performed := s.Performed.Load()
	if performed == 0 {
		return 0
	}
	return float64(s.TimeSpentTotalMs.Load()) / float64(performed)
}

// SampleMovingAverage appends the current success ratio to the 30-sample
// window. Intended to be called once per minute by a TimerRegistry task, so
// the retained window spans 30 minutes.
func (s *Stats) SampleMovingAverage() {
	attempted := s.Attempted.Load()
	performed := s.Performed.Load()
	ratio := 1.0
	if attempted > 0 {
		ratio = float64(performed) / float64(attempted)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = append(s.window, ratio)
	if len(s.window) > movingAverageWindow {
		s.window = s.window[len(s.window)-movingAverageWindow:]
	}
}

// MovingAverage returns the mean of the retained success-ratio samples.
func (s *Stats) MovingAverage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) == 0 {
		return 1
	}
	var sum float64
	for _, v := range s.window {
		sum += v
	}
	return sum / float64(len(s.window))
}

// Snapshot is a point-in-time copy for /health serialization.
type Snapshot struct {
	Attempted         uint64
	Performed         uint64
	Failed            uint64
	AverageExportTime float64
	MovingAverage     float64
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Attempted:         s.Attempted.Load(),
		Performed:         s.Performed.Load(),
		Failed:            s.Failed.Load(),
		AverageExportTime: s.AverageExportTimeMs(),
		MovingAverage:     s.MovingAverage(),
	}
}

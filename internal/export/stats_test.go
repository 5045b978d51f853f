package export

import (
	"testing"
	"time"
)

func TestStats_AverageExportTime(t *testing.T) {
	s := NewStats()
	s.RecordSuccess(100 * time.Millisecond)
	s.RecordSuccess(300 * time.Millisecond)

	if got := s.AverageExportTimeMs(); got != 200 {
		t.Fatalf("expected average 200ms, got %v", got)
	}
}

func TestStats_MovingAverageDefaultsToOneWhenEmpty(t *testing.T) {
	s := NewStats()
	if got := s.MovingAverage(); got != 1 {
		t.Fatalf("expected a moving average of 1 with no samples, got %v", got)
	}
}

func TestStats_MovingAverageReflectsSuccessRatio(t *testing.T) {
	s := NewStats()
	s.RecordAttempt()
	s.RecordAttempt()
	s.RecordSuccess(time.Millisecond)
	s.SampleMovingAverage()

	if got := s.MovingAverage(); got != 0.5 {
		t.Fatalf("expected moving average 0.5 (1 performed of 2 attempted), got %v", got)
	}
}

func TestStats_MovingAverageWindowBounded(t *testing.T) {
	s := NewStats()
	for i := 0; i < movingAverageWindow+10; i++ {
		s.RecordAttempt()
		s.RecordSuccess(time.Millisecond)
		s.SampleMovingAverage()
	}
	s.mu.Lock()
	n := len(s.window)
	s.mu.Unlock()
	if n != movingAverageWindow {
		t.Fatalf("expected window bounded to %d samples, got %d", movingAverageWindow, n)
	}
}

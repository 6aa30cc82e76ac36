package resumable

import (
	"sync"
	"time"
)

// Stats tracks block upload durations for hung detection.
type Stats struct {
	sum            time.Duration
	finishedBlocks int64
	mu             sync.Mutex
}

// NewStats ...
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful block upload duration.
func (s *Stats) Update(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.finishedBlocks++
}

// Average returns the average upload duration of the finished blocks.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedBlocks == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedBlocks)
}

// FinishedCount ...
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedBlocks
}

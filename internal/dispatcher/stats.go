package dispatcher

import "time"

// stats is written only by the loop goroutine.
type stats struct {
	started   time.Time
	completed int
	failed    int
	total     time.Duration
}

// Snapshot is a point-in-time view of loop throughput.
type Snapshot struct {
	Completed       int
	Failed          int
	JobsPerHour     float64
	FailuresPerHour float64
	MeanDuration    time.Duration
}

func newStats(now time.Time) *stats {
	return &stats{started: now}
}

func (s *stats) record(d time.Duration, failed bool) {
	s.completed++
	s.total += d
	if failed {
		s.failed++
	}
}

func (s *stats) snapshot(now time.Time) Snapshot {
	snap := Snapshot{Completed: s.completed, Failed: s.failed}
	if s.completed > 0 {
		snap.MeanDuration = s.total / time.Duration(s.completed)
	}
	if hours := now.Sub(s.started).Hours(); hours > 0 {
		snap.JobsPerHour = float64(s.completed) / hours
		snap.FailuresPerHour = float64(s.failed) / hours
	}
	return snap
}

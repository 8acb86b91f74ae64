// Package scheduler runs a callback at exact, drift-free interval
// boundaries across a time range. A run replaying an already-elapsed range
// fires every boundary immediately (backtest replay); a run over a live
// range waits for each boundary on the wall clock.
package scheduler

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Mode describes how a run advances between boundaries.
type Mode int

const (
	// Live waits for each boundary on the wall clock.
	Live Mode = iota
	// Simulation fires all boundaries immediately in sequence.
	Simulation
)

func (m Mode) String() string {
	if m == Simulation {
		return "simulation"
	}
	return "live"
}

// Callback is invoked once per boundary with the boundary timestamp.
// Errors are logged and never abort the run.
type Callback func(boundary time.Time) error

// waitStrategy suspends until a target instant. Selected once at the start
// of a run: a real sleep for live runs, a no-op for simulated ones.
type waitStrategy func(until time.Time)

// BoundaryScheduler runs callbacks at aligned interval boundaries.
type BoundaryScheduler struct {
	logger  *zap.Logger
	nowFn   func() time.Time
	sleepFn func(d time.Duration)
	stopped atomic.Bool
}

// NewBoundaryScheduler creates a scheduler using the wall clock.
func NewBoundaryScheduler(logger *zap.Logger) *BoundaryScheduler {
	return &BoundaryScheduler{
		logger:  logger,
		nowFn:   time.Now,
		sleepFn: time.Sleep,
	}
}

// Stop requests cooperative termination. The current callback finishes; the
// run ends before the next boundary fires.
func (s *BoundaryScheduler) Stop() {
	s.stopped.Store(true)
}

// Run executes callback at every interval boundary in [startTime, endTime].
// The mode is computed once at start: if the real current time is already
// past endTime the whole range is replayed with no waiting, otherwise each
// boundary is awaited on the wall clock. endTime itself is an eligible
// boundary when reached exactly. Run returns the number of boundaries fired.
func (s *BoundaryScheduler) Run(startTime, endTime time.Time, intervalMinutes int, callback Callback) (int, error) {
	if intervalMinutes <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %d", intervalMinutes)
	}
	if endTime.Before(startTime) {
		return 0, fmt.Errorf("end time %s precedes start time %s", endTime, startTime)
	}
	s.stopped.Store(false)

	now := s.nowFn()
	mode := Live
	if now.After(endTime) {
		mode = Simulation
	}

	// Pre-loop adjustment: wait out a future start, or pick up mid-range.
	effectiveStart := startTime
	if mode == Live {
		if now.Before(startTime) {
			s.sleepFn(startTime.Sub(now))
		} else {
			effectiveStart = now
		}
	}

	interval := time.Duration(intervalMinutes) * time.Minute
	boundary := AlignToBoundary(effectiveStart, intervalMinutes)

	wait := s.noWait
	if mode == Live {
		wait = s.waitUntil
	}

	s.logger.Info("Starting boundary run",
		zap.String("mode", mode.String()),
		zap.Time("start", startTime),
		zap.Time("end", endTime),
		zap.Time("firstBoundary", boundary),
		zap.Int("intervalMinutes", intervalMinutes))

	fired := 0
	for !boundary.After(endTime) {
		if s.stopped.Load() {
			s.logger.Info("Boundary run stopped",
				zap.Time("nextBoundary", boundary),
				zap.Int("fired", fired))
			return fired, nil
		}

		wait(boundary)

		if err := s.invoke(boundary, callback); err != nil {
			s.logger.Error("Boundary callback failed",
				zap.Error(err),
				zap.Time("boundary", boundary))
		}
		fired++

		// Advancing from the previous boundary, never from "now", keeps
		// spacing exact over arbitrarily long runs.
		boundary = boundary.Add(interval)
	}

	s.logger.Info("Boundary run complete",
		zap.String("mode", mode.String()),
		zap.Int("fired", fired))
	return fired, nil
}

// invoke shields the loop from callback errors and panics.
func (s *BoundaryScheduler) invoke(boundary time.Time, callback Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return callback(boundary)
}

func (s *BoundaryScheduler) waitUntil(target time.Time) {
	if d := target.Sub(s.nowFn()); d > 0 {
		s.sleepFn(d)
	}
}

func (s *BoundaryScheduler) noWait(time.Time) {}

// AlignToBoundary returns the smallest timestamp >= t whose minute is an
// exact multiple of intervalMinutes with zero seconds and nanoseconds. A t
// already on a boundary is returned as-is.
func AlignToBoundary(t time.Time, intervalMinutes int) time.Time {
	onBoundary := t.Minute()%intervalMinutes == 0 && t.Second() == 0 && t.Nanosecond() == 0
	if onBoundary {
		return t
	}

	truncated := t.Truncate(time.Minute)
	minutesOver := truncated.Minute() % intervalMinutes
	return truncated.Add(time.Duration(intervalMinutes-minutesOver) * time.Minute)
}

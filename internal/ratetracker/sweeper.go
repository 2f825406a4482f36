package ratetracker

import (
	"context"
	"time"

	"nukeguard/internal/logging"
)

// Sweeper prunes a Tracker on a fixed period until its context ends.
type Sweeper struct {
	tracker  *Tracker
	interval time.Duration
	onSweep  func(removed, remaining int, took time.Duration)
}

func NewSweeper(tracker *Tracker, interval time.Duration) *Sweeper {
	return &Sweeper{tracker: tracker, interval: interval}
}

// OnSweep registers a hook called after every pass.
func (s *Sweeper) OnSweep(fn func(removed, remaining int, took time.Duration)) {
	s.onSweep = fn
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info("rate tracker sweeper started (interval %s)", s.interval)

	for {
		select {
		case <-ctx.Done():
			logging.Info("rate tracker sweeper stopped")
			return
		case <-ticker.C:
			start := time.Now()
			removed := s.tracker.Sweep(s.tracker.now())
			if s.onSweep != nil {
				s.onSweep(removed, s.tracker.Size(), time.Since(start))
			}
		}
	}
}

package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/desertbit/timer"
	"github.com/rs/zerolog/log"
)

// Scheduler runs an Engine's Sync on a fixed interval in the
// background, mirroring the store's auto-lock timer (both use
// desertbit/timer's pooled, resettable timers rather than bare
// stdlib ones).
type Scheduler struct {
	engine   *Engine
	interval time.Duration

	mu      sync.Mutex
	t       *timer.Timer
	cancel  context.CancelFunc
	running bool
}

// NewScheduler builds a Scheduler for engine that fires every interval.
// A non-positive interval disables scheduling; Start becomes a no-op.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{engine: engine, interval: interval}
}

// Start begins the background sync loop. Calling Start while already
// running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.interval <= 0 {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.t = timer.NewTimer(s.interval)

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case <-s.t.C:
				if err := s.engine.Sync(runCtx); err != nil {
					log.Warn().Err(err).Msg("scheduled sync cycle failed")
				}
				s.mu.Lock()
				if s.running {
					s.t.Reset(s.interval)
				}
				s.mu.Unlock()
			}
		}
	}()
}

// Stop halts the background sync loop. It is safe to call Stop when
// the scheduler was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.t != nil {
		s.t.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

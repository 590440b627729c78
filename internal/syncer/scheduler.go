package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler calls a check function on every tick of a single ticker.
// It is stopped while a pass runs and restarted only after a pass
// succeeds, so background ticks and an in-flight pass never overlap.
type Scheduler struct {
	clock    clockwork.Clock
	interval time.Duration
	check    func(ctx context.Context)
	logger   *slog.Logger

	mu      sync.Mutex
	parent  context.Context
	cancel  context.CancelFunc
	running bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(clock clockwork.Clock, interval time.Duration, check func(ctx context.Context), logger *slog.Logger) *Scheduler {
	return &Scheduler{
		clock:    clock,
		interval: interval,
		check:    check,
		logger:   logger,
	}
}

// Start begins ticking. The check function receives ctx, and the
// scheduler remembers it for Restart. Start is a no-op while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parent = ctx
	s.startLocked()
}

// Stop halts ticking. It does not wait for an in-flight check, so it is
// safe to call from inside one.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.cancel = nil
	s.running = false
	s.logger.Debug("scheduler stopped")
}

// Restart resumes ticking with the context given to Start. It does
// nothing if Start was never called or the scheduler is already running.
func (s *Scheduler) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.parent == nil {
		return
	}

	s.startLocked()
}

// Running reports whether the ticker is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

func (s *Scheduler) startLocked() {
	if s.running || s.parent.Err() != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.running = true

	ticker := s.clock.NewTicker(s.interval)

	go s.loop(loopCtx, s.parent, ticker)

	s.logger.Debug("scheduler started", slog.Duration("interval", s.interval))
}

func (s *Scheduler) loop(loopCtx, checkCtx context.Context, ticker clockwork.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.Chan():
			// A tick and a Stop can be ready together.
			if loopCtx.Err() != nil {
				return
			}

			s.check(checkCtx)
		}
	}
}

// Package schedule runs the ingestion pipeline on a timer inside serve
// mode. Each cycle waits the configured interval plus a random jitter,
// so replicas pointed at the same boards drift apart instead of hitting
// them in lockstep.
package schedule

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 30 * time.Minute

// RunFunc executes one ingestion run. The context is canceled when the
// scheduler stops.
type RunFunc func(ctx context.Context) error

// Config configures the scheduler.
type Config struct {
	Interval time.Duration
	Jitter   time.Duration

	// RunOnStart triggers a run immediately instead of waiting a full
	// interval after startup.
	RunOnStart bool
}

// Scheduler triggers ingestion runs at a jittered interval. Runs happen
// in their own goroutine with an in-flight guard: a tick that fires
// while the previous run is still going is skipped, not queued.
type Scheduler struct {
	interval   time.Duration
	jitter     time.Duration
	runOnStart bool
	run        RunFunc
	logger     *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	running bool
}

// New creates a scheduler. Interval defaults when non-positive; a
// negative jitter is treated as none.
func New(cfg Config, run RunFunc, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval:   cfg.Interval,
		jitter:     cfg.Jitter,
		runOnStart: cfg.RunOnStart,
		run:        run,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the scheduling loop in a background goroutine. Calling
// Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("ingestion scheduler started",
		slog.Duration("interval", s.interval),
		slog.Duration("jitter", s.jitter))
	go s.loop(ctx)
}

// Stop halts the loop, cancels any in-flight run, and waits for it to
// finish. Safe to call more than once and before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("ingestion scheduler stopped")
}

// Running reports whether an ingestion run is in flight right now.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	var runs sync.WaitGroup
	defer func() {
		runs.Wait()
		close(s.doneCh)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.runOnStart {
		runs.Add(1)
		go s.runOnce(ctx, &runs)
	}

	for {
		timer := time.NewTimer(s.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			runs.Add(1)
			go s.runOnce(ctx, &runs)
		}
	}
}

// nextDelay returns the interval plus a uniform random share of the
// jitter, recomputed every cycle.
func (s *Scheduler) nextDelay() time.Duration {
	if s.jitter == 0 {
		return s.interval
	}
	return s.interval + time.Duration(rand.Float64()*float64(s.jitter))
}

func (s *Scheduler) runOnce(ctx context.Context, runs *sync.WaitGroup) {
	defer runs.Done()

	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("previous ingestion run still in flight, skipping this tick")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	started := time.Now()
	s.logger.Info("scheduled ingestion run starting")
	if err := s.run(ctx); err != nil {
		s.logger.Error("scheduled ingestion run failed",
			slog.String("error", err.Error()),
			slog.Duration("took", time.Since(started)))
		return
	}
	s.logger.Info("scheduled ingestion run finished",
		slog.Duration("took", time.Since(started)))
}

package scheduler

import (
	"context"
	"sync"
	"time"

	"wincore.dev/engine/common"
	"wincore.dev/engine/model"
)

// Catalog is the read side of the active tuple list.
type Catalog interface {
	ActiveTuples(ctx context.Context) ([]model.Tuple, error)
}

// Config controls the tick loop.
type Config struct {
	// TickInterval is how often the scheduler reloads the catalog and
	// checks each tuple's due time. It is independent of any one tuple's
	// own polling interval.
	TickInterval time.Duration
	// MaxConcurrentThreads bounds the worker pool across all operations,
	// already clamped to [1, 10000] by config.Provider.
	MaxConcurrentThreads int
	// ShutdownGrace bounds how long Run, once cancelled or stopped, waits
	// for in-flight tuple pipelines to finish before returning.
	ShutdownGrace time.Duration
	// DefaultInterval is the polling interval used for tuples whose own
	// policy doesn't set one.
	DefaultInterval time.Duration
	// LockTimeout bounds how long dispatch/RunOnce wait to acquire a
	// tuple's lock before skipping it with a WARNING. A lock still held
	// past this deadline means the tuple's previous run is still in
	// flight.
	LockTimeout time.Duration
	// DownloadTimeout and ExtractionTimeout are the operator-wide
	// defaults passed to Pipeline.Run; a tuple's own Policy values take
	// precedence when set (see Pipeline.Run).
	DownloadTimeout   time.Duration
	ExtractionTimeout time.Duration
	// ChecksumHeader, MaxLookbackDays, MaxBuildsToKeep are forwarded
	// unchanged to every Pipeline.Run call this tick.
	ChecksumHeader  string
	MaxLookbackDays int
	MaxBuildsToKeep int
}

// Scheduler reloads the active tuple catalog on a fixed tick, and for
// every tuple whose own polling interval has elapsed, dispatches
// Pipeline.Run on a bounded worker pool, serialized per tuple via
// lockTable.
type Scheduler struct {
	catalog  Catalog
	pipeline *Pipeline
	cfg      Config
	logger   *common.ContextLogger

	locks   *lockTable
	sem     chan struct{}
	nextDue map[string]time.Time
	mu      sync.Mutex

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New builds a Scheduler. cfg.MaxConcurrentThreads and cfg.TickInterval
// must already be clamped/defaulted by the caller (normally via
// config.Provider).
func New(catalog Catalog, pipeline *Pipeline, cfg Config) *Scheduler {
	if cfg.MaxConcurrentThreads < 1 {
		cfg.MaxConcurrentThreads = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 60 * time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	return &Scheduler{
		catalog:  catalog,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   common.ServiceLogger("scheduler", "1"),
		locks:    newLockTable(),
		sem:      make(chan struct{}, cfg.MaxConcurrentThreads),
		nextDue:  make(map[string]time.Time),
	}
}

// Run blocks, ticking until ctx is cancelled or Stop is called. It never
// returns an error on its own; tuple-level failures are logged and retried
// on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(runCtx)
	for {
		select {
		case <-runCtx.Done():
			s.waitForInFlight()
			return nil
		case <-ticker.C:
			s.tick(runCtx)
		}
	}
}

// Stop requests a graceful shutdown: no new tuple runs are dispatched, and
// Run returns once in-flight pipelines finish or ShutdownGrace elapses,
// whichever comes first.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *Scheduler) waitForInFlight() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("shutdown grace period elapsed with pipelines still in flight")
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	tuples, err := s.catalog.ActiveTuples(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to load active tuples")
		return
	}

	now := time.Now()
	for _, tuple := range tuples {
		if !s.isDue(tuple, now) {
			continue
		}
		s.dispatch(ctx, tuple)
	}
}

func (s *Scheduler) isDue(tuple model.Tuple, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	due, seen := s.nextDue[tuple.Key()]
	if seen && now.Before(due) {
		return false
	}
	interval := time.Duration(tuple.Policy.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = s.cfg.DefaultInterval
	}
	s.nextDue[tuple.Key()] = now.Add(interval)
	return true
}

// Summary aggregates what one RunOnce cycle did across all tuples.
type Summary struct {
	Probed     int
	NewBuilds  int
	Downloaded int
	Extracted  int
	Failed     int
	Pruned     int
}

// deferTuple rewinds a tuple's due time so the next tick picks it up again
// after dispatch had to drop it.
func (s *Scheduler) deferTuple(tuple model.Tuple) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDue[tuple.Key()] = time.Now()
}

// RunOnce runs the pipeline for every currently active tuple exactly once,
// bounded by the same worker pool and per-tuple locks as the tick loop,
// and returns the aggregate cycle counts. It is what the `poll` subcommand
// calls for a single-cycle run.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	tuples, err := s.catalog.ActiveTuples(ctx)
	if err != nil {
		return Summary{}, err
	}

	var mu sync.Mutex
	var sum Summary
	var wg sync.WaitGroup
	for _, tuple := range tuples {
		tuple := tuple
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return sum, ctx.Err()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-s.sem }()
			defer common.LogPanic(s.logger)

			unlock, ok := s.locks.tryLock(tuple.Key(), s.cfg.LockTimeout)
			if !ok {
				s.logger.WithField("component", tuple.Component.Name).
					WithField("branch", tuple.Branch.Name).
					Warn("skipping tuple: previous run still in flight")
				return
			}
			defer unlock()

			out, err := s.pipeline.Run(ctx, tuple, s.cfg.ChecksumHeader, s.cfg.MaxLookbackDays, s.cfg.MaxBuildsToKeep, s.cfg.DownloadTimeout, s.cfg.ExtractionTimeout)
			mu.Lock()
			defer mu.Unlock()
			sum.Probed++
			if out.NewBuild {
				sum.NewBuilds++
			}
			if out.Downloaded {
				sum.Downloaded++
			}
			if out.Extracted {
				sum.Extracted++
			}
			sum.Pruned += out.Pruned
			if err != nil {
				sum.Failed++
				s.logger.WithField("component", tuple.Component.Name).
					WithField("branch", tuple.Branch.Name).
					WithError(err).
					Error("tuple pipeline failed")
			}
		}()
	}
	wg.Wait()
	return sum, nil
}

func (s *Scheduler) dispatch(ctx context.Context, tuple model.Tuple) {
	select {
	case s.sem <- struct{}{}:
	default:
		// Worker pool saturated: give the slot back to the next tick
		// instead of stalling the tick loop behind a send.
		s.logger.WithField("component", tuple.Component.Name).
			WithField("branch", tuple.Branch.Name).
			Debug("worker pool saturated, deferring tuple to next tick")
		s.deferTuple(tuple)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer common.LogPanic(s.logger)

		unlock, ok := s.locks.tryLock(tuple.Key(), s.cfg.LockTimeout)
		if !ok {
			s.logger.WithField("component", tuple.Component.Name).
				WithField("branch", tuple.Branch.Name).
				Warn("skipping tuple: previous run still in flight")
			return
		}
		defer unlock()

		if _, err := s.pipeline.Run(ctx, tuple, s.cfg.ChecksumHeader, s.cfg.MaxLookbackDays, s.cfg.MaxBuildsToKeep, s.cfg.DownloadTimeout, s.cfg.ExtractionTimeout); err != nil {
			s.logger.WithField("component", tuple.Component.Name).
				WithField("branch", tuple.Branch.Name).
				WithError(err).
				Error("tuple pipeline failed")
		}
	}()
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/whoson/whoson/pkg/store"
	"github.com/whoson/whoson/pkg/telemetry"
)

// Scheduler drives the periodic reconciliation loop. It is a two-state
// machine, Stopped and Running: a fault escaping a whole cycle stops the
// loop, and after a cool-down the loop restarts itself. A single bad cycle
// never kills tracking permanently.
type Scheduler struct {
	cfg        Config
	registry   *store.Store
	reconciler *Reconciler
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics

	mu         sync.Mutex
	running    bool
	started    bool
	cycleCount uint64
	nextRun    time.Time
	stop       chan struct{}
	done       chan struct{}
}

// NewScheduler creates a scheduler. Call Start to begin cycling.
func NewScheduler(
	cfg Config,
	registry *store.Store,
	reconciler *Reconciler,
	logger *telemetry.Logger,
	metrics *telemetry.Metrics,
) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		registry:   registry,
		reconciler: reconciler,
		logger:     logger.NewComponentLogger("scheduler"),
		metrics:    metrics,
	}
}

// Start launches the loop. Starting an already-started scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}

	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(s.stop, s.done)
	s.logger.Info("scheduler started")
}

// Stop signals the loop to finish and blocks until it has. The stop takes
// effect between targets so no reconciliation is cut off mid-mutation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	stop := s.stop
	done := s.done
	s.started = false
	s.mu.Unlock()

	close(stop)
	<-done
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the loop is in its Running state. During the
// post-fault cool-down this is false.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// CycleCount returns the number of completed cycles.
func (s *Scheduler) CycleCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleCount
}

// NextRun returns the estimated start time of the next cycle.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Scheduler) loop(stop, done chan struct{}) {
	defer close(done)
	defer s.setRunning(false)

	for {
		s.setRunning(true)

		err := s.runCycles(stop)
		if stopped(stop) {
			return
		}

		// A fault escaped the cycle. Stop, cool down, restart.
		s.setRunning(false)
		s.logger.WithError(err).Errorf("cycle fault, restarting in %s", s.cfg.RestartCooldown)
		if !pause(stop, s.cfg.RestartCooldown) {
			return
		}
	}
}

// runCycles repeats cycles until stop is signalled or a cycle faults.
func (s *Scheduler) runCycles(stop chan struct{}) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cycle panic: %v", rec)
		}
	}()

	for {
		start := time.Now()
		s.setNextRun(start.Add(s.cfg.CycleInterval))

		if err := s.runCycle(stop); err != nil {
			return err
		}
		if stopped(stop) {
			return nil
		}

		s.bumpCycleCount()
		s.metrics.RecordCycle(time.Since(start))

		if remaining := s.cfg.CycleInterval - time.Since(start); remaining > 0 {
			if !pause(stop, remaining) {
				return nil
			}
		}
	}
}

// runCycle reconciles every tracked target once. The target set is
// snapshotted at the top of the cycle so concurrent add/remove cannot
// corrupt the iteration; a target that disappears mid-cycle is skipped
// inside the reconciler. Stop is consulted only between targets, so an
// in-flight reconciliation always runs to completion and never leaves a
// half-applied rename or report edit behind.
func (s *Scheduler) runCycle(stop chan struct{}) error {
	ctx := context.Background()

	scopes, err := s.registry.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot target set: %w", err)
	}

	pairs := flattenPairs(scopes)
	s.logger.Debugf("starting cycle over %d targets", len(pairs))

	for i, p := range pairs {
		if stopped(stop) {
			return nil
		}
		if i > 0 && !pause(stop, s.cfg.TargetSpacing) {
			return nil
		}

		// One target's fault never reaches its siblings; the rest of the
		// cycle proceeds and the target gets another chance next cycle.
		if err := s.reconciler.Reconcile(ctx, p.scopeID, p.key); err != nil {
			s.logger.WithScope(p.scopeID).WithTarget(p.key).WithError(err).Error("reconciliation failed")
		}
	}

	return nil
}

type targetPair struct {
	scopeID string
	key     string
}

// flattenPairs orders the snapshot deterministically by scope then key.
func flattenPairs(scopes map[string]map[string]*store.Target) []targetPair {
	var pairs []targetPair
	for scopeID, targets := range scopes {
		for key := range targets {
			pairs = append(pairs, targetPair{scopeID: scopeID, key: key})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].scopeID != pairs[j].scopeID {
			return pairs[i].scopeID < pairs[j].scopeID
		}
		return pairs[i].key < pairs[j].key
	})
	return pairs
}

func (s *Scheduler) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
	s.metrics.SetSchedulerRunning(running)
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

func (s *Scheduler) bumpCycleCount() {
	s.mu.Lock()
	s.cycleCount++
	s.mu.Unlock()
}

// stopped reports whether the stop channel has been closed.
func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// pause sleeps for d unless stop is closed first. It reports whether the
// full sleep completed.
func pause(stop chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return !stopped(stop)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}

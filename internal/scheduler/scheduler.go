// Package scheduler periodically reconciles every tracked subject.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"streak_bot/internal/reconcile"
	"streak_bot/internal/storage"
)

const (
	DefaultBatchSize = 15
	DefaultWorkers   = 4
)

// Reconciler brings one subject up to date.
type Reconciler interface {
	Reconcile(ctx context.Context, subjectID int64) (reconcile.Outcome, error)
	Today() civil.Date
}

// ExpiryObserver is told how many lapsed streaks each cycle zeroed.
type ExpiryObserver interface {
	StreaksExpired(n int64)
}

// Scheduler walks all subjects in id order once per tick.
type Scheduler struct {
	store     storage.Storage
	rec       Reconciler
	obs       ExpiryObserver
	log       *slog.Logger
	tick      time.Duration
	batchSize int
	workers   int
}

type cycleStats struct {
	subjects int
	failed   int
	expired  int64
}

// New creates a Scheduler with hourly cycles.
func New(store storage.Storage, rec Reconciler, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		rec:       rec,
		log:       log,
		tick:      time.Hour,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
	}
}

// SetTickInterval overrides the default 1-hour cycle.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// SetBatchSize sets how many subjects are loaded per query.
func (s *Scheduler) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// SetWorkers sets how many subjects of a batch reconcile at once.
func (s *Scheduler) SetWorkers(n int) {
	if n > 0 {
		s.workers = n
	}
}

// SetExpiryObserver reports expired streak counts to obs.
func (s *Scheduler) SetExpiryObserver(obs ExpiryObserver) {
	s.obs = obs
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) cycleStats {
	var stats cycleStats
	start := time.Now()

	expired, err := s.store.ExpireLapsedStreaks(ctx, s.rec.Today())
	if err != nil {
		s.log.Error("expire lapsed streaks", "error", err)
	} else {
		stats.expired = expired
		if s.obs != nil {
			s.obs.StreaksExpired(expired)
		}
	}

	var failed atomic.Int64
	var after int64
	for {
		if ctx.Err() != nil {
			break
		}
		batch, err := s.store.ListSubjectsAfter(ctx, after, s.batchSize)
		if err != nil {
			s.log.Error("list subjects", "after_id", after, "error", err)
			break
		}
		if len(batch) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(s.workers)
		for _, subj := range batch {
			g.Go(func() error {
				if _, err := s.rec.Reconcile(ctx, subj.ID); err != nil {
					failed.Add(1)
					s.log.Error("reconcile subject", "subject_id", subj.ID, "login", subj.Login, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()

		stats.subjects += len(batch)
		after = batch[len(batch)-1].ID
		if len(batch) < s.batchSize {
			break
		}
	}

	stats.failed = int(failed.Load())
	s.log.Info("cycle finished",
		"subjects", stats.subjects,
		"failed", stats.failed,
		"expired", stats.expired,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return stats
}

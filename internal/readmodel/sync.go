package readmodel

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Reconcile brings a local snapshot store in line with an authoritative
// listing: insert missing items, update items whose mutable fields changed,
// delete items the owner no longer has. Each item is independent, so a
// failure on one is logged and skipped; the next run corrects it.
func Reconcile[T Snapshot](ctx context.Context, name string, fetch func(ctx context.Context) ([]T, error), store Store[T], equal func(a, b T) bool, logf func(format string, args ...any)) error {
	if logf == nil {
		logf = log.Printf
	}

	authoritative, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("%s: fetch authoritative set: %w", name, err)
	}
	local, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("%s: list local set: %w", name, err)
	}

	localByID := make(map[uuid.UUID]T, len(local))
	for _, item := range local {
		localByID[item.SnapshotID()] = item
	}
	authoritativeIDs := make(map[uuid.UUID]struct{}, len(authoritative))

	var errs []error
	for _, item := range authoritative {
		authoritativeIDs[item.SnapshotID()] = struct{}{}
		existing, ok := localByID[item.SnapshotID()]
		if ok && equal(existing, item) {
			continue
		}
		if err := store.Upsert(ctx, item); err != nil {
			logf("sync %s: upsert %s: %v", name, item.SnapshotID(), err)
			errs = append(errs, err)
		}
	}

	for _, item := range local {
		if _, ok := authoritativeIDs[item.SnapshotID()]; ok {
			continue
		}
		if err := store.Delete(ctx, item.SnapshotID()); err != nil {
			logf("sync %s: delete %s: %v", name, item.SnapshotID(), err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Job is one named reconciliation to run at startup and on a schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Syncer runs reconciliation jobs once at startup and then on their cron
// schedules until the context ends.
type Syncer struct {
	cron *cron.Cron
	jobs []Job
	logf func(format string, args ...any)
}

// NewSyncer constructs a Syncer.
func NewSyncer(logf func(format string, args ...any)) *Syncer {
	if logf == nil {
		logf = log.Printf
	}
	return &Syncer{cron: cron.New(), logf: logf}
}

// Add registers a job. Must be called before Start.
func (s *Syncer) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start runs every job once, schedules the periodic runs, and returns. The
// schedules stop when ctx ends.
func (s *Syncer) Start(ctx context.Context) error {
	for _, job := range s.jobs {
		job := job
		if err := job.Run(ctx); err != nil {
			s.logf("sync %s: startup run: %v", job.Name, err)
		}
		if _, err := s.cron.AddFunc(job.Schedule, func() {
			if ctx.Err() != nil {
				return
			}
			if err := job.Run(ctx); err != nil {
				s.logf("sync %s: %v", job.Name, err)
			}
		}); err != nil {
			return fmt.Errorf("sync %s: schedule %q: %w", job.Name, job.Schedule, err)
		}
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}

// Package reconcile brings a subject's stored streaks up to date with its feed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"streak_bot/internal/metrics"
	"streak_bot/internal/model"
	"streak_bot/internal/pager"
	"streak_bot/internal/storage"
	"streak_bot/internal/streak"
)

const (
	DefaultMaxAttempts  = 3
	DefaultFetchTimeout = 30 * time.Second
)

// ErrAlreadyRegistered is returned by Register when the login is already tracked.
var ErrAlreadyRegistered = errors.New("already registered")

// Collector gathers new activity days for a subject without modifying it.
type Collector interface {
	CollectNewDays(ctx context.Context, subject *model.Subject) pager.Result
}

// Recorder receives run statistics. It may be nil.
type Recorder interface {
	RunFinished(result string, d time.Duration)
	DaysRecorded(n int)
}

// Outcome describes one reconciliation.
type Outcome struct {
	SubjectID int64
	// Pages is the number of feed pages that returned entries.
	Pages int
	// NewDays are the days recorded by this run, oldest first.
	NewDays []civil.Date
	// CursorMoved is set when the stored cursor changed.
	CursorMoved bool
	Current     streak.Streak
	Subject     model.Subject
	Attempts    int
}

// Reconciler runs reconciliations against a store.
type Reconciler struct {
	store        storage.Storage
	collector    Collector
	now          func() time.Time
	loc          *time.Location
	fetchTimeout time.Duration
	maxAttempts  int
	rec          Recorder
	log          *slog.Logger
}

// New creates a Reconciler that works in UTC.
func New(store storage.Storage, collector Collector, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:        store,
		collector:    collector,
		now:          time.Now,
		loc:          time.UTC,
		fetchTimeout: DefaultFetchTimeout,
		maxAttempts:  DefaultMaxAttempts,
		log:          log,
	}
}

// SetClock replaces time.Now as the source of "today".
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// SetLocation sets the zone that decides which calendar day "today" is.
func (r *Reconciler) SetLocation(loc *time.Location) {
	if loc != nil {
		r.loc = loc
	}
}

// SetFetchTimeout bounds the feed traversal of one attempt.
func (r *Reconciler) SetFetchTimeout(d time.Duration) {
	if d > 0 {
		r.fetchTimeout = d
	}
}

// SetMaxAttempts bounds retries after a conflicting write.
func (r *Reconciler) SetMaxAttempts(n int) {
	if n > 0 {
		r.maxAttempts = n
	}
}

// SetRecorder reports run statistics to rec.
func (r *Reconciler) SetRecorder(rec Recorder) {
	r.rec = rec
}

// Today returns the current calendar day in the configured zone.
func (r *Reconciler) Today() civil.Date {
	return civil.DateOf(r.now().In(r.loc))
}

// Reconcile fetches new activity for one subject and stores the updated
// streaks, cursor and days in a single transaction. A write that loses to a
// concurrent one is retried from the start.
func (r *Reconciler) Reconcile(ctx context.Context, subjectID int64) (Outcome, error) {
	log := r.log.With("run_id", uuid.NewString(), "subject_id", subjectID)
	start := time.Now()

	var (
		out Outcome
		err error
	)
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		out, err = r.attempt(ctx, log, subjectID)
		out.Attempts = attempt
		if !errors.Is(err, storage.ErrConflict) {
			break
		}
		log.Warn("concurrent update, retrying", "attempt", attempt)
	}

	r.finish(out, err, time.Since(start))
	if err != nil {
		return out, fmt.Errorf("reconcile subject %d: %w", subjectID, err)
	}

	log.Info("reconciled",
		"login", out.Subject.Login,
		"pages", out.Pages,
		"new_days", len(out.NewDays),
		"current", out.Subject.CurrentLength,
		"longest", out.Subject.LongestLength,
	)
	return out, nil
}

func (r *Reconciler) attempt(ctx context.Context, log *slog.Logger, subjectID int64) (Outcome, error) {
	subj, err := r.store.GetSubject(ctx, subjectID)
	if err != nil {
		return Outcome{SubjectID: subjectID}, fmt.Errorf("get subject: %w", err)
	}
	cursor := subj.LastEntryID

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	fetched := r.collector.CollectNewDays(fetchCtx, subj)
	cancel()

	// An unfinished traversal keeps the old cursor so the next run walks the
	// skipped pages again.
	switch {
	case !fetched.Complete:
		log.Warn("feed traversal incomplete, cursor kept", "pages", fetched.Pages)
	case fetched.NewestID != "":
		subj.LastEntryID = fetched.NewestID
	}

	today := r.Today()
	out := Outcome{
		SubjectID:   subjectID,
		Pages:       fetched.Pages,
		CursorMoved: subj.LastEntryID != cursor,
	}

	err = r.store.InTx(ctx, func(tx storage.Tx) error {
		var recorded []civil.Date
		if n := len(fetched.Days); n > 0 {
			var err error
			recorded, err = tx.RecordedDays(ctx, subj.ID, fetched.Days[0], fetched.Days[n-1])
			if err != nil {
				return err
			}
		}

		fresh := subtract(fetched.Days, recorded)
		if len(fresh) == 0 {
			out.Current = streak.New(subj.CurrentStart, subj.CurrentEnd)
			if !out.CursorMoved {
				return nil
			}
			return tx.UpdateSubject(ctx, subj)
		}

		res := apply(subj, fresh, today)
		out.Current = res.Current
		for _, d := range fresh {
			if _, err := tx.AddDay(ctx, subj.ID, d); err != nil {
				return err
			}
		}
		if err := tx.UpdateSubject(ctx, subj); err != nil {
			return err
		}
		out.NewDays = fresh
		return nil
	})
	if err != nil {
		return out, err
	}

	log.Debug("attempt committed", "fetched_days", len(fetched.Days), "cursor_hit", fetched.CursorHit, "complete", fetched.Complete)
	out.Subject = *subj
	return out, nil
}

func (r *Reconciler) finish(out Outcome, err error, d time.Duration) {
	if r.rec == nil {
		return
	}
	result := metrics.ResultUnchanged
	switch {
	case errors.Is(err, storage.ErrConflict):
		result = metrics.ResultConflict
	case err != nil:
		result = metrics.ResultError
	case len(out.NewDays) > 0 || out.CursorMoved:
		result = metrics.ResultUpdated
	}
	r.rec.RunFinished(result, d)
	if err == nil {
		r.rec.DaysRecorded(len(out.NewDays))
	}
}

// NormalizeLogin trims and lower-cases a login so that lookups are case-insensitive.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// Register starts tracking login and runs its first reconciliation. If the
// login is already tracked it returns the existing subject with
// ErrAlreadyRegistered.
func (r *Reconciler) Register(ctx context.Context, login string) (*model.Subject, error) {
	login = NormalizeLogin(login)
	subj := &model.Subject{Login: login}

	err := r.store.CreateSubject(ctx, subj)
	if errors.Is(err, storage.ErrAlreadyExists) {
		existing, err := r.store.GetSubjectByLogin(ctx, login)
		if err != nil {
			return nil, fmt.Errorf("get subject: %w", err)
		}
		return existing, ErrAlreadyRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("create subject: %w", err)
	}
	r.log.Info("subject registered", "subject_id", subj.ID, "login", login)

	out, err := r.Reconcile(ctx, subj.ID)
	if err != nil {
		return subj, err
	}
	return &out.Subject, nil
}

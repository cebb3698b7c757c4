// Package pager walks a subject's feed page by page and gathers new activity days.
package pager

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"cloud.google.com/go/civil"

	"streak_bot/internal/fetcher"
	"streak_bot/internal/filter"
	"streak_bot/internal/model"
)

// DefaultMaxPages bounds a single traversal.
const DefaultMaxPages = 50

// Source returns one page of a subject's feed, newest entries first.
type Source interface {
	FetchPage(ctx context.Context, login string, page int) ([]model.FeedEntry, error)
}

// Observer receives per-page events. It may be nil.
type Observer interface {
	PageFetched()
	FetchFailed()
}

// Result is the outcome of one traversal.
type Result struct {
	// Days holds every qualifying day found, oldest first, without duplicates.
	Days []civil.Date
	// Pages counts the pages that returned entries.
	Pages int
	// CursorHit is set when the traversal reached the stored cursor.
	CursorHit bool
	// NewestID is the first entry of page 1, empty when page 1 had no entries.
	NewestID string
	// Complete is set when the traversal reached the cursor or the end of the
	// feed. Only then may the cursor move to NewestID.
	Complete bool
}

// Pager drives sequential page fetches for one subject at a time.
type Pager struct {
	source   Source
	extra    []filter.Predicate
	maxPages int
	obs      Observer
	log      *slog.Logger
}

// New creates a Pager reading from source.
func New(source Source, log *slog.Logger) *Pager {
	return &Pager{
		source:   source,
		maxPages: DefaultMaxPages,
		log:      log,
	}
}

// SetMaxPages overrides DefaultMaxPages.
func (p *Pager) SetMaxPages(n int) {
	if n > 0 {
		p.maxPages = n
	}
}

// AddPredicates accepts additional title patterns as qualifying activity.
func (p *Pager) AddPredicates(preds ...filter.Predicate) {
	p.extra = append(p.extra, preds...)
}

// SetObserver reports page fetches and failures to obs.
func (p *Pager) SetObserver(obs Observer) {
	p.obs = obs
}

// CollectNewDays fetches pages until it meets subject.LastEntryID, runs out of
// entries, or a fetch fails. The subject is not modified.
//
// A failed fetch or the page ceiling ends the traversal quietly with whatever
// was gathered so far and leaves Result.Complete unset.
func (p *Pager) CollectNewDays(ctx context.Context, subject *model.Subject) Result {
	var (
		res       Result
		qualifies = filter.Any(append([]filter.Predicate{filter.CommittedBy(subject.Login)}, p.extra...)...)
		stopAt    = subject.LastEntryID
		seen      = make(map[civil.Date]struct{})
		prevFirst string
	)

	log := p.log.With("subject_id", subject.ID, "login", subject.Login)

	for page := 1; ; page++ {
		if page > p.maxPages {
			log.Warn("page limit reached", "max_pages", p.maxPages)
			break
		}

		entries, err := p.source.FetchPage(ctx, subject.Login, page)
		if err != nil {
			p.fetchFailed(log, page, err)
			break
		}
		if len(entries) == 0 {
			res.Complete = true
			break
		}
		if page > 1 && entries[0].ID == prevFirst {
			log.Warn("feed repeated previous page", "page", page, "entry_id", prevFirst)
			res.Complete = true
			break
		}
		prevFirst = entries[0].ID
		res.Pages++
		if p.obs != nil {
			p.obs.PageFetched()
		}

		ex := filter.Extract(entries, qualifies, stopAt)
		if page == 1 {
			res.NewestID = ex.NewestID
		}
		for _, d := range ex.Days {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			res.Days = append(res.Days, d)
		}

		log.Debug("scanned page", "page", page, "entries", len(entries), "days", len(ex.Days), "cursor_hit", ex.HitCursor)

		if ex.HitCursor {
			res.CursorHit = true
			res.Complete = true
			break
		}
	}

	slices.SortFunc(res.Days, func(a, b civil.Date) int {
		return a.DaysSince(b)
	})
	return res
}

func (p *Pager) fetchFailed(log *slog.Logger, page int, err error) {
	if p.obs != nil {
		p.obs.FetchFailed()
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("feed fetch interrupted", "page", page, "error", err)
	case errors.Is(err, fetcher.ErrFetchFailed):
		log.Warn("feed fetch failed", "page", page, "error", err)
	default:
		log.Error("feed source error", "page", page, "error", err)
	}
}

// Package filter picks qualifying activity days out of a page of feed entries.
package filter

import (
	"fmt"
	"regexp"
	"slices"

	"cloud.google.com/go/civil"

	"streak_bot/internal/model"
)

// Predicate reports whether an entry title counts as qualifying activity.
type Predicate func(title string) bool

// Extraction is the result of scanning one page of entries.
type Extraction struct {
	// Days holds the distinct qualifying days, oldest first.
	Days []civil.Date
	// NewestID is the id of the first entry on the page, if any.
	NewestID string
	// HitCursor is set when scanning stopped at a previously seen entry.
	HitCursor bool
}

// Extract scans newest-first entries until it meets stopAt and collects the
// calendar days of entries accepted by qualifies. An empty stopAt never matches.
// Entries without a timestamp are skipped.
func Extract(entries []model.FeedEntry, qualifies Predicate, stopAt string) Extraction {
	var out Extraction
	seen := make(map[civil.Date]struct{})

	for i, e := range entries {
		if i == 0 {
			out.NewestID = e.ID
		}
		if stopAt != "" && e.ID == stopAt {
			out.HitCursor = true
			break
		}
		if e.UpdatedAt.IsZero() || !qualifies(e.Title) {
			continue
		}
		d := civil.DateOf(e.UpdatedAt)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out.Days = append(out.Days, d)
	}

	slices.SortFunc(out.Days, func(a, b civil.Date) int {
		return a.DaysSince(b)
	})
	return out
}

// CommittedBy matches titles of the form "<login> committed ...", ignoring case.
func CommittedBy(login string) Predicate {
	re := regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(login) + ` committed`)
	return re.MatchString
}

// Any matches when at least one of the predicates does.
func Any(preds ...Predicate) Predicate {
	return func(title string) bool {
		for _, p := range preds {
			if p(title) {
				return true
			}
		}
		return false
	}
}

// Patterns compiles case-insensitive title patterns into predicates.
func Patterns(patterns []string) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		preds = append(preds, re.MatchString)
	}
	return preds, nil
}

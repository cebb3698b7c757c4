// Package streak computes runs of consecutive calendar days.
package streak

import (
	"fmt"
	"slices"

	"cloud.google.com/go/civil"
)

// Streak is an inclusive range of consecutive days. The zero value is an empty streak.
type Streak struct {
	Started civil.Date
	Ended   civil.Date
}

// New returns the streak [started, ended]. A zero ended collapses to started,
// and a zero started yields the empty streak.
func New(started, ended civil.Date) Streak {
	if started.IsZero() {
		return Streak{}
	}
	if ended.IsZero() || ended.Before(started) {
		ended = started
	}
	return Streak{Started: started, Ended: ended}
}

// IsEmpty reports whether the streak covers no days.
func (s Streak) IsEmpty() bool {
	return s.Started.IsZero()
}

// Len returns the number of days in the streak.
func (s Streak) Len() int {
	if s.IsEmpty() {
		return 0
	}
	return s.Ended.DaysSince(s.Started) + 1
}

// IsCurrent reports whether the streak is still live as of the given day:
// its last day is asOf or the day before.
func (s Streak) IsCurrent(asOf civil.Date) bool {
	if s.IsEmpty() {
		return false
	}
	return !s.Ended.AddDays(1).Before(asOf)
}

// Contains reports whether day falls inside the streak.
func (s Streak) Contains(day civil.Date) bool {
	if s.IsEmpty() {
		return false
	}
	return !day.Before(s.Started) && !day.After(s.Ended)
}

func (s Streak) String() string {
	if s.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("%s..%s", s.Started, s.Ended)
}

// Result is the outcome of merging new days into a prior streak.
type Result struct {
	// All holds every streak spanned by the prior streak and the new days, oldest first.
	All []Streak
	// Current is the most recently started streak.
	Current Streak
}

// Merge folds ascending, de-duplicated days into prior.
//
// A day inside the active streak is ignored, a day directly after it extends it,
// and any other day opens a new streak. Streaks that end up touching (for example
// when history older than prior arrives late) are joined before returning.
func Merge(prior Streak, days []civil.Date) Result {
	if len(days) == 0 {
		return Result{All: []Streak{prior}, Current: prior}
	}

	all := []Streak{prior}
	active := 0
	for _, day := range days {
		cur := all[active]
		switch {
		case cur.IsEmpty():
			all[active] = Streak{Started: day, Ended: day}
		case cur.Contains(day):
		case day == cur.Ended.AddDays(1):
			all[active].Ended = day
		default:
			all = append(all, Streak{Started: day, Ended: day})
			active = len(all) - 1
		}
	}

	all = coalesce(all)
	return Result{All: all, Current: all[len(all)-1]}
}

// Longest returns the streak with the most days. Ties go to the later start.
func Longest(all []Streak) Streak {
	var best Streak
	for _, s := range all {
		if s.Len() > best.Len() || (s.Len() == best.Len() && s.Started.After(best.Started)) {
			best = s
		}
	}
	return best
}

func coalesce(all []Streak) []Streak {
	out := make([]Streak, 0, len(all))
	for _, s := range all {
		if !s.IsEmpty() {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b Streak) int {
		return compareDates(a.Started, b.Started)
	})

	merged := out[:0]
	for _, s := range out {
		if n := len(merged); n > 0 && !s.Started.After(merged[n-1].Ended.AddDays(1)) {
			if s.Ended.After(merged[n-1].Ended) {
				merged[n-1].Ended = s.Ended
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func compareDates(a, b civil.Date) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

package reconcile

import (
	"slices"

	"cloud.google.com/go/civil"

	"streak_bot/internal/model"
	"streak_bot/internal/streak"
)

// subtract returns the days in fetched that are not in recorded. Both are
// ascending; the result is too.
func subtract(fetched, recorded []civil.Date) []civil.Date {
	var fresh []civil.Date
	for _, d := range fetched {
		if _, found := slices.BinarySearchFunc(recorded, d, func(a, b civil.Date) int {
			return a.DaysSince(b)
		}); !found {
			fresh = append(fresh, d)
		}
	}
	return fresh
}

// apply folds fresh days into the subject's streak fields as of today and
// returns the merge result.
func apply(subj *model.Subject, fresh []civil.Date, today civil.Date) streak.Result {
	res := streak.Merge(streak.New(subj.CurrentStart, subj.CurrentEnd), fresh)

	best := streak.Longest(res.All)
	if n := best.Len(); n > 0 &&
		(n > subj.LongestLength || (n == subj.LongestLength && best.Started.After(subj.LongestStart))) {
		subj.LongestStart = best.Started
		subj.LongestEnd = best.Ended
		subj.LongestLength = n
	}

	subj.CurrentStart = res.Current.Started
	subj.CurrentEnd = res.Current.Ended
	subj.CurrentLength = 0
	if res.Current.IsCurrent(today) {
		subj.CurrentLength = res.Current.Len()
	}
	return res
}

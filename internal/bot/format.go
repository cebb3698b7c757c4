package bot

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"streak_bot/internal/model"
)

// CalendarURL links to a subject's calendar page.
func CalendarURL(base, login string) string {
	return fmt.Sprintf("%s/~%s", base, login)
}

// LongestStreakURL links to the calendar month in which the longest streak began.
func LongestStreakURL(base string, subj *model.Subject) string {
	if subj.LongestStart.IsZero() {
		return CalendarURL(base, subj.Login)
	}
	return fmt.Sprintf("%s/~%s/%d/%d", base, subj.Login, subj.LongestStart.Year, int(subj.LongestStart.Month))
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

// FormatSubject summarises a subject's streaks.
func FormatSubject(subj *model.Subject, base string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", subj.Login)

	if subj.CurrentLength > 0 {
		fmt.Fprintf(&b, "Current streak: %s (%s to %s)\n", pluralDays(subj.CurrentLength), subj.CurrentStart, subj.CurrentEnd)
	} else {
		b.WriteString("Current streak: none\n")
	}

	if subj.LongestLength > 0 {
		fmt.Fprintf(&b, "Longest streak: %s (%s to %s)\n%s\n", pluralDays(subj.LongestLength),
			subj.LongestStart, subj.LongestEnd, LongestStreakURL(base, subj))
	} else {
		b.WriteString("Longest streak: none yet\n")
	}

	fmt.Fprintf(&b, "\nCalendar: %s", CalendarURL(base, subj.Login))
	return b.String()
}

// FormatLeaderboards renders the current and all-time tables.
func FormatLeaderboards(current, longest []model.Subject) string {
	var b strings.Builder

	b.WriteString("Current streaks:\n")
	if len(current) == 0 {
		b.WriteString("  nobody is on a streak\n")
	}
	for i, s := range current {
		fmt.Fprintf(&b, "%2d. %s: %s\n", i+1, s.Login, pluralDays(s.CurrentLength))
	}

	b.WriteString("\nLongest streaks:\n")
	if len(longest) == 0 {
		b.WriteString("  no streaks recorded yet\n")
	}
	for i, s := range longest {
		fmt.Fprintf(&b, "%2d. %s: %s\n", i+1, s.Login, pluralDays(s.LongestLength))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatMonth renders a Monday-first month grid with active days starred.
func FormatMonth(login string, first civil.Date, days []civil.Date) string {
	active := make(map[civil.Date]bool, len(days))
	for _, d := range days {
		active[d] = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s, %s %d (%s)\n", login, first.Month, first.Year, pluralDays(len(active)))
	b.WriteString("Mo Tu We Th Fr Sa Su\n")

	offset := (int(first.In(time.UTC).Weekday()) + 6) % 7
	line := strings.Repeat("   ", offset)
	last := monthEnd(first)
	for d := first; !d.After(last); d = d.AddDays(1) {
		mark := " "
		if active[d] {
			mark = "*"
		}
		line += fmt.Sprintf("%2d%s", d.Day, mark)
		if d.In(time.UTC).Weekday() == time.Sunday {
			b.WriteString(strings.TrimRight(line, " ") + "\n")
			line = ""
		}
	}
	if line != "" {
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

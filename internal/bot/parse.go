package bot

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var loginRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,38}$`)

// ParseLoginArg extracts and validates a login from command arguments.
func ParseLoginArg(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", fmt.Errorf("login is required")
	}
	login := strings.ToLower(strings.TrimPrefix(fields[0], "@"))
	if !loginRe.MatchString(login) {
		return "", fmt.Errorf("invalid login %q", fields[0])
	}
	return login, nil
}

// ParseMonth parses YYYY-MM into the first day of that month.
func ParseMonth(s string) (civil.Date, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid month %q, use YYYY-MM", s)
	}
	return civil.Date{Year: t.Year(), Month: t.Month(), Day: 1}, nil
}

// ParseCalendarArgs parses "<login> [YYYY-MM]". The month defaults to the
// one containing today.
func ParseCalendarArgs(args string, today civil.Date) (string, civil.Date, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return "", civil.Date{}, fmt.Errorf("usage: /calendar <login> [YYYY-MM]")
	}
	login, err := ParseLoginArg(fields[0])
	if err != nil {
		return "", civil.Date{}, err
	}
	month := monthStart(today)
	if len(fields) == 2 {
		if month, err = ParseMonth(fields[1]); err != nil {
			return "", civil.Date{}, err
		}
	}
	return login, month, nil
}

func monthStart(d civil.Date) civil.Date {
	return civil.Date{Year: d.Year, Month: d.Month, Day: 1}
}

// addMonths moves the first day of a month by n months.
func addMonths(first civil.Date, n int) civil.Date {
	return civil.DateOf(first.In(time.UTC).AddDate(0, n, 0))
}

// monthEnd returns the last day of the month starting at first.
func monthEnd(first civil.Date) civil.Date {
	return addMonths(first, 1).AddDays(-1)
}

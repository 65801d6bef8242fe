package clock

import (
	"fmt"
	"strings"
	"time"
)

// Board pages emit dates in a handful of layouts. Ordered from most to
// least specific so partial layouts don't shadow full ones.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006.01.02 15:04",
	"2006.01.02",
	"2006/01/02",
	"06-01-02 15:04",
	"06-01-02",
}

// ParseDate parses a board-supplied date string and localizes it to
// KST. Layouts without an offset are interpreted as KST wall time.
func ParseDate(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("parse date: empty input")
	}

	for _, layout := range dateLayouts {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.In(kst), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, trimmed, kst); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse date: unrecognized layout %q", trimmed)
}

// NormalizeISO parses s and re-renders it as RFC3339 in KST. This is
// the canonical stored form for all post dates.
func NormalizeISO(s string) (string, error) {
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return FormatISO(t), nil
}

// FormatISO renders t as RFC3339 in KST.
func FormatISO(t time.Time) string {
	return t.In(kst).Format(time.RFC3339)
}

// Semester maps an instant to the academic (year, semester) that
// contains it. Months 3–8 belong to semester 1; months 9–12 to
// semester 2; January and February close out semester 2 of the
// previous year.
func Semester(t time.Time) (year, semester int) {
	local := t.In(kst)
	year = local.Year()
	switch m := int(local.Month()); {
	case m >= 3 && m <= 8:
		semester = 1
	case m >= 9:
		semester = 2
	default:
		year--
		semester = 2
	}
	return year, semester
}

// Package timeutil provides calendar helpers for analytics windows.
// Every helper works in the location carried by its argument, so the
// caller decides which calendar "today" belongs to.
package timeutil

import (
	"fmt"
	"time"
)

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatHumanDate is a human-readable format.
	FormatHumanDate = "2 January 2006"
	// FormatShortDate is a short format (Jan 2).
	FormatShortDate = "Jan 2"
)

// LoadLocation resolves an IANA zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	return loc, nil
}

// NowIn returns the current time in loc.
func NowIn(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Now().In(loc)
}

// StartOfDay returns 00:00:00 of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last nanosecond of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, t.Location())
}

// StartOfWeek returns Monday 00:00:00 of t's week.
func StartOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return StartOfDay(t.AddDate(0, 0, -(weekday - 1)))
}

// TrailingDays returns the window covering the last n calendar days
// including t's day: from the start of day t-(n-1) through t.
func TrailingDays(t time.Time, n int) (time.Time, time.Time) {
	if n < 1 {
		n = 1
	}
	return StartOfDay(t.AddDate(0, 0, -(n - 1))), t
}

// Date is a calendar day without a clock or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf projects t onto a calendar day in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// AddDays returns the date n days later (negative n goes back).
func (d Date) AddDays(n int) Date {
	t := time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC)
	y, m, dd := t.Date()
	return Date{Year: y, Month: m, Day: dd}
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsSameDay checks if two times fall on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return DateOf(t1, loc) == DateOf(t2, loc)
}

// DaysBetween returns the absolute number of calendar days between two
// times, measured in t1's location.
func DaysBetween(t1, t2 time.Time) int {
	loc := t1.Location()
	a := DateOf(t1, loc)
	b := DateOf(t2, loc)
	ua := time.Date(a.Year, a.Month, a.Day, 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year, b.Month, b.Day, 0, 0, 0, 0, time.UTC)
	days := int(ub.Sub(ua).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// NextWeekdayAt returns the first instant strictly after t that falls on
// weekday at hour:00 in t's location.
func NextWeekdayAt(t time.Time, weekday time.Weekday, hour int) time.Time {
	candidate := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
	offset := (int(weekday) - int(t.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, offset)
	if !candidate.After(t) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// FormatRelative returns a short relative time string such as "3 days ago".
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		return "in the future"
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d h ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "yesterday"
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}

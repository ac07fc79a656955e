package dateutil

import (
	"errors"
	"fmt"
	"time"
)

// CompactLayout is the 8-digit date format used by the remote API and the cache records
const CompactLayout = "20060102"

// ErrCrossYear is returned when a range spans two calendar years
var ErrCrossYear = errors.New("range crosses a year boundary")

// StartOfDay returns the start of the day (00:00:00) for the given date
func StartOfDay(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
}

// Date returns midnight UTC of the given calendar day
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf drops the clock and zone of t, keeping its calendar day as seen in t's location
func DateOf(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// IsSameDay returns true if two dates are on the same day
func IsSameDay(date1, date2 time.Time) bool {
	return date1.Year() == date2.Year() &&
		date1.Month() == date2.Month() &&
		date1.Day() == date2.Day()
}

// IsLeapYear reports whether year has 366 days in the Gregorian calendar
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInYear returns 366 for leap years and 365 otherwise
func DaysInYear(year int) int {
	if IsLeapYear(year) {
		return 366
	}
	return 365
}

// DaysInMonth returns the number of calendar days in month of year
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DayOfYear returns the 1-based ordinal of date within its calendar year.
// Jan 1 is 1, Dec 31 is 365 or 366.
func DayOfYear(date time.Time) int {
	return date.YearDay()
}

// MonthSpan returns the 0-based offset of the first day of the month within
// the year and the number of days in the month.
func MonthSpan(year int, month time.Month) (start, length int) {
	return DayOfYear(Date(year, month, 1)) - 1, DaysInMonth(year, month)
}

// YearSpan returns (0, DaysInYear(year))
func YearSpan(year int) (start, length int) {
	return 0, DaysInYear(year)
}

// RangeSpan returns the 0-based offset of from within its year and the
// inclusive number of days up to and including to.
// Both dates must belong to the same year.
func RangeSpan(from, to time.Time) (start, length int, err error) {
	if from.Year() != to.Year() {
		return 0, 0, fmt.Errorf("%w: %s .. %s", ErrCrossYear,
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}
	if to.Before(from) {
		return 0, 0, fmt.Errorf("range end %s is before start %s",
			to.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	return DayOfYear(from) - 1, DayOfYear(to) - DayOfYear(from) + 1, nil
}

// DaysBetween returns the number of whole calendar days from a to b.
// The result is negative when b is before a.
func DaysBetween(a, b time.Time) int {
	da := DateOf(a)
	db := DateOf(b)
	return int(db.Sub(da).Hours() / 24)
}

// FormatCompact formats a date as YYYYMMDD
func FormatCompact(date time.Time) string {
	return date.Format(CompactLayout)
}

// ParseCompact parses a YYYYMMDD date
func ParseCompact(s string) (time.Time, error) {
	t, err := time.Parse(CompactLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid compact date %q: %w", s, err)
	}
	return t, nil
}

// ParseDate parses date string in various formats
func ParseDate(dateStr string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		"02.01.2006",
		CompactLayout,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05-0700",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return DateOf(t), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", dateStr)
}

// Today returns today's calendar date as midnight UTC
func Today(now time.Time) time.Time {
	return DateOf(now)
}

// Tomorrow returns the calendar date after now as midnight UTC
func Tomorrow(now time.Time) time.Time {
	return DateOf(now).AddDate(0, 0, 1)
}

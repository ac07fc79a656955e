package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Locale identifies the country whose holiday calendar applies
type Locale string

const (
	LocaleRussia     Locale = "ru"
	LocaleUkraine    Locale = "ua"
	LocaleKazakhstan Locale = "kz"
	LocaleBelarus    Locale = "by"
	LocaleUSA        Locale = "us"
	LocaleUzbekistan Locale = "uz"
	LocaleTurkey     Locale = "tr"
)

var locales = []Locale{
	LocaleRussia,
	LocaleUkraine,
	LocaleKazakhstan,
	LocaleBelarus,
	LocaleUSA,
	LocaleUzbekistan,
	LocaleTurkey,
}

// ParseLocale parses a country code such as "ru" or "KZ"
func ParseLocale(s string) (Locale, error) {
	code := Locale(strings.ToLower(strings.TrimSpace(s)))
	for _, l := range locales {
		if l == code {
			return l, nil
		}
	}
	return "", fmt.Errorf("unsupported locale %q", s)
}

// Tristate is a yes/no answer that may be unknown
type Tristate int8

const (
	Unknown Tristate = iota
	Yes
	No
)

func (t Tristate) String() string {
	switch t {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// Day represents the status of a specific date
type Day struct {
	Date   time.Time
	Status DayStatus
}

// Result is the answer to a query: the requested days in calendar order,
// or the whole-response error status the remote returned instead.
type Result struct {
	Days   []Day
	Status DayStatus
}

// Failed reports whether the remote rejected the query with an error status
func (r *Result) Failed() bool {
	return r.Status.IsError()
}

// Summary counts days per status
type Summary struct {
	WorkDays            int
	NonWorkingDays      int
	ShortDays           int
	PandemicWorkingDays int
}

// Summary returns per-status day counts of the result
func (r *Result) Summary() Summary {
	var s Summary
	for _, day := range r.Days {
		switch day.Status {
		case StatusWorkingDay:
			s.WorkDays++
		case StatusNonWorkingDay:
			s.NonWorkingDays++
		case StatusShortDay:
			s.ShortDays++
		case StatusPandemicWorkingDay:
			s.PandemicWorkingDays++
		}
	}
	return s
}

// WorkingHours returns the working time norm of the result in hours.
// A short day is one hour shorter than a regular one.
func (r *Result) WorkingHours(hoursPerDay int) int {
	s := r.Summary()
	return (s.WorkDays+s.PandemicWorkingDays)*hoursPerDay + s.ShortDays*(hoursPerDay-1)
}

// Calendar answers day status questions for one locale
type Calendar interface {
	// Resolve answers a point, month, year or range query
	Resolve(ctx context.Context, q Query) (*Result, error)

	// Day returns the status of a single date
	Day(ctx context.Context, date time.Time) (DayStatus, error)

	// IsWorkingDay checks if the given date is a working day
	IsWorkingDay(ctx context.Context, date time.Time) (Tristate, error)
}

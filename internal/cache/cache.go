// Package cache persists whole-year day status sequences keyed by (year, locale)
// and judges their freshness against a retention window.
package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/username/isdayoff/pkg/dateutil"
)

// DefaultRetentionDays is how long a cached year stays fresh unless configured otherwise
const DefaultRetentionDays = 30

var (
	// ErrNotCached means no fresh record exists for the key; the caller should fetch
	ErrNotCached = errors.New("year is not cached")

	// ErrPersistence wraps cache read/write I/O failures and unreadable records
	ErrPersistence = errors.New("cache persistence error")
)

// Store is the contract shared by FileStore and BoltStore
type Store interface {
	// IsFresh reports whether a record exists for the key and is within the retention window.
	// Every call re-reads persisted metadata.
	IsFresh(year int, locale string) bool

	// Write atomically replaces the record for the key
	Write(year int, locale string, codes string, now time.Time) error

	// ReadSlice returns codes[start:end] of a fresh record
	ReadSlice(year int, locale string, start, end int) (string, error)

	// Read returns the stored record regardless of freshness
	Read(year int, locale string) (*Record, error)
}

// Record is the persisted form of a year sequence
type Record struct {
	Year      int
	Locale    string
	CreatedOn time.Time // calendar date, midnight UTC
	Codes     string
}

// Marshal renders the record text: creation date on the first line, codes on the second
func (r *Record) Marshal() []byte {
	return []byte(dateutil.FormatCompact(r.CreatedOn) + "\n" + r.Codes + "\n")
}

// dayCodes are the per-day codes a stored year may contain
const dayCodes = "0124"

// ParseRecord parses the record text. CRLF line endings are accepted.
// A record whose codes do not cover every day of the year is unusable.
func ParseRecord(year int, locale string, data []byte) (*Record, error) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: record %d/%s has %d line(s), want 2",
			ErrPersistence, year, locale, len(lines))
	}

	createdOn, err := dateutil.ParseCompact(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: record %d/%s: %v", ErrPersistence, year, locale, err)
	}

	codes := strings.TrimSpace(lines[1])
	if want := dateutil.DaysInYear(year); len(codes) != want {
		return nil, fmt.Errorf("%w: record %d/%s has %d day(s), want %d",
			ErrPersistence, year, locale, len(codes), want)
	}
	if i := strings.IndexFunc(codes, func(c rune) bool { return !strings.ContainsRune(dayCodes, c) }); i >= 0 {
		return nil, fmt.Errorf("%w: record %d/%s has code %q at day %d",
			ErrPersistence, year, locale, codes[i], i+1)
	}

	return &Record{
		Year:      year,
		Locale:    locale,
		CreatedOn: createdOn,
		Codes:     codes,
	}, nil
}

// ExpiresOn returns the last calendar day the record is still fresh
func (r *Record) ExpiresOn(retentionDays int) time.Time {
	return r.CreatedOn.AddDate(0, 0, retentionDays)
}

// FreshOn reports whether the record is still fresh on the calendar day of today.
// A record goes stale once today is later than CreatedOn + retentionDays.
func (r *Record) FreshOn(today time.Time, retentionDays int) bool {
	return !dateutil.DateOf(today).After(r.ExpiresOn(retentionDays))
}

// Slice returns Codes[start:end], failing when the bounds do not fit the record
func (r *Record) Slice(start, end int) (string, error) {
	if start < 0 || end < start || end > len(r.Codes) {
		return "", fmt.Errorf("%w: slice [%d:%d) out of record %d/%s of length %d",
			ErrPersistence, start, end, r.Year, r.Locale, len(r.Codes))
	}
	return r.Codes[start:end], nil
}

func recordKey(year int, locale string) string {
	return fmt.Sprintf("%d/%s", year, locale)
}

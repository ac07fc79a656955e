package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/username/isdayoff/pkg/dateutil"
)

// MaxRangeDays is the longest allowed distance between the ends of a range query
const MaxRangeDays = 365

var (
	// ErrInvalidRange is returned for inverted ranges and ranges longer than MaxRangeDays
	ErrInvalidRange = errors.New("invalid date range")

	// ErrInvalidQuery is returned for malformed point, month and year queries
	ErrInvalidQuery = errors.New("invalid query")
)

// QueryKind selects the scope of a query
type QueryKind int

const (
	KindPoint QueryKind = iota + 1
	KindMonth
	KindYear
	KindRange
)

// Query is a request for the statuses of a single day, a month, a year or a date range.
// From and To are inclusive calendar dates (midnight UTC).
type Query struct {
	Kind  QueryKind
	From  time.Time
	To    time.Time
	month time.Month
}

// PointQuery asks for a single date
func PointQuery(date time.Time) Query {
	d := dateutil.DateOf(date)
	return Query{Kind: KindPoint, From: d, To: d}
}

// MonthQuery asks for every day of a month
func MonthQuery(year int, month time.Month) Query {
	from := dateutil.Date(year, month, 1)
	return Query{
		Kind:  KindMonth,
		From:  from,
		To:    from.AddDate(0, 1, -1),
		month: month,
	}
}

// YearQuery asks for every day of a year
func YearQuery(year int) Query {
	return Query{
		Kind: KindYear,
		From: dateutil.Date(year, time.January, 1),
		To:   dateutil.Date(year, time.December, 31),
	}
}

// RangeQuery asks for every day between from and to inclusive
func RangeQuery(from, to time.Time) Query {
	return Query{
		Kind: KindRange,
		From: dateutil.DateOf(from),
		To:   dateutil.DateOf(to),
	}
}

// Validate checks the query before any fetch or cache access
func (q Query) Validate() error {
	switch q.Kind {
	case KindPoint, KindYear:
		return nil
	case KindMonth:
		if q.month < time.January || q.month > time.December {
			return fmt.Errorf("%w: month %d", ErrInvalidQuery, int(q.month))
		}
		return nil
	case KindRange:
		if q.To.Before(q.From) {
			return fmt.Errorf("%w: end %s is before start %s",
				ErrInvalidRange, q.To.Format("2006-01-02"), q.From.Format("2006-01-02"))
		}
		if n := dateutil.DaysBetween(q.From, q.To); n > MaxRangeDays {
			return fmt.Errorf("%w: %d days between %s and %s, max %d",
				ErrInvalidRange, n, q.From.Format("2006-01-02"), q.To.Format("2006-01-02"), MaxRangeDays)
		}
		return nil
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidQuery, int(q.Kind))
	}
}

// Year returns the year of the first requested day
func (q Query) Year() int {
	return q.From.Year()
}

// SameYear reports whether the whole query falls inside one calendar year
func (q Query) SameYear() bool {
	return q.From.Year() == q.To.Year()
}

// Days returns the number of requested days
func (q Query) Days() int {
	return dateutil.DaysBetween(q.From, q.To) + 1
}

// Span returns the 0-based offset and length of the query inside its year's sequence
func (q Query) Span() (start, length int, err error) {
	switch q.Kind {
	case KindPoint:
		return dateutil.DayOfYear(q.From) - 1, 1, nil
	case KindMonth:
		start, length = dateutil.MonthSpan(q.From.Year(), q.From.Month())
		return start, length, nil
	case KindYear:
		start, length = dateutil.YearSpan(q.From.Year())
		return start, length, nil
	case KindRange:
		return dateutil.RangeSpan(q.From, q.To)
	default:
		return 0, 0, fmt.Errorf("%w: kind %d", ErrInvalidQuery, int(q.Kind))
	}
}

// Request builds the remote request for exactly the scope of the query
func (q Query) Request(locale Locale, flags RequestFlags) Request {
	req := Request{Locale: locale, Flags: flags}
	switch q.Kind {
	case KindPoint:
		req.Year = q.From.Year()
		req.Month = q.From.Month()
		req.Day = q.From.Day()
	case KindMonth:
		req.Year = q.From.Year()
		req.Month = q.From.Month()
	case KindYear:
		req.Year = q.From.Year()
	case KindRange:
		req.From = q.From
		req.To = q.To
	}
	return req
}

func (q Query) String() string {
	switch q.Kind {
	case KindPoint:
		return q.From.Format("2006-01-02")
	case KindMonth:
		return q.From.Format("2006-01")
	case KindYear:
		return q.From.Format("2006")
	default:
		return q.From.Format("2006-01-02") + ".." + q.To.Format("2006-01-02")
	}
}

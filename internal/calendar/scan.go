package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/username/isdayoff/pkg/dateutil"
)

// MaxScanDays bounds FindFirst and CountConsecutive
const MaxScanDays = 3 * 366

// ErrScanLimit is returned when a scan reaches MaxScanDays without an answer
var ErrScanLimit = errors.New("scan limit reached")

// Direction of a scan
type Direction int

const (
	Past Direction = iota
	Future
)

func (d Direction) step() int {
	if d == Past {
		return -1
	}
	return 1
}

func (d Direction) String() string {
	if d == Past {
		return "past"
	}
	return "future"
}

// FindFirst returns the nearest date after (Future) or before (Past) anchor,
// anchor excluded, whose status is want.
func (r *Resolver) FindFirst(ctx context.Context, anchor time.Time, want DayStatus, dir Direction) (time.Time, error) {
	if want.IsError() || want.Code() == "" {
		return time.Time{}, fmt.Errorf("%w: cannot scan for %s", ErrInvalidQuery, want)
	}

	start := dateutil.DateOf(anchor)
	for i := 1; i <= MaxScanDays; i++ {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}

		date := start.AddDate(0, 0, i*dir.step())
		status, err := r.Day(ctx, date)
		if err != nil {
			return time.Time{}, err
		}
		if status.IsError() {
			return time.Time{}, &StatusError{Status: status, Date: date}
		}
		if status == want {
			return date, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: no %s day within %d days %s of %s",
		ErrScanLimit, want, MaxScanDays, dir, start.Format("2006-01-02"))
}

// CountConsecutive returns how many days in a row, starting at anchor and
// moving in dir, share the anchor's status. The anchor itself is counted.
func (r *Resolver) CountConsecutive(ctx context.Context, anchor time.Time, dir Direction) (int, DayStatus, error) {
	start := dateutil.DateOf(anchor)

	first, err := r.Day(ctx, start)
	if err != nil {
		return 0, 0, err
	}
	if first.IsError() {
		return 0, first, &StatusError{Status: first, Date: start}
	}

	count := 1
	for i := 1; i < MaxScanDays; i++ {
		if err := ctx.Err(); err != nil {
			return 0, first, err
		}

		date := start.AddDate(0, 0, i*dir.step())
		status, err := r.Day(ctx, date)
		if err != nil {
			return 0, first, err
		}
		if status.IsError() {
			return 0, first, &StatusError{Status: status, Date: date}
		}
		if status != first {
			return count, first, nil
		}
		count++
	}

	return 0, first, fmt.Errorf("%w: %s run from %s exceeds %d days",
		ErrScanLimit, first, start.Format("2006-01-02"), MaxScanDays)
}

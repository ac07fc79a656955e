package calendar

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/username/isdayoff/internal/cache"
	"github.com/username/isdayoff/pkg/dateutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// refreshTimeout bounds a shared whole-year fetch, which outlives the
// cancellation of any single caller waiting on it
const refreshTimeout = time.Minute

// ErrCacheDisabled is returned by cache maintenance calls on a resolver without a cache
var ErrCacheDisabled = errors.New("cache is disabled")

// Store persists whole-year sequences; see cache.FileStore and cache.BoltStore
type Store interface {
	IsFresh(year int, locale string) bool
	Write(year int, locale string, codes string, now time.Time) error
	ReadSlice(year int, locale string, start, end int) (string, error)
}

// StatusError carries a whole-response error status where an operation
// has no Result to put it in.
type StatusError struct {
	Status DayStatus
	Date   time.Time
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("isdayoff.ru answered %s (%s) for %s",
		e.Status, e.Status.Code(), e.Date.Format("2006-01-02"))
}

// Options configures a Resolver
type Options struct {
	Locale       Locale
	Flags        RequestFlags
	CacheEnabled bool
	Store        Store   // required when CacheEnabled
	Fetcher      Fetcher // required
	Metrics      *Metrics
	Now          func() time.Time
	Logger       *zap.Logger
}

// Resolver answers queries for one locale, serving whole years from the
// cache when fresh and refreshing them from the remote otherwise.
type Resolver struct {
	locale       Locale
	flags        RequestFlags
	cacheEnabled bool
	store        Store
	fetcher      Fetcher
	metrics      *Metrics
	now          func() time.Time
	logger       *zap.Logger
	refreshes    singleflight.Group
}

var _ Calendar = (*Resolver)(nil)

// NewResolver creates a Resolver from explicit options
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.CacheEnabled && opts.Store == nil {
		return nil, errors.New("store is required when the cache is enabled")
	}
	if opts.Locale == "" {
		opts.Locale = LocaleRussia
	}
	if _, err := ParseLocale(string(opts.Locale)); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Resolver{
		locale:       opts.Locale,
		flags:        opts.Flags,
		cacheEnabled: opts.CacheEnabled,
		store:        opts.Store,
		fetcher:      opts.Fetcher,
		metrics:      opts.Metrics,
		now:          opts.Now,
		logger:       opts.Logger.With(zap.String("locale", string(opts.Locale))),
	}, nil
}

// Locale returns the locale the resolver answers for
func (r *Resolver) Locale() Locale {
	return r.locale
}

// Resolve answers q from the cache or the remote.
//
// Cache disabled or a range crossing a year boundary: the remote is asked for
// exactly the requested scope. Otherwise a fresh cached year is sliced, and a
// missing or stale one is refreshed with a whole-year fetch first. Error statuses
// from the remote are returned in Result.Status and never cached.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if !r.cacheEnabled {
		return r.direct(ctx, q)
	}
	if !q.SameYear() {
		r.logger.Debug("Range crosses a year boundary, bypassing cache",
			zap.Stringer("query", q))
		return r.direct(ctx, q)
	}

	start, length, err := q.Span()
	if err != nil {
		return nil, err
	}

	year := q.Year()
	if r.store.IsFresh(year, string(r.locale)) {
		result, err := r.hit(year, start, length, q.From)
		if err == nil {
			r.metrics.observeQuery(PathHit)
			return result, nil
		}
		r.logger.Warn("Cached year unusable, refreshing",
			zap.Int("year", year),
			zap.Error(err))
	}

	return r.refresh(ctx, q, start, length)
}

func (r *Resolver) hit(year, start, length int, from time.Time) (*Result, error) {
	codes, err := r.store.ReadSlice(year, string(r.locale), start, start+length)
	if err != nil {
		return nil, err
	}

	days, err := DecodeDays(codes, from)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Using cached year",
		zap.Int("year", year),
		zap.Int("offset", start),
		zap.Int("days", length))

	return &Result{Days: days}, nil
}

func (r *Resolver) refresh(ctx context.Context, q Query, start, length int) (*Result, error) {
	resp, err := r.loadYear(ctx, q.Year())
	if err != nil {
		return nil, err
	}
	r.metrics.observeQuery(PathRefresh)

	if resp.Failed() {
		return &Result{Status: resp.Status}, nil
	}

	days, err := DecodeDays(resp.Codes[start:start+length], q.From)
	if err != nil {
		return nil, err
	}
	return &Result{Days: days}, nil
}

// loadYear fetches a whole year and caches it unless the remote answered with
// an error status. Concurrent loads of the same year share one fetch; each
// caller stops waiting when its own ctx is done.
func (r *Resolver) loadYear(ctx context.Context, year int) (Response, error) {
	ch := r.refreshes.DoChan(strconv.Itoa(year), func() (interface{}, error) {
		r.logger.Info("Fetching whole year", zap.Int("year", year))

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		body, err := r.fetcher.Fetch(fetchCtx, Request{Year: year, Locale: r.locale, Flags: r.flags})
		if err != nil {
			r.metrics.observeFetch(OutcomeTransportError)
			return Response{}, transportError(err)
		}

		resp, err := ParseResponse(body, dateutil.DaysInYear(year))
		if err != nil {
			r.metrics.observeFetch(OutcomeMalformed)
			return Response{}, fmt.Errorf("year %d: %w", year, err)
		}

		if resp.Failed() {
			r.metrics.observeFetch(OutcomeRemoteError)
			r.logger.Warn("Remote answered with an error status, not caching",
				zap.Int("year", year),
				zap.Stringer("status", resp.Status))
			return resp, nil
		}
		r.metrics.observeFetch(OutcomeOK)

		if err := r.store.Write(year, string(r.locale), resp.Codes, r.now()); err != nil {
			// the fetched sequence still answers the current query
			r.metrics.observeWriteFailure()
			r.logger.Warn("Failed to cache year",
				zap.Int("year", year),
				zap.Error(err))
		}

		return resp, nil
	})

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Response{}, res.Err
		}
		if res.Shared {
			r.logger.Debug("Joined in-flight year fetch", zap.Int("year", year))
		}
		return res.Val.(Response), nil
	}
}

func (r *Resolver) direct(ctx context.Context, q Query) (*Result, error) {
	r.metrics.observeQuery(PathDirect)

	body, err := r.fetcher.Fetch(ctx, q.Request(r.locale, r.flags))
	if err != nil {
		r.metrics.observeFetch(OutcomeTransportError)
		return nil, transportError(err)
	}

	resp, err := ParseResponse(body, q.Days())
	if err != nil {
		r.metrics.observeFetch(OutcomeMalformed)
		return nil, fmt.Errorf("%s: %w", q, err)
	}

	if resp.Failed() {
		r.metrics.observeFetch(OutcomeRemoteError)
		return &Result{Status: resp.Status}, nil
	}
	r.metrics.observeFetch(OutcomeOK)

	days, err := DecodeDays(resp.Codes, q.From)
	if err != nil {
		return nil, err
	}
	return &Result{Days: days}, nil
}

func transportError(err error) error {
	if errors.Is(err, ErrTransport) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// Day returns the status of a single date.
// A whole-response error status is returned as the status with a nil error.
func (r *Resolver) Day(ctx context.Context, date time.Time) (DayStatus, error) {
	result, err := r.Resolve(ctx, PointQuery(date))
	if err != nil {
		return 0, err
	}
	if result.Failed() {
		return result.Status, nil
	}
	return result.Days[0].Status, nil
}

// Today returns the status of the current date
func (r *Resolver) Today(ctx context.Context) (DayStatus, error) {
	return r.Day(ctx, dateutil.Today(r.now()))
}

// Tomorrow returns the status of the next date
func (r *Resolver) Tomorrow(ctx context.Context) (DayStatus, error) {
	return r.Day(ctx, dateutil.Tomorrow(r.now()))
}

// IsWorkingDay checks if the given date is a working day.
// Error statuses and failures yield Unknown.
func (r *Resolver) IsWorkingDay(ctx context.Context, date time.Time) (Tristate, error) {
	status, err := r.Day(ctx, date)
	if err != nil {
		return Unknown, err
	}
	return status.IsWorkingDay(), nil
}

// Month returns every day of the month
func (r *Resolver) Month(ctx context.Context, year int, month time.Month) (*Result, error) {
	return r.Resolve(ctx, MonthQuery(year, month))
}

// Year returns every day of the year
func (r *Resolver) Year(ctx context.Context, year int) (*Result, error) {
	return r.Resolve(ctx, YearQuery(year))
}

// Range returns every day between from and to inclusive
func (r *Resolver) Range(ctx context.Context, from, to time.Time) (*Result, error) {
	return r.Resolve(ctx, RangeQuery(from, to))
}

// IsLeap asks the remote whether year is a leap year.
// Any answer other than "0" or "1", and any failure, is Unknown.
func (r *Resolver) IsLeap(ctx context.Context, year int) Tristate {
	body, err := r.fetcher.IsLeap(ctx, year)
	if err != nil {
		r.logger.Warn("Leap year check failed",
			zap.Int("year", year),
			zap.Error(err))
		return Unknown
	}

	switch body {
	case "1":
		return Yes
	case "0":
		return No
	default:
		r.logger.Warn("Unexpected leap year answer",
			zap.Int("year", year),
			zap.String("body", body))
		return Unknown
	}
}

// Warm makes sure a fresh record for year is cached, fetching it only when needed
func (r *Resolver) Warm(ctx context.Context, year int) error {
	if !r.cacheEnabled {
		return ErrCacheDisabled
	}
	if r.store.IsFresh(year, string(r.locale)) {
		r.logger.Debug("Year already cached", zap.Int("year", year))
		return nil
	}
	return r.Refresh(ctx, year)
}

// Refresh fetches and caches year unconditionally
func (r *Resolver) Refresh(ctx context.Context, year int) error {
	if !r.cacheEnabled {
		return ErrCacheDisabled
	}

	resp, err := r.loadYear(ctx, year)
	if err != nil {
		return err
	}
	if resp.Failed() {
		return &StatusError{Status: resp.Status, Date: dateutil.Date(year, time.January, 1)}
	}
	if !r.store.IsFresh(year, string(r.locale)) {
		return fmt.Errorf("%w: year %d was fetched but not stored", cache.ErrPersistence, year)
	}
	return nil
}

package calendar

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/isdayoff/internal/cache"
	"github.com/username/isdayoff/pkg/dateutil"
	"go.uber.org/zap"
)

// fakeFeed serves requests by slicing per-year code sequences, like the
// remote would. override, when set, answers every request instead.
type fakeFeed struct {
	mu       sync.Mutex
	years    map[int]string
	fill     byte
	override func(Request) (string, error)
	leap     string
	leapErr  error
	requests []Request
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{years: map[int]string{}, fill: '0'}
}

func (f *fakeFeed) year(y int) string {
	if codes, ok := f.years[y]; ok {
		return codes
	}
	return strings.Repeat(string(f.fill), dateutil.DaysInYear(y))
}

func (f *fakeFeed) Fetch(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.override != nil {
		return f.override(req)
	}

	if req.IsRange() {
		var b strings.Builder
		for d := req.From; !d.After(req.To); d = d.AddDate(0, 0, 1) {
			b.WriteByte(f.year(d.Year())[dateutil.DayOfYear(d)-1])
		}
		return b.String(), nil
	}

	codes := f.year(req.Year)
	switch {
	case req.Day != 0:
		i := dateutil.DayOfYear(dateutil.Date(req.Year, req.Month, req.Day)) - 1
		return codes[i : i+1], nil
	case req.Month != 0:
		start, length := dateutil.MonthSpan(req.Year, req.Month)
		return codes[start : start+length], nil
	default:
		return codes, nil
	}
}

func (f *fakeFeed) IsLeap(_ context.Context, _ int) (string, error) {
	return f.leap, f.leapErr
}

func (f *fakeFeed) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeFeed) last() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// countingStore records every store access
type countingStore struct {
	Store
	mu       sync.Mutex
	accesses int
}

func (s *countingStore) touch() {
	s.mu.Lock()
	s.accesses++
	s.mu.Unlock()
}

func (s *countingStore) IsFresh(year int, locale string) bool {
	s.touch()
	return s.Store.IsFresh(year, locale)
}

func (s *countingStore) Write(year int, locale string, codes string, now time.Time) error {
	s.touch()
	return s.Store.Write(year, locale, codes, now)
}

func (s *countingStore) ReadSlice(year int, locale string, start, end int) (string, error) {
	s.touch()
	return s.Store.ReadSlice(year, locale, start, end)
}

var testNow = time.Date(2021, time.March, 15, 12, 0, 0, 0, time.UTC)

type resolverFixture struct {
	resolver *Resolver
	feed     *fakeFeed
	store    *cache.FileStore
	fs       afero.Fs
	metrics  *Metrics
}

func newFixture(t *testing.T) *resolverFixture {
	t.Helper()
	return newFixtureOn(t, afero.NewMemMapFs())
}

func newFixtureOn(t *testing.T, fs afero.Fs) *resolverFixture {
	t.Helper()

	feed := newFakeFeed()
	store := cache.NewFileStore(fs, "/cache", cache.DefaultRetentionDays, zap.NewNop()).
		WithClock(func() time.Time { return testNow })
	metrics := NewMetrics(prometheus.NewRegistry())

	resolver, err := NewResolver(Options{
		Locale:       LocaleRussia,
		CacheEnabled: true,
		Store:        store,
		Fetcher:      feed,
		Metrics:      metrics,
		Now:          func() time.Time { return testNow },
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)

	return &resolverFixture{resolver: resolver, feed: feed, store: store, fs: fs, metrics: metrics}
}

func TestNewResolver_Validation(t *testing.T) {
	_, err := NewResolver(Options{CacheEnabled: false})
	assert.Error(t, err, "fetcher is required")

	_, err = NewResolver(Options{Fetcher: newFakeFeed(), CacheEnabled: true})
	assert.Error(t, err, "store is required with cache enabled")

	_, err = NewResolver(Options{Fetcher: newFakeFeed(), Locale: "xx"})
	assert.Error(t, err)

	r, err := NewResolver(Options{Fetcher: newFakeFeed()})
	require.NoError(t, err)
	assert.Equal(t, LocaleRussia, r.Locale())
}

func TestResolver_CachedYearAnswersPointQueries(t *testing.T) {
	f := newFixture(t)
	codes := "1" + strings.Repeat("0", 364)
	require.NoError(t, f.store.Write(2021, "ru", codes, testNow))

	status, err := f.resolver.Day(context.Background(), dateutil.Date(2021, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusNonWorkingDay, status)

	status, err = f.resolver.Day(context.Background(), dateutil.Date(2021, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, StatusWorkingDay, status)

	assert.Zero(t, f.feed.calls())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(PathHit)))
}

func TestResolver_RefreshCachesWholeYear(t *testing.T) {
	f := newFixture(t)
	f.feed.years[2021] = "1" + strings.Repeat("0", 364)

	result, err := f.resolver.Month(context.Background(), 2021, time.January)
	require.NoError(t, err)
	require.Len(t, result.Days, 31)
	assert.Equal(t, StatusNonWorkingDay, result.Days[0].Status)
	assert.Equal(t, dateutil.Date(2021, 1, 31), result.Days[30].Date)

	require.Equal(t, 1, f.feed.calls())
	req := f.feed.last()
	assert.Equal(t, 2021, req.Year)
	assert.Zero(t, req.Month, "refresh asks for the whole year")
	assert.True(t, f.store.IsFresh(2021, "ru"))

	_, err = f.resolver.Day(context.Background(), dateutil.Date(2021, 12, 31))
	require.NoError(t, err)
	assert.Equal(t, 1, f.feed.calls(), "second query is served from the cache")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(PathRefresh)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.fetches.WithLabelValues(OutcomeOK)))
}

func TestResolver_ErrorStatusIsNeverCached(t *testing.T) {
	f := newFixture(t)
	f.feed.override = func(Request) (string, error) { return "199", nil }

	result, err := f.resolver.Year(context.Background(), 2021)
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Equal(t, StatusServiceError, result.Status)
	assert.Empty(t, result.Days)
	assert.False(t, f.store.IsFresh(2021, "ru"))

	status, err := f.resolver.Day(context.Background(), dateutil.Date(2021, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusServiceError, status)
	assert.Equal(t, 2, f.feed.calls(), "every query retries the remote")

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.fetches.WithLabelValues(OutcomeRemoteError)))
}

func TestResolver_CrossYearRangeAlwaysDirect(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(2023, "ru", strings.Repeat("1", 365), testNow))
	require.NoError(t, f.store.Write(2024, "ru", strings.Repeat("1", 366), testNow))

	from, to := dateutil.Date(2023, 6, 10), dateutil.Date(2024, 1, 5)
	result, err := f.resolver.Range(context.Background(), from, to)
	require.NoError(t, err)

	require.Equal(t, 1, f.feed.calls())
	req := f.feed.last()
	assert.True(t, req.IsRange())
	assert.Equal(t, from, req.From)
	assert.Equal(t, to, req.To)

	require.Len(t, result.Days, 210)
	// the feed answers all zeros, the cache all ones: the answer must come from the feed
	assert.Equal(t, StatusWorkingDay, result.Days[0].Status)
	assert.Equal(t, to, result.Days[209].Date)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(PathDirect)))
}

func TestResolver_InvalidRangeTouchesNothing(t *testing.T) {
	feed := newFakeFeed()
	store := &countingStore{Store: cache.NewFileStore(afero.NewMemMapFs(), "/cache", 30, zap.NewNop())}
	r, err := NewResolver(Options{CacheEnabled: true, Store: store, Fetcher: feed})
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to time.Time
	}{
		{"inverted", dateutil.Date(2021, 5, 2), dateutil.Date(2021, 5, 1)},
		{"too long", dateutil.Date(2024, 1, 1), dateutil.Date(2025, 1, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Range(context.Background(), tt.from, tt.to)
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}

	assert.Zero(t, feed.calls())
	assert.Zero(t, store.accesses)
}

func TestResolver_CacheIsTransparent(t *testing.T) {
	codes := []byte(strings.Repeat("0", 365))
	for i := 0; i < len(codes); i += 7 {
		codes[i] = '1'
	}
	codes[58] = '2'
	codes[120] = '4'

	queries := []Query{
		PointQuery(dateutil.Date(2021, 2, 28)),
		PointQuery(dateutil.Date(2021, 12, 31)),
		MonthQuery(2021, time.February),
		MonthQuery(2021, time.May),
		YearQuery(2021),
		RangeQuery(dateutil.Date(2021, 2, 20), dateutil.Date(2021, 3, 5)),
	}

	cached := newFixture(t)
	cached.feed.years[2021] = string(codes)

	directFeed := newFakeFeed()
	directFeed.years[2021] = string(codes)
	direct, err := NewResolver(Options{Fetcher: directFeed})
	require.NoError(t, err)

	for _, q := range queries {
		t.Run(q.String(), func(t *testing.T) {
			want, err := direct.Resolve(context.Background(), q)
			require.NoError(t, err)

			got, err := cached.resolver.Resolve(context.Background(), q)
			require.NoError(t, err)

			assert.Equal(t, want, got)
		})
	}

	assert.Equal(t, 1, cached.feed.calls(), "one whole-year fetch serves every query")
}

func TestResolver_CacheDisabledFetchesExactScope(t *testing.T) {
	feed := newFakeFeed()
	feed.years[2021] = "1" + strings.Repeat("0", 364)
	r, err := NewResolver(Options{Fetcher: feed, Locale: LocaleKazakhstan, Flags: RequestFlags{SixDayWeek: true}})
	require.NoError(t, err)

	status, err := r.Day(context.Background(), dateutil.Date(2021, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusNonWorkingDay, status)

	req := feed.last()
	assert.Equal(t, 2021, req.Year)
	assert.Equal(t, time.January, req.Month)
	assert.Equal(t, 1, req.Day)
	assert.Equal(t, LocaleKazakhstan, req.Locale)
	assert.True(t, req.Flags.SixDayWeek)

	assert.ErrorIs(t, r.Warm(context.Background(), 2021), ErrCacheDisabled)
}

func TestResolver_WriteFailureStillAnswers(t *testing.T) {
	f := newFixtureOn(t, afero.NewReadOnlyFs(afero.NewMemMapFs()))
	f.feed.years[2021] = "1" + strings.Repeat("0", 364)

	status, err := f.resolver.Day(context.Background(), dateutil.Date(2021, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusNonWorkingDay, status)
	assert.False(t, f.store.IsFresh(2021, "ru"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.writeFailures))

	_, err = f.resolver.Day(context.Background(), dateutil.Date(2021, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, f.feed.calls(), "nothing was cached, so the year is fetched again")

	err = f.resolver.Refresh(context.Background(), 2021)
	assert.ErrorIs(t, err, cache.ErrPersistence)
}

func TestResolver_TransportError(t *testing.T) {
	f := newFixture(t)
	f.feed.override = func(Request) (string, error) { return "", errors.New("connection refused") }

	_, err := f.resolver.Day(context.Background(), dateutil.Date(2021, 1, 1))
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, f.store.IsFresh(2021, "ru"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.fetches.WithLabelValues(OutcomeTransportError)))
}

func TestResolver_MalformedYearIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.feed.override = func(Request) (string, error) { return strings.Repeat("0", 300), nil }

	_, err := f.resolver.Day(context.Background(), dateutil.Date(2021, 1, 1))
	assert.ErrorIs(t, err, ErrLengthMismatch)
	assert.False(t, f.store.IsFresh(2021, "ru"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.fetches.WithLabelValues(OutcomeMalformed)))
}

func TestResolver_StaleYearIsRefreshed(t *testing.T) {
	f := newFixture(t)
	created := testNow.AddDate(0, 0, -(cache.DefaultRetentionDays + 1))
	require.NoError(t, f.store.Write(2021, "ru", strings.Repeat("1", 365), created))

	status, err := f.resolver.Day(context.Background(), dateutil.Date(2021, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusWorkingDay, status, "stale record is ignored")
	assert.Equal(t, 1, f.feed.calls())

	record, err := f.store.Read(2021, "ru")
	require.NoError(t, err)
	assert.Equal(t, dateutil.DateOf(testNow), record.CreatedOn)
}

func TestResolver_CorruptYearIsRefreshed(t *testing.T) {
	f := newFixture(t)
	path := f.store.Path(2021, "ru")
	require.NoError(t, afero.WriteFile(f.fs, path, []byte("20210315\n0x0\n"), 0o644))
	require.False(t, f.store.IsFresh(2021, "ru"))

	status, err := f.resolver.Day(context.Background(), dateutil.Date(2021, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, StatusWorkingDay, status)
	assert.Equal(t, 1, f.feed.calls())
}

func TestResolver_TruncatedYearIsRefreshed(t *testing.T) {
	tests := []struct {
		name  string
		codes string
	}{
		{"short", strings.Repeat("1", 100)},
		{"one day missing", strings.Repeat("1", 364)},
		{"leap length", strings.Repeat("1", 366)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.feed.years[2021] = "1" + strings.Repeat("0", 364)

			// recent creation date, valid codes, wrong length
			record := "20210315\n" + tt.codes + "\n"
			require.NoError(t, afero.WriteFile(f.fs, f.store.Path(2021, "ru"), []byte(record), 0o644))
			require.False(t, f.store.IsFresh(2021, "ru"))

			status, err := f.resolver.Day(context.Background(), dateutil.Date(2021, 1, 2))
			require.NoError(t, err)
			assert.Equal(t, StatusWorkingDay, status)
			assert.Equal(t, 1, f.feed.calls())
			assert.Zero(t, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(PathHit)))

			cached, err := f.store.Read(2021, "ru")
			require.NoError(t, err)
			assert.Len(t, cached.Codes, 365, "refresh replaced the record")
		})
	}
}

// gatedFeed holds every fetch until release is closed
type gatedFeed struct {
	*fakeFeed
	started chan struct{}
	release chan struct{}

	mu       sync.Mutex
	fetchCtx context.Context
}

func (g *gatedFeed) Fetch(ctx context.Context, req Request) (string, error) {
	g.mu.Lock()
	g.fetchCtx = ctx
	g.mu.Unlock()
	g.started <- struct{}{}

	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.fakeFeed.Fetch(ctx, req)
}

func (g *gatedFeed) lastCtx() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetchCtx
}

func TestResolver_CancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	feed := &gatedFeed{fakeFeed: newFakeFeed(), started: make(chan struct{}, 4), release: make(chan struct{})}
	feed.years[2021] = "1" + strings.Repeat("0", 364)
	store := cache.NewFileStore(afero.NewMemMapFs(), "/cache", cache.DefaultRetentionDays, zap.NewNop()).
		WithClock(func() time.Time { return testNow })

	r, err := NewResolver(Options{
		CacheEnabled: true,
		Store:        store,
		Fetcher:      feed,
		Now:          func() time.Time { return testNow },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.Day(ctx, dateutil.Date(2021, 1, 1))
		first <- err
	}()
	<-feed.started

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}
	assert.NoError(t, feed.lastCtx().Err(), "the shared fetch outlives its first caller")

	type answer struct {
		status DayStatus
		err    error
	}
	second := make(chan answer, 1)
	go func() {
		status, err := r.Day(context.Background(), dateutil.Date(2021, 1, 1))
		second <- answer{status, err}
	}()
	close(feed.release)

	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, StatusNonWorkingDay, got.status)
	case <-time.After(time.Second):
		t.Fatal("second caller got no answer")
	}
	assert.Equal(t, 1, feed.calls(), "second caller joined the fetch or read its result from the cache")
	assert.True(t, store.IsFresh(2021, "ru"))
}

func TestResolver_DirectErrorStatus(t *testing.T) {
	feed := newFakeFeed()
	feed.override = func(Request) (string, error) { return "100", nil }
	r, err := NewResolver(Options{Fetcher: feed})
	require.NoError(t, err)

	status, err := r.Day(context.Background(), dateutil.Date(2021, 2, 28))
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidDate, status)

	working, err := r.IsWorkingDay(context.Background(), dateutil.Date(2021, 2, 28))
	require.NoError(t, err)
	assert.Equal(t, Unknown, working)
}

func TestResolver_IsWorkingDay(t *testing.T) {
	f := newFixture(t)
	f.feed.years[2021] = "12" + strings.Repeat("0", 363)

	tests := []struct {
		date time.Time
		want Tristate
	}{
		{dateutil.Date(2021, 1, 1), No},
		{dateutil.Date(2021, 1, 2), Yes},
		{dateutil.Date(2021, 1, 3), Yes},
	}
	for _, tt := range tests {
		got, err := f.resolver.IsWorkingDay(context.Background(), tt.date)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.date.Format("2006-01-02"))
	}
}

func TestResolver_TodayAndTomorrow(t *testing.T) {
	f := newFixture(t)
	codes := []byte(strings.Repeat("0", 365))
	codes[dateutil.DayOfYear(testNow)] = '1' // March 16
	f.feed.years[2021] = string(codes)

	today, err := f.resolver.Today(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusWorkingDay, today)

	tomorrow, err := f.resolver.Tomorrow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNonWorkingDay, tomorrow)
}

func TestResolver_IsLeap(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want Tristate
	}{
		{"leap", "1", nil, Yes},
		{"not leap", "0", nil, No},
		{"garbage", "199", nil, Unknown},
		{"failure", "", ErrTransport, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := newFakeFeed()
			feed.leap, feed.leapErr = tt.body, tt.err
			r, err := NewResolver(Options{Fetcher: feed})
			require.NoError(t, err)

			assert.Equal(t, tt.want, r.IsLeap(context.Background(), 2024))
		})
	}
}

func TestResolver_WarmAndRefresh(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.resolver.Warm(context.Background(), 2021))
	require.NoError(t, f.resolver.Warm(context.Background(), 2021))
	assert.Equal(t, 1, f.feed.calls(), "warm skips a fresh year")

	require.NoError(t, f.resolver.Refresh(context.Background(), 2021))
	assert.Equal(t, 2, f.feed.calls(), "refresh always fetches")

	f.feed.override = func(Request) (string, error) { return "101", nil }
	err := f.resolver.Refresh(context.Background(), 1990)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, StatusNotFound, statusErr.Status)
}

func TestResolver_ConcurrentQueries(t *testing.T) {
	f := newFixture(t)
	f.feed.years[2021] = "1" + strings.Repeat("0", 364)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(day int) {
			defer wg.Done()
			status, err := f.resolver.Day(context.Background(), dateutil.Date(2021, 1, 1+day))
			if err != nil {
				errs <- err
				return
			}
			want := StatusWorkingDay
			if day == 0 {
				want = StatusNonWorkingDay
			}
			if status != want {
				errs <- errors.New("unexpected status " + status.String())
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, f.store.IsFresh(2021, "ru"))
}

package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/username/isdayoff/pkg/dateutil"
	"go.uber.org/zap"
)

const (
	isdayoffBaseURL    = "https://isdayoff.ru"
	defaultHTTPTimeout = 10 * time.Second
	defaultRetries     = 3
	maxResponseBytes   = 64 << 10
)

// Version is reported in the User-Agent header
var Version = "dev"

// ErrTransport means the remote could not be reached or answered with an unusable response
var ErrTransport = errors.New("isdayoff.ru unavailable")

// RequestFlags are the optional switches appended to every request
type RequestFlags struct {
	PreHolidays  bool // mark pre-holiday days as short days (pre=1)
	SixDayWeek   bool // six-day working week (sd=1)
	PandemicDays bool // mark pandemic non-working days as working (covid=1)
}

// Request describes one getdata call. Year alone asks for a whole year,
// Month and Day narrow it down; From and To ask for a date range instead.
type Request struct {
	Year   int
	Month  time.Month
	Day    int
	From   time.Time
	To     time.Time
	Locale Locale
	Flags  RequestFlags
}

// IsRange reports whether the request uses the date1/date2 form
func (r Request) IsRange() bool {
	return !r.From.IsZero() && !r.To.IsZero()
}

// Values encodes the request as query parameters
func (r Request) Values() url.Values {
	v := url.Values{}
	if r.IsRange() {
		v.Set("date1", dateutil.FormatCompact(r.From))
		v.Set("date2", dateutil.FormatCompact(r.To))
	} else {
		v.Set("year", strconv.Itoa(r.Year))
		if r.Month != 0 {
			v.Set("month", strconv.Itoa(int(r.Month)))
		}
		if r.Day != 0 {
			v.Set("day", strconv.Itoa(r.Day))
		}
	}
	v.Set("cc", string(r.Locale))
	v.Set("pre", boolParam(r.Flags.PreHolidays))
	v.Set("covid", boolParam(r.Flags.PandemicDays))
	v.Set("sd", boolParam(r.Flags.SixDayWeek))
	return v
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Fetcher is the remote authority
type Fetcher interface {
	// Fetch returns the raw status string for the request
	Fetch(ctx context.Context, req Request) (string, error)

	// IsLeap returns the raw leap-year answer ("0" or "1")
	IsLeap(ctx context.Context, year int) (string, error)
}

// Client implements Fetcher using the isdayoff.ru API
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	userAgent  string
	logger     *zap.Logger
}

// NewClient creates a new isdayoff.ru client. An empty baseURL means the public API.
func NewClient(baseURL string, timeout time.Duration, retries int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = isdayoffBaseURL
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if retries < 0 {
		retries = defaultRetries
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = retries
	httpClient.RetryWaitMin = time.Second
	httpClient.RetryWaitMax = 5 * time.Second
	httpClient.HTTPClient.Timeout = timeout
	httpClient.Logger = retryLogger{logger.Sugar()}
	// Keep the last response so error codes in its body reach the caller
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		userAgent:  "isdayoff-go/" + Version,
		logger:     logger,
	}
}

// SetRetryWait changes the backoff bounds between attempts
func (c *Client) SetRetryWait(minWait, maxWait time.Duration) {
	c.httpClient.RetryWaitMin = minWait
	c.httpClient.RetryWaitMax = maxWait
}

// Fetch calls /api/getdata
func (c *Client) Fetch(ctx context.Context, req Request) (string, error) {
	return c.get(ctx, "/api/getdata", req.Values())
}

// IsLeap calls /api/isleap
func (c *Client) IsLeap(ctx context.Context, year int) (string, error) {
	return c.get(ctx, "/api/isleap", url.Values{"year": {strconv.Itoa(year)}})
}

// get performs the request and returns the trimmed body.
// Non-200 answers carrying one of the remote error codes are returned as body
// text so the caller can classify them.
func (c *Client) get(ctx context.Context, path string, query url.Values) (string, error) {
	u := c.baseURL + path + "?" + query.Encode()

	c.logger.Debug("Fetching from isdayoff.ru", zap.String("url", u))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if resp == nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrTransport, readErr)
	}
	text := strings.TrimSpace(string(body))

	if resp.StatusCode == http.StatusOK {
		c.logger.Debug("Received data",
			zap.String("path", path),
			zap.Int("length", len(text)))
		return text, nil
	}

	if status, perr := ParseStatus(text); perr == nil && status.IsError() {
		c.logger.Warn("isdayoff.ru rejected request",
			zap.String("url", u),
			zap.Int("http_status", resp.StatusCode),
			zap.Stringer("status", status))
		return text, nil
	}

	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return "", fmt.Errorf("%w: API returned status %d", ErrTransport, resp.StatusCode)
}

// retryLogger routes retryablehttp logs to zap
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/username/isdayoff/pkg/dateutil"
	"go.uber.org/zap"
)

// Warmer makes sure a year is cached; see calendar.Resolver.Warm
type Warmer interface {
	Warm(ctx context.Context, year int) error
}

// Daemon keeps the year cache warm by refreshing it once a day
type Daemon struct {
	warmer      Warmer
	dailyHour   int // Hour to run daily warm-up (0-23)
	dailyMinute int // Minute to run daily warm-up (0-59)
	tick        time.Duration
	now         func() time.Time
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	lastRun     time.Time  // Last successful run, to avoid duplicates within a day
	mu          sync.Mutex // Protect against concurrent runs
	running     bool
}

// NewDaemon creates a new daemon instance with daily schedule
func NewDaemon(warmer Warmer, dailyHour, dailyMinute int, logger *zap.Logger) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		warmer:      warmer,
		dailyHour:   dailyHour,
		dailyMinute: dailyMinute,
		tick:        time.Minute,
		now:         time.Now,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start warms the cache immediately and then daily at the scheduled time.
// It blocks until Stop is called or SIGINT/SIGTERM arrives.
func (d *Daemon) Start() error {
	d.logger.Info("Daemon started",
		zap.Int("daily_hour", d.dailyHour),
		zap.Int("daily_minute", d.dailyMinute))

	if err := d.RunOnce(d.ctx); err != nil {
		d.logger.Error("Initial warm-up failed", zap.Error(err))
	}

	nextRun := d.calculateNextRun(d.now())
	d.logger.Info("Next warm-up scheduled",
		zap.Time("next_run", nextRun),
		zap.Duration("wait_duration", nextRun.Sub(d.now())))

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Check every minute if it's time to run
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Daemon stopped")
			return nil

		case sig := <-sigChan:
			d.logger.Info("Received signal, shutting down",
				zap.String("signal", sig.String()))
			d.Stop()
			return nil

		case <-ticker.C:
			now := d.now()
			if !d.shouldRunAt(now) {
				continue
			}

			d.logger.Info("Starting scheduled warm-up", zap.Time("time", now))
			if err := d.RunOnce(d.ctx); err != nil {
				d.logger.Error("Warm-up failed", zap.Error(err))
				continue
			}

			nextRun = d.calculateNextRun(now)
			d.logger.Info("Next warm-up scheduled",
				zap.Time("next_run", nextRun),
				zap.Duration("wait_duration", nextRun.Sub(now)))
		}
	}
}

// Stop stops the daemon
func (d *Daemon) Stop() {
	d.cancel()
}

// RunOnce warms every year returned by YearsToWarm.
// Protected with a mutex so overlapping runs cannot fetch the same year twice.
func (d *Daemon) RunOnce(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		d.logger.Warn("Warm-up already running, skipping concurrent execution")
		return fmt.Errorf("warm-up already in progress")
	}

	now := d.now()
	if d.ranOn(now) {
		d.mu.Unlock()
		d.logger.Debug("Already warmed today, skipping", zap.Time("last_run", d.lastRun))
		return nil
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	var errs []error
	for _, year := range YearsToWarm(now) {
		if err := d.warmer.Warm(ctx, year); err != nil {
			d.logger.Warn("Failed to warm year",
				zap.Int("year", year),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("year %d: %w", year, err))
			continue
		}
		d.logger.Info("Year warm", zap.Int("year", year))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	d.mu.Lock()
	d.lastRun = now
	d.mu.Unlock()
	return nil
}

// YearsToWarm returns the current year, plus the next one during December
// when the remote usually publishes it.
func YearsToWarm(now time.Time) []int {
	years := []int{now.Year()}
	if now.Month() == time.December {
		years = append(years, now.Year()+1)
	}
	return years
}

// scheduledOn returns the warm-up time on now's calendar day in now's location
func (d *Daemon) scheduledOn(now time.Time) time.Time {
	start := dateutil.StartOfDay(now)
	return time.Date(start.Year(), start.Month(), start.Day(),
		d.dailyHour, d.dailyMinute, 0, 0, start.Location())
}

// calculateNextRun calculates the next scheduled run time in now's location
func (d *Daemon) calculateNextRun(now time.Time) time.Time {
	today := d.scheduledOn(now)

	// If target time already passed today, schedule for tomorrow
	if !now.Before(today) {
		return today.AddDate(0, 0, 1)
	}

	return today
}

// ranOn reports whether a run succeeded on now's calendar day. Callers hold d.mu.
func (d *Daemon) ranOn(now time.Time) bool {
	return !d.lastRun.IsZero() && dateutil.IsSameDay(d.lastRun, now)
}

// shouldRunAt reports whether the warm-up is due: the scheduled time has
// passed today and no run has succeeded yet today. A failed run is retried
// on the next tick.
func (d *Daemon) shouldRunAt(now time.Time) bool {
	if now.Before(d.scheduledOn(now)) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.ranOn(now)
}

package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/username/isdayoff/internal/cache"
	"github.com/username/isdayoff/internal/calendar"
	"github.com/username/isdayoff/internal/daemon"
	"github.com/username/isdayoff/pkg/dateutil"
	"go.uber.org/zap"
)

func dayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "day [DATE]",
		Short: "Show the status of a date (default: today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := dateArg(args, 0)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				status, err := a.resolver.Day(cmd.Context(), date)
				if err != nil {
					return err
				}
				printDay(date, status)
				return nil
			})
		},
	}
}

func todayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show the status of today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				status, err := a.resolver.Today(cmd.Context())
				if err != nil {
					return err
				}
				printDay(dateutil.Today(time.Now()), status)
				return nil
			})
		},
	}
}

func tomorrowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tomorrow",
		Short: "Show the status of tomorrow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				status, err := a.resolver.Tomorrow(cmd.Context())
				if err != nil {
					return err
				}
				printDay(dateutil.Tomorrow(time.Now()), status)
				return nil
			})
		},
	}
}

func monthCmd() *cobra.Command {
	var hoursPerDay int

	cmd := &cobra.Command{
		Use:   "month YYYY-MM",
		Short: "List every day of a month with a working time summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			month, err := time.Parse("2006-01", args[0])
			if err != nil {
				return fmt.Errorf("invalid month %q, expected YYYY-MM", args[0])
			}
			return withApp(func(a *app) error {
				q := calendar.MonthQuery(month.Year(), month.Month())
				result, err := a.resolver.Resolve(cmd.Context(), q)
				if err != nil {
					return err
				}
				return printResult(q, result, true, hoursPerDay)
			})
		},
	}

	cmd.Flags().IntVar(&hoursPerDay, "hours-per-day", 8, "Length of a regular working day")
	return cmd
}

func yearCmd() *cobra.Command {
	var hoursPerDay int
	var list bool

	cmd := &cobra.Command{
		Use:   "year YYYY",
		Short: "Show the working time summary of a year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := yearArg(args, 0)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				q := calendar.YearQuery(year)
				result, err := a.resolver.Resolve(cmd.Context(), q)
				if err != nil {
					return err
				}
				return printResult(q, result, list, hoursPerDay)
			})
		},
	}

	cmd.Flags().IntVar(&hoursPerDay, "hours-per-day", 8, "Length of a regular working day")
	cmd.Flags().BoolVar(&list, "list", false, "List every day")
	return cmd
}

func rangeCmd() *cobra.Command {
	var hoursPerDay int

	cmd := &cobra.Command{
		Use:   "range FROM TO",
		Short: "List every day between two dates inclusive (at most 365 days apart)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := dateArg(args, 0)
			if err != nil {
				return err
			}
			to, err := dateArg(args, 1)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				q := calendar.RangeQuery(from, to)
				result, err := a.resolver.Resolve(cmd.Context(), q)
				if err != nil {
					return err
				}
				return printResult(q, result, true, hoursPerDay)
			})
		},
	}

	cmd.Flags().IntVar(&hoursPerDay, "hours-per-day", 8, "Length of a regular working day")
	return cmd
}

func scanCmd(use string, dir calendar.Direction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " STATUS [DATE]",
		Short: fmt.Sprintf("Find the nearest %s day with the given status (working, non-working, short, pandemic-working)", dir),
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			want, err := calendar.ParseStatusName(args[0])
			if err != nil {
				return err
			}
			anchor, err := dateArg(args, 1)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				date, err := a.resolver.FindFirst(cmd.Context(), anchor, want, dir)
				if err != nil {
					return err
				}
				printDay(date, want)
				return nil
			})
		},
	}
}

func streakCmd() *cobra.Command {
	var past bool

	cmd := &cobra.Command{
		Use:   "streak [DATE]",
		Short: "Count consecutive days sharing the status of a date (default: today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			anchor, err := dateArg(args, 0)
			if err != nil {
				return err
			}
			dir := calendar.Future
			if past {
				dir = calendar.Past
			}
			return withApp(func(a *app) error {
				count, status, err := a.resolver.CountConsecutive(cmd.Context(), anchor, dir)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d %s day(s) in a row (%s)\n",
					anchor.Format("2006-01-02"), count, status, dir)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&past, "past", false, "Count backwards instead of forwards")
	return cmd
}

func isLeapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "isleap YYYY",
		Short: "Ask isdayoff.ru whether a year is a leap year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := yearArg(args, 0)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				fmt.Fprintf(out, "%d: %s\n", year, a.resolver.IsLeap(cmd.Context(), year))
				return nil
			})
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and fill the year cache",
	}

	warm := &cobra.Command{
		Use:   "warm [YYYY]",
		Short: "Fetch and cache a year unless it is already fresh (default: current year, plus next in December)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			years, err := yearsArg(args)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				for _, year := range years {
					if err := a.resolver.Warm(cmd.Context(), year); err != nil {
						return fmt.Errorf("year %d: %w", year, err)
					}
					fmt.Fprintf(out, "%d: cached\n", year)
				}
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status [YYYY]",
		Short: "Show cached record dates and freshness",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			years, err := yearsArg(args)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				if a.store == nil {
					return calendar.ErrCacheDisabled
				}
				locale := string(a.resolver.Locale())
				for _, year := range years {
					record, err := a.store.Read(year, locale)
					if errors.Is(err, cache.ErrNotCached) {
						fmt.Fprintf(out, "%d/%s: not cached\n", year, locale)
						continue
					}
					if err != nil {
						return err
					}
					fresh := "stale"
					if a.store.IsFresh(year, locale) {
						fresh = "fresh"
					}
					fmt.Fprintf(out, "%d/%s: %s, created %s, expires after %s, %d days\n",
						year, locale, fresh,
						record.CreatedOn.Format("2006-01-02"),
						record.ExpiresOn(cfg.Cache.RetentionDays).Format("2006-01-02"),
						len(record.Codes))
				}
				return nil
			})
		},
	}

	cmd.AddCommand(warm, status)
	return cmd
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Keep the year cache warm, refreshing it daily",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Cache.Enabled {
				return calendar.ErrCacheDisabled
			}
			return withApp(func(a *app) error {
				hour, minute := cfg.Daemon.GetDailyTime()
				logger.Info("Starting cache warmer",
					zap.String("locale", string(a.resolver.Locale())),
					zap.String("backend", cfg.Cache.Backend))
				return daemon.NewDaemon(a.resolver, hour, minute, logger).Start()
			})
		},
	}
}

func printDay(date time.Time, status calendar.DayStatus) {
	fmt.Fprintf(out, "%s %s %s\n", date.Format("2006-01-02"), date.Format("Mon"), status)
}

func printResult(q calendar.Query, result *calendar.Result, list bool, hoursPerDay int) error {
	if result.Failed() {
		return &calendar.StatusError{Status: result.Status, Date: q.From}
	}

	if list {
		for _, day := range result.Days {
			printDay(day.Date, day.Status)
		}
		fmt.Fprintln(out)
	}

	s := result.Summary()
	fmt.Fprintf(out, "%s: %d days\n", q, len(result.Days))
	fmt.Fprintf(out, "  Working days:     %d\n", s.WorkDays+s.ShortDays+s.PandemicWorkingDays)
	fmt.Fprintf(out, "  Short days:       %d\n", s.ShortDays)
	fmt.Fprintf(out, "  Non-working days: %d\n", s.NonWorkingDays)
	fmt.Fprintf(out, "  Working hours:    %d (%dh day)\n", result.WorkingHours(hoursPerDay), hoursPerDay)
	return nil
}

// dateArg parses args[i] as a date, defaulting to today when absent
func dateArg(args []string, i int) (time.Time, error) {
	if len(args) <= i {
		return dateutil.Today(time.Now()), nil
	}
	return dateutil.ParseDate(args[i])
}

func yearArg(args []string, i int) (int, error) {
	year, err := strconv.Atoi(args[i])
	if err != nil || year < 1 || year > 9999 {
		return 0, fmt.Errorf("invalid year %q", args[i])
	}
	return year, nil
}

func yearsArg(args []string) ([]int, error) {
	if len(args) == 0 {
		return daemon.YearsToWarm(time.Now()), nil
	}
	year, err := yearArg(args, 0)
	if err != nil {
		return nil, err
	}
	return []int{year}, nil
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/username/isdayoff/internal/cache"
	"github.com/username/isdayoff/internal/calendar"
	"github.com/username/isdayoff/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configPath string
	localeFlag string
	noCache    bool
	logger     *zap.Logger
	cfg        *config.Config
	out        io.Writer = os.Stdout
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "isdayoff",
		Short:         "Working day calendar backed by isdayoff.ru",
		Long:          "Answer working/non-working day questions from isdayoff.ru with a local per-year cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("locale") {
				cfg.Calendar.Locale = localeFlag
			}
			if noCache {
				cfg.Cache.Enabled = false
			}

			if cfg.Log.File != "" {
				logger, err = initFileLogger(cfg.Log.File, cfg.Log.Level)
				if err != nil {
					initLogger(cfg.Log.Level) // Fallback to console
				}
			} else {
				initLogger(cfg.Log.Level)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: ./config.yaml if present)")
	rootCmd.PersistentFlags().StringVarP(&localeFlag, "locale", "l", "", "Country code: ru, ua, kz, by, us, uz, tr")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "Ask isdayoff.ru directly, bypassing the year cache")

	rootCmd.AddCommand(
		dayCmd(),
		todayCmd(),
		tomorrowCmd(),
		monthCmd(),
		yearCmd(),
		rangeCmd(),
		scanCmd("next", calendar.Future),
		scanCmd("prev", calendar.Past),
		streakCmd(),
		isLeapCmd(),
		cacheCmd(),
		daemonCmd(),
	)

	return rootCmd
}

// app holds the components wired from the loaded config
type app struct {
	resolver *calendar.Resolver
	store    cache.Store // nil when the cache is disabled
	registry *prometheus.Registry
	closers  []func() error
}

func newApp() (*app, error) {
	locale, err := calendar.ParseLocale(cfg.Calendar.Locale)
	if err != nil {
		return nil, err
	}

	a := &app{registry: prometheus.NewRegistry()}

	if cfg.Cache.Enabled {
		switch cfg.Cache.Backend {
		case config.BackendBolt:
			bs, err := cache.OpenBoltStore(cfg.Cache.BoltPath, cfg.Cache.RetentionDays, logger)
			if err != nil {
				return nil, err
			}
			a.store = bs
			a.closers = append(a.closers, bs.Close)
		default:
			a.store = cache.NewFileStore(afero.NewOsFs(), cfg.Cache.Dir, cfg.Cache.RetentionDays, logger)
		}
	}

	client := calendar.NewClient(cfg.Calendar.BaseURL, cfg.Calendar.GetTimeout(), cfg.Calendar.Retries, logger)

	opts := calendar.Options{
		Locale: locale,
		Flags: calendar.RequestFlags{
			PreHolidays:  cfg.Calendar.PreHolidays,
			SixDayWeek:   cfg.Calendar.SixDayWeek,
			PandemicDays: cfg.Calendar.PandemicDays,
		},
		CacheEnabled: cfg.Cache.Enabled,
		Fetcher:      client,
		Metrics:      calendar.NewMetrics(a.registry),
		Logger:       logger,
	}
	if a.store != nil {
		opts.Store = a.store
	}

	a.resolver, err = calendar.NewResolver(opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close exports metrics if configured and releases the cache
func (a *app) Close() {
	if cfg.Metrics.Textfile != "" {
		if err := prometheus.WriteToTextfile(cfg.Metrics.Textfile, a.registry); err != nil {
			logger.Warn("Failed to write metrics", zap.String("file", cfg.Metrics.Textfile), zap.Error(err))
		}
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			logger.Warn("Failed to close cache", zap.Error(err))
		}
	}
	_ = logger.Sync()
}

// withApp runs fn with a freshly wired app and closes it afterwards
func withApp(fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func initLogger(level string) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err == nil {
		config.Level = zap.NewAtomicLevelAt(zapLevel)
	}

	var err error
	logger, err = config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
}

func initFileLogger(logFile string, level string) (*zap.Logger, error) {
	// Setup lumberjack for log rotation
	logWriter := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100,  // MB
		MaxBackups: 3,    // Keep max 3 old log files
		MaxAge:     28,   // days
		Compress:   true, // Compress old logs with gzip
	}

	// Setup encoder
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// Parse log level
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	// Create core with lumberjack writer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(logWriter),
		zapLevel,
	)

	return zap.New(core), nil
}

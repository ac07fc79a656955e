package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/username/isdayoff/internal/calendar"
)

// Config represents application configuration
type Config struct {
	Calendar CalendarConfig `mapstructure:"calendar"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// CalendarConfig represents the isdayoff.ru client configuration
type CalendarConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Locale       string `mapstructure:"locale"`
	PreHolidays  bool   `mapstructure:"pre_holidays"`
	SixDayWeek   bool   `mapstructure:"six_day_week"`
	PandemicDays bool   `mapstructure:"pandemic_days"`
	Timeout      string `mapstructure:"timeout"`
	Retries      int    `mapstructure:"retries"`
}

// CacheConfig represents year cache configuration
type CacheConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Backend       string `mapstructure:"backend"` // "file" or "bolt"
	Dir           string `mapstructure:"dir"`
	BoltPath      string `mapstructure:"bolt_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	File  string `mapstructure:"file"` // empty means stderr
	Level string `mapstructure:"level"`
}

// DaemonConfig represents cache warmer configuration
type DaemonConfig struct {
	DailyTime string `mapstructure:"daily_time"` // HH:MM, local time
}

// MetricsConfig represents metrics export configuration
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // node_exporter textfile, empty disables
}

const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("calendar.base_url", "https://isdayoff.ru")
	v.SetDefault("calendar.locale", "ru")
	v.SetDefault("calendar.pre_holidays", false)
	v.SetDefault("calendar.six_day_week", false)
	v.SetDefault("calendar.pandemic_days", false)
	v.SetDefault("calendar.timeout", "10s")
	v.SetDefault("calendar.retries", 3)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", BackendFile)
	v.SetDefault("cache.dir", ".")
	v.SetDefault("cache.bolt_path", "isdayoff.db")
	v.SetDefault("cache.retention_days", 30)

	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")

	v.SetDefault("daemon.daily_time", "03:00")

	v.SetDefault("metrics.textfile", "")
}

// Load loads configuration from file, environment and defaults.
// Without an explicit path a missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.isdayoff")
		v.AddConfigPath("/etc/isdayoff")
	}

	// ISDAYOFF_CACHE_RETENTION_DAYS overrides cache.retention_days
	v.SetEnvPrefix("ISDAYOFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.ExpandEnvVars()

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := calendar.ParseLocale(c.Calendar.Locale); err != nil {
		return fmt.Errorf("calendar.locale: %w", err)
	}
	if c.Calendar.Retries < 0 {
		return fmt.Errorf("calendar.retries must not be negative")
	}
	if c.Calendar.Timeout != "" {
		if _, err := time.ParseDuration(c.Calendar.Timeout); err != nil {
			return fmt.Errorf("calendar.timeout: %w", err)
		}
	}

	switch c.Cache.Backend {
	case BackendFile, "":
	case BackendBolt:
		if c.Cache.BoltPath == "" {
			return fmt.Errorf("cache.bolt_path is required for bolt backend")
		}
	default:
		return fmt.Errorf("cache.backend must be 'file' or 'bolt', got '%s'", c.Cache.Backend)
	}
	if c.Cache.RetentionDays < 0 {
		return fmt.Errorf("cache.retention_days must not be negative")
	}

	if c.Daemon.DailyTime != "" {
		if _, _, err := parseClock(c.Daemon.DailyTime); err != nil {
			return fmt.Errorf("daemon.daily_time: %w", err)
		}
	}

	return nil
}

// GetTimeout returns the HTTP timeout duration
func (c *CalendarConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 10 * time.Second
	}
	duration, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return duration
}

// GetDailyTime returns the configured daily warm-up time.
// Returns hour and minute (0-23, 0-59). Default: 03:00
func (c *DaemonConfig) GetDailyTime() (hour, minute int) {
	h, m, err := parseClock(c.DailyTime)
	if err != nil {
		return 3, 0
	}
	return h, m
}

func parseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got '%s'", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time out of range: '%s'", s)
	}
	return hour, minute, nil
}

// ExpandEnvVars expands environment variables in path settings
func (c *Config) ExpandEnvVars() {
	c.Cache.Dir = os.ExpandEnv(c.Cache.Dir)
	c.Cache.BoltPath = os.ExpandEnv(c.Cache.BoltPath)
	c.Log.File = os.ExpandEnv(c.Log.File)
	c.Metrics.Textfile = os.ExpandEnv(c.Metrics.Textfile)
}

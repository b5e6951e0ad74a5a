// Package config loads and validates the engine configuration.
//
// Sources, in increasing precedence: built-in defaults, an optional YAML
// config file, and RELWATCH_* environment variables. The merged settings
// are checked against an embedded CUE schema before anything is
// constructed from them.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/relwatch/relwatch/internal/ratelimit"
	"github.com/relwatch/relwatch/internal/retry"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full engine configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	LogLevel  string          `mapstructure:"log_level"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// CalendarConfig configures the external calendar client.
type CalendarConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetryConfig configures the retry executor.
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// PlatformLimit is a per-platform rate limit override.
type PlatformLimit struct {
	MaxCalls int           `mapstructure:"max_calls"`
	Window   time.Duration `mapstructure:"window"`
}

// RateLimitConfig configures the sliding-window limiter. MaxCalls of 0
// disables the fallback limit.
type RateLimitConfig struct {
	MaxCalls  int                      `mapstructure:"max_calls"`
	Window    time.Duration            `mapstructure:"window"`
	Platforms map[string]PlatformLimit `mapstructure:"platforms"`
}

// SchedulerConfig configures cycle batching and concurrency.
type SchedulerConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	Concurrency  int           `mapstructure:"concurrency"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
	Interval     time.Duration `mapstructure:"interval"`
}

// Load reads configuration from defaults, the optional file at path, and
// RELWATCH_* environment variables, validates the merged result, and
// returns it. An empty path skips the file source.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "relwatch.db")
	v.SetDefault("calendar.base_url", "http://localhost:8080")
	v.SetDefault("calendar.token", "")
	v.SetDefault("calendar.timeout", "30s")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_backoff", "500ms")
	v.SetDefault("retry.max_backoff", "30s")
	v.SetDefault("retry.cooldown", "2s")
	v.SetDefault("rate_limit.max_calls", 10)
	v.SetDefault("rate_limit.window", "1s")
	v.SetDefault("rate_limit.platforms", map[string]any{})
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.cycle_timeout", "10m")
	v.SetDefault("scheduler.interval", "10m")
	v.SetDefault("log_level", "info")
}

// validate unifies the decoded configuration with the #Config schema.
// Decoding first normalizes the types, so env-sourced strings never leak
// into the schema check.
func (c *Config) validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	unified := def.Unify(ctx.Encode(c.settings()))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// settings renders the configuration as the plain document the schema
// describes, durations as strings.
func (c *Config) settings() map[string]any {
	platforms := make(map[string]any, len(c.RateLimit.Platforms))
	for name, l := range c.RateLimit.Platforms {
		platforms[name] = map[string]any{
			"max_calls": l.MaxCalls,
			"window":    l.Window.String(),
		}
	}
	return map[string]any{
		"database": map[string]any{
			"path": c.Database.Path,
		},
		"calendar": map[string]any{
			"base_url": c.Calendar.BaseURL,
			"token":    c.Calendar.Token,
			"timeout":  c.Calendar.Timeout.String(),
		},
		"retry": map[string]any{
			"max_retries":  c.Retry.MaxRetries,
			"base_backoff": c.Retry.BaseBackoff.String(),
			"max_backoff":  c.Retry.MaxBackoff.String(),
			"cooldown":     c.Retry.Cooldown.String(),
		},
		"rate_limit": map[string]any{
			"max_calls": c.RateLimit.MaxCalls,
			"window":    c.RateLimit.Window.String(),
			"platforms": platforms,
		},
		"scheduler": map[string]any{
			"batch_size":    c.Scheduler.BatchSize,
			"concurrency":   c.Scheduler.Concurrency,
			"cycle_timeout": c.Scheduler.CycleTimeout.String(),
			"interval":      c.Scheduler.Interval.String(),
		},
		"log_level": c.LogLevel,
	}
}

// RetryPolicy translates the retry section into the executor's config.
// The per-call deadline (calendar.timeout) is the machine's concern, not
// the executor's: it must not cover rate-limit admission waits.
func (c *Config) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts: c.Retry.MaxRetries,
		BaseBackoff: c.Retry.BaseBackoff,
		MaxBackoff:  c.Retry.MaxBackoff,
		Cooldown:    c.Retry.Cooldown,
	}
}

// Limits translates the rate_limit section into the limiter's fallback
// and per-platform overrides.
func (c *Config) Limits() (ratelimit.Limit, map[string]ratelimit.Limit) {
	fallback := ratelimit.Limit{
		MaxCalls: c.RateLimit.MaxCalls,
		Window:   c.RateLimit.Window,
	}
	overrides := make(map[string]ratelimit.Limit, len(c.RateLimit.Platforms))
	for platform, l := range c.RateLimit.Platforms {
		overrides[platform] = ratelimit.Limit{MaxCalls: l.MaxCalls, Window: l.Window}
	}
	return fallback, overrides
}

// SlogLevel maps log_level to its slog constant.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

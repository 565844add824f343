// Package config defines the top-level configuration for the broker core and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BROKERCORE_* environment variables.
type Config struct {
	Instruments []InstrumentConfig `toml:"instruments"`
	Feed        FeedConfig         `toml:"feed"`
	Book        BookConfig         `toml:"book"`
	Postgres    PostgresConfig     `toml:"postgres"`
	Redis       RedisConfig        `toml:"redis"`
	Archive     ArchiveConfig      `toml:"archive"`
	Server      ServerConfig       `toml:"server"`
	Notify      NotifyConfig       `toml:"notify"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
}

// InstrumentConfig declares one tradable symbol. Prices are decimal strings so
// the TOML file carries exact values.
type InstrumentConfig struct {
	Symbol     string `toml:"symbol"`
	PipSize    string `toml:"pip_size"`
	Precision  int32  `toml:"precision"`
	Volatility string `toml:"volatility"`
	BasePrice  string `toml:"base_price"`
}

// FeedConfig holds price feed simulator parameters.
type FeedConfig struct {
	TickInterval duration `toml:"tick_interval"`
	// RebaseProbability is the per-tick per-instrument chance that the walk's
	// base price is re-anchored to the freshly generated price.
	RebaseProbability float64 `toml:"rebase_probability"`
	// Seed fixes the random source when non-zero; zero seeds from the clock.
	Seed int64 `toml:"seed"`
}

// BookConfig holds position book parameters.
type BookConfig struct {
	// PersistRetries bounds how many times a durable write is retried before
	// the operation surfaces a persistence error.
	PersistRetries int      `toml:"persist_retries"`
	PersistBackoff duration `toml:"persist_backoff"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ArchiveConfig holds closed-trade archival parameters. Archival is disabled
// unless a bucket is configured.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Endpoint      string   `toml:"endpoint"`
	Region        string   `toml:"region"`
	Bucket        string   `toml:"bucket"`
	AccessKey     string   `toml:"access_key"`
	SecretKey     string   `toml:"secret_key"`
	UseSSL        bool     `toml:"use_ssl"`
	ForcePath     bool     `toml:"force_path_style"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects the API when set; empty disables the check (the
	// upstream gateway is then the only line of defense).
	APIKey string `toml:"api_key"`
	// RateLimit is requests per client per RateWindow; zero disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. The
// default instruments mirror the reference brokerage: a 5-dp FX pair and a
// 2-dp metal.
func Defaults() Config {
	return Config{
		Instruments: []InstrumentConfig{
			{Symbol: "EURUSD", PipSize: "0.0001", Precision: 5, Volatility: "0.0005", BasePrice: "1.0532"},
			{Symbol: "XAUUSD", PipSize: "0.01", Precision: 2, Volatility: "0.005", BasePrice: "2678.45"},
		},
		Feed: FeedConfig{
			TickInterval:      duration{time.Second},
			RebaseProbability: 0.1,
			Seed:              0,
		},
		Book: BookConfig{
			PersistRetries: 3,
			PersistBackoff: duration{100 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "brokercore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Endpoint:      "http://localhost:9000",
			Region:        "us-east-1",
			UseSSL:        false,
			ForcePath:     true,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "persistence_incident"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"engine":  true,
	"api":     true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, engine, api, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Instruments) == 0 {
		errs = append(errs, "instruments: at least one instrument must be configured")
	}
	seen := map[string]bool{}
	for i, inst := range c.Instruments {
		if inst.Symbol == "" {
			errs = append(errs, fmt.Sprintf("instruments[%d]: symbol must not be empty", i))
			continue
		}
		if seen[inst.Symbol] {
			errs = append(errs, fmt.Sprintf("instruments[%d]: duplicate symbol %s", i, inst.Symbol))
		}
		seen[inst.Symbol] = true
		if inst.Precision < 0 {
			errs = append(errs, fmt.Sprintf("instruments[%d] %s: precision must be >= 0", i, inst.Symbol))
		}
	}

	if c.Feed.TickInterval.Duration <= 0 {
		errs = append(errs, "feed: tick_interval must be positive")
	}
	if c.Feed.RebaseProbability < 0 || c.Feed.RebaseProbability > 1 {
		errs = append(errs, fmt.Sprintf("feed: rebase_probability must be in [0,1], got %v", c.Feed.RebaseProbability))
	}

	if c.Book.PersistRetries < 1 {
		errs = append(errs, "book: persist_retries must be >= 1")
	}

	if needsPostgres(c.Mode) {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive when enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch strings.ToLower(mode) {
	case "full", "engine", "api":
		return true
	default:
		return false
	}
}

// NeedsPostgres reports whether the configured mode requires persistence.
func (c *Config) NeedsPostgres() bool {
	return needsPostgres(c.Mode)
}

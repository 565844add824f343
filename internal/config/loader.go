package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BROKERCORE_* environment variable overrides, and
// returns the final Config. A missing file is not an error: defaults plus
// environment overrides are a complete configuration for the simulator. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BROKERCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setDuration(&cfg.Feed.TickInterval, "BROKERCORE_FEED_TICK_INTERVAL")
	setFloat64(&cfg.Feed.RebaseProbability, "BROKERCORE_FEED_REBASE_PROBABILITY")
	setInt64(&cfg.Feed.Seed, "BROKERCORE_FEED_SEED")

	// ── Book ──
	setInt(&cfg.Book.PersistRetries, "BROKERCORE_BOOK_PERSIST_RETRIES")
	setDuration(&cfg.Book.PersistBackoff, "BROKERCORE_BOOK_PERSIST_BACKOFF")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BROKERCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BROKERCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BROKERCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BROKERCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BROKERCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BROKERCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BROKERCORE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BROKERCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BROKERCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BROKERCORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BROKERCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BROKERCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BROKERCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BROKERCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BROKERCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BROKERCORE_REDIS_TLS_ENABLED")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BROKERCORE_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "BROKERCORE_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "BROKERCORE_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "BROKERCORE_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "BROKERCORE_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "BROKERCORE_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "BROKERCORE_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePath, "BROKERCORE_ARCHIVE_FORCE_PATH_STYLE")
	setInt(&cfg.Archive.RetentionDays, "BROKERCORE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "BROKERCORE_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BROKERCORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BROKERCORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BROKERCORE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BROKERCORE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BROKERCORE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BROKERCORE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BROKERCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BROKERCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BROKERCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BROKERCORE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BROKERCORE_MODE")
	setStr(&cfg.LogLevel, "BROKERCORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// TickInterval returns the configured feed tick interval.
func (c *Config) TickInterval() time.Duration { return c.Feed.TickInterval.Duration }

// PersistBackoff returns the configured durable-write retry backoff.
func (c *Config) PersistBackoff() time.Duration { return c.Book.PersistBackoff.Duration }

// ArchiveInterval returns the configured archival loop interval.
func (c *Config) ArchiveInterval() time.Duration { return c.Archive.Interval.Duration }

// RateWindow returns the configured rate limit window.
func (c *Config) RateWindow() time.Duration { return c.Server.RateWindow.Duration }

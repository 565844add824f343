package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fxsim/brokercore/internal/archive"
	"github.com/fxsim/brokercore/internal/cache/redis"
	"github.com/fxsim/brokercore/internal/config"
	"github.com/fxsim/brokercore/internal/domain"
	"github.com/fxsim/brokercore/internal/notify"
	"github.com/fxsim/brokercore/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Registry *domain.Registry

	// Stores (nil for modes without persistence)
	PositionStore domain.PositionStore
	OrderStore    domain.OrderStore
	AuditStore    domain.AuditStore

	// Caches
	QuoteCache  domain.QuoteCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	Deduper     domain.Deduper

	// Object storage (nil unless archival is enabled)
	ArchiveClient *archive.Client

	// Notifications
	Notifier *notify.Notifier
}

// needsArchive returns true for modes that run the archival loop.
func needsArchive(mode string) bool {
	switch strings.ToLower(mode) {
	case "full", "engine":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Instrument registry ---
	registry, err := buildRegistry(cfg.Instruments)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: registry: %w", err)
	}
	deps.Registry = registry

	// --- PostgreSQL (only for modes that need persistence) ---
	if cfg.NeedsPostgres() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Deduper = redis.NewDeduper(redisClient)

	// --- S3 object storage (only when archival is enabled) ---
	if cfg.Archive.Enabled && needsArchive(cfg.Mode) {
		s3Client, err := archive.NewClient(ctx, archive.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePath,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: archive: %w", err)
		}
		deps.ArchiveClient = s3Client
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			logger,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, logger))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildRegistry parses the configured instrument declarations into a
// validated domain registry.
func buildRegistry(instruments []config.InstrumentConfig) (*domain.Registry, error) {
	out := make([]domain.Instrument, 0, len(instruments))
	for _, ic := range instruments {
		pipSize, err := decimal.NewFromString(ic.PipSize)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: pip_size: %w", ic.Symbol, err)
		}
		volatility, err := decimal.NewFromString(ic.Volatility)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: volatility: %w", ic.Symbol, err)
		}
		basePrice, err := decimal.NewFromString(ic.BasePrice)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: base_price: %w", ic.Symbol, err)
		}
		out = append(out, domain.Instrument{
			Symbol:     ic.Symbol,
			PipSize:    pipSize,
			Precision:  ic.Precision,
			Volatility: volatility,
			BasePrice:  basePrice,
		})
	}
	return domain.NewRegistry(out)
}

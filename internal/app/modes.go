package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fxsim/brokercore/internal/archive"
	"github.com/fxsim/brokercore/internal/book"
	"github.com/fxsim/brokercore/internal/domain"
	"github.com/fxsim/brokercore/internal/engine"
	"github.com/fxsim/brokercore/internal/feed"
	"github.com/fxsim/brokercore/internal/notify"
	"github.com/fxsim/brokercore/internal/server"
	"github.com/fxsim/brokercore/internal/server/handler"
	"github.com/fxsim/brokercore/internal/server/ws"
	"github.com/fxsim/brokercore/internal/service"
)

// FullMode runs everything in one process: the price feed, the trigger
// engine, the HTTP/WebSocket API, the archiver, and event notifications.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	b, sim, err := a.startCore(ctx, g, deps)
	if err != nil {
		return err
	}

	a.startArchiver(ctx, g, deps)
	a.startMonitor(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, b, sim)
	}

	return waitGroup(g)
}

// EngineMode runs the headless trading core: feed, trigger engine, and
// archiver, with no HTTP surface. Quotes and events still flow to Redis, so
// api and monitor processes can follow along.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)

	if _, _, err := a.startCore(ctx, g, deps); err != nil {
		return err
	}
	a.startArchiver(ctx, g, deps)

	return waitGroup(g)
}

// APIMode serves the HTTP/WebSocket API without a local feed. Quotes are read
// from the shared cache written by an engine process.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	if !a.cfg.Server.Enabled {
		return fmt.Errorf("app: api mode requires server.enabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	b := a.newBook(deps)
	if err := b.Load(ctx); err != nil {
		return fmt.Errorf("app: load position book: %w", err)
	}

	source := service.NewCachedQuoteSource(deps.Registry, deps.QuoteCache)
	a.startHTTPServer(ctx, g, deps, b, source)

	return waitGroup(g)
}

// MonitorMode follows the signal bus and forwards position transitions and
// persistence incidents to the configured notification channels.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	monitor := notify.NewMonitor(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return monitor.Run(ctx)
	})

	return waitGroup(g)
}

// startCore builds the position book, trigger engine, and price feed, starts
// the feed loop, and returns the book and feed for further wiring.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*book.Book, *feed.Simulator, error) {
	b := a.newBook(deps)
	if err := b.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("app: load position book: %w", err)
	}

	eng := engine.New(deps.Registry, b, a.logger)

	sim := feed.NewSimulator(deps.Registry, feed.Options{
		Interval:   a.cfg.TickInterval(),
		RebaseProb: a.cfg.Feed.RebaseProbability,
		Seed:       a.cfg.Feed.Seed,
		Cache:      deps.QuoteCache,
		Bus:        deps.SignalBus,
	}, a.logger)
	sim.SetHandler(eng)

	g.Go(func() error {
		return sim.Run(ctx)
	})

	return b, sim, nil
}

// newBook constructs the position book with the configured durability policy.
func (a *App) newBook(deps *Dependencies) *book.Book {
	return book.New(deps.PositionStore, deps.AuditStore, deps.SignalBus, book.Options{
		PersistRetries: a.cfg.Book.PersistRetries,
		PersistBackoff: a.cfg.PersistBackoff(),
	}, a.logger)
}

// startArchiver adds the closed-position archival loop to the group when
// archival is enabled and wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.ArchiveClient == nil {
		return
	}

	arch := archive.NewArchiver(deps.PositionStore, deps.ArchiveClient, deps.AuditStore, archive.Options{
		Retention: time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour,
		Interval:  a.cfg.ArchiveInterval(),
	}, a.logger)

	g.Go(func() error {
		return arch.Run(ctx)
	})
}

// startMonitor adds the notification monitor to the group when at least one
// sender is configured.
func (a *App) startMonitor(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Notify.TelegramToken == "" && a.cfg.Notify.DiscordWebhookURL == "" {
		return
	}

	monitor := notify.NewMonitor(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return monitor.Run(ctx)
	})
}

// startHTTPServer wires the services and handlers over the given book and
// quote source and adds the HTTP server plus the WebSocket hub to the group.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, b *book.Book, source domain.QuoteSource) {
	startedAt := time.Now().UTC()

	quoteSvc := service.NewQuoteService(deps.Registry, source)
	orderSvc := service.NewOrderService(deps.Registry, source, deps.OrderStore, b, deps.Deduper, a.logger)
	positionSvc := service.NewPositionService(b, source, a.logger)

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, startedAt, b.OpenCount),
		Quotes:    handler.NewQuoteHandler(quoteSvc, a.logger),
		Orders:    handler.NewOrderHandler(orderSvc, a.logger),
		Positions: handler.NewPositionHandler(positionSvc, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:          a.cfg.Mode,
		StartedAt:     startedAt,
		OpenPositions: b.OpenCount,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateWindow:  a.cfg.RateWindow(),
	}
	if a.cfg.Server.RateLimit > 0 {
		srvCfg.RateLimiter = deps.RateLimiter
		srvCfg.RateLimit = a.cfg.Server.RateLimit
	}

	srv := server.NewServer(srvCfg, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// waitGroup waits for every goroutine in the group and treats context
// cancellation as a clean shutdown.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

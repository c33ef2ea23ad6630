package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/event"
	"github.com/alanyoungcy/snipebot/internal/feed"
	"github.com/alanyoungcy/snipebot/internal/metrics"
	"github.com/alanyoungcy/snipebot/internal/server"
	"github.com/alanyoungcy/snipebot/internal/server/handler"
	"github.com/alanyoungcy/snipebot/internal/server/ws"
	"github.com/alanyoungcy/snipebot/internal/service"
)

const (
	statusInterval = 30 * time.Second
	flushTimeout   = 10 * time.Second
	shutdownWait   = 5 * time.Second
)

// TradeMode snipes with the configured wallets on mainnet.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runCore(ctx, deps, false)
}

// PaperMode runs the full pipeline against live prices with simulated fills.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.Float64("starting_balance_sol", a.cfg.Paper.StartingBalanceSOL),
	)
	return a.runCore(ctx, deps, true)
}

// ServerMode serves the read API and relays the event stream of trading
// processes sharing the same database and redis.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	bus := event.NewBus(0, a.logger)
	defer bus.Close()

	if deps.SignalBus != nil {
		bridge := event.NewBridge(bus, deps.SignalBus, a.logger)
		g.Go(func() error {
			return bridge.Relay(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "redis not configured, event stream will stay empty")
	}
	a.startArchive(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, bus, nil, nil)

	return g.Wait()
}

func (a *App) runCore(ctx context.Context, deps *Dependencies, simulate bool) error {
	c, err := a.buildCore(ctx, deps, simulate)
	if err != nil {
		return err
	}
	defer c.bus.Close()
	defer a.flush(c)
	if deps.Checks != nil {
		deps.Checks["rpc"] = c.venues.chain.Ping
	}

	g, ctx := errgroup.WithContext(ctx)

	tokens := feed.NewTokenFeed(feed.TokenFeedConfig{
		URL:             a.cfg.Feed.WSURL,
		SubscribeMethod: a.cfg.Feed.SubscribeMethod,
		DedupTTL:        a.cfg.Feed.DedupTTL.Duration,
	}, a.logger)
	g.Go(func() error {
		return tokens.Run(ctx)
	})
	g.Go(func() error {
		return c.fanout.Run(ctx, tokens.Candidates())
	})

	for _, acct := range c.accounts {
		g.Go(func() error {
			return acct.trader.Run(ctx)
		})
	}

	if deps.SignalBus != nil {
		bridge := event.NewBridge(c.bus, deps.SignalBus, a.logger)
		g.Go(func() error {
			return bridge.Run(ctx)
		})
	}
	if deps.Notifier.Enabled() {
		g.Go(func() error {
			return deps.Notifier.Run(ctx, c.bus)
		})
	}
	g.Go(func() error {
		a.publishStatus(ctx, c)
		return nil
	})
	a.startArchive(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c.bus, c.accounts, c.venues.prices)
	}

	return g.Wait()
}

// flush persists every ledger once the traders have stopped.
func (a *App) flush(c *core) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for _, acct := range c.accounts {
		if err := acct.ledger.Flush(ctx); err != nil {
			a.logger.Error("risk state flush failed",
				slog.String("account", acct.signer.PublicIdentity()),
				slog.String("error", err.Error()),
			)
		}
	}
	if c.venues.paper != nil {
		st := c.venues.paper.Stats("")
		a.logger.Info("paper session summary",
			slog.Float64("starting_balance", st.StartingBalance),
			slog.Float64("current_balance", st.CurrentBalance),
			slog.Int("trades", st.TotalTrades),
			slog.Float64("win_rate", st.WinRate),
			slog.Float64("realized_pnl", st.RealizedPnL),
			slog.Int("open_holdings", st.OpenHoldings),
		)
	}
}

// publishStatus emits a status event per account on start and then every
// statusInterval until ctx ends.
func (a *App) publishStatus(ctx context.Context, c *core) {
	emit := func(state string) {
		for _, acct := range c.accounts {
			c.bus.Publish(domain.Event{
				Type:      domain.EventStatus,
				AccountID: acct.signer.PublicIdentity(),
				Payload:   domain.StatusEvent{State: state, Risk: acct.ledger.Status()},
			})
		}
	}
	emit("running")

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			emit("stopping")
			return
		case <-ticker.C:
			emit("running")
		}
	}
}

func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	svc := service.NewArchiveService(deps.Archiver, a.cfg.Archive.RetentionDays, a.cfg.Archive.Interval.Duration, a.logger)
	g.Go(func() error {
		return svc.Run(ctx)
	})
}

// startHTTPServer registers the API and starts it with a shutdown
// goroutine. accounts and marks are nil in server mode, which leaves
// positions and control unregistered.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	bus *event.Bus,
	accounts []*account,
	marks handler.MarkSource,
) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.startedAt, ledgerMap(accounts)),
		Trades:  handler.NewTradeHandler(deps.TradeStore, a.logger),
		Stats:   handler.NewStatsHandler(deps.DailyStatsStore, a.logger),
		Metrics: metrics.Handler(),
	}
	if len(accounts) > 0 {
		handlers.Positions = handler.NewPositionHandler(newBookSet(accounts), marks, a.logger)
		handlers.Control = handler.NewControlHandler(newController(accounts), a.logger)
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	hub := ws.NewHub(bus, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: a.startedAt})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		AuthToken:         a.cfg.Server.AuthToken,
		RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
}

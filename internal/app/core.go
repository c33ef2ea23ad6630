package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/snipebot/internal/crypto"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/event"
	"github.com/alanyoungcy/snipebot/internal/executor"
	"github.com/alanyoungcy/snipebot/internal/filter"
	"github.com/alanyoungcy/snipebot/internal/platform/paper"
	"github.com/alanyoungcy/snipebot/internal/platform/solana"
	"github.com/alanyoungcy/snipebot/internal/scoring"
	"github.com/alanyoungcy/snipebot/internal/service"
	"github.com/alanyoungcy/snipebot/internal/strategy"
)

// venues holds the chain-facing collaborators shared by every account.
type venues struct {
	// chain reads mint authorities, wallet activity and curve prices. It is
	// the order venue too unless paper is set.
	chain  *solana.Venue
	paper  *paper.Venue
	prices *service.PriceService
}

// orders returns the venue orders are routed to.
func (v *venues) orders() domain.Venue {
	if v.paper != nil {
		return v.paper
	}
	return v.chain
}

func (a *App) buildVenues(deps *Dependencies, simulate bool) *venues {
	sol := a.cfg.Solana
	var jito *solana.JitoClient
	if a.cfg.Trading.UseJito && !simulate {
		jito = solana.NewJitoClient(sol.JitoURL)
	}
	tip := uint64(0)
	if a.cfg.Trading.UseJito {
		tip = a.cfg.Trading.JitoTipLamports
	}
	chain := solana.NewVenue(solana.VenueConfig{
		RPCURL:              sol.RPCURL,
		RPCRPS:              sol.RPCRPS,
		TokenDecimals:       sol.TokenDecimals,
		PriorityFeeLamports: a.cfg.Trading.PriorityFeeLamports,
		JitoTipLamports:     tip,
		ConfirmTimeout:      a.cfg.Execution.ConfirmTimeout.Duration,
	}, solana.NewJupiterClient(sol.JupiterQuoteURL, sol.JupiterSwapURL, sol.JupiterAPIKey, sol.RPCRPS), jito, a.logger)

	prices := service.NewPriceService(
		solana.NewCurvePrices(chain),
		deps.PriceCache,
		deps.SignalBus,
		a.cfg.Redis.PriceTTL.Duration,
		a.logger,
	)

	v := &venues{chain: chain, prices: prices}
	if simulate {
		v.paper = paper.NewVenue(prices, paper.Config{
			StartingBalance: a.cfg.Paper.StartingBalanceSOL,
			SlippageBps:     a.cfg.Paper.SlippageBps,
		}, a.logger)
	}
	return v
}

// loadSigners returns the primary wallet followed by every extra account.
// Paper signers are named after the account instead of a key.
func (a *App) loadSigners(simulate bool) ([]domain.Signer, error) {
	w := a.cfg.Wallet
	if simulate {
		signers := []domain.Signer{paper.NewSigner("paper-main")}
		for _, acct := range w.Accounts {
			signers = append(signers, paper.NewSigner("paper-"+acct.Name))
		}
		return uniqueSigners(signers)
	}

	keys := []crypto.KeyConfig{{
		RawPrivateKey:    w.PrivateKey,
		EncryptedKeyPath: w.EncryptedKeyPath,
		KeyPassword:      w.KeyPassword,
	}}
	for _, acct := range w.Accounts {
		keys = append(keys, crypto.KeyConfig{
			RawPrivateKey:    acct.PrivateKey,
			EncryptedKeyPath: acct.EncryptedKeyPath,
			KeyPassword:      acct.KeyPassword,
		})
	}
	signers := make([]domain.Signer, 0, len(keys))
	for i, kc := range keys {
		key, err := crypto.LoadKey(kc)
		if err != nil {
			return nil, fmt.Errorf("app: load wallet %d: %w", i, err)
		}
		signers = append(signers, crypto.NewSigner(key))
	}
	return uniqueSigners(signers)
}

func uniqueSigners(signers []domain.Signer) ([]domain.Signer, error) {
	seen := make(map[string]bool, len(signers))
	for _, s := range signers {
		id := s.PublicIdentity()
		if seen[id] {
			return nil, fmt.Errorf("app: account %s configured twice", id)
		}
		seen[id] = true
	}
	return signers, nil
}

// account is the trading core of one wallet.
type account struct {
	signer domain.Signer
	book   *service.PositionBook
	ledger *service.RiskLedger
	trader *executor.Trader
}

// core is everything the trade and paper modes run.
type core struct {
	bus      *event.Bus
	venues   *venues
	fanout   *executor.Fanout
	strategy strategy.Strategy
	accounts []*account
}

func (a *App) buildCore(ctx context.Context, deps *Dependencies, simulate bool) (*core, error) {
	signers, err := a.loadSigners(simulate)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus(0, a.logger)
	v := a.buildVenues(deps, simulate)

	safety := filter.NewScamFilter(filter.Deps{
		Blacklist: deps.BlacklistStore,
		Cache:     deps.BlacklistCache,
		Chain:     v.chain,
		History:   deps.OutcomeStore,
	}, filter.Config{
		BlacklistPatterns:        a.cfg.Filters.BlacklistPatterns,
		RequireMintRenounced:     a.cfg.Filters.RequireMintRenounced,
		RequireFreezeDisabled:    a.cfg.Filters.RequireFreezeDisabled,
		MaxCreatorRugCount:       a.cfg.Filters.MaxCreatorRugCount,
		MinCreatorWalletAgeHours: a.cfg.Filters.MinCreatorWalletAgeHours,
	}, a.logger)
	if n, err := safety.Warm(ctx); err != nil {
		a.logger.WarnContext(ctx, "blacklist warm-up failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.InfoContext(ctx, "blacklist cache warmed", slog.Int("entries", n))
	}

	oracle := scoring.NewOracle(deps.OutcomeStore, scoring.Config{
		ConfidenceThreshold: a.cfg.Scoring.ConfidenceThreshold,
	}, a.logger)

	exec := service.NewExecutionChannel(v.orders(), deps.TradeStore, deps.RateLimiter, bus, service.ExecutionConfig{
		MaxRetries:         a.cfg.Execution.MaxRetries,
		RetryBase:          a.cfg.Execution.RetryBase.Duration,
		UseBundle:          a.cfg.Trading.UseJito,
		ConfirmTimeout:     a.cfg.Execution.ConfirmTimeout.Duration,
		BundlePollInterval: a.cfg.Execution.BundlePollInterval.Duration,
		BuyRateLimit:       a.cfg.Execution.RateLimitPerMin,
		RateWindow:         time.Minute,
	}, a.logger)

	strat, err := strategy.Builtin().Get(a.cfg.Trading.Strategy)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "entry strategy selected", slog.String("strategy", strat.Name()))

	c := &core{bus: bus, venues: v, fanout: executor.NewFanout(0, a.logger), strategy: strat}
	for i, signer := range signers {
		acct, err := a.buildAccount(ctx, deps, c, exec, safety, oracle, signer, i == 0)
		if err != nil {
			return nil, err
		}
		c.accounts = append(c.accounts, acct)
	}
	return c, nil
}

func (a *App) buildAccount(
	ctx context.Context,
	deps *Dependencies,
	c *core,
	exec *service.ExecutionChannel,
	safety domain.SafetyAnalyzer,
	oracle domain.ScoringOracle,
	signer domain.Signer,
	primary bool,
) (*account, error) {
	id := signer.PublicIdentity()

	book := service.NewPositionBook(deps.PositionStore, deps.AuditStore, a.logger)
	if _, err := book.Restore(ctx, id); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	opts := []service.RiskOption{}
	if !primary {
		opts = append(opts, service.WithStateKey("risk_manager:"+id))
	}
	opts = append(opts, service.WithResultStore(deps.AuditStore))
	ledger, err := service.NewRiskLedger(ctx, service.RiskConfig{
		MaxPositions:     a.cfg.Risk.MaxPositions,
		MaxDailyLoss:     a.cfg.Risk.MaxDailyLossSOL,
		MaxPerInstrument: a.cfg.Risk.MaxSingleTokenSOL,
		PauseAfterLosses: a.cfg.Risk.PauseAfterConsecutiveLosses,
		MinReserve:       a.cfg.Risk.MinBalanceSOL,
		Location:         a.cfg.Location(),
	}, deps.StateStore, book, a.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	intake := service.NewIntakePipeline(service.IntakeDeps{
		Safety:   safety,
		Oracle:   oracle,
		Ledger:   ledger,
		Exec:     exec,
		Book:     book,
		Venue:    c.venues.orders(),
		Stats:    deps.DailyStatsStore,
		Outcomes: deps.OutcomeStore,
		Events:   c.bus,
		Strategy: c.strategy,
	}, service.IntakeConfig{
		MinScore:    a.cfg.Trading.MinScore,
		Capital:     a.cfg.Trading.AmountSOL,
		SlippageBps: a.cfg.Trading.MaxSlippageBps,
		StopLossPct: a.cfg.Trading.StopLossPct,
		Tiers:       a.cfg.Trading.TakeProfitTiers,
		KellySizing: a.cfg.Trading.KellySizing,
		Location:    a.cfg.Location(),
	}, a.logger)

	monitor := service.NewMonitor(book, ledger, exec, c.venues.prices, deps.DailyStatsStore, c.bus, service.MonitorConfig{
		TrailingStopPct: a.cfg.Trading.TrailingStopPct,
		SlippageBps:     a.cfg.Trading.MaxSlippageBps,
		Location:        a.cfg.Location(),
	}, a.logger)

	trader := executor.NewTrader(signer, c.fanout.Add(), intake, monitor, deps.LockManager, executor.TraderConfig{
		MonitorInterval: a.cfg.Monitor.Interval.Duration,
		OrderTimeout:    a.cfg.Execution.OrderTimeout.Duration,
		DedupTTL:        a.cfg.Feed.DedupTTL.Duration,
		LeaseTTL:        a.cfg.Redis.LeaseTTL.Duration,
	}, a.logger)

	return &account{signer: signer, book: book, ledger: ledger, trader: trader}, nil
}

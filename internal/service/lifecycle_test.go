package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/strategy"
)

type harness struct {
	venue     *fakeVenue
	trades    *memTradeStore
	positions *memPositionStore
	stats     *memStatsStore
	outcomes  *memOutcomeStore
	events    *recPublisher
	safety    *fakeSafety
	oracle    *fakeOracle
	book      *PositionBook
	ledger    *RiskLedger
	exec      *ExecutionChannel
	intake    *IntakePipeline
	monitor   *Monitor
	signer    fakeSigner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		venue:     &fakeVenue{price: 0.001, balance: 2},
		trades:    newMemTradeStore(),
		positions: newMemPositionStore(),
		stats:     newMemStatsStore(),
		outcomes:  newMemOutcomeStore(),
		events:    &recPublisher{},
		safety: &fakeSafety{
			quick: domain.FilterResult{Passed: true},
			full:  domain.FilterResult{Passed: true, Score: 80},
		},
		oracle: &fakeOracle{analysis: domain.Analysis{Score: 75, Recommendation: domain.RecommendBuy}},
		signer: fakeSigner{id: "acct"},
	}
	logger := testLogger()
	h.book = NewPositionBook(h.positions, nil, logger)

	ledger, err := NewRiskLedger(context.Background(), defaultRiskConfig(), newMemStateStore(), h.book, logger)
	if err != nil {
		t.Fatal(err)
	}
	h.ledger = ledger

	h.exec = NewExecutionChannel(h.venue, h.trades, nil, h.events, ExecutionConfig{MaxRetries: 3}, logger)
	h.exec.sleep = noSleep

	h.intake = NewIntakePipeline(IntakeDeps{
		Safety:   h.safety,
		Oracle:   h.oracle,
		Ledger:   h.ledger,
		Exec:     h.exec,
		Book:     h.book,
		Venue:    h.venue,
		Stats:    h.stats,
		Outcomes: h.outcomes,
		Events:   h.events,
	}, IntakeConfig{
		MinScore:    65,
		Capital:     0.05,
		SlippageBps: 1000,
		StopLossPct: 20,
		Tiers:       []domain.TakeProfitTier{{Multiplier: 2, SellPct: 30}, {Multiplier: 3, SellPct: 30}},
	}, logger)

	h.monitor = NewMonitor(h.book, h.ledger, h.exec, h.venue, h.stats, h.events,
		MonitorConfig{TrailingStopPct: 20, SlippageBps: 1000}, logger)
	return h
}

// recStrategy returns a fixed decision and remembers what it was shown.
type recStrategy struct {
	decision strategy.Decision
	seen     []strategy.Snapshot
}

func (s *recStrategy) Name() string        { return "rec" }
func (s *recStrategy) Description() string { return "recording strategy" }

func (s *recStrategy) Entry(_ strategy.Candidate, snap strategy.Snapshot) strategy.Decision {
	s.seen = append(s.seen, snap)
	return s.decision
}

func candidate(mint string) domain.Candidate {
	return domain.Candidate{
		Token:      domain.TokenMetadata{Mint: mint, Name: "Token " + mint, Symbol: mint, Creator: "creator"},
		ReceivedAt: time.Now(),
	}
}

func TestIntakeBuysQualifiedCandidate(t *testing.T) {
	h := newHarness(t)
	out := h.intake.Process(context.Background(), h.signer, candidate("AAA"))

	if out.Decision != domain.DecisionBought || out.PositionID == "" {
		t.Fatalf("outcome = %+v", out)
	}
	p, err := h.book.Get(out.PositionID)
	if err != nil {
		t.Fatal(err)
	}
	if p.EntryPrice != 0.001 || !almostEqual(p.RemainingQuantity, 50) || !almostEqual(p.CostBasis, 0.05) {
		t.Errorf("position = %+v", p)
	}
	if p.StopLossPct != 20 || len(p.Tiers) != 2 {
		t.Errorf("exit parameters = %v %v", p.StopLossPct, p.Tiers)
	}
	if got := h.stats.stat(domain.StatTokensSniped); got != 1 {
		t.Errorf("sniped = %v", got)
	}
	if got := h.stats.stat(domain.StatTokensAnalyzed); got != 1 {
		t.Errorf("analyzed = %v", got)
	}
	if got := h.stats.stat(domain.StatTokensSkipped); got != 0 {
		t.Errorf("skipped = %v", got)
	}
	if o := h.outcomes.outcomes["acct/AAA"]; o.Decision != domain.DecisionBought {
		t.Errorf("outcome row = %+v", o)
	}
	if len(h.events.ofType(domain.EventNewCandidate)) != 1 {
		t.Error("missing new candidate event")
	}
}

func TestIntakeStopsAtFirstReject(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		decision domain.IntakeDecision
		stage    domain.IntakeStage
		rug      bool
	}{
		{
			name:     "quick filter",
			setup:    func(h *harness) { h.safety.quick = domain.FilterResult{Reasons: []string{"blacklisted"}} },
			decision: domain.DecisionSkipped,
			stage:    domain.StageQuickFilter,
		},
		{
			name: "rug",
			setup: func(h *harness) {
				h.safety.full = domain.FilterResult{Reasons: []string{"creator has rug history"}}
			},
			decision: domain.DecisionSkipped,
			stage:    domain.StageSafety,
			rug:      true,
		},
		{
			name:     "safety error",
			setup:    func(h *harness) { h.safety.err = errBoom },
			decision: domain.DecisionSkipped,
			stage:    domain.StageSafety,
		},
		{
			name:     "watch",
			setup:    func(h *harness) { h.oracle.analysis.Recommendation = domain.RecommendWatch },
			decision: domain.DecisionSkipped,
			stage:    domain.StageScoring,
		},
		{
			name:     "below min score",
			setup:    func(h *harness) { h.oracle.analysis.Score = 60 },
			decision: domain.DecisionSkipped,
			stage:    domain.StageScoring,
		},
		{
			name: "strategy veto",
			setup: func(h *harness) {
				h.intake.strategy = &recStrategy{decision: strategy.Decision{Action: domain.RecommendSkip, Reason: "cooling off"}}
			},
			decision: domain.DecisionSkipped,
			stage:    domain.StageStrategy,
		},
		{
			name:     "paused",
			setup:    func(h *harness) { _ = h.ledger.Pause(context.Background()) },
			decision: domain.DecisionRejected,
			stage:    domain.StageRisk,
		},
		{
			name:     "balance below reserve",
			setup:    func(h *harness) { h.venue.balance = 0.05 },
			decision: domain.DecisionRejected,
			stage:    domain.StageRisk,
		},
		{
			name:     "buy failed",
			setup:    func(h *harness) { h.venue.broadcastErrs = []error{domain.ErrInsufficientFunds} },
			decision: domain.DecisionFailed,
			stage:    domain.StageExecution,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			out := h.intake.Process(context.Background(), h.signer, candidate("BBB"))

			if out.Decision != tt.decision || out.Stage != tt.stage {
				t.Fatalf("outcome = %+v, want %s at %s", out, tt.decision, tt.stage)
			}
			if out.Reason == "" {
				t.Error("outcome without reason")
			}
			if out.Rug != tt.rug {
				t.Errorf("rug = %v", out.Rug)
			}
			if h.book.OpenCount() != 0 {
				t.Error("position opened on reject")
			}
			if got := h.stats.stat(domain.StatTokensSkipped); got != 1 {
				t.Errorf("skipped counter = %v, want 1", got)
			}
			if got := h.stats.stat(domain.StatTokensAnalyzed); got != 1 {
				t.Errorf("analyzed counter = %v, want 1", got)
			}
			wantRugs := 0.0
			if tt.rug {
				wantRugs = 1
			}
			if got := h.stats.stat(domain.StatRugsAvoided); got != wantRugs {
				t.Errorf("rugs avoided = %v", got)
			}
			if tt.stage == domain.StageQuickFilter && h.safety.fulls != 0 {
				t.Error("full analysis ran after quick reject")
			}
			if tt.stage != domain.StageExecution && len(h.trades.all()) != 0 {
				t.Error("trade submitted on reject")
			}
		})
	}
}

func TestIntakeFailedBuyEmitsError(t *testing.T) {
	h := newHarness(t)
	h.venue.broadcastErrs = []error{domain.ErrInsufficientFunds}
	h.intake.Process(context.Background(), h.signer, candidate("CCC"))

	if len(h.events.ofType(domain.EventError)) == 0 {
		t.Error("expected an error event")
	}
	recs := h.trades.all()
	if len(recs) != 1 || recs[0].Status != domain.TradeFailed {
		t.Errorf("records = %+v", recs)
	}
}

func TestIntakeUsesSuggestedCapital(t *testing.T) {
	h := newHarness(t)
	h.intake.cfg.Capital = 0.2
	h.venue.balance = 0.25

	out := h.intake.Process(context.Background(), h.signer, candidate("DDD"))
	if out.Decision != domain.DecisionBought {
		t.Fatalf("outcome = %+v", out)
	}
	if len(h.venue.intents) == 0 || !almostEqual(h.venue.intents[0].Amount, 0.15) {
		t.Errorf("buy amount = %+v, want 0.15", h.venue.intents)
	}
}

func TestIntakeSkipRecordsWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	out := h.intake.Skip(context.Background(), "acct", candidate("EEE"), domain.StageShutdown, "shutting down")
	if out.Decision != domain.DecisionSkipped || out.Stage != domain.StageShutdown {
		t.Fatalf("outcome = %+v", out)
	}
	if h.safety.quicks != 0 || len(h.trades.all()) != 0 {
		t.Error("skip ran the pipeline")
	}
	if got := h.stats.stat(domain.StatTokensAnalyzed); got != 0 {
		t.Errorf("analyzed = %v, drained candidates are not analyzed", got)
	}
}

func TestIntakeAppliesStrategyOverrides(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.ledger.RecordResult(ctx, false, -0.01); err != nil {
		t.Fatal(err)
	}
	rec := &recStrategy{decision: strategy.Decision{
		Action:      domain.RecommendBuy,
		AmountSOL:   0.1,
		SlippageBps: 2500,
		StopLossPct: 35,
		Tiers:       []domain.TakeProfitTier{{Multiplier: 4, SellPct: 100}},
	}}
	h.intake.strategy = rec

	out := h.intake.Process(ctx, h.signer, candidate("STR"))
	if out.Decision != domain.DecisionBought {
		t.Fatalf("outcome = %+v", out)
	}
	if len(h.venue.intents) == 0 {
		t.Fatal("no order submitted")
	}
	intent := h.venue.intents[0]
	if !almostEqual(intent.Amount, 0.1) {
		t.Errorf("amount = %v, want strategy 0.1", intent.Amount)
	}
	if intent.SlippageBps != 1000 {
		t.Errorf("slippage = %d, want capped at 1000", intent.SlippageBps)
	}
	p, err := h.book.Get(out.PositionID)
	if err != nil {
		t.Fatal(err)
	}
	if p.StopLossPct != 35 || len(p.Tiers) != 1 || p.Tiers[0].Multiplier != 4 {
		t.Errorf("exit parameters = %v %+v", p.StopLossPct, p.Tiers)
	}

	if len(rec.seen) != 1 {
		t.Fatalf("strategy consulted %d times", len(rec.seen))
	}
	snap := rec.seen[0]
	if snap.ConsecutiveLosses != 1 || snap.MaxPositions != 5 || snap.Balance != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if !almostEqual(snap.DailyPnL, -0.01) || snap.WinRate != 0.5 {
		t.Errorf("snapshot pnl/win rate = %v / %v", snap.DailyPnL, snap.WinRate)
	}
}

func TestIntakeOutcomesPerAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.intake.Process(ctx, h.signer, candidate("SHR"))
	h.intake.Skip(ctx, "other", candidate("SHR"), domain.StageShutdown, "shutting down")

	mine, theirs := h.outcomes.outcomes["acct/SHR"], h.outcomes.outcomes["other/SHR"]
	if mine.Decision != domain.DecisionBought || mine.AccountID != "acct" {
		t.Errorf("acct outcome = %+v", mine)
	}
	if theirs.Decision != domain.DecisionSkipped || theirs.AccountID != "other" {
		t.Errorf("other outcome = %+v", theirs)
	}
}

func TestIntakeStrategyWatchIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.intake.strategy = &recStrategy{decision: strategy.Decision{Action: domain.RecommendWatch, Reason: "waiting"}}

	out := h.intake.Process(context.Background(), h.signer, candidate("WAT"))
	if out.Decision != domain.DecisionSkipped || out.Stage != domain.StageStrategy {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Reason != "rec watch: waiting" {
		t.Errorf("reason = %q", out.Reason)
	}
	if len(h.venue.intents) != 0 {
		t.Error("order submitted on watch")
	}
}

func TestStatsBookedOnLedgerDay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tokyo := time.FixedZone("UTC+9", 9*60*60)
	utcEvening := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	clock := func() time.Time { return utcEvening }
	h.intake.cfg.Location = tokyo
	h.intake.now = clock
	h.monitor.cfg.Location = tokyo
	h.monitor.now = clock

	out := h.intake.Process(ctx, h.signer, candidate("TZA"))
	if out.Decision != domain.DecisionBought {
		t.Fatalf("outcome = %+v", out)
	}
	h.venue.setPrice(0.0004)
	if rep := h.monitor.Tick(ctx, h.signer); rep.Exits != 1 {
		t.Fatalf("tick = %+v", rep)
	}

	local, err := h.stats.Get(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("no stats on the local day: %v", err)
	}
	if local.TokensAnalyzed != 1 || local.TokensSniped != 1 || local.LosingTrades != 1 {
		t.Errorf("local day stats = %+v", local)
	}
	if _, err := h.stats.Get(ctx, "2026-03-01"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("stats booked on the UTC day: %v", err)
	}
}

func TestMonitorStopLossClosesAndRecordsLoss(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	out := h.intake.Process(ctx, h.signer, candidate("AAA"))
	if out.Decision != domain.DecisionBought {
		t.Fatalf("entry: %+v", out)
	}

	h.venue.setPrice(0.0007)
	rep := h.monitor.Tick(ctx, h.signer)
	if rep.Exits != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if h.book.OpenCount() != 0 {
		t.Fatal("stop loss left position open")
	}
	st := h.ledger.Status()
	if st.Losses != 1 || st.ConsecutiveLosses != 1 || st.DailyPnL >= 0 {
		t.Errorf("ledger = %+v", st)
	}
	if got := h.stats.stat(domain.StatLosingTrades); got != 1 {
		t.Errorf("losing trades = %v", got)
	}
	acts := h.events.ofType(domain.EventPositionAction)
	if len(acts) != 1 {
		t.Fatalf("position actions = %d", len(acts))
	}
	ev := acts[0].Payload.(domain.PositionActionEvent)
	if ev.Action.Kind != domain.ActionStopLoss || !ev.Closed {
		t.Errorf("event = %+v", ev)
	}
}

func TestMonitorSkipsWithoutPrice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.intake.Process(ctx, h.signer, candidate("AAA"))
	before := len(h.trades.all())

	h.venue.setPrice(0)
	rep := h.monitor.Tick(ctx, h.signer)
	if rep.Skipped != 1 || rep.Exits != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(h.trades.all()) != before {
		t.Error("missing price produced a trade")
	}
	if h.book.OpenCount() != 1 {
		t.Error("position closed without a price")
	}
}

func TestMonitorFailedSellRetriesTier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	out := h.intake.Process(ctx, h.signer, candidate("AAA"))

	h.venue.setPrice(0.0021)
	h.venue.broadcastErrs = []error{domain.ErrInsufficientFunds}
	rep := h.monitor.Tick(ctx, h.signer)
	if rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	p, _ := h.book.Get(out.PositionID)
	if p.TriggeredTiers.Has(0) || !almostEqual(p.RemainingQuantity, 50) {
		t.Fatalf("failed sell applied: %+v", p)
	}

	rep = h.monitor.Tick(ctx, h.signer)
	if rep.Exits != 1 {
		t.Fatalf("retry report = %+v", rep)
	}
	p, _ = h.book.Get(out.PositionID)
	if !p.TriggeredTiers.Has(0) || !almostEqual(p.RemainingQuantity, 35) {
		t.Errorf("after retry: tiers=%v remaining=%v", p.TriggeredTiers.Indices(), p.RemainingQuantity)
	}
	last := h.venue.intents[len(h.venue.intents)-1]
	if last.Side != domain.SideSell || !almostEqual(last.Amount, 15) {
		t.Errorf("sell intent = %+v", last)
	}
	if st := h.ledger.Status(); st.Wins != 1 {
		t.Errorf("ledger = %+v", st)
	}

	// Same price again: tier 0 already fired.
	if rep := h.monitor.Tick(ctx, h.signer); rep.Exits != 0 {
		t.Errorf("tier re-fired: %+v", rep)
	}
}

func TestMonitorFlattenAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, mint := range []string{"A1", "A2", "A3"} {
		if out := h.intake.Process(ctx, h.signer, candidate(mint)); out.Decision != domain.DecisionBought {
			t.Fatalf("entry %s: %+v", mint, out)
		}
	}

	n, err := h.monitor.FlattenAll(ctx, h.signer)
	if err != nil || n != 3 {
		t.Fatalf("FlattenAll = %d, %v", n, err)
	}
	if h.book.OpenCount() != 0 {
		t.Error("positions left after flatten")
	}
	for _, ev := range h.events.ofType(domain.EventPositionAction) {
		if ev.Payload.(domain.PositionActionEvent).Action.Kind != domain.ActionFlatten {
			t.Errorf("event = %+v", ev)
		}
	}
}

func TestMonitorIgnoresOtherAccounts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.intake.Process(ctx, h.signer, candidate("AAA"))

	h.venue.setPrice(0.0001)
	rep := h.monitor.Tick(ctx, fakeSigner{id: "other"})
	if rep.Checked != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestPriceServiceFallsBackToFreshMark(t *testing.T) {
	ctx := context.Background()
	src := &fakeVenue{price: 2}
	cache := newMemPriceCache()
	svc := NewPriceService(src, cache, nil, time.Minute, testLogger())

	if p, err := svc.Price(ctx, "MINT"); err != nil || p != 2 {
		t.Fatalf("Price = %v, %v", p, err)
	}
	src.setPrice(0)
	if p, err := svc.Price(ctx, "MINT"); err != nil || p != 2 {
		t.Fatalf("cached Price = %v, %v", p, err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.Price(ctx, "MINT"); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Errorf("stale mark served: %v", err)
	}
}

func TestPriceServicePricesReadsCachedMarks(t *testing.T) {
	ctx := context.Background()
	src := &fakeVenue{price: 3}
	svc := NewPriceService(src, newMemPriceCache(), nil, time.Minute, testLogger())
	if _, err := svc.Price(ctx, "M1"); err != nil {
		t.Fatal(err)
	}

	marks, err := svc.Prices(ctx, []string{"M1", "M2"})
	if err != nil {
		t.Fatalf("Prices: %v", err)
	}
	if len(marks) != 1 || marks["M1"] != 3 {
		t.Errorf("marks = %v", marks)
	}

	bare := NewPriceService(src, nil, nil, time.Minute, testLogger())
	if marks, err := bare.Prices(ctx, []string{"M1"}); err != nil || len(marks) != 0 {
		t.Errorf("without cache = %v, %v", marks, err)
	}
}

// memPriceCache is an in-memory PriceCache.
type memPriceCache struct {
	prices map[string]float64
	times  map[string]time.Time
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{prices: map[string]float64{}, times: map[string]time.Time{}}
}

func (c *memPriceCache) SetPrice(_ context.Context, instrument string, price float64, ts time.Time) error {
	c.prices[instrument] = price
	c.times[instrument] = ts
	return nil
}

func (c *memPriceCache) GetPrice(_ context.Context, instrument string) (float64, time.Time, error) {
	p, ok := c.prices[instrument]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, c.times[instrument], nil
}

func (c *memPriceCache) GetPrices(_ context.Context, instruments []string) (map[string]float64, error) {
	out := make(map[string]float64, len(instruments))
	for _, i := range instruments {
		if p, ok := c.prices[i]; ok {
			out[i] = p
		}
	}
	return out, nil
}

package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

type openCount int

func (n openCount) OpenCount() int { return int(n) }

func defaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositions:     5,
		MaxDailyLoss:     0.5,
		MaxPerInstrument: 0.2,
		PauseAfterLosses: 3,
		MinReserve:       0.1,
	}
}

func newTestLedger(t *testing.T, cfg RiskConfig, store *memStateStore, open OpenCounter, clock *fixedClock) *RiskLedger {
	t.Helper()
	l, err := NewRiskLedger(context.Background(), cfg, store, open, testLogger(), WithRiskClock(clock.Now))
	if err != nil {
		t.Fatalf("NewRiskLedger: %v", err)
	}
	return l
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCanOpenReducesToReserve(t *testing.T) {
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := newTestLedger(t, defaultRiskConfig(), newMemStateStore(), openCount(0), clock)

	d := l.CanOpen(context.Background(), 0.2, 0.25)
	if !d.Allowed {
		t.Fatalf("expected allowed, got reject %q", d.Reason)
	}
	if !almostEqual(d.SuggestedCapital, 0.15) {
		t.Errorf("suggested = %v, want 0.15", d.SuggestedCapital)
	}
}

func TestCanOpen(t *testing.T) {
	tests := []struct {
		name      string
		requested float64
		balance   float64
		open      int
		allowed   bool
		suggested float64
	}{
		{name: "plenty of balance", requested: 0.05, balance: 2, allowed: true},
		{name: "capped per instrument", requested: 0.5, balance: 2, allowed: true, suggested: 0.2},
		{name: "balance at reserve", requested: 0.05, balance: 0.1, allowed: false},
		{name: "balance below reserve", requested: 0.05, balance: 0.05, allowed: false},
		{name: "zero request", requested: 0, balance: 2, allowed: false},
		{name: "max positions", requested: 0.05, balance: 2, open: 5, allowed: false},
		{name: "reduced but max positions", requested: 0.2, balance: 0.25, open: 5, allowed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
			l := newTestLedger(t, defaultRiskConfig(), newMemStateStore(), openCount(tt.open), clock)
			d := l.CanOpen(context.Background(), tt.requested, tt.balance)
			if d.Allowed != tt.allowed {
				t.Fatalf("allowed = %v (%s), want %v", d.Allowed, d.Reason, tt.allowed)
			}
			if !d.Allowed && d.Reason == "" {
				t.Error("reject without reason")
			}
			if !almostEqual(d.SuggestedCapital, tt.suggested) {
				t.Errorf("suggested = %v, want %v", d.SuggestedCapital, tt.suggested)
			}
		})
	}
}

func TestDailyLossLimitBlocksEntries(t *testing.T) {
	ctx := context.Background()
	cfg := defaultRiskConfig()
	cfg.PauseAfterLosses = 0
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := newTestLedger(t, cfg, newMemStateStore(), openCount(0), clock)

	if err := l.RecordResult(ctx, false, -0.3); err != nil {
		t.Fatal(err)
	}
	if d := l.CanOpen(ctx, 0.05, 2); !d.Allowed {
		t.Fatalf("should still trade at -0.3: %s", d.Reason)
	}
	if err := l.RecordResult(ctx, false, -0.2); err != nil {
		t.Fatal(err)
	}
	if d := l.CanOpen(ctx, 0.05, 2); d.Allowed {
		t.Fatal("expected daily loss reject at -0.5")
	}
}

func TestConsecutiveLossesPauseAndResume(t *testing.T) {
	ctx := context.Background()
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newMemStateStore()
	l := newTestLedger(t, defaultRiskConfig(), store, openCount(0), clock)

	for i := 0; i < 2; i++ {
		if err := l.RecordResult(ctx, false, -0.01); err != nil {
			t.Fatal(err)
		}
	}
	if l.Status().Paused {
		t.Fatal("paused after 2 losses, threshold is 3")
	}
	if err := l.RecordResult(ctx, false, -0.01); err != nil {
		t.Fatal(err)
	}
	st := l.Status()
	if !st.Paused || st.PauseReason != domain.PauseLossStreak {
		t.Fatalf("status = %+v, want loss streak pause", st)
	}
	if d := l.CanOpen(ctx, 0.05, 2); d.Allowed {
		t.Fatal("CanOpen allowed while paused")
	}

	if err := l.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	st = l.Status()
	if st.Paused || st.ConsecutiveLosses != 0 {
		t.Fatalf("after resume: %+v", st)
	}
	if d := l.CanOpen(ctx, 0.05, 2); !d.Allowed {
		t.Fatalf("CanOpen after resume: %s", d.Reason)
	}
}

func TestProfitResetsStreak(t *testing.T) {
	ctx := context.Background()
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := newTestLedger(t, defaultRiskConfig(), newMemStateStore(), openCount(0), clock)

	_ = l.RecordResult(ctx, false, -0.01)
	_ = l.RecordResult(ctx, false, -0.01)
	_ = l.RecordResult(ctx, true, 0.05)
	_ = l.RecordResult(ctx, false, -0.01)
	st := l.Status()
	if st.Paused {
		t.Fatal("win in the middle should reset the streak")
	}
	if st.ConsecutiveLosses != 1 || st.Wins != 1 || st.Losses != 3 {
		t.Errorf("status = %+v", st)
	}
	if !almostEqual(st.DailyPnL, 0.02) {
		t.Errorf("daily pnl = %v, want 0.02", st.DailyPnL)
	}
}

func TestManualPause(t *testing.T) {
	ctx := context.Background()
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := newTestLedger(t, defaultRiskConfig(), newMemStateStore(), openCount(0), clock)

	if err := l.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	for _, req := range []float64{0.01, 0.05, 0.2} {
		if d := l.CanOpen(ctx, req, 10); d.Allowed {
			t.Fatalf("CanOpen(%v) allowed while paused", req)
		}
	}

	// A manual pause survives the day boundary.
	clock.Advance(24 * time.Hour)
	if d := l.CanOpen(ctx, 0.05, 10); d.Allowed {
		t.Fatal("manual pause lifted by rollover")
	}
}

func TestStatusIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := newClock(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	store := newMemStateStore()
	l := newTestLedger(t, defaultRiskConfig(), store, openCount(2), clock)
	_ = l.RecordResult(ctx, false, -0.1)

	clock.Advance(2 * time.Hour)
	saves := store.saves
	first := l.Status()
	second := l.Status()
	if first != second {
		t.Fatalf("Status changed between calls: %+v vs %+v", first, second)
	}
	if store.saves != saves {
		t.Error("Status persisted state")
	}
	if first.Day != "2026-03-02" || first.DailyPnL != 0 {
		t.Errorf("pending rollover not reflected: %+v", first)
	}
	if first.OpenPositions != 2 {
		t.Errorf("open positions = %d", first.OpenPositions)
	}
}

func TestDayRollover(t *testing.T) {
	ctx := context.Background()
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := newTestLedger(t, defaultRiskConfig(), newMemStateStore(), openCount(0), clock)

	for i := 0; i < 3; i++ {
		_ = l.RecordResult(ctx, false, -0.05)
	}
	if !l.Status().Paused {
		t.Fatal("expected pause")
	}

	clock.Advance(24 * time.Hour)
	if d := l.CanOpen(ctx, 0.05, 2); !d.Allowed {
		t.Fatalf("streak pause should lift on a new day: %s", d.Reason)
	}
	st := l.Status()
	if st.DailyPnL != 0 || st.ConsecutiveLosses != 0 || st.Losses != 0 {
		t.Errorf("counters not reset: %+v", st)
	}
}

func TestRolloverRespectsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	cfg := defaultRiskConfig()
	cfg.Location = loc
	clock := newClock(time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC))
	l := newTestLedger(t, cfg, newMemStateStore(), openCount(0), clock)
	if got := l.Status().Day; got != "2026-03-02" {
		t.Errorf("day = %s, want 2026-03-02", got)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newMemStateStore()
	l := newTestLedger(t, defaultRiskConfig(), store, openCount(0), clock)
	_ = l.RecordResult(ctx, false, -0.1)
	_ = l.RecordResult(ctx, true, 0.3)
	_ = l.Pause(ctx)

	restored := newTestLedger(t, defaultRiskConfig(), store, openCount(0), clock)
	st := restored.Status()
	if !st.Paused || st.PauseReason != domain.PauseManual {
		t.Errorf("pause not restored: %+v", st)
	}
	if !almostEqual(st.DailyPnL, 0.2) || st.Wins != 1 || st.Losses != 1 {
		t.Errorf("counters not restored: %+v", st)
	}
}

func TestStateKeySeparatesAccounts(t *testing.T) {
	ctx := context.Background()
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newMemStateStore()

	a, err := NewRiskLedger(ctx, defaultRiskConfig(), store, openCount(0), testLogger(),
		WithRiskClock(clock.Now), WithStateKey("risk_manager:a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Pause(ctx); err != nil {
		t.Fatal(err)
	}

	b, err := NewRiskLedger(ctx, defaultRiskConfig(), store, openCount(0), testLogger(),
		WithRiskClock(clock.Now), WithStateKey("risk_manager:b"))
	if err != nil {
		t.Fatal(err)
	}
	if b.Status().Paused {
		t.Error("pause leaked across state keys")
	}
	if _, ok := store.data["risk_manager:a"]; !ok {
		t.Error("ledger a not saved under its key")
	}
	if _, ok := store.data[riskStateKey]; ok {
		t.Error("default key written despite WithStateKey")
	}
}

func TestPersistenceFailureHaltsEntries(t *testing.T) {
	ctx := context.Background()
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newMemStateStore()
	l := newTestLedger(t, defaultRiskConfig(), store, openCount(0), clock)

	store.saveErr = errBoom
	err := l.RecordResult(ctx, true, 0.1)
	if !errors.Is(err, domain.ErrPersistence) || !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want persistence wrapping boom", err)
	}
	if d := l.CanOpen(ctx, 0.05, 2); d.Allowed {
		t.Fatal("entries allowed after a failed save")
	}
	if st := l.Status(); st.PauseReason != domain.PausePersistence {
		t.Errorf("reason = %q", st.PauseReason)
	}

	store.saveErr = nil
	if err := l.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if d := l.CanOpen(ctx, 0.05, 2); !d.Allowed {
		t.Fatalf("resume did not clear persistence halt: %s", d.Reason)
	}
}

func TestHaltEntries(t *testing.T) {
	ctx := context.Background()
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := newTestLedger(t, defaultRiskConfig(), newMemStateStore(), openCount(0), clock)

	l.HaltEntries(ctx, errBoom)
	st := l.Status()
	if !st.Paused || st.PauseReason != domain.PausePersistence {
		t.Fatalf("status = %+v", st)
	}
	clock.Advance(48 * time.Hour)
	if d := l.CanOpen(ctx, 0.05, 2); d.Allowed {
		t.Fatal("persistence halt lifted by rollover")
	}
}

func TestKellySize(t *testing.T) {
	cfg := defaultRiskConfig()
	cfg.MaxPerInstrument = 5
	clock := newClock(time.Now())
	l := newTestLedger(t, cfg, newMemStateStore(), openCount(0), clock)

	if got := l.KellySize(0.6, 1.0, -0.5, 10); !almostEqual(got, 1.0) {
		t.Errorf("KellySize = %v, want 1.0", got)
	}
	if got := l.KellySize(0.2, 0.5, -1, 10); got != 0 {
		t.Errorf("negative edge should size to 0, got %v", got)
	}
	if got := l.KellySize(0.6, 1, 0, 10); got != 0 {
		t.Errorf("zero loss multiple should size to 0, got %v", got)
	}

	cfg.MaxPerInstrument = 0.2
	capped := newTestLedger(t, cfg, newMemStateStore(), openCount(0), clock)
	if got := capped.KellySize(0.6, 1.0, -0.5, 10); !almostEqual(got, 0.2) {
		t.Errorf("capped KellySize = %v, want 0.2", got)
	}
}

func TestKellyCapitalAndWinRate(t *testing.T) {
	ctx := context.Background()
	clock := newClock(time.Now())
	cfg := defaultRiskConfig()
	cfg.MaxPerInstrument = 5

	none, _ := NewRiskLedger(ctx, cfg, newMemStateStore(), openCount(0), testLogger(), WithRiskClock(clock.Now))
	if wr, _ := none.WinRate(ctx); wr != 0.5 {
		t.Errorf("default win rate = %v", wr)
	}
	if _, ok, _ := none.KellyCapital(ctx, 10); ok {
		t.Error("kelly estimate without history")
	}

	results := staticResults{
		{PnL: 0.1, CostBasis: 0.1},
		{PnL: 0.1, CostBasis: 0.1},
		{PnL: 0.1, CostBasis: 0.1},
		{PnL: -0.05, CostBasis: 0.1},
		{PnL: -0.05, CostBasis: 0.1},
	}
	l, _ := NewRiskLedger(ctx, cfg, newMemStateStore(), openCount(0), testLogger(),
		WithRiskClock(clock.Now), WithResultStore(results))
	if wr, _ := l.WinRate(ctx); !almostEqual(wr, 0.6) {
		t.Errorf("win rate = %v, want 0.6", wr)
	}
	got, ok, err := l.KellyCapital(ctx, 10)
	if err != nil || !ok {
		t.Fatalf("KellyCapital ok=%v err=%v", ok, err)
	}
	if !almostEqual(got, 1.0) {
		t.Errorf("KellyCapital = %v, want 1.0", got)
	}
}

package paper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

type marks struct {
	mu sync.Mutex
	px map[string]float64
}

func (m *marks) set(inst string, px float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.px == nil {
		m.px = map[string]float64{}
	}
	m.px[inst] = px
}

func (m *marks) Price(_ context.Context, inst string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	px, ok := m.px[inst]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return px, nil
}

func newTestVenue(cfg Config) (*Venue, *marks) {
	m := &marks{}
	return NewVenue(m, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), m
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func trade(t *testing.T, v *Venue, side domain.TradeSide, inst string, amount float64) (*domain.PreparedOrder, string, error) {
	t.Helper()
	po, err := v.Prepare(context.Background(), domain.OrderIntent{Side: side, Owner: "w1", Instrument: inst, Amount: amount})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	signed, _ := NewSigner("w1").Sign(context.Background(), po.Payload)
	tx, err := v.Broadcast(context.Background(), signed)
	return po, tx, err
}

func TestBuySellRoundTrip(t *testing.T) {
	v, m := newTestVenue(Config{StartingBalance: 1})
	m.set("TOK", 0.001)

	po, tx, err := trade(t, v, domain.SideBuy, "TOK", 0.2)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if tx == "" || !near(po.OutAmount, 200) || !near(po.Price, 0.001) {
		t.Errorf("buy fill = %+v tx=%q", po, tx)
	}
	if bal, _ := v.Balance(context.Background(), "w1"); !near(bal, 0.8) {
		t.Errorf("balance after buy = %v", bal)
	}

	m.set("TOK", 0.002)
	po, _, err = trade(t, v, domain.SideSell, "TOK", 100)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !near(po.OutAmount, 0.2) {
		t.Errorf("sell proceeds = %v", po.OutAmount)
	}

	m.set("TOK", 0.0005)
	if _, _, err := trade(t, v, domain.SideSell, "TOK", 100); err != nil {
		t.Fatalf("second sell: %v", err)
	}

	st := v.Stats("w1")
	if st.TotalTrades != 3 || st.WinningTrades != 1 || st.LosingTrades != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if !near(st.WinRate, 0.5) || !near(st.LargestWin, 0.1) || !near(st.LargestLoss, -0.05) {
		t.Errorf("stats = %+v", st)
	}
	if !near(st.CurrentBalance, 1.05) || st.OpenHoldings != 0 {
		t.Errorf("balance/holdings = %v/%d", st.CurrentBalance, st.OpenHoldings)
	}
}

func TestBroadcastErrors(t *testing.T) {
	v, m := newTestVenue(Config{StartingBalance: 0.1})
	m.set("TOK", 1)

	if _, _, err := trade(t, v, domain.SideBuy, "TOK", 0.5); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("overspend = %v", err)
	}
	if _, _, err := trade(t, v, domain.SideSell, "TOK", 1); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("sell without holding = %v", err)
	}

	po, err := v.Prepare(context.Background(), domain.OrderIntent{Side: domain.SideBuy, Owner: "w1", Instrument: "TOK", Amount: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Broadcast(context.Background(), po.Payload); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Broadcast(context.Background(), po.Payload); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Errorf("replay = %v", err)
	}

	po, _ = v.Prepare(context.Background(), domain.OrderIntent{Side: domain.SideBuy, Owner: "w1", Instrument: "TOK", Amount: 0.01})
	v.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := v.Broadcast(context.Background(), po.Payload); !errors.Is(err, domain.ErrStaleParameters) {
		t.Errorf("expired = %v", err)
	}
}

func TestPrepareErrors(t *testing.T) {
	v, _ := newTestVenue(Config{})
	if _, err := v.Prepare(context.Background(), domain.OrderIntent{Side: domain.SideBuy, Instrument: "X", Amount: 1}); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Errorf("no price = %v", err)
	}
	if _, err := v.Prepare(context.Background(), domain.OrderIntent{Side: domain.SideBuy, Instrument: "X", Amount: -1}); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("negative = %v", err)
	}
}

func TestSlippageWorsensFills(t *testing.T) {
	v, m := newTestVenue(Config{StartingBalance: 10, SlippageBps: 100})
	m.set("TOK", 1)
	po, _, err := trade(t, v, domain.SideBuy, "TOK", 1.01)
	if err != nil {
		t.Fatal(err)
	}
	if !near(po.OutAmount, 1) {
		t.Errorf("tokens = %v, want 1", po.OutAmount)
	}
}

func TestBundleLandsImmediately(t *testing.T) {
	v, m := newTestVenue(Config{})
	m.set("TOK", 1)
	po, _ := v.Prepare(context.Background(), domain.OrderIntent{Side: domain.SideBuy, Owner: "w1", Instrument: "TOK", Amount: 0.1})

	id, err := v.SubmitBundle(context.Background(), po.Payload)
	if err != nil {
		t.Fatal(err)
	}
	st, err := v.BundleStatus(context.Background(), id)
	if err != nil || st.State != domain.BundleLanded || st.TxID == "" {
		t.Errorf("status = %+v, %v", st, err)
	}
	if _, err := v.BundleStatus(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing bundle = %v", err)
	}
}

func TestSellToleratesFloatRoundTrip(t *testing.T) {
	v, m := newTestVenue(Config{StartingBalance: 1})
	m.set("TOK", 3)
	po, _, err := trade(t, v, domain.SideBuy, "TOK", 0.1)
	if err != nil {
		t.Fatal(err)
	}
	// Sell exactly what the fill reported, as the position book would.
	if _, _, err := trade(t, v, domain.SideSell, "TOK", po.OutAmount); err != nil {
		t.Fatalf("sell full quantity: %v", err)
	}
	if st := v.Stats("w1"); st.OpenHoldings != 0 {
		t.Errorf("holdings left = %d", st.OpenHoldings)
	}
}

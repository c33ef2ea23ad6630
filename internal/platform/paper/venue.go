// Package paper provides a simulated venue that fills orders at live or
// injected prices against a virtual balance.
package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Config configures the simulator.
type Config struct {
	StartingBalance float64
	// SlippageBps worsens every simulated fill by this many basis points.
	SlippageBps int
	QuoteTTL    time.Duration
}

var (
	dustRatio = decimal.New(1, -9)
	dustQty   = decimal.New(1, -9)
)

// order is the payload a prepared paper order carries through signing.
type order struct {
	ID         string           `json:"id"`
	Owner      string           `json:"owner"`
	Side       domain.TradeSide `json:"side"`
	Instrument string           `json:"instrument"`
	In         decimal.Decimal  `json:"in"`
	Out        decimal.Decimal  `json:"out"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

type holding struct {
	qty  decimal.Decimal
	cost decimal.Decimal
}

type account struct {
	balance  decimal.Decimal
	holdings map[string]*holding
}

// Fill is one simulated execution.
type Fill struct {
	TxID       string
	Owner      string
	Side       domain.TradeSide
	Instrument string
	In         float64
	Out        float64
	// PnL is set for sells: proceeds minus the cost basis sold.
	PnL float64
	At  time.Time
}

// Stats summarizes simulated trading.
type Stats struct {
	StartingBalance float64 `json:"starting_balance"`
	CurrentBalance  float64 `json:"current_balance"`
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	WinRate         float64 `json:"win_rate"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	LargestWin      float64 `json:"largest_win"`
	LargestLoss     float64 `json:"largest_loss"`
	RealizedPnL     float64 `json:"realized_pnl"`
	OpenHoldings    int     `json:"open_holdings"`
}

// Venue implements domain.Venue without touching a chain. Each owner gets
// its own virtual balance.
type Venue struct {
	prices domain.PriceSource
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	accounts map[string]*account
	settled  map[string]bool
	bundles  map[string]domain.BundleStatus
	fills    []Fill
}

// NewVenue creates a simulator that prices fills with prices.
func NewVenue(prices domain.PriceSource, cfg Config, logger *slog.Logger) *Venue {
	if cfg.StartingBalance <= 0 {
		cfg.StartingBalance = 1
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = 30 * time.Second
	}
	return &Venue{
		prices:   prices,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "paper_venue")),
		now:      time.Now,
		accounts: make(map[string]*account),
		settled:  make(map[string]bool),
		bundles:  make(map[string]domain.BundleStatus),
	}
}

// Prepare quotes intent at the current price.
func (v *Venue) Prepare(ctx context.Context, intent domain.OrderIntent) (*domain.PreparedOrder, error) {
	if intent.Amount <= 0 || math.IsNaN(intent.Amount) || math.IsInf(intent.Amount, 0) {
		return nil, fmt.Errorf("paper: prepare: %w", domain.ErrInvalidOrder)
	}
	px, err := v.prices.Price(ctx, intent.Instrument)
	if err != nil {
		return nil, fmt.Errorf("paper: prepare: %w", err)
	}
	if px <= 0 {
		return nil, fmt.Errorf("paper: prepare %s: %w", intent.Instrument, domain.ErrPriceUnavailable)
	}

	price := decimal.NewFromFloat(px)
	slip := decimal.NewFromInt(int64(v.cfg.SlippageBps)).Div(decimal.NewFromInt(10_000))
	in := decimal.NewFromFloat(intent.Amount)

	var out decimal.Decimal
	switch intent.Side {
	case domain.SideBuy:
		out = in.Div(price.Mul(decimal.NewFromInt(1).Add(slip)))
	case domain.SideSell:
		out = in.Mul(price).Mul(decimal.NewFromInt(1).Sub(slip))
	default:
		return nil, fmt.Errorf("paper: prepare: side %q: %w", intent.Side, domain.ErrInvalidOrder)
	}

	o := order{
		ID:         uuid.NewString(),
		Owner:      intent.Owner,
		Side:       intent.Side,
		Instrument: intent.Instrument,
		In:         in,
		Out:        out,
		ExpiresAt:  v.now().Add(v.cfg.QuoteTTL),
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("paper: encode order: %w", err)
	}

	inF, outF := in.InexactFloat64(), out.InexactFloat64()
	fill := inF / outF
	if intent.Side == domain.SideSell {
		fill = outF / inF
	}
	return &domain.PreparedOrder{
		Payload:   payload,
		InAmount:  inF,
		OutAmount: outF,
		Price:     fill,
		ExpiresAt: o.ExpiresAt,
	}, nil
}

// Broadcast settles a prepared order against the owner's virtual balance.
func (v *Venue) Broadcast(ctx context.Context, signed []byte) (string, error) {
	var o order
	if err := json.Unmarshal(signed, &o); err != nil {
		return "", fmt.Errorf("paper: decode order: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.settled[o.ID] {
		return "", fmt.Errorf("paper: order %s: %w", o.ID, domain.ErrDuplicateSubmission)
	}
	if v.now().After(o.ExpiresAt) {
		return "", fmt.Errorf("paper: order %s: %w", o.ID, domain.ErrStaleParameters)
	}

	acct := v.accountLocked(o.Owner)
	fill := Fill{
		TxID:       "paper-" + uuid.NewString(),
		Owner:      o.Owner,
		Side:       o.Side,
		Instrument: o.Instrument,
		In:         o.In.InexactFloat64(),
		Out:        o.Out.InexactFloat64(),
		At:         v.now(),
	}

	switch o.Side {
	case domain.SideBuy:
		if acct.balance.LessThan(o.In) {
			return "", fmt.Errorf("paper: buy %s: %w", o.Instrument, domain.ErrInsufficientFunds)
		}
		acct.balance = acct.balance.Sub(o.In)
		h := acct.holdings[o.Instrument]
		if h == nil {
			h = &holding{}
			acct.holdings[o.Instrument] = h
		}
		h.qty = h.qty.Add(o.Out)
		h.cost = h.cost.Add(o.In)

	case domain.SideSell:
		h := acct.holdings[o.Instrument]
		if h == nil {
			return "", fmt.Errorf("paper: sell %s: %w", o.Instrument, domain.ErrInsufficientFunds)
		}
		if o.In.GreaterThan(h.qty) {
			// Quantities round-trip through float64 on the caller side.
			if o.In.Sub(h.qty).GreaterThan(h.qty.Mul(dustRatio)) {
				return "", fmt.Errorf("paper: sell %s: %w", o.Instrument, domain.ErrInsufficientFunds)
			}
			o.In = h.qty
		}
		costSold := h.cost.Mul(o.In).Div(h.qty)
		h.qty = h.qty.Sub(o.In)
		h.cost = h.cost.Sub(costSold)
		if h.qty.LessThanOrEqual(dustQty) {
			delete(acct.holdings, o.Instrument)
		}
		acct.balance = acct.balance.Add(o.Out)
		fill.PnL = o.Out.Sub(costSold).InexactFloat64()
	}

	v.settled[o.ID] = true
	v.fills = append(v.fills, fill)
	v.logger.InfoContext(ctx, "paper fill",
		slog.String("side", string(o.Side)),
		slog.String("instrument", o.Instrument),
		slog.Float64("in", fill.In),
		slog.Float64("out", fill.Out),
		slog.Float64("pnl", fill.PnL),
	)
	return fill.TxID, nil
}

// SubmitBundle settles immediately; the bundle reports landed on the first
// poll.
func (v *Venue) SubmitBundle(ctx context.Context, signed []byte) (string, error) {
	txID, err := v.Broadcast(ctx, signed)
	if err != nil {
		return "", err
	}

	id := "bundle-" + uuid.NewString()
	v.mu.Lock()
	v.bundles[id] = domain.BundleStatus{State: domain.BundleLanded, TxID: txID}
	v.mu.Unlock()
	return id, nil
}

// BundleStatus implements domain.Venue.
func (v *Venue) BundleStatus(_ context.Context, bundleID string) (domain.BundleStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.bundles[bundleID]
	if !ok {
		return domain.BundleStatus{}, fmt.Errorf("paper: bundle %s: %w", bundleID, domain.ErrNotFound)
	}
	return st, nil
}

// Balance returns the virtual balance of identity.
func (v *Venue) Balance(_ context.Context, identity string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accountLocked(identity).balance.InexactFloat64(), nil
}

// Fills returns every simulated execution in order.
func (v *Venue) Fills() []Fill {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Fill(nil), v.fills...)
}

// Stats summarizes the fills of identity, or of every account when identity
// is empty.
func (v *Venue) Stats(identity string) Stats {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := Stats{StartingBalance: v.cfg.StartingBalance}
	owners := make([]string, 0, len(v.accounts))
	for owner := range v.accounts {
		if identity == "" || owner == identity {
			owners = append(owners, owner)
		}
	}
	sort.Strings(owners)
	if identity == "" {
		st.StartingBalance = v.cfg.StartingBalance * float64(len(owners))
	}
	for _, owner := range owners {
		acct := v.accounts[owner]
		st.CurrentBalance += acct.balance.InexactFloat64()
		st.OpenHoldings += len(acct.holdings)
	}

	var winSum, lossSum float64
	for _, f := range v.fills {
		if identity != "" && f.Owner != identity {
			continue
		}
		st.TotalTrades++
		if f.Side != domain.SideSell {
			continue
		}
		st.RealizedPnL += f.PnL
		if f.PnL > 0 {
			st.WinningTrades++
			winSum += f.PnL
			st.LargestWin = math.Max(st.LargestWin, f.PnL)
		} else {
			st.LosingTrades++
			lossSum += f.PnL
			st.LargestLoss = math.Min(st.LargestLoss, f.PnL)
		}
	}
	if n := st.WinningTrades + st.LosingTrades; n > 0 {
		st.WinRate = float64(st.WinningTrades) / float64(n)
	}
	if st.WinningTrades > 0 {
		st.AvgWin = winSum / float64(st.WinningTrades)
	}
	if st.LosingTrades > 0 {
		st.AvgLoss = lossSum / float64(st.LosingTrades)
	}
	return st
}

func (v *Venue) accountLocked(owner string) *account {
	acct, ok := v.accounts[owner]
	if !ok {
		acct = &account{
			balance:  decimal.NewFromFloat(v.cfg.StartingBalance),
			holdings: make(map[string]*holding),
		}
		v.accounts[owner] = acct
	}
	return acct
}

// Compile-time interface check.
var _ domain.Venue = (*Venue)(nil)

package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
)

// dustQuantity is the remaining quantity below which a position is closed.
const dustQuantity = 1e-9

// Evaluate decides what to do with p at price. The caller must have marked
// p at price first so HighestPrice includes it. Loss-side exits are checked
// before take-profit tiers.
func Evaluate(p domain.Position, price, trailingStopPct float64) domain.Action {
	pnlPct := p.PnLPct(price)

	if trailingStopPct > 0 && pnlPct > 0 {
		if dd := p.DrawdownPct(price); dd >= trailingStopPct {
			return domain.Action{
				Kind:      domain.ActionTrailingStop,
				SellPct:   100,
				TierIndex: -1,
				PnLPct:    pnlPct,
				Reason:    fmt.Sprintf("trailing stop: %.1f%% below high", dd),
			}
		}
	}

	if p.StopLossPct > 0 && pnlPct <= -p.StopLossPct {
		return domain.Action{
			Kind:      domain.ActionStopLoss,
			SellPct:   100,
			TierIndex: -1,
			PnLPct:    pnlPct,
			Reason:    fmt.Sprintf("stop loss: %.1f%%", pnlPct),
		}
	}

	if p.EntryPrice > 0 {
		multiple := price / p.EntryPrice
		for i, tier := range p.Tiers {
			if p.TriggeredTiers.Has(i) {
				continue
			}
			if multiple >= tier.Multiplier {
				return domain.Action{
					Kind:      domain.ActionTakeProfit,
					SellPct:   tier.SellPct,
					TierIndex: i,
					PnLPct:    pnlPct,
					Reason:    fmt.Sprintf("take profit tier %d at %.2fx", i, tier.Multiplier),
				}
			}
		}
	}

	return domain.Action{Kind: domain.ActionHold, TierIndex: -1, PnLPct: pnlPct}
}

// OpenParams describes a confirmed buy fill that becomes a position.
type OpenParams struct {
	AccountID   string
	Instrument  string
	Name        string
	Symbol      string
	EntryPrice  float64
	CostBasis   float64
	Quantity    float64
	StopLossPct float64
	Tiers       []domain.TakeProfitTier
}

// ExitFill is the confirmed result of an exit sell.
type ExitFill struct {
	Quantity  float64
	AmountOut float64
	Price     float64
}

// ExitOutcome reports what ApplyExit did.
type ExitOutcome struct {
	Position     domain.Position
	SoldQuantity float64
	PnL          float64
	Closed       bool
}

// PositionBook exclusively owns position records. Other components read
// copies and request changes through its methods.
type PositionBook struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	store     domain.PositionStore
	audit     domain.AuditStore
	now       func() time.Time
	logger    *slog.Logger
}

// NewPositionBook creates an empty book backed by store. audit may be nil.
func NewPositionBook(store domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *PositionBook {
	return &PositionBook{
		positions: make(map[string]*domain.Position),
		store:     store,
		audit:     audit,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "position_book")),
	}
}

// Restore loads the open positions of accountID from the store.
func (b *PositionBook) Restore(ctx context.Context, accountID string) (int, error) {
	open, err := b.store.ListOpen(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("position_book: restore %q: %w", accountID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range open {
		p := open[i].Clone()
		if p.TriggeredTiers == nil {
			p.TriggeredTiers = domain.TierSet{}
		}
		b.positions[p.ID] = &p
	}
	b.reportLocked(accountID)
	b.logger.InfoContext(ctx, "positions restored",
		slog.String("account", accountID),
		slog.Int("count", len(open)),
	)
	return len(open), nil
}

// Open creates a position from a confirmed buy. The position is tracked in
// memory even if persisting it fails, since the holding exists regardless;
// in that case the returned error wraps domain.ErrPersistence.
func (b *PositionBook) Open(ctx context.Context, params OpenParams) (domain.Position, error) {
	if params.Quantity <= 0 || params.EntryPrice <= 0 || params.CostBasis < 0 {
		return domain.Position{}, fmt.Errorf("position_book: open: %w: quantity=%v entry=%v cost=%v",
			domain.ErrInvalidOrder, params.Quantity, params.EntryPrice, params.CostBasis)
	}

	tiers := slices.Clone(params.Tiers)
	slices.SortStableFunc(tiers, func(a, c domain.TakeProfitTier) int {
		return cmp.Compare(a.Multiplier, c.Multiplier)
	})

	now := b.now().UTC()
	pos := domain.Position{
		ID:                uuid.NewString(),
		AccountID:         params.AccountID,
		Instrument:        params.Instrument,
		Name:              params.Name,
		Symbol:            params.Symbol,
		EntryPrice:        params.EntryPrice,
		CostBasis:         params.CostBasis,
		InitialQuantity:   params.Quantity,
		RemainingQuantity: params.Quantity,
		HighestPrice:      params.EntryPrice,
		MarkPrice:         params.EntryPrice,
		StopLossPct:       params.StopLossPct,
		Tiers:             tiers,
		TriggeredTiers:    domain.TierSet{},
		Status:            domain.PositionOpen,
		OpenedAt:          now,
		UpdatedAt:         now,
	}

	b.mu.Lock()
	b.positions[pos.ID] = &pos
	b.reportLocked(pos.AccountID)
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("instrument", pos.Instrument),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("quantity", pos.RemainingQuantity),
		slog.Float64("cost_basis", pos.CostBasis),
	)
	b.auditLog(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"instrument":  pos.Instrument,
		"entry_price": pos.EntryPrice,
		"quantity":    pos.RemainingQuantity,
		"cost_basis":  pos.CostBasis,
	})

	if err := b.store.Create(ctx, pos); err != nil {
		return pos.Clone(), fmt.Errorf("position_book: create %s: %w: %w", pos.ID, domain.ErrPersistence, err)
	}
	return pos.Clone(), nil
}

// Get returns a copy of the position.
func (b *PositionBook) Get(id string) (domain.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("position_book: %s: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// List returns copies of the open positions of accountID, oldest first. An
// empty accountID lists every account.
func (b *PositionBook) List(accountID string) []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if accountID == "" || p.AccountID == accountID {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, func(a, c domain.Position) int {
		return a.OpenedAt.Compare(c.OpenedAt)
	})
	return out
}

// OpenCount implements OpenCounter.
func (b *PositionBook) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Mark records a new price and raises HighestPrice when exceeded. The new
// high is persisted so trailing stops survive a restart.
func (b *PositionBook) Mark(ctx context.Context, id string, price float64) (domain.Position, error) {
	if price <= 0 {
		return domain.Position{}, fmt.Errorf("position_book: mark %s: %w", id, domain.ErrPriceUnavailable)
	}

	b.mu.Lock()
	p, ok := b.positions[id]
	if !ok {
		b.mu.Unlock()
		return domain.Position{}, fmt.Errorf("position_book: mark %s: %w", id, domain.ErrNotFound)
	}
	p.MarkPrice = price
	raised := price > p.HighestPrice
	if raised {
		p.HighestPrice = price
	}
	p.UpdatedAt = b.now().UTC()
	snapshot := p.Clone()
	b.mu.Unlock()

	if raised {
		if err := b.store.Update(ctx, snapshot); err != nil {
			b.logger.WarnContext(ctx, "persist new high failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return snapshot, nil
}

// ApplyExit books a confirmed exit sell for action. It reduces the remaining
// quantity and cost basis, accumulates realized P&L, marks a take-profit
// tier as triggered and deletes the position once nothing remains.
func (b *PositionBook) ApplyExit(ctx context.Context, id string, action domain.Action, fill ExitFill) (ExitOutcome, error) {
	sellPct := min(max(action.SellPct, 0), 100)
	if sellPct == 0 {
		return ExitOutcome{}, fmt.Errorf("position_book: exit %s: %w: sell pct %v", id, domain.ErrInvalidOrder, action.SellPct)
	}

	b.mu.Lock()
	p, ok := b.positions[id]
	if !ok {
		b.mu.Unlock()
		return ExitOutcome{}, fmt.Errorf("position_book: exit %s: %w", id, domain.ErrNotFound)
	}

	before := p.RemainingQuantity
	sold := before * sellPct / 100
	if fill.Quantity > 0 && fill.Quantity < sold {
		sold = fill.Quantity
	}
	frac := 1.0
	if before > 0 {
		frac = sold / before
	}
	costPortion := p.CostBasis * frac
	pnl := fill.AmountOut - costPortion

	p.RemainingQuantity = max(p.RemainingQuantity-sold, 0)
	p.CostBasis = max(p.CostBasis-costPortion, 0)
	p.RealizedPnL += pnl
	if action.Kind == domain.ActionTakeProfit && action.TierIndex >= 0 {
		p.TriggeredTiers[action.TierIndex] = struct{}{}
	}
	p.UpdatedAt = b.now().UTC()

	closed := sellPct >= 100 || p.RemainingQuantity <= dustQuantity
	if closed {
		p.RemainingQuantity = 0
		p.Status = domain.PositionClosed
		delete(b.positions, id)
	} else {
		p.Status = domain.PositionPartiallyClosed
	}
	snapshot := p.Clone()
	b.reportLocked(p.AccountID)
	b.mu.Unlock()

	out := ExitOutcome{Position: snapshot, SoldQuantity: sold, PnL: pnl, Closed: closed}

	b.logger.InfoContext(ctx, "position exit applied",
		slog.String("position_id", id),
		slog.String("action", string(action.Kind)),
		slog.Float64("sold", sold),
		slog.Float64("remaining", snapshot.RemainingQuantity),
		slog.Float64("pnl", pnl),
		slog.Bool("closed", closed),
	)
	b.auditLog(ctx, "position_exit", map[string]any{
		"position_id": id,
		"action":      string(action.Kind),
		"tier":        action.TierIndex,
		"sold":        sold,
		"amount_out":  fill.AmountOut,
		"pnl":         pnl,
		"closed":      closed,
	})

	var err error
	if closed {
		err = b.store.Delete(ctx, id)
	} else {
		err = b.store.Update(ctx, snapshot)
	}
	if err != nil {
		return out, fmt.Errorf("position_book: persist exit %s: %w: %w", id, domain.ErrPersistence, err)
	}
	return out, nil
}

// Remove drops a position without a sell, for holdings resolved outside the
// bot.
func (b *PositionBook) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	p, ok := b.positions[id]
	if ok {
		delete(b.positions, id)
		b.reportLocked(p.AccountID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("position_book: remove %s: %w", id, domain.ErrNotFound)
	}

	b.auditLog(ctx, "position_removed", map[string]any{"position_id": id})
	if err := b.store.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("position_book: remove %s: %w", id, err)
	}
	return nil
}

func (b *PositionBook) reportLocked(accountID string) {
	n := 0
	for _, p := range b.positions {
		if p.AccountID == accountID {
			n++
		}
	}
	metrics.SetOpenPositions(accountID, n)
}

func (b *PositionBook) auditLog(ctx context.Context, event string, detail map[string]any) {
	if b.audit == nil {
		return
	}
	if err := b.audit.Log(ctx, event, detail); err != nil {
		b.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

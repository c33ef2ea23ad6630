package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
)

// MonitorConfig holds the exit parameters shared by every position.
type MonitorConfig struct {
	TrailingStopPct float64
	SlippageBps     int
	// Location is the zone whose calendar day exits are booked under. Nil
	// means UTC.
	Location *time.Location
}

// TickReport summarises one monitor pass.
type TickReport struct {
	Checked int
	Skipped int
	Exits   int
	Failed  int
}

// Monitor re-evaluates open positions against fresh prices and executes
// the resulting exits. A Monitor is driven by one trader goroutine per
// account; it holds no goroutines of its own.
type Monitor struct {
	book   *PositionBook
	ledger *RiskLedger
	exec   *ExecutionChannel
	prices domain.PriceSource
	stats  domain.DailyStatsStore
	events domain.Publisher
	cfg    MonitorConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewMonitor creates a Monitor. stats and events may be nil.
func NewMonitor(
	book *PositionBook,
	ledger *RiskLedger,
	exec *ExecutionChannel,
	prices domain.PriceSource,
	stats domain.DailyStatsStore,
	events domain.Publisher,
	cfg MonitorConfig,
	logger *slog.Logger,
) *Monitor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Monitor{
		book:   book,
		ledger: ledger,
		exec:   exec,
		prices: prices,
		stats:  stats,
		events: events,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "monitor")),
	}
}

// Tick processes every open position of the signer's account once. A
// position without a price is skipped for this tick.
func (m *Monitor) Tick(ctx context.Context, signer domain.Signer) TickReport {
	started := m.now()
	defer func() { metrics.ObserveMonitorTick(m.now().Sub(started)) }()

	var rep TickReport
	for _, p := range m.book.List(signer.PublicIdentity()) {
		if ctx.Err() != nil {
			break
		}
		rep.Checked++

		price, err := m.prices.Price(ctx, p.Instrument)
		if err != nil {
			rep.Skipped++
			m.logger.DebugContext(ctx, "no price, skipping position",
				slog.String("position_id", p.ID),
				slog.String("instrument", p.Instrument),
				slog.String("error", err.Error()),
			)
			continue
		}

		marked, err := m.book.Mark(ctx, p.ID, price)
		if err != nil && !errors.Is(err, domain.ErrPersistence) {
			rep.Skipped++
			continue
		}

		action := Evaluate(marked, price, m.cfg.TrailingStopPct)
		if !action.IsExit() {
			continue
		}
		if err := m.exit(ctx, signer, marked, action); err != nil {
			rep.Failed++
			continue
		}
		rep.Exits++
	}
	return rep
}

// FlattenAll sells every open position of the signer's account in full. It
// returns the number of positions closed and the first error met.
func (m *Monitor) FlattenAll(ctx context.Context, signer domain.Signer) (int, error) {
	var firstErr error
	closed := 0
	for _, p := range m.book.List(signer.PublicIdentity()) {
		action := domain.Action{
			Kind:      domain.ActionFlatten,
			SellPct:   100,
			TierIndex: -1,
			Reason:    "flatten requested",
		}
		if p.MarkPrice > 0 {
			action.PnLPct = p.PnLPct(p.MarkPrice)
		}
		if err := m.exit(ctx, signer, p, action); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		closed++
	}
	m.logger.InfoContext(ctx, "flatten complete",
		slog.String("account", signer.PublicIdentity()),
		slog.Int("closed", closed),
	)
	return closed, firstErr
}

// exit sells the share of p named by action and books the fill. When the
// sell fails nothing is applied, so the same exit is retried next tick.
func (m *Monitor) exit(ctx context.Context, signer domain.Signer, p domain.Position, action domain.Action) error {
	qty := p.RemainingQuantity
	if action.SellPct < 100 {
		qty = p.RemainingQuantity * action.SellPct / 100
	}

	m.logger.InfoContext(ctx, "exit triggered",
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("action", string(action.Kind)),
		slog.Float64("sell_pct", action.SellPct),
		slog.Float64("pnl_pct", action.PnLPct),
		slog.String("reason", action.Reason),
	)

	res := m.exec.Sell(ctx, signer, SellRequest{
		Instrument:  p.Instrument,
		PositionID:  p.ID,
		Quantity:    qty,
		SlippageBps: m.cfg.SlippageBps,
	})
	if !res.Success {
		if res.ErrorKind == domain.ErrorKindPersistence {
			m.ledger.HaltEntries(ctx, res.Err)
		}
		return fmt.Errorf("monitor: sell %s: %s: %w", p.ID, res.ErrorKind, res.Err)
	}

	out, err := m.book.ApplyExit(ctx, p.ID, action, ExitFill{
		Quantity:  res.FilledQuantity,
		AmountOut: res.AmountOut,
		Price:     res.FillPrice,
	})
	if err != nil && !errors.Is(err, domain.ErrPersistence) {
		return fmt.Errorf("monitor: apply exit %s: %w", p.ID, err)
	}
	if err != nil {
		m.ledger.HaltEntries(ctx, err)
		m.publishError(signer.PublicIdentity(), err)
	}

	if rerr := m.ledger.RecordResult(ctx, out.PnL > 0, out.PnL); rerr != nil {
		m.publishError(signer.PublicIdentity(), rerr)
	}

	day := m.now().In(m.cfg.Location).Format(time.DateOnly)
	if out.PnL > 0 {
		m.incr(ctx, day, domain.StatWinningTrades, 1)
	} else {
		m.incr(ctx, day, domain.StatLosingTrades, 1)
	}
	m.incr(ctx, day, domain.StatRealizedPnL, out.PnL)
	m.incr(ctx, day, domain.StatTotalVolume, res.AmountOut)
	metrics.RecordPositionAction(string(action.Kind))

	if m.events != nil {
		m.events.Publish(domain.Event{
			Type:      domain.EventPositionAction,
			AccountID: signer.PublicIdentity(),
			Time:      m.now().UTC(),
			Payload: domain.PositionActionEvent{
				PositionID: p.ID,
				Instrument: p.Instrument,
				Symbol:     p.Symbol,
				Action:     action,
				PnL:        out.PnL,
				Closed:     out.Closed,
			},
		})
	}
	return nil
}

func (m *Monitor) incr(ctx context.Context, day, stat string, delta float64) {
	if m.stats == nil {
		return
	}
	if err := m.stats.Increment(context.WithoutCancel(ctx), day, stat, delta); err != nil {
		m.logger.WarnContext(ctx, "daily stat not updated",
			slog.String("stat", stat),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Monitor) publishError(account string, err error) {
	if m.events == nil {
		return
	}
	m.events.Publish(domain.Event{
		Type:      domain.EventError,
		AccountID: account,
		Time:      m.now().UTC(),
		Payload: domain.ErrorEvent{
			Component: "monitor",
			Kind:      domain.ErrorKindPersistence,
			Message:   err.Error(),
		},
	})
}

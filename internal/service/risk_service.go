package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
)

// riskStateKey is the bot_state key holding the serialized ledger.
const riskStateKey = "risk_manager"

// kellyFraction scales the full Kelly stake down to a quarter.
var kellyFraction = decimal.NewFromFloat(0.25)

// RiskConfig holds the limits enforced by the RiskLedger.
type RiskConfig struct {
	MaxPositions     int
	MaxDailyLoss     float64
	MaxPerInstrument float64
	PauseAfterLosses int
	MinReserve       float64
	// Location is the reference time zone for the trading day. Nil means UTC.
	Location *time.Location
}

// OpenCounter reports how many positions are currently open.
type OpenCounter interface {
	OpenCount() int
}

// RiskLedger tracks daily P&L, the losing streak and the pause flag, and
// gates every entry. It is the only component allowed to pause or resume
// trading. All methods are safe for concurrent use.
type RiskLedger struct {
	mu      sync.Mutex
	state   domain.RiskState
	cfg     RiskConfig
	store   domain.StateStore
	results domain.ResultStore
	key     string
	open    OpenCounter
	now     func() time.Time
	logger  *slog.Logger
}

// RiskOption customises a RiskLedger.
type RiskOption func(*RiskLedger)

// WithRiskClock overrides the ledger clock.
func WithRiskClock(now func() time.Time) RiskOption {
	return func(l *RiskLedger) { l.now = now }
}

// WithStateKey stores the ledger under key instead of the default. Each
// account running in the same process needs its own key.
func WithStateKey(key string) RiskOption {
	return func(l *RiskLedger) { l.key = key }
}

// WithResultStore enables win-rate and Kelly sizing estimates.
func WithResultStore(rs domain.ResultStore) RiskOption {
	return func(l *RiskLedger) { l.results = rs }
}

// NewRiskLedger loads persisted state from store, or starts fresh when none
// exists.
func NewRiskLedger(
	ctx context.Context,
	cfg RiskConfig,
	store domain.StateStore,
	open OpenCounter,
	logger *slog.Logger,
	opts ...RiskOption,
) (*RiskLedger, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	l := &RiskLedger{
		cfg:    cfg,
		store:  store,
		key:    riskStateKey,
		open:   open,
		now:    time.Now,
		logger: logger.With(slog.String("component", "risk_ledger")),
	}
	for _, opt := range opts {
		opt(l)
	}

	raw, err := store.Load(ctx, l.key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		l.state = domain.RiskState{Day: l.today()}
	case err != nil:
		return nil, fmt.Errorf("risk_ledger: load state: %w", err)
	default:
		if err := json.Unmarshal(raw, &l.state); err != nil {
			return nil, fmt.Errorf("risk_ledger: decode state: %w", err)
		}
	}

	l.logger.InfoContext(ctx, "risk state loaded",
		slog.String("day", l.state.Day),
		slog.Int("consecutive_losses", l.state.ConsecutiveLosses),
		slog.Bool("paused", l.state.Paused),
		slog.String("daily_pnl", l.state.DailyPnL.String()),
	)
	l.report()
	return l, nil
}

// CanOpen decides whether a new position of requestedCapital may be opened
// given the available balance.
func (l *RiskLedger) CanOpen(ctx context.Context, requestedCapital, availableBalance float64) domain.RiskDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(ctx)

	if l.state.Paused {
		return reject(fmt.Sprintf("trading paused (%s)", l.state.PauseReason))
	}
	if requestedCapital <= 0 {
		return reject("requested capital must be positive")
	}

	requested := decimal.NewFromFloat(requestedCapital)
	balance := decimal.NewFromFloat(availableBalance)
	reserve := decimal.NewFromFloat(l.cfg.MinReserve)

	capital := requested
	if balance.Sub(requested).LessThan(reserve) {
		maxCapital := balance.Sub(reserve)
		if !maxCapital.IsPositive() {
			return reject(fmt.Sprintf("balance %s would fall below reserve %s", balance, reserve))
		}
		capital = maxCapital
	}

	if l.cfg.MaxPerInstrument > 0 {
		limit := decimal.NewFromFloat(l.cfg.MaxPerInstrument)
		if capital.GreaterThan(limit) {
			capital = limit
		}
	}

	if open := l.openCount(); l.cfg.MaxPositions > 0 && open >= l.cfg.MaxPositions {
		return reject(fmt.Sprintf("max positions reached (%d/%d)", open, l.cfg.MaxPositions))
	}

	if l.cfg.MaxDailyLoss > 0 && l.state.DailyPnL.LessThanOrEqual(decimal.NewFromFloat(-l.cfg.MaxDailyLoss)) {
		return reject(fmt.Sprintf("daily loss limit reached (%s)", l.state.DailyPnL))
	}

	decision := domain.RiskDecision{Allowed: true}
	if !capital.Equal(requested) {
		decision.SuggestedCapital = capital.InexactFloat64()
		l.logger.InfoContext(ctx, "entry capital reduced",
			slog.Float64("requested", requestedCapital),
			slog.Float64("suggested", decision.SuggestedCapital),
		)
	}
	return decision
}

// RecordResult books the realized P&L of a closed trade and updates the
// losing streak, pausing once it reaches the configured threshold.
func (l *RiskLedger) RecordResult(ctx context.Context, isProfit bool, pnlDelta float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(ctx)

	l.state.DailyPnL = l.state.DailyPnL.Add(decimal.NewFromFloat(pnlDelta))
	if isProfit {
		l.state.Wins++
		l.state.ConsecutiveLosses = 0
	} else {
		l.state.Losses++
		l.state.ConsecutiveLosses++
		if l.cfg.PauseAfterLosses > 0 && l.state.ConsecutiveLosses >= l.cfg.PauseAfterLosses && !l.state.Paused {
			l.state.Paused = true
			l.state.PauseReason = domain.PauseLossStreak
			l.logger.WarnContext(ctx, "trading paused after consecutive losses",
				slog.Int("consecutive_losses", l.state.ConsecutiveLosses),
				slog.Int("threshold", l.cfg.PauseAfterLosses),
			)
		}
	}

	l.logger.InfoContext(ctx, "trade result recorded",
		slog.Bool("profit", isProfit),
		slog.Float64("pnl", pnlDelta),
		slog.String("daily_pnl", l.state.DailyPnL.String()),
		slog.Int("consecutive_losses", l.state.ConsecutiveLosses),
	)
	return l.saveLocked(ctx)
}

// Pause halts new entries until Resume is called.
func (l *RiskLedger) Pause(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Paused = true
	l.state.PauseReason = domain.PauseManual
	l.logger.InfoContext(ctx, "trading paused manually")
	return l.saveLocked(ctx)
}

// Resume re-enables entries and resets the losing streak.
func (l *RiskLedger) Resume(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Paused = false
	l.state.PauseReason = domain.PauseNone
	l.state.ConsecutiveLosses = 0
	l.logger.InfoContext(ctx, "trading resumed")
	return l.saveLocked(ctx)
}

// HaltEntries pauses new entries after a downstream persistence failure.
// Resume lifts it like any other pause.
func (l *RiskLedger) HaltEntries(ctx context.Context, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Paused && l.state.PauseReason == domain.PausePersistence {
		return
	}
	l.state.Paused = true
	l.state.PauseReason = domain.PausePersistence
	l.logger.ErrorContext(ctx, "entries halted", slog.Any("cause", cause))
	if err := l.saveLocked(ctx); err != nil {
		l.logger.ErrorContext(ctx, "persist halt failed", slog.String("error", err.Error()))
	}
}

// Status returns a snapshot of the ledger. It never mutates state; a pending
// day rollover is reflected in the snapshot but applied by the next mutation.
func (l *RiskLedger) Status() domain.RiskStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := rollover(l.state, l.today())
	return domain.RiskStatus{
		Day:               st.Day,
		Paused:            st.Paused,
		PauseReason:       st.PauseReason,
		ConsecutiveLosses: st.ConsecutiveLosses,
		OpenPositions:     l.openCount(),
		DailyPnL:          st.DailyPnL.InexactFloat64(),
		Wins:              st.Wins,
		Losses:            st.Losses,
		Limits: domain.RiskLimits{
			MaxPositions:     l.cfg.MaxPositions,
			MaxDailyLoss:     l.cfg.MaxDailyLoss,
			MaxPerInstrument: l.cfg.MaxPerInstrument,
			PauseAfterLosses: l.cfg.PauseAfterLosses,
			MinReserve:       l.cfg.MinReserve,
		},
	}
}

// Flush persists the current state. It is called during shutdown.
func (l *RiskLedger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked(ctx)
}

// WinRate returns the share of profitable closed positions, or 0.5 when no
// history exists.
func (l *RiskLedger) WinRate(ctx context.Context) (float64, error) {
	if l.results == nil {
		return 0.5, nil
	}
	results, err := l.results.ClosedResults(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("risk_ledger: closed results: %w", err)
	}
	if len(results) == 0 {
		return 0.5, nil
	}
	wins := 0
	for _, r := range results {
		if r.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(results)), nil
}

// KellyCapital sizes an entry from realized history using quarter Kelly. The
// second return is false when the history has no wins or no losses and so
// cannot produce an estimate.
func (l *RiskLedger) KellyCapital(ctx context.Context, bankroll float64) (float64, bool, error) {
	if l.results == nil {
		return 0, false, nil
	}
	results, err := l.results.ClosedResults(ctx, 200)
	if err != nil {
		return 0, false, fmt.Errorf("risk_ledger: closed results: %w", err)
	}

	var wins, losses int
	var winMult, lossMult float64
	for _, r := range results {
		if r.CostBasis <= 0 {
			continue
		}
		m := r.PnL / r.CostBasis
		if m > 0 {
			wins++
			winMult += m
		} else {
			losses++
			lossMult += m
		}
	}
	if wins == 0 || losses == 0 {
		return 0, false, nil
	}
	winRate := float64(wins) / float64(wins+losses)
	return l.KellySize(winRate, winMult/float64(wins), lossMult/float64(losses), bankroll), true, nil
}

// KellySize applies f = (b*p - q) / b with b = avgWin/|avgLoss|, scales it
// by the Kelly fraction and clamps the stake to [0, MaxPerInstrument].
func (l *RiskLedger) KellySize(winRate, avgWinMultiple, avgLossMultiple, bankroll float64) float64 {
	loss := decimal.NewFromFloat(avgLossMultiple).Abs()
	if loss.IsZero() || avgWinMultiple <= 0 {
		return 0
	}
	b := decimal.NewFromFloat(avgWinMultiple).Div(loss)
	p := decimal.NewFromFloat(winRate)
	q := decimal.NewFromInt(1).Sub(p)

	kelly := b.Mul(p).Sub(q).Div(b)
	stake := kelly.Mul(kellyFraction).Mul(decimal.NewFromFloat(bankroll))
	if stake.IsNegative() {
		return 0
	}
	if l.cfg.MaxPerInstrument > 0 {
		stake = decimal.Min(stake, decimal.NewFromFloat(l.cfg.MaxPerInstrument))
	}
	return stake.InexactFloat64()
}

func (l *RiskLedger) today() string {
	return l.now().In(l.cfg.Location).Format(time.DateOnly)
}

func (l *RiskLedger) openCount() int {
	if l.open == nil {
		return 0
	}
	return l.open.OpenCount()
}

// rollLocked applies a day rollover and persists it.
func (l *RiskLedger) rollLocked(ctx context.Context) {
	day := l.today()
	if l.state.Day == day {
		return
	}
	prev := l.state.Day
	l.state = rollover(l.state, day)
	l.logger.InfoContext(ctx, "trading day rolled over",
		slog.String("from", prev),
		slog.String("to", day),
	)
	if err := l.saveLocked(ctx); err != nil {
		l.logger.ErrorContext(ctx, "persist rollover failed", slog.String("error", err.Error()))
	}
}

// saveLocked persists the state. A failure halts new entries because the
// counters can no longer be trusted across a restart.
func (l *RiskLedger) saveLocked(ctx context.Context) error {
	l.state.UpdatedAt = l.now().UTC()
	defer l.report()

	raw, err := json.Marshal(l.state)
	if err != nil {
		return fmt.Errorf("risk_ledger: encode state: %w", err)
	}
	if err := l.store.Save(ctx, l.key, raw); err != nil {
		l.state.Paused = true
		l.state.PauseReason = domain.PausePersistence
		l.logger.ErrorContext(ctx, "risk state not persisted, halting entries",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("risk_ledger: save state: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

func (l *RiskLedger) report() {
	metrics.SetRisk(l.state.DailyPnL.InexactFloat64(), l.state.ConsecutiveLosses, l.state.Paused)
}

// rollover returns st moved to day. Daily counters and the losing streak
// start fresh; a streak pause is lifted, manual and persistence pauses are
// kept.
func rollover(st domain.RiskState, day string) domain.RiskState {
	if st.Day == day {
		return st
	}
	st.Day = day
	st.DailyPnL = decimal.Zero
	st.Wins = 0
	st.Losses = 0
	st.ConsecutiveLosses = 0
	if st.PauseReason == domain.PauseLossStreak {
		st.Paused = false
		st.PauseReason = domain.PauseNone
	}
	return st
}

func reject(reason string) domain.RiskDecision {
	return domain.RiskDecision{Allowed: false, Reason: reason}
}

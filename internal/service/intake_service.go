package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
	"github.com/alanyoungcy/snipebot/internal/strategy"
)

// IntakeConfig holds the entry policy applied to every candidate.
type IntakeConfig struct {
	MinScore    float64
	Capital     float64
	SlippageBps int
	StopLossPct float64
	Tiers       []domain.TakeProfitTier
	// KellySizing replaces Capital with a quarter-Kelly estimate once the
	// closed history contains both wins and losses.
	KellySizing bool
	// Location is the zone whose calendar day the daily stats are booked
	// under. Nil means UTC.
	Location *time.Location
}

// IntakePipeline turns a candidate into at most one open position. It
// processes one candidate at a time per caller and never retries a
// rejected candidate.
type IntakePipeline struct {
	safety   domain.SafetyAnalyzer
	oracle   domain.ScoringOracle
	ledger   *RiskLedger
	exec     *ExecutionChannel
	book     *PositionBook
	venue    domain.Venue
	stats    domain.DailyStatsStore
	outcomes domain.OutcomeStore
	events   domain.Publisher
	strategy strategy.Strategy
	cfg      IntakeConfig
	now      func() time.Time
	logger   *slog.Logger
}

// IntakeDeps groups the collaborators of an IntakePipeline. Stats, Outcomes
// and Events may be nil. A nil Strategy applies the configured policy
// unchanged.
type IntakeDeps struct {
	Safety   domain.SafetyAnalyzer
	Oracle   domain.ScoringOracle
	Ledger   *RiskLedger
	Exec     *ExecutionChannel
	Book     *PositionBook
	Venue    domain.Venue
	Stats    domain.DailyStatsStore
	Outcomes domain.OutcomeStore
	Events   domain.Publisher
	Strategy strategy.Strategy
}

// NewIntakePipeline creates an IntakePipeline.
func NewIntakePipeline(deps IntakeDeps, cfg IntakeConfig, logger *slog.Logger) *IntakePipeline {
	if deps.Strategy == nil {
		deps.Strategy = strategy.Default{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &IntakePipeline{
		safety:   deps.Safety,
		oracle:   deps.Oracle,
		ledger:   deps.Ledger,
		exec:     deps.Exec,
		book:     deps.Book,
		venue:    deps.Venue,
		stats:    deps.Stats,
		outcomes: deps.Outcomes,
		events:   deps.Events,
		strategy: deps.Strategy,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "intake")),
	}
}

// Process runs the full intake sequence for one candidate and returns its
// terminal outcome. Every call records exactly one outcome and counts the
// candidate as analyzed.
func (p *IntakePipeline) Process(ctx context.Context, signer domain.Signer, cand domain.Candidate) domain.IntakeOutcome {
	p.incr(ctx, domain.StatTokensAnalyzed, 1)
	out := p.decide(ctx, signer, cand)
	p.record(ctx, signer.PublicIdentity(), cand.Token, out)
	return out
}

// Skip records a candidate that was dropped without analysis, e.g. when the
// trader is shutting down. It does not count as analyzed.
func (p *IntakePipeline) Skip(ctx context.Context, account string, cand domain.Candidate, stage domain.IntakeStage, reason string) domain.IntakeOutcome {
	out := domain.IntakeOutcome{
		Mint:     cand.Token.Mint,
		Decision: domain.DecisionSkipped,
		Stage:    stage,
		Reason:   reason,
	}
	p.record(ctx, account, cand.Token, out)
	return out
}

func (p *IntakePipeline) decide(ctx context.Context, signer domain.Signer, cand domain.Candidate) domain.IntakeOutcome {
	token := cand.Token
	out := domain.IntakeOutcome{Mint: token.Mint}

	quick := p.safety.QuickFilter(ctx, token)
	if !quick.Passed {
		return skipped(out, domain.StageQuickFilter, joinReasons(quick.Reasons, "quick filter"))
	}

	safety, err := p.safety.AnalyzeToken(ctx, token)
	if err != nil {
		out.Err = err
		return skipped(out, domain.StageSafety, fmt.Sprintf("safety analysis: %v", err))
	}
	out.Score = safety.Score
	if !safety.Passed {
		out.Rug = safety.Rug || mentionsRug(safety.Reasons)
		return skipped(out, domain.StageSafety, joinReasons(safety.Reasons, "safety filter"))
	}

	analysis, err := p.oracle.Analyze(ctx, token, safety)
	if err != nil {
		out.Err = err
		return skipped(out, domain.StageScoring, fmt.Sprintf("scoring: %v", err))
	}
	out.Score = analysis.Score
	p.publish(signer.PublicIdentity(), domain.EventNewCandidate, domain.CandidateEvent{Token: token, Analysis: analysis})

	if analysis.Recommendation != domain.RecommendBuy {
		return skipped(out, domain.StageScoring, fmt.Sprintf("recommendation %s (score %.0f)", analysis.Recommendation, analysis.Score))
	}
	if analysis.Score < p.cfg.MinScore {
		return skipped(out, domain.StageScoring, fmt.Sprintf("score %.0f below threshold %.0f", analysis.Score, p.cfg.MinScore))
	}

	balance, err := p.venue.Balance(ctx, signer.PublicIdentity())
	if err != nil {
		out.Err = err
		return rejected(out, domain.StageRisk, fmt.Sprintf("balance unavailable: %v", err))
	}

	verdict := p.strategy.Entry(strategy.Candidate{
		Token:    token,
		Safety:   safety,
		Analysis: analysis,
	}, p.snapshot(ctx, balance))
	if !verdict.Buys() {
		return skipped(out, domain.StageStrategy, fmt.Sprintf("%s %s: %s", p.strategy.Name(), strings.ToLower(string(verdict.Action)), verdict.Reason))
	}
	params := p.entryParams(verdict)

	capital := params.capital
	if p.cfg.KellySizing {
		if kelly, ok, err := p.ledger.KellyCapital(ctx, balance); err != nil {
			p.logger.WarnContext(ctx, "kelly sizing unavailable", slog.String("error", err.Error()))
		} else if ok && kelly > 0 {
			capital = kelly
		}
	}

	decision := p.ledger.CanOpen(ctx, capital, balance)
	if !decision.Allowed {
		return rejected(out, domain.StageRisk, decision.Reason)
	}
	if decision.SuggestedCapital > 0 {
		capital = decision.SuggestedCapital
	}
	out.Capital = capital

	p.logger.InfoContext(ctx, "entering position",
		slog.String("mint", token.Mint),
		slog.String("symbol", token.Symbol),
		slog.Float64("score", analysis.Score),
		slog.Float64("capital", capital),
		slog.String("strategy", p.strategy.Name()),
	)

	res := p.exec.Buy(ctx, signer, BuyRequest{
		Instrument:  token.Mint,
		Capital:     capital,
		SlippageBps: params.slippageBps,
	})
	if !res.Success {
		out.Decision = domain.DecisionFailed
		out.Stage = domain.StageExecution
		out.Err = res.Err
		out.Reason = fmt.Sprintf("buy failed (%s)", res.ErrorKind)
		if res.ErrorKind == domain.ErrorKindPersistence {
			p.ledger.HaltEntries(ctx, res.Err)
		}
		return out
	}

	cost := res.AmountIn
	if cost <= 0 {
		cost = capital
	}
	entry := res.FillPrice
	if entry <= 0 && res.FilledQuantity > 0 {
		entry = cost / res.FilledQuantity
	}

	pos, err := p.book.Open(ctx, OpenParams{
		AccountID:   signer.PublicIdentity(),
		Instrument:  token.Mint,
		Name:        token.Name,
		Symbol:      token.Symbol,
		EntryPrice:  entry,
		CostBasis:   cost,
		Quantity:    res.FilledQuantity,
		StopLossPct: params.stopLossPct,
		Tiers:       params.tiers,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPersistence):
		// The position is tracked in memory; stop adding to it.
		p.ledger.HaltEntries(ctx, err)
		p.publishError(signer.PublicIdentity(), domain.ErrorKindPersistence, err)
	default:
		out.Decision = domain.DecisionFailed
		out.Stage = domain.StageExecution
		out.Err = err
		out.Reason = fmt.Sprintf("position not opened: %v", err)
		p.publishError(signer.PublicIdentity(), domain.ErrorKindNone, err)
		return out
	}

	p.incr(ctx, domain.StatTokensSniped, 1)
	p.incr(ctx, domain.StatTotalVolume, cost)
	out.Decision = domain.DecisionBought
	out.Stage = domain.StageExecution
	out.PositionID = pos.ID
	out.Capital = cost
	return out
}

// entryPolicy is the configured policy after strategy overrides.
type entryPolicy struct {
	capital     float64
	slippageBps int
	stopLossPct float64
	tiers       []domain.TakeProfitTier
}

// entryParams applies the overrides of d on top of the configured policy.
// Slippage never exceeds the configured maximum.
func (p *IntakePipeline) entryParams(d strategy.Decision) entryPolicy {
	e := entryPolicy{
		capital:     p.cfg.Capital,
		slippageBps: p.cfg.SlippageBps,
		stopLossPct: p.cfg.StopLossPct,
		tiers:       p.cfg.Tiers,
	}
	if d.AmountSOL > 0 {
		e.capital = d.AmountSOL
	}
	if d.SlippageBps > 0 && (e.slippageBps <= 0 || d.SlippageBps < e.slippageBps) {
		e.slippageBps = d.SlippageBps
	}
	if d.StopLossPct > 0 {
		e.stopLossPct = d.StopLossPct
	}
	if len(d.Tiers) > 0 {
		e.tiers = d.Tiers
	}
	return e
}

// snapshot builds the account state handed to the strategy.
func (p *IntakePipeline) snapshot(ctx context.Context, balance float64) strategy.Snapshot {
	st := p.ledger.Status()
	winRate, err := p.ledger.WinRate(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "win rate unavailable", slog.String("error", err.Error()))
		winRate = 0.5
	}
	return strategy.Snapshot{
		Balance:           balance,
		OpenPositions:     st.OpenPositions,
		MaxPositions:      st.Limits.MaxPositions,
		DailyPnL:          st.DailyPnL,
		WinRate:           winRate,
		ConsecutiveLosses: st.ConsecutiveLosses,
		Now:               p.now(),
	}
}

// record books the outcome in the daily stats, metrics, the outcome table
// and the log.
func (p *IntakePipeline) record(ctx context.Context, account string, token domain.TokenMetadata, out domain.IntakeOutcome) {
	if out.Decision != domain.DecisionBought {
		p.incr(ctx, domain.StatTokensSkipped, 1)
	}
	if out.Rug {
		p.incr(ctx, domain.StatRugsAvoided, 1)
	}
	metrics.RecordIntake(string(out.Decision), string(out.Stage), out.Rug)

	if p.outcomes != nil {
		err := p.outcomes.Upsert(context.WithoutCancel(ctx), domain.TokenOutcome{
			Mint:      token.Mint,
			AccountID: account,
			Name:      token.Name,
			Symbol:    token.Symbol,
			Creator:   token.Creator,
			Decision:  out.Decision,
			Stage:     out.Stage,
			Score:     out.Score,
			Reason:    out.Reason,
			Rug:       out.Rug,
			CreatedAt: p.now().UTC(),
		})
		if err != nil {
			p.logger.WarnContext(ctx, "token outcome not recorded",
				slog.String("mint", token.Mint),
				slog.String("error", err.Error()),
			)
		}
	}

	attrs := []any{
		slog.String("account", account),
		slog.String("mint", token.Mint),
		slog.String("symbol", token.Symbol),
		slog.String("decision", string(out.Decision)),
		slog.String("stage", string(out.Stage)),
		slog.Float64("score", out.Score),
	}
	if out.Reason != "" {
		attrs = append(attrs, slog.String("reason", out.Reason))
	}
	if out.Decision == domain.DecisionFailed {
		p.logger.WarnContext(ctx, "candidate failed", attrs...)
		return
	}
	p.logger.InfoContext(ctx, "candidate processed", attrs...)
}

func (p *IntakePipeline) incr(ctx context.Context, stat string, delta float64) {
	if p.stats == nil {
		return
	}
	day := p.now().In(p.cfg.Location).Format(time.DateOnly)
	if err := p.stats.Increment(context.WithoutCancel(ctx), day, stat, delta); err != nil {
		p.logger.WarnContext(ctx, "daily stat not updated",
			slog.String("stat", stat),
			slog.String("error", err.Error()),
		)
	}
}

func (p *IntakePipeline) publish(account string, typ domain.EventType, payload any) {
	if p.events == nil {
		return
	}
	p.events.Publish(domain.Event{Type: typ, AccountID: account, Time: p.now().UTC(), Payload: payload})
}

func (p *IntakePipeline) publishError(account string, kind domain.ErrorKind, err error) {
	p.publish(account, domain.EventError, domain.ErrorEvent{
		Component: "intake",
		Kind:      kind,
		Message:   err.Error(),
	})
}

func skipped(out domain.IntakeOutcome, stage domain.IntakeStage, reason string) domain.IntakeOutcome {
	out.Decision = domain.DecisionSkipped
	out.Stage = stage
	out.Reason = reason
	return out
}

func rejected(out domain.IntakeOutcome, stage domain.IntakeStage, reason string) domain.IntakeOutcome {
	out.Decision = domain.DecisionRejected
	out.Stage = stage
	out.Reason = reason
	return out
}

func joinReasons(reasons []string, fallback string) string {
	if len(reasons) == 0 {
		return fallback
	}
	return strings.Join(reasons, "; ")
}

func mentionsRug(reasons []string) bool {
	for _, r := range reasons {
		r = strings.ToLower(r)
		if strings.Contains(r, "rug") || strings.Contains(r, "honeypot") {
			return true
		}
	}
	return false
}

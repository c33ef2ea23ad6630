package domain

import (
	"context"
	"time"
)

// TokenMetadata describes a newly observed instrument.
type TokenMetadata struct {
	Mint                    string    `json:"mint"`
	Name                    string    `json:"name"`
	Symbol                  string    `json:"symbol"`
	URI                     string    `json:"uri,omitempty"`
	Creator                 string    `json:"creator"`
	BondingCurve            string    `json:"bonding_curve,omitempty"`
	Signature               string    `json:"signature,omitempty"`
	Slot                    uint64    `json:"slot,omitempty"`
	MintAuthorityRenounced  bool      `json:"mint_authority_renounced"`
	FreezeAuthorityDisabled bool      `json:"freeze_authority_disabled"`
	CreatorRugCount         int       `json:"creator_rug_count"`
	CreatorAgeHours         float64   `json:"creator_age_hours"`
	HasSocials              bool      `json:"has_socials"`
	CreatedAt               time.Time `json:"created_at"`
}

// Candidate is an instrument observation waiting for an intake decision.
type Candidate struct {
	Token      TokenMetadata `json:"token"`
	ReceivedAt time.Time     `json:"received_at"`
}

// FilterResult is the verdict of the safety filter. Score is 0-100, higher
// is safer.
type FilterResult struct {
	Passed   bool     `json:"passed"`
	Score    float64  `json:"score"`
	Reasons  []string `json:"reasons,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Rug      bool     `json:"rug"`
	// Facts are the inputs the full analysis established, nil after a
	// quick filter.
	Facts *TokenFacts `json:"facts,omitempty"`
}

// TokenFacts are the safety-relevant properties resolved for a token.
type TokenFacts struct {
	MintRenounced   bool    `json:"mint_renounced"`
	FreezeDisabled  bool    `json:"freeze_disabled"`
	CreatorAgeHours float64 `json:"creator_age_hours"`
	CreatorRugs     int     `json:"creator_rugs"`
}

// Recommendation is the scoring oracle's verdict.
type Recommendation string

const (
	RecommendBuy   Recommendation = "BUY"
	RecommendSkip  Recommendation = "SKIP"
	RecommendWatch Recommendation = "WATCH"
)

// Analysis is the scoring oracle's output.
type Analysis struct {
	Score          float64            `json:"score"`
	Confidence     float64            `json:"confidence"`
	Recommendation Recommendation     `json:"recommendation"`
	Features       map[string]float64 `json:"features,omitempty"`
	Reasons        []string           `json:"reasons,omitempty"`
	RiskFactors    []string           `json:"risk_factors,omitempty"`
}

// SafetyAnalyzer runs the cheap and the full safety checks on a token.
type SafetyAnalyzer interface {
	QuickFilter(ctx context.Context, token TokenMetadata) FilterResult
	AnalyzeToken(ctx context.Context, token TokenMetadata) (FilterResult, error)
}

// WalletActivity is a sample of a wallet's recent on-chain history.
// FirstSeen is the block time of the oldest sampled transaction.
type WalletActivity struct {
	Transactions   int
	TokenCreations int
	FirstSeen      time.Time
}

// CreatorHistorySource reports past outcomes for a creator address.
type CreatorHistorySource interface {
	CreatorHistory(ctx context.Context, creator string) (CreatorHistory, error)
}

// ScoringOracle scores a token that passed the safety filter.
type ScoringOracle interface {
	Analyze(ctx context.Context, token TokenMetadata, safety FilterResult) (Analysis, error)
}

// IntakeStage names the pipeline step that produced an outcome.
type IntakeStage string

const (
	StageQuickFilter IntakeStage = "quick_filter"
	StageSafety      IntakeStage = "safety"
	StageScoring     IntakeStage = "scoring"
	StageStrategy    IntakeStage = "strategy"
	StageRisk        IntakeStage = "risk"
	StageExecution   IntakeStage = "execution"
	StageShutdown    IntakeStage = "shutdown"
)

// IntakeDecision is the terminal result of one candidate.
type IntakeDecision string

const (
	DecisionSkipped  IntakeDecision = "skipped"
	DecisionRejected IntakeDecision = "rejected"
	DecisionBought   IntakeDecision = "bought"
	DecisionFailed   IntakeDecision = "failed"
)

// IntakeOutcome is returned by the intake pipeline for every candidate.
type IntakeOutcome struct {
	Mint       string         `json:"mint"`
	Decision   IntakeDecision `json:"decision"`
	Stage      IntakeStage    `json:"stage"`
	Reason     string         `json:"reason,omitempty"`
	Score      float64        `json:"score"`
	Rug        bool           `json:"rug"`
	PositionID string         `json:"position_id,omitempty"`
	Capital    float64        `json:"capital,omitempty"`
	Err        error          `json:"-"`
}

// TokenOutcome is the audit record kept for every candidate, one per mint
// and account.
type TokenOutcome struct {
	Mint      string         `json:"mint"`
	AccountID string         `json:"account_id"`
	Name      string         `json:"name"`
	Symbol    string         `json:"symbol"`
	Creator   string         `json:"creator"`
	Decision  IntakeDecision `json:"decision"`
	Stage     IntakeStage    `json:"stage"`
	Score     float64        `json:"score"`
	Reason    string         `json:"reason,omitempty"`
	Rug       bool           `json:"rug"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreatorHistory summarizes what is known about a token creator from past
// outcomes.
type CreatorHistory struct {
	Tokens int
	Rugs   int
}

// DailyStats are the per-day intake and trading counters.
type DailyStats struct {
	Date           string  `json:"date"`
	TokensAnalyzed int64   `json:"tokens_analyzed"`
	TokensSkipped  int64   `json:"tokens_skipped"`
	RugsAvoided    int64   `json:"rugs_avoided"`
	TokensSniped   int64   `json:"tokens_sniped"`
	TotalVolume    float64 `json:"total_volume_sol"`
	WinningTrades  int64   `json:"winning_trades"`
	LosingTrades   int64   `json:"losing_trades"`
	RealizedPnL    float64 `json:"realized_pnl_sol"`
}

// Stat names accepted by DailyStatsStore.Increment.
const (
	StatTokensAnalyzed = "tokens_analyzed"
	StatTokensSkipped  = "tokens_skipped"
	StatRugsAvoided    = "rugs_avoided"
	StatTokensSniped   = "tokens_sniped"
	StatTotalVolume    = "total_volume_sol"
	StatWinningTrades  = "winning_trades"
	StatLosingTrades   = "losing_trades"
	StatRealizedPnL    = "realized_pnl_sol"
)

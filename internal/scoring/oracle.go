// Package scoring implements the heuristic token scoring oracle.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Score thresholds for recommendations.
const (
	ThresholdExcellent = 85
	ThresholdGood      = 70
	ThresholdModerate  = 55
	ThresholdPoor      = 40
)

// Weights scale each heuristic's 0-100 contribution.
type Weights struct {
	CreatorAge     float64
	MintRenounced  float64
	SocialPresence float64
	NameQuality    float64
	MarketTiming   float64
}

// DefaultWeights returns the stock weighting.
func DefaultWeights() Weights {
	return Weights{
		CreatorAge:     0.15,
		MintRenounced:  0.20,
		SocialPresence: 0.10,
		NameQuality:    0.10,
		MarketTiming:   0.15,
	}
}

// Config configures the Oracle.
type Config struct {
	Weights             Weights
	ConfidenceThreshold float64
}

// Oracle scores a token from its metadata, the safety verdict and the
// creator's recorded history. It implements domain.ScoringOracle.
type Oracle struct {
	history domain.CreatorHistorySource
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewOracle creates an Oracle. history may be nil.
func NewOracle(history domain.CreatorHistorySource, cfg Config, logger *slog.Logger) *Oracle {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	return &Oracle{
		history: history,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "scoring")),
		now:     time.Now,
	}
}

type features struct {
	creatorAge    float64
	creatorTokens int
	creatorRugs   int
	nameLen       int
	symbolLen     int
	hasURI        bool
	hasSocials    bool
	mintRenounced bool
	hour          int
	weekday       time.Weekday
}

func (f features) asMap() map[string]float64 {
	return map[string]float64{
		"creator_age_hours": f.creatorAge,
		"creator_tokens":    float64(f.creatorTokens),
		"creator_rugs":      float64(f.creatorRugs),
		"name_length":       float64(f.nameLen),
		"symbol_length":     float64(f.symbolLen),
		"has_uri":           b2f(f.hasURI),
		"has_socials":       b2f(f.hasSocials),
		"mint_renounced":    b2f(f.mintRenounced),
		"hour_utc":          float64(f.hour),
		"weekday":           float64(f.weekday),
	}
}

// Analyze implements domain.ScoringOracle.
func (o *Oracle) Analyze(ctx context.Context, token domain.TokenMetadata, safety domain.FilterResult) (domain.Analysis, error) {
	f := o.extract(ctx, token, safety)
	w := o.cfg.Weights

	reasons := []string{}
	risks := append([]string(nil), safety.Warnings...)

	score := safety.Score * 0.5

	score += math.Min(f.creatorAge/24, 1) * 100 * w.CreatorAge
	if f.creatorAge > 24 {
		reasons = append(reasons, fmt.Sprintf("creator wallet %.0fh old", f.creatorAge))
	} else {
		risks = append(risks, fmt.Sprintf("new creator wallet (%.1fh)", f.creatorAge))
	}

	if f.mintRenounced {
		score += 100 * w.MintRenounced
		reasons = append(reasons, "mint authority renounced")
	} else {
		risks = append(risks, "mint authority active")
	}

	if f.hasSocials {
		score += 100 * w.SocialPresence
		reasons = append(reasons, "has social media presence")
	}

	nameScore := 50.0
	if f.nameLen >= 3 && f.nameLen <= 20 {
		nameScore += 20
	}
	if f.symbolLen >= 2 && f.symbolLen <= 6 {
		nameScore += 20
	}
	if f.hasURI {
		nameScore += 10
	}
	score += nameScore * w.NameQuality

	// Launches during peak US hours on weekdays tend to do better.
	peak := f.hour >= 14 && f.hour <= 22
	weekday := f.weekday >= time.Monday && f.weekday <= time.Friday
	timing := 50.0
	if peak {
		timing += 30
	}
	if weekday {
		timing += 20
	}
	score += timing * w.MarketTiming
	if peak && weekday {
		reasons = append(reasons, "good launch timing (peak hours)")
	}

	if f.creatorRugs > 0 {
		score -= float64(f.creatorRugs) * 20
		risks = append(risks, fmt.Sprintf("creator has %d previous rugs", f.creatorRugs))
	}

	score = math.Round(math.Max(0, math.Min(100, score)))

	confidence := 0.5
	if f.creatorAge > 0 {
		confidence += 0.1
	}
	if f.hasURI {
		confidence += 0.1
	}
	if f.hasSocials {
		confidence += 0.1
	}
	if safety.Score > 0 {
		confidence += 0.2
	}
	confidence = math.Min(1, confidence)

	rec := domain.RecommendSkip
	switch {
	case score >= ThresholdGood && confidence >= o.cfg.ConfidenceThreshold:
		rec = domain.RecommendBuy
	case score >= ThresholdModerate:
		rec = domain.RecommendWatch
	}

	o.logger.DebugContext(ctx, "token scored",
		slog.String("mint", token.Mint),
		slog.Float64("score", score),
		slog.Float64("confidence", confidence),
		slog.String("recommendation", string(rec)),
	)

	return domain.Analysis{
		Score:          score,
		Confidence:     confidence,
		Recommendation: rec,
		Features:       f.asMap(),
		Reasons:        reasons,
		RiskFactors:    risks,
	}, nil
}

func (o *Oracle) extract(ctx context.Context, token domain.TokenMetadata, safety domain.FilterResult) features {
	now := o.now().UTC()
	f := features{
		creatorAge:    token.CreatorAgeHours,
		creatorRugs:   token.CreatorRugCount,
		nameLen:       len([]rune(token.Name)),
		symbolLen:     len([]rune(token.Symbol)),
		hasURI:        validURI(token.URI),
		hasSocials:    token.HasSocials,
		mintRenounced: token.MintAuthorityRenounced,
		hour:          now.Hour(),
		weekday:       now.Weekday(),
	}
	if facts := safety.Facts; facts != nil {
		f.creatorAge = facts.CreatorAgeHours
		f.mintRenounced = facts.MintRenounced
		f.creatorRugs = max(f.creatorRugs, facts.CreatorRugs)
	}

	if o.history != nil && token.Creator != "" {
		h, err := o.history.CreatorHistory(ctx, token.Creator)
		if err != nil {
			o.logger.DebugContext(ctx, "creator history unavailable", slog.String("error", err.Error()))
		} else {
			f.creatorTokens = h.Tokens
			f.creatorRugs = max(f.creatorRugs, h.Rugs)
		}
	}
	return f
}

func validURI(u string) bool {
	for _, p := range []string{"https://", "http://", "ipfs://"} {
		if strings.HasPrefix(u, p) && len(u) > len(p) {
			return true
		}
	}
	return false
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface check.
var _ domain.ScoringOracle = (*Oracle)(nil)

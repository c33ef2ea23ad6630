// Package filter implements the rule-based token safety checks that run
// before a candidate is scored.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Config holds the safety thresholds.
type Config struct {
	BlacklistPatterns        []string
	RequireMintRenounced     bool
	RequireFreezeDisabled    bool
	MaxCreatorRugCount       int
	MinCreatorWalletAgeHours float64
}

// ChainInspector reads the on-chain facts the filter needs.
type ChainInspector interface {
	MintAuthorities(ctx context.Context, mint string) (mintRenounced, freezeDisabled bool, err error)
	WalletActivity(ctx context.Context, address string) (domain.WalletActivity, error)
}

// Deps are the collaborators of a ScamFilter. Cache, Chain and History may
// be nil; the filter then relies on the token metadata alone.
type Deps struct {
	Blacklist domain.BlacklistStore
	Cache     domain.BlacklistCache
	Chain     ChainInspector
	History   domain.CreatorHistorySource
}

type softPattern struct {
	re     *regexp.Regexp
	msg    string
	deduct float64
}

var softPatterns = []softPattern{
	{regexp.MustCompile(`(?i)v\d+`), "contains version number", 10},
	{regexp.MustCompile(`(?i)new|real|official`), `claims to be "new/real/official"`, 15},
	{regexp.MustCompile(`(?i)elon|musk|trump|biden`), "celebrity name", 10},
	{regexp.MustCompile(`(?i)x1000|100x|moon`), "pump terminology in name", 5},
	{regexp.MustCompile(`(?i)safe|secure`), "claims safety", 10},
}

// copycat bases match when the name contains the base plus anything else.
var copycatBases = map[string][]string{
	"pepe": {"pepe"},
	"doge": {"doge"},
	"shib": {"shib", "shiba"},
	"bonk": {"bonk"},
}

// ScamFilter is the default domain.SafetyAnalyzer.
type ScamFilter struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewScamFilter creates a ScamFilter.
func NewScamFilter(deps Deps, cfg Config, logger *slog.Logger) *ScamFilter {
	patterns := make([]string, 0, len(cfg.BlacklistPatterns))
	for _, p := range cfg.BlacklistPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	cfg.BlacklistPatterns = patterns
	return &ScamFilter{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scam_filter")),
		now:    time.Now,
	}
}

// Warm loads every persisted blacklist entry into the cache.
func (f *ScamFilter) Warm(ctx context.Context) (int, error) {
	if f.deps.Cache == nil || f.deps.Blacklist == nil {
		return 0, nil
	}
	entries, err := f.deps.Blacklist.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("filter: warm blacklist: %w", err)
	}
	for _, e := range entries {
		if err := f.deps.Cache.Add(ctx, e.Address); err != nil {
			return 0, fmt.Errorf("filter: warm blacklist: %w", err)
		}
	}
	return len(entries), nil
}

// QuickFilter rejects blacklisted mints and creators and names that match a
// banned pattern. It never calls the chain.
func (f *ScamFilter) QuickFilter(ctx context.Context, token domain.TokenMetadata) domain.FilterResult {
	for _, addr := range []string{token.Mint, token.Creator} {
		if addr == "" {
			continue
		}
		listed, err := f.isBlacklisted(ctx, addr)
		if err != nil {
			f.logger.WarnContext(ctx, "blacklist lookup failed",
				slog.String("address", addr),
				slog.String("error", err.Error()),
			)
			continue
		}
		if listed {
			return reject(0, "blacklisted")
		}
	}
	if p, ok := f.bannedPattern(token); ok {
		return reject(0, fmt.Sprintf("blacklisted pattern: %s", p))
	}
	return domain.FilterResult{Passed: true, Score: 100}
}

// AnalyzeToken runs the full rule set. The score starts at 100 and soft
// findings deduct from it; hard findings reject.
func (f *ScamFilter) AnalyzeToken(ctx context.Context, token domain.TokenMetadata) (domain.FilterResult, error) {
	if listed, err := f.isBlacklisted(ctx, token.Mint); err != nil {
		return domain.FilterResult{}, fmt.Errorf("filter: blacklist %s: %w", token.Mint, err)
	} else if listed {
		return reject(0, "token is blacklisted"), nil
	}
	if token.Creator != "" {
		if listed, err := f.isBlacklisted(ctx, token.Creator); err != nil {
			return domain.FilterResult{}, fmt.Errorf("filter: blacklist %s: %w", token.Creator, err)
		} else if listed {
			return reject(0, "creator is blacklisted"), nil
		}
	}
	if p, ok := f.bannedPattern(token); ok {
		return reject(0, fmt.Sprintf("name contains blacklisted pattern: %q", p)), nil
	}

	score := 100.0
	var warnings []string

	deduct, found := nameWarnings(token)
	score -= deduct
	warnings = append(warnings, found...)

	renounced, freezeOff := f.authorities(ctx, token)
	if !renounced {
		if f.cfg.RequireMintRenounced {
			return reject(0, "mint authority not renounced", warnings...), nil
		}
		score -= 30
		warnings = append(warnings, "mint authority still active")
	}
	if !freezeOff {
		if f.cfg.RequireFreezeDisabled {
			return reject(0, "freeze authority enabled", warnings...), nil
		}
		score -= 25
		warnings = append(warnings, "freeze authority enabled")
	}

	creator := f.creator(ctx, token)
	if creator.rugs > f.cfg.MaxCreatorRugCount {
		f.ban(ctx, token.Creator, "creator", "rug history")
		res := reject(0, fmt.Sprintf("creator has %d previous rugs", creator.rugs), warnings...)
		res.Rug = true
		return res, nil
	}
	if creator.ageHours < f.cfg.MinCreatorWalletAgeHours {
		score -= 20
		warnings = append(warnings, fmt.Sprintf("creator wallet only %.1fh old", creator.ageHours))
	}
	if len(creator.suspicious) > 0 {
		score -= 15
		warnings = append(warnings, creator.suspicious...)
	}

	if score < 0 {
		score = 0
	}
	return domain.FilterResult{
		Passed:   true,
		Score:    score,
		Warnings: warnings,
		Facts: &domain.TokenFacts{
			MintRenounced:   renounced,
			FreezeDisabled:  freezeOff,
			CreatorAgeHours: creator.ageHours,
			CreatorRugs:     creator.rugs,
		},
	}, nil
}

type creatorFacts struct {
	ageHours   float64
	rugs       int
	suspicious []string
}

func (f *ScamFilter) creator(ctx context.Context, token domain.TokenMetadata) creatorFacts {
	facts := creatorFacts{ageHours: token.CreatorAgeHours, rugs: token.CreatorRugCount}
	if token.Creator == "" {
		return facts
	}

	if f.deps.Chain != nil {
		act, err := f.deps.Chain.WalletActivity(ctx, token.Creator)
		switch {
		case err != nil:
			f.logger.WarnContext(ctx, "creator analysis failed",
				slog.String("creator", token.Creator),
				slog.String("error", err.Error()),
			)
			facts.suspicious = append(facts.suspicious, "creator analysis failed")
		case act.Transactions == 0:
			facts.ageHours = 0
			facts.suspicious = append(facts.suspicious, "no transaction history")
		default:
			if !act.FirstSeen.IsZero() {
				facts.ageHours = f.now().Sub(act.FirstSeen).Hours()
			}
			if act.TokenCreations > 5 {
				facts.suspicious = append(facts.suspicious, fmt.Sprintf("created %d tokens recently", act.TokenCreations))
				facts.rugs = max(facts.rugs, act.TokenCreations/2)
			}
		}
	}

	if f.deps.History != nil {
		h, err := f.deps.History.CreatorHistory(ctx, token.Creator)
		if err != nil {
			f.logger.DebugContext(ctx, "creator history unavailable", slog.String("error", err.Error()))
		} else {
			facts.rugs = max(facts.rugs, h.Rugs)
		}
	}
	return facts
}

// authorities assumes the worst when the chain cannot be read.
func (f *ScamFilter) authorities(ctx context.Context, token domain.TokenMetadata) (renounced, freezeOff bool) {
	if f.deps.Chain == nil {
		return token.MintAuthorityRenounced, token.FreezeAuthorityDisabled
	}
	renounced, freezeOff, err := f.deps.Chain.MintAuthorities(ctx, token.Mint)
	if err != nil {
		f.logger.WarnContext(ctx, "mint authority check failed",
			slog.String("mint", token.Mint),
			slog.String("error", err.Error()),
		)
		return false, false
	}
	return renounced, freezeOff
}

func (f *ScamFilter) isBlacklisted(ctx context.Context, addr string) (bool, error) {
	if f.deps.Cache != nil {
		if ok, err := f.deps.Cache.Contains(ctx, addr); err == nil && ok {
			return true, nil
		}
	}
	if f.deps.Blacklist == nil {
		return false, nil
	}
	ok, err := f.deps.Blacklist.Contains(ctx, addr)
	if err != nil {
		return false, err
	}
	if ok && f.deps.Cache != nil {
		_ = f.deps.Cache.Add(ctx, addr)
	}
	return ok, nil
}

func (f *ScamFilter) ban(ctx context.Context, addr, kind, reason string) {
	if addr == "" || f.deps.Blacklist == nil {
		return
	}
	err := f.deps.Blacklist.Add(ctx, domain.BlacklistEntry{
		Address:   addr,
		Kind:      kind,
		Reason:    reason,
		CreatedAt: f.now().UTC(),
	})
	if err != nil {
		f.logger.WarnContext(ctx, "blacklist add failed",
			slog.String("address", addr),
			slog.String("error", err.Error()),
		)
		return
	}
	if f.deps.Cache != nil {
		_ = f.deps.Cache.Add(ctx, addr)
	}
	f.logger.InfoContext(ctx, "address blacklisted",
		slog.String("address", addr),
		slog.String("kind", kind),
		slog.String("reason", reason),
	)
}

func (f *ScamFilter) bannedPattern(token domain.TokenMetadata) (string, bool) {
	combined := strings.ToLower(token.Name + " " + token.Symbol)
	for _, p := range f.cfg.BlacklistPatterns {
		if strings.Contains(combined, p) {
			return p, true
		}
	}
	return "", false
}

// nameWarnings returns the soft deductions for name and symbol.
func nameWarnings(token domain.TokenMetadata) (float64, []string) {
	combined := token.Name + " " + token.Symbol
	var (
		deduct   float64
		warnings []string
	)
	for _, p := range softPatterns {
		if p.re.MatchString(combined) {
			deduct += p.deduct
			warnings = append(warnings, p.msg)
		}
	}
	if n := len(strings.TrimSpace(token.Symbol)); n > 0 && n <= 2 {
		deduct += 5
		warnings = append(warnings, "very short symbol")
	}

	name := strings.ToLower(strings.TrimSpace(token.Name))
	for base, exact := range copycatBases {
		if !strings.Contains(name, base) || slices.Contains(exact, name) {
			continue
		}
		deduct += 10
		warnings = append(warnings, "possible copycat of established token")
		break
	}
	return deduct, warnings
}

func reject(score float64, reason string, warnings ...string) domain.FilterResult {
	return domain.FilterResult{Passed: false, Score: score, Reasons: []string{reason}, Warnings: warnings}
}

// Compile-time interface check.
var _ domain.SafetyAnalyzer = (*ScamFilter)(nil)

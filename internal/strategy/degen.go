package strategy

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

var hypePatterns = []struct {
	re     *regexp.Regexp
	boost  float64
	reason string
}{
	{regexp.MustCompile(`pepe|frog|kek`), 15, "pepe vibes"},
	{regexp.MustCompile(`doge|shib|inu|dog`), 10, "dog coin"},
	{regexp.MustCompile(`cat|kitty|meow`), 12, "cat meta"},
	{regexp.MustCompile(`trump|biden|elon|musk`), 20, "political/celebrity"},
	{regexp.MustCompile(`ai|gpt|bot`), 15, "ai narrative"},
	{regexp.MustCompile(`sol|solana`), 10, "solana meta"},
	{regexp.MustCompile(`moon|rocket|mars`), 8, "moon talk"},
	{regexp.MustCompile(`wojak|chad|based`), 12, "meme culture"},
	{regexp.MustCompile(`npc|normie`), 10, "npc meme"},
	{regexp.MustCompile(`gm|gn|wagmi`), 8, "crypto slang"},
	{regexp.MustCompile(`ape|monkey|gorilla`), 10, "ape together strong"},
	{regexp.MustCompile(`diamond|hands|hodl`), 8, "diamond hands"},
}

// Degen takes nearly every token that is not a known rug and sizes by how
// memeable the name is.
type Degen struct{}

func (Degen) Name() string        { return "degen" }
func (Degen) Description() string { return "High risk, high reward, wide stops" }

func (Degen) Entry(c Candidate, s Snapshot) Decision {
	a := c.Analysis
	if a.Score < 30 {
		return skip(0.9, "score below degen floor")
	}
	if c.CreatorRugs() > 0 {
		return skip(1, "known rugger")
	}
	if s.OpenPositions >= 10 {
		return skip(0.5, "degen position cap reached")
	}
	if s.DailyPnL < -1.0 {
		return skip(0.9, "daily loss limit hit")
	}

	hype, why := HypeScore(c.Token.Name, c.Token.Symbol)
	amount := 0.05
	switch {
	case hype > 85:
		amount = 0.12
	case hype > 70:
		amount = 0.08
	}
	if a.Score > 70 {
		amount *= 1.3
	}
	amount = math.Min(amount, 0.15)

	return Decision{
		Action:      domain.RecommendBuy,
		Confidence:  0.5,
		AmountSOL:   amount,
		SlippageBps: 2500,
		StopLossPct: 40,
		Tiers: []domain.TakeProfitTier{
			{Multiplier: 3, SellPct: 30},
			{Multiplier: 10, SellPct: 40},
			{Multiplier: 50, SellPct: 30},
		},
		Reason: fmt.Sprintf("ape: %s (hype %.0f)", why, hype),
	}
}

// HypeScore rates how memeable a name and symbol are, from 50 up to 100.
func HypeScore(name, symbol string) (float64, string) {
	score := 50.0
	var reasons []string
	combined := strings.ToLower(name + " " + symbol)
	for _, p := range hypePatterns {
		if p.re.MatchString(combined) {
			score += p.boost
			reasons = append(reasons, p.reason)
		}
	}
	if utf8.RuneCountInString(symbol) <= 4 {
		score += 5
	}
	if utf8.RuneCountInString(name) <= 10 {
		score += 5
	}
	if symbol == strings.ToUpper(symbol) {
		score += 3
	}
	if len(reasons) == 0 {
		return math.Min(score, 100), "pure gambling"
	}
	return math.Min(score, 100), strings.Join(reasons, ", ")
}

package retrieval

import (
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
)

// recencyBaselineDate divides the corpus into two date regimes. Posts
// before it are evergreen reference material (faculty pages, migrated
// archives) whose dates say nothing about relevance, so they get the
// flat multiplier instead of the decay scale.
const recencyBaselineDate = "2021-03-02T00:00:00+09:00"

// recencyBands maps post age in days to a multiplier. Past the last
// band the weight decays monthly down to the configured floor.
var recencyBands = []struct {
	maxDays int
	weight  float64
}{
	{6, 1.30},
	{12, 1.25},
	{18, 1.20},
	{24, 1.15},
	{30, 1.10},
	{36, 1.05},
	{45, 1.00},
	{60, 0.98},
	{90, 0.95},
}

const (
	// monthlyDecay lowers the weight per month past the last day band.
	monthlyDecay = 0.01

	// recentQueryBonus rewards fresh posts when the query itself asks
	// for recency; recentBonusMaxDays bounds which bands count as fresh.
	recentQueryBonus   = 0.15
	recentBonusMaxDays = 45

	// evergreenQueryBonus nudges pre-baseline material for queries
	// about people and contact points, which that regime is made of.
	evergreenQueryBonus = 0.1
)

// recentTokens are query tokens that make freshness explicit.
var recentTokens = map[string]bool{
	"최근": true, "최신": true, "지금": true, "현재": true,
	"요즘": true, "이번": true,
	"recent": true, "latest": true, "now": true, "current": true,
}

// evergreenTokens are query tokens pointing at directory-style content.
var evergreenTokens = map[string]bool{
	"교수": true, "교수진": true, "연구실": true, "연구분야": true,
	"이메일": true, "연락처": true, "조교": true, "직원": true,
}

// Weigher maps (post date, now, query tokens) to a score multiplier.
// The same weighting serves the dense retriever and the combiner's
// BM25-only residue.
type Weigher struct {
	clock     clock.Clock
	flatBoost float64
	floor     float64
	baseline  time.Time
}

// NewWeigher builds a Weigher from search config.
func NewWeigher(cfg config.SearchConfig, clk clock.Clock) *Weigher {
	flat := cfg.RecencyFlatBoost
	if flat <= 0 {
		flat = 1.35
	}
	floor := cfg.RecencyFloor
	if floor <= 0 {
		floor = 0.88
	}
	baseline, err := clock.ParseDate(recencyBaselineDate)
	if err != nil {
		baseline = time.Date(2021, 3, 2, 0, 0, 0, 0, clock.Location())
	}
	return &Weigher{clock: clk, flatBoost: flat, floor: floor, baseline: baseline}
}

// Weight computes the multiplier for one post date. Unparseable dates
// fall into the pre-baseline regime; the multiplier never reaches 0.
func (w *Weigher) Weight(dateISO string, queryTokens []string) float64 {
	date, err := clock.ParseDate(dateISO)
	if err != nil || date.Before(w.baseline) {
		weight := w.flatBoost
		if hasAnyToken(queryTokens, evergreenTokens) {
			weight += evergreenQueryBonus
		}
		return weight
	}

	days := int(w.clock.Now().Sub(date).Hours() / 24)
	if days < 0 {
		days = 0
	}

	weight := 0.0
	matched := false
	for _, band := range recencyBands {
		if days <= band.maxDays {
			weight = band.weight
			matched = true
			break
		}
	}
	if !matched {
		last := recencyBands[len(recencyBands)-1]
		months := days/30 - last.maxDays/30
		weight = last.weight - monthlyDecay*float64(months)
	}

	if weight < w.floor {
		weight = w.floor
	}
	if days <= recentBonusMaxDays && hasAnyToken(queryTokens, recentTokens) {
		weight += recentQueryBonus
	}
	return weight
}

func hasAnyToken(tokens []string, set map[string]bool) bool {
	for _, t := range tokens {
		if set[t] {
			return true
		}
	}
	return false
}

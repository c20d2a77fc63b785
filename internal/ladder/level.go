package ladder

import (
	"sort"

	"esa_go/internal/domain"
)

// LevelPriceSizeLadder is a rank-keyed ladder ("best available" and "best
// display available"). Ranks are authoritative: a removed rank leaves a gap
// and nothing is re-ranked.
type LevelPriceSizeLadder struct {
	levels map[int]domain.LevelPriceSize
	snap   []domain.LevelPriceSize
}

// NewLevel creates an empty leveled ladder.
func NewLevel() *LevelPriceSizeLadder {
	return &LevelPriceSizeLadder{
		levels: make(map[int]domain.LevelPriceSize),
		snap:   domain.EmptyLevelPriceSizes,
	}
}

// OnPriceChange applies a batch of [level, price, size] triples and returns
// the ladder ordered by rank.
func (l *LevelPriceSizeLadder) OnPriceChange(isImage bool, prices [][]float64) []domain.LevelPriceSize {
	if isImage {
		clear(l.levels)
	}
	if !isImage && len(prices) == 0 {
		return l.snap
	}

	for _, lps := range prices {
		if len(lps) < 3 {
			continue
		}
		level := int(lps[0])
		if lps[2] <= 0 {
			delete(l.levels, level)
			continue
		}
		l.levels[level] = domain.LevelPriceSize{Level: level, Price: lps[1], Size: lps[2]}
	}

	l.snap = l.materialize()
	return l.snap
}

// Prices returns the last materialized ladder.
func (l *LevelPriceSizeLadder) Prices() []domain.LevelPriceSize {
	return l.snap
}

func (l *LevelPriceSizeLadder) materialize() []domain.LevelPriceSize {
	if len(l.levels) == 0 {
		return domain.EmptyLevelPriceSizes
	}
	out := make([]domain.LevelPriceSize, 0, len(l.levels))
	for _, lps := range l.levels {
		out = append(out, lps)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Level < out[j].Level
	})
	return out
}

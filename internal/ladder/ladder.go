// Package ladder implements the ordered price ladders a runner is built from.
//
// Ladders are written by a single goroutine. Each batch produces a fresh
// slice; slices already handed out are never modified, so readers can hold
// them without locking.
package ladder

import (
	"esa_go/internal/domain"

	"github.com/tidwall/btree"
)

const btreeDegree = 32

// Side selects the ordering of a price-keyed ladder.
type Side int

const (
	// Back ladders are ordered best (highest) price first.
	Back Side = iota
	// Lay ladders are ordered best (lowest) price first.
	Lay
)

// PriceSizeLadder is one side of a price-keyed book.
type PriceSizeLadder struct {
	side   Side
	levels *btree.Map[float64, float64]
	snap   []domain.PriceSize
}

// NewBack creates a ladder ordered by descending price.
func NewBack() *PriceSizeLadder {
	return newLadder(Back)
}

// NewLay creates a ladder ordered by ascending price.
func NewLay() *PriceSizeLadder {
	return newLadder(Lay)
}

func newLadder(side Side) *PriceSizeLadder {
	return &PriceSizeLadder{
		side:   side,
		levels: btree.NewMap[float64, float64](btreeDegree),
		snap:   domain.EmptyPriceSizes,
	}
}

// Side returns the ordering of the ladder.
func (l *PriceSizeLadder) Side() Side {
	return l.side
}

// OnPriceChange applies a batch of [price, size] pairs and returns the
// resulting ladder. An image replaces every level. On a delta a size <= 0
// removes the level. Malformed pairs are skipped.
func (l *PriceSizeLadder) OnPriceChange(isImage bool, prices [][]float64) []domain.PriceSize {
	if isImage {
		l.levels = btree.NewMap[float64, float64](btreeDegree)
	}
	if !isImage && len(prices) == 0 {
		return l.snap
	}

	for _, ps := range prices {
		if len(ps) < 2 {
			continue
		}
		price, size := ps[0], ps[1]
		if size <= 0 {
			l.levels.Delete(price)
			continue
		}
		l.levels.Set(price, size)
	}

	l.snap = l.materialize()
	return l.snap
}

// Prices returns the last materialized ladder.
func (l *PriceSizeLadder) Prices() []domain.PriceSize {
	return l.snap
}

func (l *PriceSizeLadder) materialize() []domain.PriceSize {
	if l.levels.Len() == 0 {
		return domain.EmptyPriceSizes
	}
	out := make([]domain.PriceSize, 0, l.levels.Len())
	collect := func(price, size float64) bool {
		out = append(out, domain.PriceSize{Price: price, Size: size})
		return true
	}
	if l.side == Back {
		l.levels.Reverse(collect)
	} else {
		l.levels.Scan(collect)
	}
	return out
}

package cache

import (
	"maps"

	"esa_go/internal/domain"
	"esa_go/internal/esa"
	"esa_go/internal/ladder"
)

// OrderMarketRunner holds unmatched orders and matched volume of one runner.
type OrderMarketRunner struct {
	marketID string
	id       domain.RunnerID

	unmatched map[string]*esa.Order
	mb        *ladder.PriceSizeLadder
	ml        *ladder.PriceSizeLadder

	matchedBack []domain.PriceSize
	matchedLay  []domain.PriceSize
	snap        lazySnap[OrderMarketRunnerSnap]
}

func newOrderMarketRunner(marketID string, id domain.RunnerID) *OrderMarketRunner {
	return &OrderMarketRunner{
		marketID:    marketID,
		id:          id,
		unmatched:   make(map[string]*esa.Order),
		mb:          ladder.NewBack(),
		ml:          ladder.NewLay(),
		matchedBack: domain.EmptyPriceSizes,
		matchedLay:  domain.EmptyPriceSizes,
	}
}

// onOrderRunnerChange clears unmatched orders on a full image, upserts each
// incoming order by id, then applies the matched ladders.
func (r *OrderMarketRunner) onOrderRunnerChange(orc *esa.OrderRunnerChange) {
	r.snap.invalidate()

	if orc.FullImage {
		clear(r.unmatched)
	}
	for _, o := range orc.Uo {
		r.unmatched[o.ID] = o
	}

	r.matchedBack = r.mb.OnPriceChange(orc.FullImage, orc.Mb)
	r.matchedLay = r.ml.OnPriceChange(orc.FullImage, orc.Ml)
}

// Snap returns the runner snapshot. Writer goroutine only.
func (r *OrderMarketRunner) Snap() *OrderMarketRunnerSnap {
	return r.snap.get(func() *OrderMarketRunnerSnap {
		return &OrderMarketRunnerSnap{
			MarketID:        r.marketID,
			RunnerID:        r.id,
			UnmatchedOrders: maps.Clone(r.unmatched),
			MatchedBack:     r.matchedBack,
			MatchedLay:      r.matchedLay,
		}
	})
}

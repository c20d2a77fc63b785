package cache

import (
	"esa_go/internal/domain"
	"esa_go/internal/esa"
	"esa_go/internal/ladder"
)

// MarketRunner is the mutable state of one runner in a market.
type MarketRunner struct {
	marketID string
	id       domain.RunnerID

	atb *ladder.PriceSizeLadder
	atl *ladder.PriceSizeLadder
	trd *ladder.PriceSizeLadder
	spb *ladder.PriceSizeLadder
	spl *ladder.PriceSizeLadder

	batb  *ladder.LevelPriceSizeLadder
	batl  *ladder.LevelPriceSizeLadder
	bdatb *ladder.LevelPriceSizeLadder
	bdatl *ladder.LevelPriceSizeLadder

	ltp float64
	spn float64
	spf float64
	tv  float64

	prices     *RunnerPrices
	definition *esa.RunnerDefinition
	snap       lazySnap[MarketRunnerSnap]
}

func newMarketRunner(marketID string, id domain.RunnerID) *MarketRunner {
	return &MarketRunner{
		marketID: marketID,
		id:       id,
		atb:      ladder.NewBack(),
		atl:      ladder.NewLay(),
		trd:      ladder.NewLay(),
		spb:      ladder.NewBack(),
		spl:      ladder.NewLay(),
		batb:     ladder.NewLevel(),
		batl:     ladder.NewLevel(),
		bdatb:    ladder.NewLevel(),
		bdatl:    ladder.NewLevel(),
		prices:   emptyPrices,
	}
}

// ID returns the runner key.
func (r *MarketRunner) ID() domain.RunnerID {
	return r.id
}

// onPriceChange applies one runner change. An image re-images every ladder.
func (r *MarketRunner) onPriceChange(isImage bool, rc *esa.RunnerChange) {
	r.snap.invalidate()

	r.prices = &RunnerPrices{
		AvailableToBack:   r.atb.OnPriceChange(isImage, rc.Atb),
		AvailableToLay:    r.atl.OnPriceChange(isImage, rc.Atl),
		Traded:            r.trd.OnPriceChange(isImage, rc.Trd),
		StartingPriceBack: r.spb.OnPriceChange(isImage, rc.Spb),
		StartingPriceLay:  r.spl.OnPriceChange(isImage, rc.Spl),

		BestAvailableToBack:        r.batb.OnPriceChange(isImage, rc.Batb),
		BestAvailableToLay:         r.batl.OnPriceChange(isImage, rc.Batl),
		BestDisplayAvailableToBack: r.bdatb.OnPriceChange(isImage, rc.Bdatb),
		BestDisplayAvailableToLay:  r.bdatl.OnPriceChange(isImage, rc.Bdatl),

		LastTradedPrice:   ladder.SelectPrice(isImage, &r.ltp, rc.Ltp),
		StartingPriceNear: ladder.SelectPrice(isImage, &r.spn, rc.Spn),
		StartingPriceFar:  ladder.SelectPrice(isImage, &r.spf, rc.Spf),
		TradedVolume:      ladder.SelectPrice(isImage, &r.tv, rc.Tv),
	}
}

// onRunnerDefinitionChange replaces the definition wholesale.
func (r *MarketRunner) onRunnerDefinitionChange(def *esa.RunnerDefinition) {
	r.snap.invalidate()
	r.definition = def
}

// Snap returns the runner snapshot, building it if the runner changed since
// the last call. Writer goroutine only.
func (r *MarketRunner) Snap() *MarketRunnerSnap {
	return r.snap.get(func() *MarketRunnerSnap {
		return &MarketRunnerSnap{
			MarketID:   r.marketID,
			RunnerID:   r.id,
			Definition: r.definition,
			Prices:     r.prices,
		}
	})
}

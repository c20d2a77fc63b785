package cache

import (
	"esa_go/internal/domain"
	"esa_go/internal/esa"
)

// RunnerPrices is the immutable price aggregate of one runner.
type RunnerPrices struct {
	AvailableToBack   []domain.PriceSize
	AvailableToLay    []domain.PriceSize
	Traded            []domain.PriceSize
	StartingPriceBack []domain.PriceSize
	StartingPriceLay  []domain.PriceSize

	BestAvailableToBack        []domain.LevelPriceSize
	BestAvailableToLay         []domain.LevelPriceSize
	BestDisplayAvailableToBack []domain.LevelPriceSize
	BestDisplayAvailableToLay  []domain.LevelPriceSize

	LastTradedPrice   float64
	StartingPriceNear float64
	StartingPriceFar  float64
	TradedVolume      float64
}

var emptyPrices = &RunnerPrices{
	AvailableToBack:            domain.EmptyPriceSizes,
	AvailableToLay:             domain.EmptyPriceSizes,
	Traded:                     domain.EmptyPriceSizes,
	StartingPriceBack:          domain.EmptyPriceSizes,
	StartingPriceLay:           domain.EmptyPriceSizes,
	BestAvailableToBack:        domain.EmptyLevelPriceSizes,
	BestAvailableToLay:         domain.EmptyLevelPriceSizes,
	BestDisplayAvailableToBack: domain.EmptyLevelPriceSizes,
	BestDisplayAvailableToLay:  domain.EmptyLevelPriceSizes,
}

// MarketRunnerSnap is a point-in-time view of one runner.
type MarketRunnerSnap struct {
	MarketID   string
	RunnerID   domain.RunnerID
	Definition *esa.RunnerDefinition
	Prices     *RunnerPrices
}

// MarketSnap is a point-in-time view of one market. Once published it is
// never mutated.
type MarketSnap struct {
	MarketID     string
	Definition   *esa.MarketDefinition
	Runners      []*MarketRunnerSnap
	TradedVolume float64
	IsClosed     bool
}

// Runner returns the runner snapshot for id, or nil.
func (s *MarketSnap) Runner(id domain.RunnerID) *MarketRunnerSnap {
	for _, r := range s.Runners {
		if r.RunnerID == id {
			return r
		}
	}
	return nil
}

// OrderMarketRunnerSnap is a point-in-time view of the orders on one runner.
type OrderMarketRunnerSnap struct {
	MarketID        string
	RunnerID        domain.RunnerID
	UnmatchedOrders map[string]*esa.Order
	MatchedBack     []domain.PriceSize
	MatchedLay      []domain.PriceSize
}

// OrderMarketSnap is a point-in-time view of the orders in one market.
type OrderMarketSnap struct {
	MarketID  string
	AccountID int64
	Runners   []*OrderMarketRunnerSnap
	IsClosed  bool
}

// Runner returns the order runner snapshot for id, or nil.
func (s *OrderMarketSnap) Runner(id domain.RunnerID) *OrderMarketRunnerSnap {
	for _, r := range s.Runners {
		if r.RunnerID == id {
			return r
		}
	}
	return nil
}

type snapState uint8

const (
	stale snapState = iota
	computed
)

// lazySnap holds a derived view that is rebuilt on first read after a
// mutation. Writer goroutine only.
type lazySnap[T any] struct {
	state snapState
	value *T
}

func (l *lazySnap[T]) invalidate() {
	l.state = stale
	l.value = nil
}

func (l *lazySnap[T]) get(build func() *T) *T {
	if l.state == stale {
		l.value = build()
		l.state = computed
	}
	return l.value
}

package service

import (
	"time"

	"esa_go/internal/cache"
	"esa_go/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RunnerSummary is the top of book of one runner.
type RunnerSummary struct {
	RunnerID     domain.RunnerID `json:"runner"`
	Status       string          `json:"status,omitempty"`
	BestBack     *PriceLevel     `json:"bestBack,omitempty"`
	BestLay      *PriceLevel     `json:"bestLay,omitempty"`
	LastTraded   decimal.Decimal `json:"ltp"`
	TradedVolume decimal.Decimal `json:"tv"`
}

// PriceLevel is a price and the size available at it.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// MarketSummary condenses a market snapshot for logging and the snapshot sink.
type MarketSummary struct {
	MarketID     string          `json:"marketId"`
	Status       string          `json:"status,omitempty"`
	InPlay       bool            `json:"inPlay"`
	IsClosed     bool            `json:"closed"`
	TotalMatched decimal.Decimal `json:"totalMatched"`
	BackBook     decimal.Decimal `json:"backBook"`
	LayBook      decimal.Decimal `json:"layBook"`
	Runners      []RunnerSummary `json:"runners"`
	GeneratedAt  time.Time       `json:"generatedAt"`
}

// Summarize builds the summary of snap. Book percentages sum 100/price over
// the best price of every runner that is not removed.
func Summarize(snap *cache.MarketSnap) MarketSummary {
	s := MarketSummary{
		MarketID:     snap.MarketID,
		IsClosed:     snap.IsClosed,
		TotalMatched: decimal.NewFromFloat(snap.TradedVolume),
		BackBook:     decimal.Zero,
		LayBook:      decimal.Zero,
		Runners:      make([]RunnerSummary, 0, len(snap.Runners)),
		GeneratedAt:  time.Now().UTC(),
	}
	if snap.Definition != nil {
		s.Status = snap.Definition.Status
		s.InPlay = snap.Definition.InPlay
	}

	for _, r := range snap.Runners {
		rs := RunnerSummary{
			RunnerID:     r.RunnerID,
			LastTraded:   decimal.NewFromFloat(r.Prices.LastTradedPrice),
			TradedVolume: decimal.NewFromFloat(r.Prices.TradedVolume),
		}
		if r.Definition != nil {
			rs.Status = r.Definition.Status
		}
		rs.BestBack = bestOf(r.Prices.AvailableToBack, r.Prices.BestAvailableToBack, r.Prices.BestDisplayAvailableToBack)
		rs.BestLay = bestOf(r.Prices.AvailableToLay, r.Prices.BestAvailableToLay, r.Prices.BestDisplayAvailableToLay)

		if rs.Status != "REMOVED" {
			if rs.BestBack != nil && rs.BestBack.Price.IsPositive() {
				s.BackBook = s.BackBook.Add(hundred.Div(rs.BestBack.Price))
			}
			if rs.BestLay != nil && rs.BestLay.Price.IsPositive() {
				s.LayBook = s.LayBook.Add(hundred.Div(rs.BestLay.Price))
			}
		}
		s.Runners = append(s.Runners, rs)
	}

	s.BackBook = s.BackBook.Round(2)
	s.LayBook = s.LayBook.Round(2)
	return s
}

// bestOf picks the best price from the full ladder, falling back to the
// leveled ladders when only those are streamed.
func bestOf(full []domain.PriceSize, best, display []domain.LevelPriceSize) *PriceLevel {
	if len(full) > 0 {
		return &PriceLevel{Price: decimal.NewFromFloat(full[0].Price), Size: decimal.NewFromFloat(full[0].Size)}
	}
	for _, l := range [][]domain.LevelPriceSize{best, display} {
		if len(l) > 0 {
			return &PriceLevel{Price: decimal.NewFromFloat(l[0].Price), Size: decimal.NewFromFloat(l[0].Size)}
		}
	}
	return nil
}

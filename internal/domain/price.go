package domain

import "strconv"

// PriceSize is one level of a price-keyed ladder.
type PriceSize struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

func (p PriceSize) String() string {
	return strconv.FormatFloat(p.Size, 'f', -1, 64) + "@" + strconv.FormatFloat(p.Price, 'f', -1, 64)
}

// LevelPriceSize is one slot of a rank-keyed ladder. Level 0 is best.
type LevelPriceSize struct {
	Level int     `json:"level"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

func (l LevelPriceSize) String() string {
	return strconv.Itoa(l.Level) + ": " + strconv.FormatFloat(l.Size, 'f', -1, 64) + "@" + strconv.FormatFloat(l.Price, 'f', -1, 64)
}

var (
	// EmptyPriceSizes is the shared empty ladder. Never append to it.
	EmptyPriceSizes = []PriceSize{}

	// EmptyLevelPriceSizes is the shared empty leveled ladder. Never append to it.
	EmptyLevelPriceSizes = []LevelPriceSize{}
)

package service

import (
	"encoding/json"
	"testing"

	"esa_go/internal/cache"
	"esa_go/internal/domain"
	"esa_go/internal/esa"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	snap := &cache.MarketSnap{
		MarketID:     "1.1",
		Definition:   &esa.MarketDefinition{Status: "OPEN", InPlay: true},
		TradedVolume: 1500.5,
		Runners: []*cache.MarketRunnerSnap{
			{
				RunnerID:   domain.RunnerID{SelectionID: 1},
				Definition: &esa.RunnerDefinition{ID: 1, Status: "ACTIVE"},
				Prices: &cache.RunnerPrices{
					AvailableToBack: []domain.PriceSize{{Price: 2, Size: 10}, {Price: 1.9, Size: 5}},
					AvailableToLay:  []domain.PriceSize{{Price: 2.5, Size: 4}},
					LastTradedPrice: 2.1,
					TradedVolume:    1000,
				},
			},
			{
				RunnerID: domain.RunnerID{SelectionID: 2},
				Prices: &cache.RunnerPrices{
					BestAvailableToBack: []domain.LevelPriceSize{{Level: 0, Price: 4, Size: 3}},
					BestAvailableToLay:  []domain.LevelPriceSize{{Level: 0, Price: 5, Size: 2}},
				},
			},
			{
				RunnerID:   domain.RunnerID{SelectionID: 3},
				Definition: &esa.RunnerDefinition{ID: 3, Status: "REMOVED"},
				Prices: &cache.RunnerPrices{
					AvailableToBack: []domain.PriceSize{{Price: 10, Size: 1}},
				},
			},
		},
	}

	s := Summarize(snap)

	assert.Equal(t, "1.1", s.MarketID)
	assert.Equal(t, "OPEN", s.Status)
	assert.True(t, s.InPlay)
	assert.True(t, s.TotalMatched.Equal(decimal.RequireFromString("1500.5")))
	// 100/2 + 100/4
	assert.True(t, s.BackBook.Equal(decimal.NewFromInt(75)), s.BackBook.String())
	// 100/2.5 + 100/5
	assert.True(t, s.LayBook.Equal(decimal.NewFromInt(60)), s.LayBook.String())

	require.Len(t, s.Runners, 3)
	r1 := s.Runners[0]
	require.NotNil(t, r1.BestBack)
	assert.True(t, r1.BestBack.Price.Equal(decimal.NewFromInt(2)))
	assert.True(t, r1.BestBack.Size.Equal(decimal.NewFromInt(10)))
	assert.True(t, r1.LastTraded.Equal(decimal.RequireFromString("2.1")))

	r2 := s.Runners[1]
	require.NotNil(t, r2.BestLay)
	assert.True(t, r2.BestLay.Price.Equal(decimal.NewFromInt(5)))

	assert.Nil(t, s.Runners[2].BestLay)
}

func TestSummarize_EmptyMarket(t *testing.T) {
	s := Summarize(&cache.MarketSnap{MarketID: "1.9", IsClosed: true})

	assert.True(t, s.IsClosed)
	assert.Empty(t, s.Status)
	assert.True(t, s.BackBook.IsZero())
	assert.NotNil(t, s.Runners)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"marketId":"1.9"`)
	assert.Contains(t, string(data), `"runners":[]`)
}

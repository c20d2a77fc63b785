package ladder

import (
	"math/rand"
	"testing"

	"esa_go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceSizeLadder_Ordering(t *testing.T) {
	t.Run("back is descending", func(t *testing.T) {
		l := NewBack()
		got := l.OnPriceChange(false, [][]float64{{2.0, 5}, {3.5, 1}, {2.5, 10}})
		assert.Equal(t, []domain.PriceSize{{Price: 3.5, Size: 1}, {Price: 2.5, Size: 10}, {Price: 2.0, Size: 5}}, got)
	})

	t.Run("lay is ascending", func(t *testing.T) {
		l := NewLay()
		got := l.OnPriceChange(false, [][]float64{{2.0, 5}, {3.5, 1}, {2.5, 10}})
		assert.Equal(t, []domain.PriceSize{{Price: 2.0, Size: 5}, {Price: 2.5, Size: 10}, {Price: 3.5, Size: 1}}, got)
	})
}

func TestPriceSizeLadder_Delta(t *testing.T) {
	l := NewBack()
	l.OnPriceChange(true, [][]float64{{2.5, 10}, {2.4, 20}})

	t.Run("overwrite keeps last write", func(t *testing.T) {
		got := l.OnPriceChange(false, [][]float64{{2.5, 7}})
		assert.Equal(t, []domain.PriceSize{{Price: 2.5, Size: 7}, {Price: 2.4, Size: 20}}, got)
	})

	t.Run("zero size removes level", func(t *testing.T) {
		got := l.OnPriceChange(false, [][]float64{{2.5, 0}})
		assert.Equal(t, []domain.PriceSize{{Price: 2.4, Size: 20}}, got)
	})

	t.Run("removing an absent level is a no-op", func(t *testing.T) {
		got := l.OnPriceChange(false, [][]float64{{9.0, 0}})
		assert.Equal(t, []domain.PriceSize{{Price: 2.4, Size: 20}}, got)
	})

	t.Run("negative size removes level", func(t *testing.T) {
		got := l.OnPriceChange(false, [][]float64{{2.4, -1}})
		assert.Empty(t, got)
		assert.NotNil(t, got)
	})

	t.Run("duplicates in a batch: latest wins", func(t *testing.T) {
		got := l.OnPriceChange(false, [][]float64{{3.0, 1}, {3.0, 0}, {3.0, 4}})
		assert.Equal(t, []domain.PriceSize{{Price: 3.0, Size: 4}}, got)
	})
}

func TestPriceSizeLadder_ImageReplacesState(t *testing.T) {
	image := [][]float64{{1.5, 3}, {1.6, 4}}

	for i := 0; i < 20; i++ {
		l := NewLay()
		// arbitrary prior state
		for j := 0; j < i; j++ {
			l.OnPriceChange(j%3 == 0, [][]float64{{float64(j) + 1.01, float64(j)}})
		}
		got := l.OnPriceChange(true, image)
		require.Equal(t, []domain.PriceSize{{Price: 1.5, Size: 3}, {Price: 1.6, Size: 4}}, got)
	}
}

func TestPriceSizeLadder_EmptyDeltaKeepsSnapshot(t *testing.T) {
	l := NewBack()
	first := l.OnPriceChange(true, [][]float64{{2.5, 10}})
	second := l.OnPriceChange(false, nil)

	assert.Equal(t, first, second)
	assert.Same(t, &first[0], &second[0])
}

func TestPriceSizeLadder_SnapshotsAreNotMutated(t *testing.T) {
	l := NewBack()
	before := l.OnPriceChange(true, [][]float64{{2.5, 10}, {2.0, 1}})
	l.OnPriceChange(false, [][]float64{{2.5, 0}, {3.0, 8}})

	assert.Equal(t, []domain.PriceSize{{Price: 2.5, Size: 10}, {Price: 2.0, Size: 1}}, before)
}

func TestPriceSizeLadder_ImageWithEmptyListClears(t *testing.T) {
	l := NewBack()
	l.OnPriceChange(true, [][]float64{{2.5, 10}})
	assert.Empty(t, l.OnPriceChange(true, nil))
}

func TestPriceSizeLadder_MalformedPairsSkipped(t *testing.T) {
	l := NewLay()
	got := l.OnPriceChange(false, [][]float64{{2.5}, {}, {3.0, 2}})
	assert.Equal(t, []domain.PriceSize{{Price: 3.0, Size: 2}}, got)
}

// Any sequence of deltas leaves the ladder strictly ordered by side, with no
// duplicate prices and no non-positive sizes.
func TestPriceSizeLadder_RandomDeltasStayOrdered(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	ticks := []float64{1.01, 1.02, 1.5, 1.51, 2.0, 2.02, 3.05, 4.1, 10, 100, 1000}

	for _, side := range []Side{Back, Lay} {
		l := newLadder(side)
		for round := 0; round < 500; round++ {
			batch := make([][]float64, r.Intn(6))
			for i := range batch {
				size := float64(r.Intn(5)) // zero about a fifth of the time
				batch[i] = []float64{ticks[r.Intn(len(ticks))], size}
			}
			got := l.OnPriceChange(false, batch)

			for i, ps := range got {
				require.Greater(t, ps.Size, 0.0)
				if i == 0 {
					continue
				}
				if side == Back {
					require.Greater(t, got[i-1].Price, ps.Price)
				} else {
					require.Less(t, got[i-1].Price, ps.Price)
				}
			}
		}
	}
}

func TestLevelPriceSizeLadder(t *testing.T) {
	l := NewLevel()

	got := l.OnPriceChange(true, [][]float64{{1, 2.4, 5}, {0, 2.5, 10}, {2, 2.3, 1}})
	assert.Equal(t, []domain.LevelPriceSize{
		{Level: 0, Price: 2.5, Size: 10},
		{Level: 1, Price: 2.4, Size: 5},
		{Level: 2, Price: 2.3, Size: 1},
	}, got)

	t.Run("overwrite a rank", func(t *testing.T) {
		got := l.OnPriceChange(false, [][]float64{{0, 2.52, 3}})
		assert.Equal(t, domain.LevelPriceSize{Level: 0, Price: 2.52, Size: 3}, got[0])
		assert.Len(t, got, 3)
	})

	t.Run("removal leaves a gap without re-ranking", func(t *testing.T) {
		got := l.OnPriceChange(false, [][]float64{{1, 0, 0}})
		assert.Equal(t, []domain.LevelPriceSize{
			{Level: 0, Price: 2.52, Size: 3},
			{Level: 2, Price: 2.3, Size: 1},
		}, got)
	})

	t.Run("image replaces everything", func(t *testing.T) {
		got := l.OnPriceChange(true, [][]float64{{0, 9, 9}})
		assert.Equal(t, []domain.LevelPriceSize{{Level: 0, Price: 9, Size: 9}}, got)
	})

	t.Run("empty delta returns previous", func(t *testing.T) {
		assert.Equal(t, l.Prices(), l.OnPriceChange(false, nil))
	})
}

func TestSelectPrice(t *testing.T) {
	v := func(f float64) *float64 { return &f }

	tests := []struct {
		name     string
		isImage  bool
		current  float64
		incoming *float64
		want     float64
	}{
		{"delta with value overwrites", false, 2.5, v(3.0), 3.0},
		{"delta without value keeps previous", false, 2.5, nil, 2.5},
		{"image with value sets", true, 2.5, v(4.0), 4.0},
		{"image without value wipes", true, 2.5, nil, 0},
		{"delta may set zero explicitly", false, 2.5, v(0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := tt.current
			got := SelectPrice(tt.isImage, &current, tt.incoming)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, current)
		})
	}
}

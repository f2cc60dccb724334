package orderbook

import (
	"testing"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func prices(levels []market.PriceLevel) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = l.Price.String()
	}
	return out
}

func TestPriceLevelMap_Ordering(t *testing.T) {
	t.Run("Ascending best is lowest", func(t *testing.T) {
		m := NewPriceLevelMap(Ascending)
		m.Upsert(d("102"), d("4"))
		m.Upsert(d("101"), d("2"))
		m.Upsert(d("103.5"), d("1"))

		best, ok := m.Best()
		require.True(t, ok)
		assert.True(t, best.Price.Equal(d("101")))
		assert.True(t, best.Quantity.Equal(d("2")))
		assert.Equal(t, []string{"101", "102", "103.5"}, prices(m.Levels(0)))
	})

	t.Run("Descending best is highest", func(t *testing.T) {
		m := NewPriceLevelMap(Descending)
		m.Upsert(d("99"), d("3"))
		m.Upsert(d("100"), d("5"))
		m.Upsert(d("98.25"), d("1"))

		best, ok := m.Best()
		require.True(t, ok)
		assert.True(t, best.Price.Equal(d("100")))
		assert.Equal(t, []string{"100", "99", "98.25"}, prices(m.Levels(0)))
	})

	t.Run("Levels limit", func(t *testing.T) {
		m := NewPriceLevelMap(Ascending)
		for _, p := range []string{"5", "1", "3", "2", "4"} {
			m.Upsert(d(p), d("1"))
		}
		assert.Equal(t, []string{"1", "2"}, prices(m.Levels(2)))
		assert.Len(t, m.Levels(10), 5)
		assert.Len(t, m.Levels(-1), 5)
	})
}

func TestPriceLevelMap_Upsert(t *testing.T) {
	t.Run("Overwrite keeps one level", func(t *testing.T) {
		m := NewPriceLevelMap(Ascending)
		m.Upsert(d("101"), d("2"))
		m.Upsert(d("101"), d("7"))

		assert.Equal(t, 1, m.Len())
		l, ok := m.Get(d("101"))
		require.True(t, ok)
		assert.True(t, l.Quantity.Equal(d("7")))
	})

	t.Run("Decimal representations share a key", func(t *testing.T) {
		m := NewPriceLevelMap(Descending)
		m.Upsert(d("100.10"), d("1"))
		m.Upsert(d("100.1"), d("2"))
		m.Upsert(d("100.100000"), d("3"))

		assert.Equal(t, 1, m.Len())
		l, ok := m.Get(d("100.1"))
		require.True(t, ok)
		assert.True(t, l.Quantity.Equal(d("3")))
	})

	t.Run("Zero removes present level", func(t *testing.T) {
		m := NewPriceLevelMap(Descending)
		m.Upsert(d("100"), d("5"))
		m.Upsert(d("99"), d("3"))
		m.Upsert(d("100"), d("0"))

		assert.Equal(t, 1, m.Len())
		_, ok := m.Get(d("100"))
		assert.False(t, ok)
		best, _ := m.Best()
		assert.True(t, best.Price.Equal(d("99")))
	})

	t.Run("Zero on absent level is a no-op", func(t *testing.T) {
		m := NewPriceLevelMap(Ascending)
		m.Upsert(d("101"), d("2"))
		m.Upsert(d("150"), d("0.000"))

		assert.Equal(t, 1, m.Len())
		assert.Equal(t, []string{"101"}, prices(m.Levels(0)))
	})
}

func TestPriceLevelMap_EmptyAndClear(t *testing.T) {
	m := NewPriceLevelMap(Ascending)
	_, ok := m.Best()
	assert.False(t, ok)
	assert.Empty(t, m.Levels(5))

	m.Upsert(d("1"), d("1"))
	m.Upsert(d("2"), d("1"))
	m.Clear()

	assert.Equal(t, 0, m.Len())
	_, ok = m.Best()
	assert.False(t, ok)
	assert.Equal(t, Ascending, m.Direction())

	m.Upsert(d("3"), d("1"))
	best, ok := m.Best()
	require.True(t, ok)
	assert.True(t, best.Price.Equal(d("3")))
}

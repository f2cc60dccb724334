package orderbook

import (
	"github.com/amirphl/depth-sync/internal/market"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// Direction is the ordering of a PriceLevelMap. The best level is always the
// minimum under that ordering.
type Direction int

const (
	Ascending  Direction = iota // asks: lowest price first
	Descending                  // bids: highest price first
)

func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// PriceLevelMap is an ordered price -> quantity map for one side of a book.
// Prices are compared as decimals, so "100" and "100.00" are the same key.
// It is not safe for concurrent use; Engine guards it.
type PriceLevelMap struct {
	dir  Direction
	tree *btree.BTreeG[market.PriceLevel]
}

// NewPriceLevelMap returns an empty map ordered by dir.
func NewPriceLevelMap(dir Direction) *PriceLevelMap {
	return &PriceLevelMap{dir: dir, tree: newTree(dir)}
}

func newTree(dir Direction) *btree.BTreeG[market.PriceLevel] {
	less := func(a, b market.PriceLevel) bool { return a.Price.LessThan(b.Price) }
	if dir == Descending {
		less = func(a, b market.PriceLevel) bool { return a.Price.GreaterThan(b.Price) }
	}
	return btree.NewBTreeGOptions(less, btree.Options{NoLocks: true})
}

// Direction reports the configured ordering.
func (m *PriceLevelMap) Direction() Direction { return m.dir }

// Upsert sets the quantity at price. A zero quantity removes the level.
func (m *PriceLevelMap) Upsert(price, quantity decimal.Decimal) {
	if quantity.IsZero() {
		m.tree.Delete(market.PriceLevel{Price: price})
		return
	}
	m.tree.Set(market.PriceLevel{Price: price, Quantity: quantity})
}

// Best returns the minimum level under the map's ordering.
func (m *PriceLevelMap) Best() (market.PriceLevel, bool) {
	return m.tree.Min()
}

// Get returns the level stored at price.
func (m *PriceLevelMap) Get(price decimal.Decimal) (market.PriceLevel, bool) {
	return m.tree.Get(market.PriceLevel{Price: price})
}

// Len returns the number of stored levels.
func (m *PriceLevelMap) Len() int { return m.tree.Len() }

// Clear removes every level.
func (m *PriceLevelMap) Clear() {
	m.tree = newTree(m.dir)
}

// Levels returns up to n levels in map order, best first. n <= 0 returns all.
func (m *PriceLevelMap) Levels(n int) []market.PriceLevel {
	size := m.tree.Len()
	if n > 0 && n < size {
		size = n
	}
	out := make([]market.PriceLevel, 0, size)
	m.tree.Scan(func(l market.PriceLevel) bool {
		out = append(out, l)
		return len(out) < size
	})
	return out
}

// Package liquidation is the ordered, per-(symbol, side) liquidation
// price index (spec component E): a secondary structure eventually
// consistent with the position store, answering the range queries the
// detection algorithm needs on every price tick.
package liquidation

import (
	"github.com/shopspring/decimal"

	"github.com/lucidperp/posmon/pkg/domain"
)

// Member is one entry in an ordered set: a position identifier scored by
// its liquidation price.
type Member struct {
	ID    domain.Address
	Score decimal.Decimal
}

// Bound is one end of a Range query. An unbounded low end behaves as
// -infinity; an unbounded high end behaves as +infinity.
type Bound struct {
	Value     decimal.Decimal
	Unbounded bool
}

// At returns a bounded Bound fixed at v.
func At(v decimal.Decimal) Bound { return Bound{Value: v} }

// Unbounded returns an unbounded Bound (either end of the range).
func Unbounded() Bound { return Bound{Unbounded: true} }

// Backend is the capability set the spec requires of an ordered-set
// store backing the liquidation index: insert, remove, and a
// score-ascending range query. It is satisfied by both the in-process
// implementation in this package and the Pebble-backed one in
// pkg/storage, chosen by config (§6 ordered_set_store_url).
type Backend interface {
	Insert(key string, member domain.Address, score decimal.Decimal) error
	Remove(key string, member domain.Address) error
	// Range returns members with lo <= score <= hi (respecting
	// unbounded ends), ascending by score. InMemoryBackend breaks ties
	// by insertion order; the Pebble backend in pkg/storage breaks them
	// by member id bytes, not by insertion order.
	Range(key string, lo, hi Bound) ([]Member, error)
}

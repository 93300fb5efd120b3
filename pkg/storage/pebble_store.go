package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/domain"
	"github.com/lucidperp/posmon/pkg/liquidation"
)

// PebbleBackend is the durable alternative to
// liquidation.InMemoryBackend, chosen via config's
// ordered_set_store_url when the liquidation index should
// survive a process restart. It satisfies the same liquidation.Backend
// contract, so cmd/monitor wires whichever one config selects without
// the rest of the system caring which is in use.
type PebbleBackend struct {
	db *pebble.DB
}

// NewPebbleBackend opens (creating if absent) a Pebble store at path.
func NewPebbleBackend(path string) (*PebbleBackend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, err, "opening pebble store at %s", path)
	}
	return &PebbleBackend{db: db}, nil
}

func (p *PebbleBackend) Close() error { return p.db.Close() }

// Insert writes member under setKey, scored by score. A prior entry for
// member under a different score is removed first, since the score is
// embedded in the key and a plain Set would otherwise leave a stale
// entry behind.
func (p *PebbleBackend) Insert(setKey string, member domain.Address, score decimal.Decimal) error {
	if err := p.removeByScan(setKey, member); err != nil {
		return err
	}
	key := memberKey(setKey, score, member)
	if err := p.db.Set(key, []byte{}, pebble.Sync); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, err, "pebble insert into %s", setKey)
	}
	return nil
}

// Remove deletes member from setKey if present.
func (p *PebbleBackend) Remove(setKey string, member domain.Address) error {
	return p.removeByScan(setKey, member)
}

// removeByScan finds member's key within setKey's prefix range and
// deletes it. The liquidation index holds at most a handful of open
// positions per (symbol, side), so a prefix scan to find member's
// current score is cheap; it avoids maintaining a second id->score
// index purely for point deletes.
func (p *PebbleBackend) removeByScan(setKey string, member domain.Address) error {
	prefix := keyPrefix(setKey)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: scanUpperBound(prefix),
	})
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, err, "pebble iterator for %s", setKey)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if len(k) < 32 {
			continue
		}
		var id domain.Address
		copy(id[:], k[len(k)-32:])
		if id != member {
			continue
		}
		found := make([]byte, len(k))
		copy(found, k)
		if err := p.db.Delete(found, pebble.Sync); err != nil {
			return apperr.Wrap(apperr.StoreUnavailable, err, "pebble delete from %s", setKey)
		}
		return nil
	}
	return nil
}

// Range returns every member of setKey scored within [lo, hi]
// (respecting unbounded ends), ascending by score — Pebble iterates
// keys byte-lexically, which encodeScore makes equivalent to numeric
// order. Members with equal scores come back in member id byte order,
// not insertion order.
func (p *PebbleBackend) Range(setKey string, lo, hi liquidation.Bound) ([]liquidation.Member, error) {
	prefix := keyPrefix(setKey)
	lower, upper := prefix, scanUpperBound(prefix)
	if !lo.Unbounded {
		lower = append(append([]byte{}, prefix...), encodeScore(lo.Value)...)
	}
	if !hi.Unbounded {
		hiKey := append(append([]byte{}, prefix...), encodeScore(hi.Value)...)
		upper = scanUpperBound(hiKey)
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, err, "pebble iterator for %s", setKey)
	}
	defer iter.Close()

	var out []liquidation.Member
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if len(k) < 32+16 {
			continue
		}
		scoreBytes := k[len(k)-32-16 : len(k)-32]
		var id domain.Address
		copy(id[:], k[len(k)-32:])
		out = append(out, liquidation.Member{ID: id, Score: decodeScore(scoreBytes)})
	}
	return out, nil
}

var _ liquidation.Backend = (*PebbleBackend)(nil)

func init() {
	// Guard against scoreBias ever becoming too small: a bias of at
	// least 2^99 keeps scores down to about -6e23 (at 6dp) non-negative
	// after biasing.
	if scoreBias.BitLen() < 100 {
		panic(fmt.Sprintf("liquidation score bias too small: %d bits", scoreBias.BitLen()))
	}
}

// Package storage is the optional durable backing store for the
// liquidation index (spec component E), behind the same ordered-set
// contract the in-process implementation satisfies. Adapted from the
// teacher's Pebble-backed block/account store: same embedded-LSM engine,
// repointed at an order-preserving score key instead of block hashes.
package storage

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/lucidperp/posmon/pkg/domain"
)

// scoreScale is the fixed-point scale used when turning a liquidation
// price into a sortable byte key. Prices are carried internally at 6 dp
// (margin.Scale); this mirrors that so no precision is lost in the key.
const scoreScale = 6

// scoreBias offsets the scaled integer so it is always non-negative,
// which keeps big-endian byte comparison equivalent to numeric
// comparison (pebble, like most LSM stores, orders keys byte-lexically).
var scoreBias = new(big.Int).Lsh(big.NewInt(1), 127)

// encodeScore turns a decimal score into a fixed-width, order-preserving
// big-endian byte string: scale to an integer, add a bias so the
// smallest representable score is non-negative, encode as 16 bytes.
func encodeScore(score decimal.Decimal) []byte {
	scaled := score.Shift(scoreScale).Round(0).BigInt()
	biased := new(big.Int).Add(scaled, scoreBias)
	out := make([]byte, 16)
	biased.FillBytes(out)
	return out
}

// decodeScore is the inverse of encodeScore.
func decodeScore(b []byte) decimal.Decimal {
	biased := new(big.Int).SetBytes(b)
	scaled := new(big.Int).Sub(biased, scoreBias)
	return decimal.NewFromBigInt(scaled, -scoreScale)
}

// memberKey builds the full Pebble key for (set key, member): a prefix
// byte, the ordered-set key, the score (for range ordering), and the
// member id (for uniqueness when scores tie and for point lookups).
func memberKey(setKey string, score decimal.Decimal, member domain.Address) []byte {
	out := make([]byte, 0, 1+len(setKey)+1+16+32)
	out = append(out, 'z')
	out = append(out, []byte(setKey)...)
	out = append(out, 0) // NUL separator: setKey may not contain one
	out = append(out, encodeScore(score)...)
	out = append(out, member[:]...)
	return out
}

// keyPrefix returns the lower bound for an iteration over every member
// of setKey; scanUpperBound returns the matching exclusive upper bound.
func keyPrefix(setKey string) []byte {
	out := make([]byte, 0, 2+len(setKey))
	out = append(out, 'z')
	out = append(out, []byte(setKey)...)
	out = append(out, 0)
	return out
}

func scanUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return append(out, 0xFF)
}

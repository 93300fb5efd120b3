package onchain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/domain"
	"github.com/lucidperp/posmon/pkg/margin"
)

func mkAddr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

// decode(encode(p)) should reproduce p exactly for
// every field the wire format carries.
func TestPositionRoundTrip(t *testing.T) {
	owner := mkAddr(0x01)
	id := mkAddr(0x02)
	p := &domain.Position{
		ID:               id,
		Owner:            owner,
		Symbol:           "BTC-USD",
		Side:             margin.Long,
		Size:             decimal.RequireFromString("1.5"),
		EntryPrice:       decimal.RequireFromString("50000.123456"),
		Margin:           decimal.RequireFromString("5000"),
		UnrealizedPnL:    decimal.RequireFromString("-125.5"),
		RealizedPnL:      decimal.RequireFromString("0"),
		FundingAccrued:   decimal.RequireFromString("1.25"),
		LiquidationPrice: decimal.RequireFromString("46250"),
		Leverage:         10,
		Status:           domain.Open,
		LastUpdate:       time.Unix(1700000000, 0).UTC(),
	}

	wire := EncodePosition(p)
	got, err := DecodePosition(id, owner, wire)
	require.NoError(t, err)

	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Owner, got.Owner)
	assert.Equal(t, p.Symbol, got.Symbol)
	assert.Equal(t, p.Side, got.Side)
	assert.True(t, p.Size.Equal(got.Size))
	assert.True(t, p.EntryPrice.Equal(got.EntryPrice))
	assert.True(t, p.Margin.Equal(got.Margin))
	assert.True(t, p.UnrealizedPnL.Equal(got.UnrealizedPnL))
	assert.True(t, p.RealizedPnL.Equal(got.RealizedPnL))
	assert.True(t, p.FundingAccrued.Equal(got.FundingAccrued))
	assert.True(t, p.LiquidationPrice.Equal(got.LiquidationPrice))
	assert.Equal(t, p.Leverage, got.Leverage)
	assert.Equal(t, p.Status, got.Status)
	assert.Equal(t, p.LastUpdate, got.LastUpdate)
}

func TestDecodePosition_BadDiscriminator(t *testing.T) {
	wire := EncodePosition(&domain.Position{Symbol: "BTC-USD"})
	wire[0] ^= 0xFF
	_, err := DecodePosition(mkAddr(1), mkAddr(2), wire)
	require.Error(t, err)
	assert.Equal(t, apperr.DecodeMismatch, apperr.KindOf(err))
}

func TestDecodePosition_TooShort(t *testing.T) {
	_, err := DecodePosition(mkAddr(1), mkAddr(2), []byte{1, 2, 3})
	require.Error(t, err)
	assert.Equal(t, apperr.DecodeMismatch, apperr.KindOf(err))
}

func TestDecodePosition_Truncated(t *testing.T) {
	wire := EncodePosition(&domain.Position{Symbol: "BTC-USD"})
	_, err := DecodePosition(mkAddr(1), mkAddr(2), wire[:len(wire)-10])
	require.Error(t, err)
	assert.Equal(t, apperr.DecodeMismatch, apperr.KindOf(err))
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"BTC-USDT": "BTC-USD",
		"ETH-USDC": "ETH-USD",
		"SOL-DAI":  "SOL-USD",
		"BTC-USD":  "BTC-USD",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeSymbol(in))
	}
}

func TestDerivePDA_Deterministic(t *testing.T) {
	programID := mkAddr(0xAA)
	owner := mkAddr(0xBB)

	a1 := DerivePositionAddress(programID, owner, 0)
	a2 := DerivePositionAddress(programID, owner, 0)
	assert.Equal(t, a1, a2)

	a3 := DerivePositionAddress(programID, owner, 1)
	assert.NotEqual(t, a1, a3, "different index must derive a different address")

	u1 := DeriveUserAddress(programID, owner)
	u2 := DeriveUserAddress(programID, owner)
	assert.Equal(t, u1, u2)
	assert.NotEqual(t, a1, u1)
}

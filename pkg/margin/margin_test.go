package margin

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidperp/posmon/pkg/apperr"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestInitialMargin(t *testing.T) {
	got, err := InitialMargin(d("1"), d("50000"), 10)
	require.NoError(t, err)
	assert.True(t, d("5000").Equal(got), "got %s", got)

	_, err = InitialMargin(d("1"), d("50000"), 0)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

func TestAvgEntry(t *testing.T) {
	got, err := AvgEntry([]Trade{
		{Price: d("100"), Qty: d("1")},
		{Price: d("200"), Qty: d("1")},
	})
	require.NoError(t, err)
	assert.True(t, d("150").Equal(got))

	_, err = AvgEntry(nil)
	require.Error(t, err)

	_, err = AvgEntry([]Trade{{Price: d("100"), Qty: d("0")}})
	require.Error(t, err)
}

func TestUnrealizedPnL(t *testing.T) {
	long := UnrealizedPnL(Long, d("1"), d("51000"), d("50000"))
	assert.True(t, d("1000").Equal(long))

	short := UnrealizedPnL(Short, d("1"), d("51000"), d("50000"))
	assert.True(t, d("-1000").Equal(short))
}

func TestMarginRatio(t *testing.T) {
	ratio, err := MarginRatio(d("5000"), d("0"), d("1"), d("50000"))
	require.NoError(t, err)
	assert.True(t, d("0.1").Equal(ratio))

	_, err = MarginRatio(d("5000"), d("0"), d("0"), d("50000"))
	require.Error(t, err)
}

func TestLiquidationPrice(t *testing.T) {
	long, err := LiquidationPrice(Long, d("50000"), 10, d("0.025"))
	require.NoError(t, err)
	assert.True(t, d("46250").Equal(long), "got %s", long)

	short, err := LiquidationPrice(Short, d("50000"), 10, d("0.025"))
	require.NoError(t, err)
	assert.True(t, d("53750").Equal(short), "got %s", short)
}

func TestShouldLiquidate(t *testing.T) {
	yes, err := ShouldLiquidate(d("1000"), d("-4500"), d("1"), d("50000"), d("0.025"))
	require.NoError(t, err)
	assert.True(t, yes)

	no, err := ShouldLiquidate(d("5000"), d("0"), d("1"), d("50000"), d("0.025"))
	require.NoError(t, err)
	assert.False(t, no)
}

func TestDistanceToLiquidation(t *testing.T) {
	dist, err := DistanceToLiquidation(Long, d("50000"), d("46250"))
	require.NoError(t, err)
	assert.True(t, d("0.075").Equal(dist), "got %s", dist)

	_, err = DistanceToLiquidation(Long, d("0"), d("46250"))
	require.Error(t, err)
}

func TestMaxPositionSize(t *testing.T) {
	size, err := MaxPositionSize(d("5000"), d("50000"), 10)
	require.NoError(t, err)
	assert.True(t, d("1").Equal(size))

	_, err = MaxPositionSize(d("0"), d("50000"), 10)
	require.Error(t, err)
}

func TestROI(t *testing.T) {
	roi, err := ROI(d("1000"), d("5000"))
	require.NoError(t, err)
	assert.True(t, d("20").Equal(roi))

	_, err = ROI(d("1000"), d("0"))
	require.Error(t, err)
}

func TestFundingPayment(t *testing.T) {
	pay, err := FundingPayment(d("1"), d("50000"), d("0.0001"))
	require.NoError(t, err)
	assert.True(t, d("5").Equal(pay))
}

func TestValidatePositionOpening(t *testing.T) {
	require.NoError(t, ValidatePositionOpening(d("5200"), d("5000"), d("0.025")))

	err := ValidatePositionOpening(d("5000"), d("5000"), d("0.025"))
	require.Error(t, err)
	assert.Equal(t, apperr.InsufficientCollateral, apperr.KindOf(err))

	err = ValidatePositionOpening(d("1000"), d("5000"), d("0.025"))
	require.Error(t, err)
}

// liquidation price should move further from entry as
// leverage decreases, holding mmr fixed.
func TestInvariant_LiquidationPriceMonotonicInLeverage(t *testing.T) {
	lp10, err := LiquidationPrice(Long, d("50000"), 10, d("0.025"))
	require.NoError(t, err)
	lp5, err := LiquidationPrice(Long, d("50000"), 5, d("0.025"))
	require.NoError(t, err)
	assert.True(t, lp5.LessThan(lp10), "lower leverage should liquidate further from entry")
}

// margin ratio below mmr should imply ShouldLiquidate.
func TestInvariant_MarginRatioAgreesWithShouldLiquidate(t *testing.T) {
	collateral, upnl, size, mark, mmr := d("1000"), d("-4600"), d("1"), d("50000"), d("0.025")
	ratio, err := MarginRatio(collateral, upnl, size, mark)
	require.NoError(t, err)
	should, err := ShouldLiquidate(collateral, upnl, size, mark, mmr)
	require.NoError(t, err)
	assert.Equal(t, ratio.LessThan(mmr), should)
}

package mutator

import (
	"github.com/shopspring/decimal"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/margin"
)

var bpsDenominator = decimal.NewFromInt(10000)

// CheckSlippage is the pre-submission guard that mirrors the on-chain
// rule external callers must satisfy: first the price deviation's raw
// magnitude, favorable or not, is bounded by maxBps; then the deviation
// is re-checked specifically along the direction that hurts the
// position (a Long is hurt by actual > expected, a Short by
// actual < expected). maxBps must itself be <= 10000.
func CheckSlippage(side margin.Side, expected, actual decimal.Decimal, maxBps uint32) error {
	if maxBps > 10000 {
		return apperr.New(apperr.InvalidInput, "max slippage %d bps exceeds 10000", maxBps)
	}
	if expected.Sign() <= 0 {
		return apperr.New(apperr.InvalidInput, "expected price must be positive")
	}
	maxBpsDec := decimal.NewFromInt(int64(maxBps))

	diff := actual.Sub(expected)
	deviationBps := diff.Abs().Mul(bpsDenominator).DivRound(expected, 8)
	if deviationBps.GreaterThan(maxBpsDec) {
		return apperr.New(apperr.SlippageExceeded,
			"price moved %s bps from expected, exceeding max %d bps", deviationBps.StringFixed(2), maxBps)
	}

	unfavorable := (side == margin.Long && diff.Sign() > 0) || (side == margin.Short && diff.Sign() < 0)
	if unfavorable && deviationBps.GreaterThan(maxBpsDec) {
		return apperr.New(apperr.SlippageExceeded,
			"price moved %s bps against %s, exceeding max %d bps", deviationBps.StringFixed(2), side, maxBps)
	}
	return nil
}

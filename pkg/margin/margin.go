// Package margin is the decimal math kernel: pure functions for margin,
// PnL, liquidation price, margin ratio, ROI and funding. Every function is
// stateless and takes/returns shopspring/decimal values so that mixing
// 6-dp prices with up to 8-dp wire sizes never loses precision.
package margin

import (
	"github.com/shopspring/decimal"

	"github.com/lucidperp/posmon/pkg/apperr"
)

// Side is Long or Short.
type Side uint8

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "short"
	}
	return "long"
}

// Scale is the canonical internal decimal precision for stored values
// (sizes, prices, pnl). Wire values may carry up to 8 dp; intermediate
// arithmetic always retains at least this many places.
const Scale = 6

// round applies banker's rounding (round-half-to-even) at Scale places.
// The divisions in this package use decimal's DivRound, which rounds
// half away from zero at its own precision; they are not banker's.
func round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Scale)
}

// InitialMargin = size * price / leverage.
func InitialMargin(size, price decimal.Decimal, leverage uint16) (decimal.Decimal, error) {
	if leverage == 0 {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "leverage must be nonzero")
	}
	notional := size.Mul(price)
	lev := decimal.NewFromInt(int64(leverage))
	return round(notional.DivRound(lev, Scale+4)), nil
}

// Trade is a single fill (price, qty) contributing to a VWAP entry price.
type Trade struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// AvgEntry computes the size-weighted average entry price across trades.
// Fails on an empty trade list or when the quantities sum to zero.
func AvgEntry(trades []Trade) (decimal.Decimal, error) {
	if len(trades) == 0 {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "no trades provided")
	}
	totalValue := decimal.Zero
	totalQty := decimal.Zero
	for _, t := range trades {
		totalValue = totalValue.Add(t.Price.Mul(t.Qty))
		totalQty = totalQty.Add(t.Qty)
	}
	if totalQty.IsZero() {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "total quantity is zero")
	}
	return round(totalValue.DivRound(totalQty, Scale+4)), nil
}

// UnrealizedPnL = size*(mark-entry) for Long, size*(entry-mark) for Short.
func UnrealizedPnL(side Side, size, mark, entry decimal.Decimal) decimal.Decimal {
	var diff decimal.Decimal
	if side == Long {
		diff = mark.Sub(entry)
	} else {
		diff = entry.Sub(mark)
	}
	return round(size.Mul(diff))
}

// MarginRatio = (collateral+upnl) / (size*mark).
func MarginRatio(collateral, upnl, size, mark decimal.Decimal) (decimal.Decimal, error) {
	notional := size.Mul(mark)
	if notional.IsZero() {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "position notional is zero")
	}
	effective := collateral.Add(upnl)
	return effective.DivRound(notional, Scale+4), nil
}

// LiquidationPrice:
//
//	Long  = entry * (1 - 1/leverage + mmr)
//	Short = entry * (1 + 1/leverage - mmr)
func LiquidationPrice(side Side, entry decimal.Decimal, leverage uint16, mmr decimal.Decimal) (decimal.Decimal, error) {
	if leverage == 0 {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "leverage must be nonzero")
	}
	one := decimal.NewFromInt(1)
	levFactor := one.DivRound(decimal.NewFromInt(int64(leverage)), Scale+4)

	var adjustment decimal.Decimal
	if side == Long {
		adjustment = one.Sub(levFactor).Add(mmr)
	} else {
		adjustment = one.Add(levFactor).Sub(mmr)
	}
	return round(entry.Mul(adjustment)), nil
}

// ShouldLiquidate reports margin_ratio < mmr.
func ShouldLiquidate(collateral, upnl, size, mark, mmr decimal.Decimal) (bool, error) {
	ratio, err := MarginRatio(collateral, upnl, size, mark)
	if err != nil {
		return false, err
	}
	return ratio.LessThan(mmr), nil
}

// DistanceToLiquidation = (current-liq)/current for Long, (liq-current)/current for Short.
func DistanceToLiquidation(side Side, current, liq decimal.Decimal) (decimal.Decimal, error) {
	if current.IsZero() {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "current price is zero")
	}
	var diff decimal.Decimal
	if side == Long {
		diff = current.Sub(liq)
	} else {
		diff = liq.Sub(current)
	}
	return diff.DivRound(current, Scale+4), nil
}

// MaintenanceMargin = initial_margin * mmr.
func MaintenanceMargin(initialMargin, mmr decimal.Decimal) decimal.Decimal {
	return round(initialMargin.Mul(mmr))
}

// MaxPositionSize = (available_margin * leverage) / entry_price.
func MaxPositionSize(availableMargin, entryPrice decimal.Decimal, leverage uint16) (decimal.Decimal, error) {
	if availableMargin.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "available margin must be positive")
	}
	if entryPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "entry price must be positive")
	}
	if leverage == 0 {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "leverage must be positive")
	}
	buyingPower := availableMargin.Mul(decimal.NewFromInt(int64(leverage)))
	return buyingPower.DivRound(entryPrice, Scale+4), nil
}

// ROI = (unrealized_pnl / initial_margin) * 100.
func ROI(unrealizedPnL, initialMargin decimal.Decimal) (decimal.Decimal, error) {
	if initialMargin.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "margin must be positive")
	}
	return unrealizedPnL.DivRound(initialMargin, Scale+4).Mul(decimal.NewFromInt(100)), nil
}

// FundingPayment = size * mark_price * funding_rate.
func FundingPayment(size, markPrice, fundingRate decimal.Decimal) (decimal.Decimal, error) {
	if size.LessThanOrEqual(decimal.Zero) || markPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "size and price must be positive")
	}
	notional := size.Mul(markPrice)
	return round(notional.Mul(fundingRate)), nil
}

// ValidatePositionOpening checks that available collateral covers the
// required margin plus an mmr-sized buffer, so a freshly opened position
// doesn't start out already eligible for liquidation. Mirrors the original
// position-opening guard: min_collateral = required_margin*(1+mmr).
func ValidatePositionOpening(availableCollateral, requiredMargin, mmr decimal.Decimal) error {
	if availableCollateral.LessThan(requiredMargin) {
		return apperr.New(apperr.InsufficientCollateral,
			"available collateral %s below required margin %s", availableCollateral, requiredMargin)
	}
	minCollateral := requiredMargin.Add(requiredMargin.Mul(mmr))
	if availableCollateral.LessThan(minCollateral) {
		return apperr.New(apperr.InsufficientCollateral,
			"available collateral %s below required buffer %s", availableCollateral, minCollateral)
	}
	return nil
}

// Instruction wire encoding: each instruction is an 8-byte
// discriminator followed by little-endian arguments. These mirror the
// account-layout encoders in onchain.go but for the instruction side of
// the wire, consumed by pkg/mutator before submission.
package onchain

import (
	"github.com/shopspring/decimal"

	"github.com/lucidperp/posmon/pkg/margin"
)

var (
	InitializeUserDiscriminator = [8]byte{0x01, 0x1F, 0x2A, 0x3B, 0x4C, 0x5D, 0x6E, 0x7F}
	AddCollateralDiscriminator  = [8]byte{0x02, 0x1F, 0x2A, 0x3B, 0x4C, 0x5D, 0x6E, 0x7F}
	OpenPositionDiscriminator   = [8]byte{0x03, 0x1F, 0x2A, 0x3B, 0x4C, 0x5D, 0x6E, 0x7F}
	ModifyPositionDiscriminator = [8]byte{0x04, 0x1F, 0x2A, 0x3B, 0x4C, 0x5D, 0x6E, 0x7F}
	ClosePositionDiscriminator  = [8]byte{0x05, 0x1F, 0x2A, 0x3B, 0x4C, 0x5D, 0x6E, 0x7F}
)

// EncodeAmount converts a decimal money value to its on-chain u64 at
// Scale decimal places, for wire fields shared between accounts and
// instructions (collateral amounts, prices).
func EncodeAmount(v decimal.Decimal) uint64 {
	return uint64(fromDecimal(v))
}

// DecodeAmount is the inverse of EncodeAmount.
func DecodeAmount(raw uint64) decimal.Decimal {
	return toDecimal(int64(raw))
}

// EncodeInitializeUser has no arguments beyond its discriminator.
func EncodeInitializeUser() []byte {
	return InitializeUserDiscriminator[:]
}

// EncodeAddCollateral encodes `amount(u64)`.
func EncodeAddCollateral(amount decimal.Decimal) []byte {
	w := &writer{}
	w.bytes(AddCollateralDiscriminator[:])
	w.u64(EncodeAmount(amount))
	return w.buf
}

// EncodeOpenPosition encodes `symbol_len(u32) | symbol | side(u8) |
// size(u64) | leverage(u16) | entry_price(u64)`.
func EncodeOpenPosition(symbol string, side margin.Side, size decimal.Decimal, leverage uint16, entryPrice decimal.Decimal) []byte {
	w := &writer{}
	w.bytes(OpenPositionDiscriminator[:])
	symBytes := []byte(symbol)
	w.u32(uint32(len(symBytes)))
	w.bytes(symBytes)
	w.u8(encodeSide(side))
	w.u64(EncodeAmount(size))
	w.u16(leverage)
	w.u64(EncodeAmount(entryPrice))
	return w.buf
}

// EncodeModifyPosition encodes `has_new_size(u8) [size(u64)] |
// has_margin_delta(u8) [delta(i64)]`.
func EncodeModifyPosition(newSize *decimal.Decimal, marginDelta *decimal.Decimal) []byte {
	w := &writer{}
	w.bytes(ModifyPositionDiscriminator[:])
	if newSize != nil {
		w.u8(1)
		w.u64(EncodeAmount(*newSize))
	} else {
		w.u8(0)
	}
	if marginDelta != nil {
		w.u8(1)
		w.i64(fromDecimal(*marginDelta))
	} else {
		w.u8(0)
	}
	return w.buf
}

// EncodeClosePosition encodes `final_price(u64)`.
func EncodeClosePosition(finalPrice decimal.Decimal) []byte {
	w := &writer{}
	w.bytes(ClosePositionDiscriminator[:])
	w.u64(EncodeAmount(finalPrice))
	return w.buf
}

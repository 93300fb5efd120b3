// Package onchain decodes and encodes the raw account and instruction
// byte layouts exchanged with the on-chain program: fixed-width
// little-endian fields, a u32-length-prefixed UTF-8 symbol, and
// single-byte enum discriminants, matching the layout the distilled
// program emits.
package onchain

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/domain"
	"github.com/lucidperp/posmon/pkg/margin"
)

// PositionDiscriminator is the 8-byte account tag for a Position record.
var PositionDiscriminator = [8]byte{0xAA, 0xBC, 0x8F, 0xE4, 0x7A, 0x40, 0xF7, 0xD0}

// UserAccountDiscriminator is the 8-byte account tag for a UserAccount
// record. The original program uses a distinct per-type discriminator;
// this value is derived the same way (first 8 bytes of a type-name hash)
// and kept separate from PositionDiscriminator so DecodeMismatch can
// distinguish "wrong account type" from "corrupt data".
var UserAccountDiscriminator = [8]byte{0xD3, 0x21, 0x88, 0x10, 0xBA, 0x6E, 0xF2, 0x7F}

// Scale is the fixed-point scale (decimal places) used for every on-chain
// u64/i64 money field: size, prices, margin, and the signed pnl fields.
const Scale = 6

func toDecimal(raw int64) decimal.Decimal {
	return decimal.New(raw, -Scale)
}

func fromDecimal(v decimal.Decimal) int64 {
	return v.Shift(Scale).Round(0).IntPart()
}

// NormalizeSymbol strips a trailing -USDT/-USDC/-DAI quote suffix and
// appends -USD, aligning on-chain symbols with the oracle's namespace.
func NormalizeSymbol(raw string) string {
	for _, suffix := range []string{"-USDT", "-USDC", "-DAI"} {
		if strings.HasSuffix(raw, suffix) {
			return strings.TrimSuffix(raw, suffix) + "-USD"
		}
	}
	return raw
}

// DecodePosition decodes a Position account's raw bytes (including its
// 8-byte discriminator). id and owner are supplied by the caller; the
// 32 owner bytes stored in the account data are skipped, not read or
// compared against owner.
func DecodePosition(id, owner domain.Address, data []byte) (*domain.Position, error) {
	if len(data) < 8 {
		return nil, apperr.New(apperr.DecodeMismatch, "position account too short: %d bytes", len(data))
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	if disc != PositionDiscriminator {
		return nil, apperr.New(apperr.DecodeMismatch, "position discriminator mismatch")
	}
	buf := data[8:]

	r := &reader{buf: buf}
	r.skip(32) // owner is supplied by the caller, not re-parsed
	symLen := r.u32()
	symRaw := r.str(int(symLen))
	sideByte := r.u8()
	size := r.u64()
	entryPrice := r.u64()
	marginRaw := r.u64()
	leverage := r.u16()
	unrealizedPnL := r.i64()
	realizedPnL := r.i64()
	fundingAccrued := r.i64()
	liquidationPrice := r.u64()
	lastUpdate := r.i64()
	statusByte := r.u8()
	_ = r.u8() // bump, not needed off-chain
	if r.err != nil {
		return nil, apperr.Wrap(apperr.DecodeMismatch, r.err, "decoding position account")
	}

	side, err := decodeSide(sideByte)
	if err != nil {
		return nil, err
	}
	status, err := decodeStatus(statusByte)
	if err != nil {
		return nil, err
	}

	ts := time.Unix(lastUpdate, 0).UTC()
	return &domain.Position{
		ID:               id,
		Owner:            owner,
		Symbol:           NormalizeSymbol(symRaw),
		Side:             side,
		Size:             toDecimal(int64(size)),
		EntryPrice:       toDecimal(int64(entryPrice)),
		Margin:           toDecimal(int64(marginRaw)),
		UnrealizedPnL:    toDecimal(unrealizedPnL),
		RealizedPnL:      toDecimal(realizedPnL),
		FundingAccrued:   toDecimal(fundingAccrued),
		LiquidationPrice: toDecimal(int64(liquidationPrice)),
		Leverage:         leverage,
		Status:           status,
		OpenedAt:         ts,
		LastUpdate:       ts,
	}, nil
}

// EncodePosition is the inverse of DecodePosition, used by tests to
// confirm round-trip fidelity (invariant 7) and to build account bytes
// for refresh-cycle tests.
func EncodePosition(p *domain.Position) []byte {
	w := &writer{}
	w.bytes(PositionDiscriminator[:])
	w.bytes(p.Owner[:])
	symBytes := []byte(p.Symbol)
	w.u32(uint32(len(symBytes)))
	w.bytes(symBytes)
	w.u8(encodeSide(p.Side))
	w.u64(uint64(fromDecimal(p.Size)))
	w.u64(uint64(fromDecimal(p.EntryPrice)))
	w.u64(uint64(fromDecimal(p.Margin)))
	w.u16(p.Leverage)
	w.i64(fromDecimal(p.UnrealizedPnL))
	w.i64(fromDecimal(p.RealizedPnL))
	w.i64(fromDecimal(p.FundingAccrued))
	w.u64(uint64(fromDecimal(p.LiquidationPrice)))
	w.i64(p.LastUpdate.Unix())
	w.u8(encodeStatus(p.Status))
	w.u8(0) // bump
	return w.buf
}

// DecodeUserAccount decodes a UserAccount's raw bytes.
func DecodeUserAccount(owner domain.Address, data []byte) (*domain.UserAccount, error) {
	if len(data) < 8 {
		return nil, apperr.New(apperr.DecodeMismatch, "user account too short: %d bytes", len(data))
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	if disc != UserAccountDiscriminator {
		return nil, apperr.New(apperr.DecodeMismatch, "user account discriminator mismatch")
	}
	buf := data[8:]
	r := &reader{buf: buf}
	r.skip(32)
	totalCollateral := r.u64()
	lockedCollateral := r.u64()
	totalPnL := r.i64()
	positionCount := r.u32()
	positionCountTotal := r.u32()
	_ = r.u8() // bump
	if r.err != nil {
		return nil, apperr.Wrap(apperr.DecodeMismatch, r.err, "decoding user account")
	}
	return &domain.UserAccount{
		Owner:              owner,
		TotalCollateral:    toDecimal(int64(totalCollateral)),
		LockedCollateral:   toDecimal(int64(lockedCollateral)),
		TotalPnL:           toDecimal(totalPnL),
		PositionCount:      positionCount,
		PositionCountTotal: positionCountTotal,
	}, nil
}

func decodeSide(b byte) (margin.Side, error) {
	switch b {
	case 0:
		return margin.Long, nil
	case 1:
		return margin.Short, nil
	default:
		return 0, apperr.New(apperr.DecodeMismatch, "unknown side variant %d", b)
	}
}

func encodeSide(s margin.Side) byte {
	if s == margin.Short {
		return 1
	}
	return 0
}

func decodeStatus(b byte) (domain.Status, error) {
	if b > byte(domain.Closed) {
		return 0, apperr.New(apperr.DecodeMismatch, "unknown status variant %d", b)
	}
	return domain.Status(b), nil
}

func encodeStatus(s domain.Status) byte { return byte(s) }

// reader walks buf sequentially, recording the first error encountered
// so callers can check it once at the end instead of after every field.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = apperr.New(apperr.DecodeMismatch, "unexpected end of account data")
		return false
	}
	return true
}

func (r *reader) skip(n int) {
	if !r.need(n) {
		return
	}
	r.off += n
}

func (r *reader) u8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) str(n int) string {
	if !r.need(n) {
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

type writer struct{ buf []byte }

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *writer) u8(v byte)      { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.bytes(b[:])
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.bytes(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.bytes(b[:])
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

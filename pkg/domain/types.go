// Package domain holds the shared record types mirrored from chain and
// passed between the monitor's components: Position, UserAccount,
// PriceTick and Alert, plus the opaque 32-byte address identifiers used
// throughout instead of the 20-byte EVM address.
package domain

import (
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lucidperp/posmon/pkg/margin"
)

// Address is an opaque 32-byte identifier (owner, position id, program
// id), mirroring a Solana-style Pubkey.
type Address [32]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// AddressFromBytes copies b into an Address, zero-padding or truncating
// to exactly 32 bytes is the caller's responsibility; this only copies.
func AddressFromBytes(b []byte) Address {
	var a Address
	copy(a[:], b)
	return a
}

// Status is a Position's lifecycle state.
type Status uint8

const (
	Opening Status = iota
	Open
	Modifying
	Closing
	Closed
)

func (s Status) String() string {
	switch s {
	case Opening:
		return "Opening"
	case Open:
		return "Open"
	case Modifying:
		return "Modifying"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// IsOpen reports status ∈ {Opening, Open} — the indexing-relevant notion
// of open used by the store and the liquidation index. Modifying/Closing
// are transient: still indexed, but not valid targets for new mutations.
func (s Status) IsOpen() bool { return s == Opening || s == Open }

// IsMutable reports whether new mutations may target a position in this
// status (Open only; Modifying/Closing are in-flight).
func (s Status) IsMutable() bool { return s == Open }

// Position is one open or closed leveraged bet, mirrored off-chain.
type Position struct {
	ID               Address
	Owner            Address
	Symbol           string
	Side             margin.Side
	Size             decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	LiquidationPrice decimal.Decimal
	Margin           decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	RealizedPnL      decimal.Decimal
	FundingAccrued   decimal.Decimal
	Leverage         uint16
	Status           Status
	OpenedAt         time.Time
	LastUpdate       time.Time
	ClosedAt         *time.Time
}

// IsOpen mirrors Status.IsOpen for convenience at call sites.
func (p *Position) IsOpen() bool { return p.Status.IsOpen() }

// UserAccount is an owner-scoped aggregate mirrored from chain.
type UserAccount struct {
	Owner              Address
	TotalCollateral    decimal.Decimal
	LockedCollateral   decimal.Decimal
	TotalPnL           decimal.Decimal
	PositionCount      uint32
	PositionCountTotal uint32
}

// Available returns total_collateral - locked_collateral.
func (u *UserAccount) Available() decimal.Decimal {
	return u.TotalCollateral.Sub(u.LockedCollateral)
}

// PriceTick is a single oracle observation.
type PriceTick struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// AlertKind distinguishes a near-liquidation warning from the liquidation
// threshold itself having been crossed.
type AlertKind uint8

const (
	Liquidating AlertKind = iota
	Liquidated
)

func (k AlertKind) String() string {
	if k == Liquidated {
		return "Liquidated"
	}
	return "Liquidating"
}

// Alert reports a position crossing a liquidation risk threshold.
type Alert struct {
	PositionID       Address
	Symbol           string
	Side             margin.Side
	LiquidationPrice decimal.Decimal
	CurrentPrice     decimal.Decimal
	Kind             AlertKind
}

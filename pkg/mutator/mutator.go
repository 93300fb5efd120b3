// Package mutator is the Position Mutator (component G): it validates
// user intents, encodes and signs the corresponding instruction, submits
// it, and — on success — registers the resulting state with the
// Indexed Position Store so subscribers see it before the next on-chain
// refresh confirms it.
package mutator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/crypto"
	"github.com/lucidperp/posmon/pkg/domain"
	"github.com/lucidperp/posmon/pkg/margin"
	"github.com/lucidperp/posmon/pkg/onchain"
	"github.com/lucidperp/posmon/pkg/position"
)

// Submitter abstracts the transaction-submission path (out of scope
// beyond its own contract): hand it a signed instruction,
// get back a transaction id or an error.
type Submitter interface {
	Submit(ctx context.Context, instruction, signature []byte) (txID string, err error)
}

// Config carries the values the mutator needs beyond the instruction
// arguments themselves.
type Config struct {
	ProgramID              domain.Address
	MaintenanceMarginRatio decimal.Decimal
}

// Mutator implements component G.
type Mutator struct {
	cfg       Config
	store     *position.Store
	accounts  *AccountStore
	signer    *crypto.Signer
	submitter Submitter
	log       *zap.Logger
}

// New builds a Mutator. signer produces the envelope signature attached
// to every submitted instruction (the "submits signed instructions"
// contract the package exposes); submitter is the out-of-scope transport.
func New(cfg Config, store *position.Store, accounts *AccountStore, signer *crypto.Signer, submitter Submitter, log *zap.Logger) *Mutator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mutator{cfg: cfg, store: store, accounts: accounts, signer: signer, submitter: submitter, log: log}
}

// submit signs instr and hands it to the submitter, wrapping transport
// failures as StoreUnavailable since the submission path itself is out
// of scope and carries no dedicated error kind of its own.
func (m *Mutator) submit(ctx context.Context, instr []byte) (string, error) {
	sig, err := m.signer.SignMessage(instr)
	if err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, err, "signing instruction")
	}
	txID, err := m.submitter.Submit(ctx, instr, sig)
	if err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, err, "submitting instruction")
	}
	return txID, nil
}

// InitializeUser emits InitializeUser for owner. The instruction is
// idempotent on chain: re-initializing an existing
// account is reported by the chain but not treated as fatal here, so
// this never inspects the submission result beyond success/failure —
// it only ensures a local mirror account exists.
func (m *Mutator) InitializeUser(ctx context.Context, owner domain.Address) (string, error) {
	txID, err := m.submit(ctx, onchain.EncodeInitializeUser())
	if err != nil {
		return "", err
	}
	if _, ok := m.accounts.Get(owner); !ok {
		m.accounts.Upsert(&domain.UserAccount{Owner: owner})
	}
	return txID, nil
}

// AddCollateral emits AddCollateral and optimistically credits the
// local account mirror.
func (m *Mutator) AddCollateral(ctx context.Context, owner domain.Address, amount decimal.Decimal) (string, error) {
	if amount.Sign() <= 0 {
		return "", apperr.New(apperr.InvalidInput, "collateral amount must be positive")
	}

	txID, err := m.submit(ctx, onchain.EncodeAddCollateral(amount))
	if err != nil {
		return "", err
	}

	acct, ok := m.accounts.Get(owner)
	if !ok {
		acct = &domain.UserAccount{Owner: owner}
	}
	acct.TotalCollateral = acct.TotalCollateral.Add(amount)
	m.accounts.Upsert(acct)
	return txID, nil
}

// OpenPositionRequest is the validated caller intent for OpenPosition.
// ExpectedPrice/ActualPrice/MaxSlippageBps feed the slippage guard;
// ActualPrice is also used as the entry price for the position that
// gets recorded locally.
type OpenPositionRequest struct {
	Owner          domain.Address
	Symbol         string
	Side           margin.Side
	Size           decimal.Decimal
	Leverage       uint16
	ExpectedPrice  decimal.Decimal
	ActualPrice    decimal.Decimal
	MaxSlippageBps uint32
}

// OpenPosition validates the slippage guard and collateral sufficiency,
// derives the position's address from the mirrored account's
// position_count_total, submits OpenPosition, and registers the
// resulting Position with the store on success.
func (m *Mutator) OpenPosition(ctx context.Context, req OpenPositionRequest) (*domain.Position, string, error) {
	if err := CheckSlippage(req.Side, req.ExpectedPrice, req.ActualPrice, req.MaxSlippageBps); err != nil {
		return nil, "", err
	}

	acct, ok := m.accounts.Get(req.Owner)
	if !ok {
		return nil, "", apperr.New(apperr.NotFound, "no mirrored account for owner %s", req.Owner)
	}

	requiredMargin, err := margin.InitialMargin(req.Size, req.ActualPrice, req.Leverage)
	if err != nil {
		return nil, "", err
	}
	if err := margin.ValidatePositionOpening(acct.Available(), requiredMargin, m.cfg.MaintenanceMarginRatio); err != nil {
		return nil, "", err
	}

	liqPrice, err := margin.LiquidationPrice(req.Side, req.ActualPrice, req.Leverage, m.cfg.MaintenanceMarginRatio)
	if err != nil {
		return nil, "", err
	}

	// The next position index is never trusted from a decoded account;
	// it mirrors UserAccount.position_count_total, incremented locally
	// on every successful open.
	index := acct.PositionCountTotal
	posID := onchain.DerivePositionAddress(m.cfg.ProgramID, req.Owner, index)

	instr := onchain.EncodeOpenPosition(req.Symbol, req.Side, req.Size, req.Leverage, req.ActualPrice)
	txID, err := m.submit(ctx, instr)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	pos := &domain.Position{
		ID:               posID,
		Owner:            req.Owner,
		Symbol:           onchain.NormalizeSymbol(req.Symbol),
		Side:             req.Side,
		Size:             req.Size,
		EntryPrice:       req.ActualPrice,
		MarkPrice:        req.ActualPrice,
		LiquidationPrice: liqPrice,
		Margin:           requiredMargin,
		Leverage:         req.Leverage,
		Status:           domain.Open,
		OpenedAt:         now,
		LastUpdate:       now,
	}
	m.store.Add(pos)

	acct.LockedCollateral = acct.LockedCollateral.Add(requiredMargin)
	acct.PositionCount++
	acct.PositionCountTotal++
	m.accounts.Upsert(acct)

	m.log.Info("position opened",
		zap.String("position", pos.ID.String()),
		zap.String("owner", pos.Owner.String()),
		zap.String("symbol", pos.Symbol),
	)
	return pos, txID, nil
}

// ModifyPosition rejects if id is not open, otherwise emits
// ModifyPosition with the given optional size/margin-delta and applies
// the same change locally.
func (m *Mutator) ModifyPosition(ctx context.Context, id domain.Address, newSize, marginDelta *decimal.Decimal) error {
	pos, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if !pos.Status.IsMutable() {
		return apperr.New(apperr.NotOpen, "position %s is not open", id)
	}

	if _, err := m.submit(ctx, onchain.EncodeModifyPosition(newSize, marginDelta)); err != nil {
		return err
	}

	if newSize != nil {
		pos.Size = *newSize
	}
	if marginDelta != nil {
		pos.Margin = pos.Margin.Add(*marginDelta)
	}
	pos.LastUpdate = time.Now().UTC()
	m.store.Upsert(pos)
	return nil
}

// ClosePosition rejects if id is not open, otherwise computes the
// realized total PnL, emits ClosePosition, and marks the position
// Closed locally.
func (m *Mutator) ClosePosition(ctx context.Context, id domain.Address, finalPrice decimal.Decimal) (decimal.Decimal, string, error) {
	pos, err := m.store.Get(id)
	if err != nil {
		return decimal.Zero, "", err
	}
	if !pos.Status.IsMutable() {
		return decimal.Zero, "", apperr.New(apperr.NotOpen, "position %s is not open", id)
	}

	upnl := margin.UnrealizedPnL(pos.Side, pos.Size, finalPrice, pos.EntryPrice)
	totalPnL := upnl.Add(pos.FundingAccrued)

	txID, err := m.submit(ctx, onchain.EncodeClosePosition(finalPrice))
	if err != nil {
		return decimal.Zero, "", err
	}

	now := time.Now().UTC()
	pos.MarkPrice = finalPrice
	pos.UnrealizedPnL = upnl
	pos.RealizedPnL = totalPnL
	pos.Status = domain.Closed
	pos.LastUpdate = now
	pos.ClosedAt = &now
	m.store.Upsert(pos)

	if acct, ok := m.accounts.Get(pos.Owner); ok {
		acct.LockedCollateral = acct.LockedCollateral.Sub(pos.Margin)
		if acct.LockedCollateral.IsNegative() {
			acct.LockedCollateral = decimal.Zero
		}
		if acct.PositionCount > 0 {
			acct.PositionCount--
		}
		acct.TotalPnL = acct.TotalPnL.Add(totalPnL)
		m.accounts.Upsert(acct)
	}

	return totalPnL, txID, nil
}

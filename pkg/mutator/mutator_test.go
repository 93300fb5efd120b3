package mutator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/crypto"
	"github.com/lucidperp/posmon/pkg/domain"
	"github.com/lucidperp/posmon/pkg/margin"
	"github.com/lucidperp/posmon/pkg/position"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

type stubSubmitter struct {
	txID  string
	calls int
}

func (s *stubSubmitter) Submit(_ context.Context, _, _ []byte) (string, error) {
	s.calls++
	return s.txID, nil
}

func newMutator(t *testing.T) (*Mutator, *AccountStore, *position.Store) {
	t.Helper()
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	store := position.New(nil)
	accounts := NewAccountStore()
	cfg := Config{ProgramID: addr(0xAA), MaintenanceMarginRatio: d("0.025")}
	m := New(cfg, store, accounts, signer, &stubSubmitter{txID: "tx-1"}, zap.NewNop())
	return m, accounts, store
}

// open_position with expected=50000, max=50 bps,
// actual=50300. Expected: SlippageExceeded, no instruction submitted,
// store unchanged.
func TestOpenPosition_S6_SlippageGuard(t *testing.T) {
	m, accounts, store := newMutator(t)
	owner := addr(1)
	accounts.Upsert(&domain.UserAccount{Owner: owner, TotalCollateral: d("100000")})

	_, _, err := m.OpenPosition(context.Background(), OpenPositionRequest{
		Owner: owner, Symbol: "BTC-USD", Side: margin.Long,
		Size: d("1"), Leverage: 10,
		ExpectedPrice: d("50000"), ActualPrice: d("50300"), MaxSlippageBps: 50,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.SlippageExceeded, apperr.KindOf(err))
	assert.Empty(t, store.All())
}

func TestCheckSlippage_FavorableMoveWithinBoundsAccepted(t *testing.T) {
	// A small favorable move (Long buying slightly below expected) stays
	// under the bound and is accepted.
	err := CheckSlippage(margin.Long, d("50000"), d("49990"), 50)
	assert.NoError(t, err)
}

func TestCheckSlippage_LargeFavorableMoveStillRejected(t *testing.T) {
	// The magnitude bound applies regardless of direction: a Long buying
	// far below the expected price still exceeds max bps and is
	// rejected, even though the move favors the position.
	err := CheckSlippage(margin.Long, d("50000"), d("10000"), 1)
	require.Error(t, err)
	assert.Equal(t, apperr.SlippageExceeded, apperr.KindOf(err))
}

func TestCheckSlippage_UnfavorableMoveRejected(t *testing.T) {
	err := CheckSlippage(margin.Short, d("50000"), d("50300"), 50)
	require.Error(t, err)
	assert.Equal(t, apperr.SlippageExceeded, apperr.KindOf(err))
}

func TestOpenPosition_HappyPath(t *testing.T) {
	m, accounts, store := newMutator(t)
	owner := addr(2)
	accounts.Upsert(&domain.UserAccount{Owner: owner, TotalCollateral: d("100000")})

	pos, txID, err := m.OpenPosition(context.Background(), OpenPositionRequest{
		Owner: owner, Symbol: "BTC-USDT", Side: margin.Long,
		Size: d("1"), Leverage: 10,
		ExpectedPrice: d("50000"), ActualPrice: d("50010"), MaxSlippageBps: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-1", txID)
	assert.Equal(t, "BTC-USD", pos.Symbol, "symbol normalization strips -USDT")
	assert.Equal(t, domain.Open, pos.Status)

	got, err := store.Get(pos.ID)
	require.NoError(t, err)
	assert.True(t, got.LiquidationPrice.GreaterThan(decimal.Zero))

	acct, ok := accounts.Get(owner)
	require.True(t, ok)
	assert.EqualValues(t, 1, acct.PositionCountTotal)
	assert.True(t, acct.LockedCollateral.Equal(pos.Margin))
}

func TestOpenPosition_InsufficientCollateral(t *testing.T) {
	m, accounts, _ := newMutator(t)
	owner := addr(3)
	accounts.Upsert(&domain.UserAccount{Owner: owner, TotalCollateral: d("1")})

	_, _, err := m.OpenPosition(context.Background(), OpenPositionRequest{
		Owner: owner, Symbol: "BTC-USD", Side: margin.Long,
		Size: d("1"), Leverage: 10,
		ExpectedPrice: d("50000"), ActualPrice: d("50000"), MaxSlippageBps: 50,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.InsufficientCollateral, apperr.KindOf(err))
}

func TestClosePosition_ComputesRealizedPnLAndReleasesCollateral(t *testing.T) {
	m, accounts, store := newMutator(t)
	owner := addr(4)
	accounts.Upsert(&domain.UserAccount{Owner: owner, TotalCollateral: d("100000")})

	pos, _, err := m.OpenPosition(context.Background(), OpenPositionRequest{
		Owner: owner, Symbol: "BTC-USD", Side: margin.Long,
		Size: d("1"), Leverage: 10,
		ExpectedPrice: d("50000"), ActualPrice: d("50000"), MaxSlippageBps: 50,
	})
	require.NoError(t, err)

	totalPnL, txID, err := m.ClosePosition(context.Background(), pos.ID, d("55000"))
	require.NoError(t, err)
	assert.Equal(t, "tx-1", txID)
	assert.True(t, d("5000").Equal(totalPnL))

	got, err := store.Get(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Closed, got.Status)
	assert.NotNil(t, got.ClosedAt)

	acct, ok := accounts.Get(owner)
	require.True(t, ok)
	assert.True(t, acct.LockedCollateral.IsZero())
	assert.EqualValues(t, 0, acct.PositionCount)
}

func TestClosePosition_RejectsNotOpen(t *testing.T) {
	m, accounts, store := newMutator(t)
	owner := addr(5)
	accounts.Upsert(&domain.UserAccount{Owner: owner, TotalCollateral: d("100000")})
	closed := &domain.Position{ID: addr(9), Owner: owner, Symbol: "BTC-USD", Status: domain.Closed, Size: d("1")}
	store.Add(closed)

	_, _, err := m.ClosePosition(context.Background(), closed.ID, d("1"))
	require.Error(t, err)
	assert.Equal(t, apperr.NotOpen, apperr.KindOf(err))
}

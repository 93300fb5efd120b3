package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/domain"
	"github.com/lucidperp/posmon/pkg/margin"
	"github.com/lucidperp/posmon/pkg/onchain"
	"github.com/lucidperp/posmon/pkg/oracle"
	"github.com/lucidperp/posmon/pkg/position"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

func testConfig() Config {
	return Config{
		PricePollInterval:     10 * time.Millisecond,
		RefreshInterval:       10 * time.Millisecond,
		PnLUpdateInterval:     10 * time.Millisecond,
		MaintenanceMarginRate: d("0.025"),
		AlertThresholdPct:     d("0.10"),
	}
}

type stubScanner struct {
	calls   int
	batches [][]AccountRecord
}

func (s *stubScanner) ScanPositionAccounts(_ context.Context) ([]AccountRecord, error) {
	if s.calls >= len(s.batches) {
		return s.batches[len(s.batches)-1], nil
	}
	out := s.batches[s.calls]
	s.calls++
	return out, nil
}

// Two open positions, cache BTC=55000 ETH=3400, one
// PnL cycle. Expected: BTC upnl=+5000, ETH upnl=+1000.
func TestPnLCycle_S4_FanOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.RawQuery, "btcfeed"):
			w.Write([]byte(`{"parsed":[{"price":{"price":"55000000000","expo":-6,"conf":"0"}}]}`))
		case strings.Contains(r.URL.RawQuery, "ethfeed"):
			w.Write([]byte(`{"parsed":[{"price":{"price":"3400000000","expo":-6,"conf":"0"}}]}`))
		}
	}))
	defer srv.Close()

	oc := oracle.NewClient(srv.URL, []oracle.AssetConfig{
		{Symbol: "BTC-USD", PythPriceID: "btcfeed"},
		{Symbol: "ETH-USD", PythPriceID: "ethfeed"},
	}, 1, zap.NewNop())

	ctx := context.Background()
	_, err := oc.FetchPrice(ctx, "BTC-USD")
	require.NoError(t, err)
	_, err = oc.FetchPrice(ctx, "ETH-USD")
	require.NoError(t, err)

	store := position.New(nil)
	store.Add(&domain.Position{
		ID: addr(1), Symbol: "BTC-USD", Side: margin.Long,
		Size: d("1"), EntryPrice: d("50000"), Margin: d("5000"), Status: domain.Open,
	})
	store.Add(&domain.Position{
		ID: addr(2), Symbol: "ETH-USD", Side: margin.Short,
		Size: d("10"), EntryPrice: d("3500"), Margin: d("3500"), Status: domain.Open,
	})

	rt := NewRuntime(testConfig(), store, nil, oc, &stubScanner{}, zap.NewNop())
	ch, unsub := rt.Positions.Subscribe()
	defer unsub()

	rt.pnlCycle(ctx)

	got := map[string]decimal.Decimal{}
	for i := 0; i < 2; i++ {
		select {
		case u := <-ch:
			got[u.Position.Symbol] = u.Position.UnrealizedPnL
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for position update")
		}
	}

	require.Len(t, got, 2)
	assert.True(t, d("5000").Equal(got["BTC-USD"]), "BTC upnl: %s", got["BTC-USD"])
	assert.True(t, d("1000").Equal(got["ETH-USD"]), "ETH upnl: %s", got["ETH-USD"])
}

// First refresh returns position P open; second
// refresh does not return it. After the second, the store no longer
// has P.
func TestRefreshCycle_S5_ReconcilesClose(t *testing.T) {
	p := &domain.Position{
		ID: addr(7), Owner: addr(9), Symbol: "BTC-USD", Side: margin.Long,
		Size: d("1"), EntryPrice: d("50000"), Margin: d("5000"),
		LiquidationPrice: d("46250"), Leverage: 10, Status: domain.Open,
		LastUpdate: time.Unix(1700000000, 0).UTC(),
	}
	data := onchain.EncodePosition(p)

	scanner := &stubScanner{batches: [][]AccountRecord{
		{{ID: p.ID, Owner: p.Owner, Data: data}},
		{},
	}}

	store := position.New(nil)
	rt := NewRuntime(testConfig(), store, nil, oracle.NewClient("http://unused", nil, 1, zap.NewNop()), scanner, zap.NewNop())

	ctx := context.Background()
	rt.refreshCycle(ctx)
	got, err := store.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Open, got.Status)

	rt.refreshCycle(ctx)
	_, err = store.Get(p.ID)
	assert.Error(t, err, "position must be removed once the scan stops returning it")
}

func TestRuntime_StartStop_AlreadyRunning(t *testing.T) {
	store := position.New(nil)
	oc := oracle.NewClient("http://unused", nil, 1, zap.NewNop())
	rt := NewRuntime(testConfig(), store, nil, oc, &stubScanner{batches: [][]AccountRecord{{}}}, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))

	err := rt.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, apperr.AlreadyRunning, apperr.KindOf(err))

	rt.Stop()
	require.NoError(t, rt.Start(ctx))
	rt.Stop()
}

// TestBroadcaster_OldestDropOnOverflow exercises the fan-out channel's
// overflow policy: when a subscriber's buffer is full, the oldest
// queued value is evicted rather than blocking the publisher.
func TestBroadcaster_OldestDropOnOverflow(t *testing.T) {
	b := NewBroadcaster[int](2, "test", zap.NewNop())
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(1)
	b.Publish(2)
	b.Publish(3) // buffer full at {1,2}; drop 1, push 3 -> {2,3}

	assert.Equal(t, 2, <-ch)
	assert.Equal(t, 3, <-ch)
}

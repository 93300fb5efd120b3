package storage

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidperp/posmon/pkg/domain"
	"github.com/lucidperp/posmon/pkg/liquidation"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

func TestPebbleBackend_InsertRangeOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "liq")
	backend, err := NewPebbleBackend(dir)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.Insert("BTC-USD:long", addr(3), d("300")))
	require.NoError(t, backend.Insert("BTC-USD:long", addr(1), d("100")))
	require.NoError(t, backend.Insert("BTC-USD:long", addr(2), d("200")))

	members, err := backend.Range("BTC-USD:long", liquidation.Unbounded(), liquidation.Unbounded())
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, addr(1), members[0].ID)
	assert.Equal(t, addr(2), members[1].ID)
	assert.Equal(t, addr(3), members[2].ID)
}

func TestPebbleBackend_BoundedRange(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "liq")
	backend, err := NewPebbleBackend(dir)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.Insert("BTC-USD:short", addr(1), d("100")))
	require.NoError(t, backend.Insert("BTC-USD:short", addr(2), d("200")))
	require.NoError(t, backend.Insert("BTC-USD:short", addr(3), d("300")))

	members, err := backend.Range("BTC-USD:short", liquidation.At(d("150")), liquidation.At(d("250")))
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, addr(2), members[0].ID)
}

func TestPebbleBackend_RemoveAndReinsert(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "liq")
	backend, err := NewPebbleBackend(dir)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.Insert("BTC-USD:long", addr(1), d("100")))
	require.NoError(t, backend.Remove("BTC-USD:long", addr(1)))

	members, err := backend.Range("BTC-USD:long", liquidation.Unbounded(), liquidation.Unbounded())
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, backend.Insert("BTC-USD:long", addr(1), d("999")))
	members, err = backend.Range("BTC-USD:long", liquidation.Unbounded(), liquidation.Unbounded())
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, d("999").Equal(members[0].Score))
}

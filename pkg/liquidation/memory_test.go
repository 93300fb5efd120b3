package liquidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBackend_RangeAscendingOrder(t *testing.T) {
	b := NewInMemoryBackend()
	require.NoError(t, b.Insert("k", addr(3), d("300")))
	require.NoError(t, b.Insert("k", addr(1), d("100")))
	require.NoError(t, b.Insert("k", addr(2), d("200")))

	members, err := b.Range("k", Unbounded(), Unbounded())
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, addr(1), members[0].ID)
	assert.Equal(t, addr(2), members[1].ID)
	assert.Equal(t, addr(3), members[2].ID)
}

func TestInMemoryBackend_RemoveAndReinsertUpdatesScore(t *testing.T) {
	b := NewInMemoryBackend()
	require.NoError(t, b.Insert("k", addr(1), d("100")))
	require.NoError(t, b.Insert("k", addr(1), d("500")))

	members, err := b.Range("k", Unbounded(), Unbounded())
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, d("500").Equal(members[0].Score))
}

// Equal scores keep insertion order: the member inserted first must
// come first in a Range over the tied score.
func TestInMemoryBackend_EqualScoresBreakTiesByInsertionOrder(t *testing.T) {
	b := NewInMemoryBackend()
	require.NoError(t, b.Insert("k", addr(1), d("100")))
	require.NoError(t, b.Insert("k", addr(2), d("100")))
	require.NoError(t, b.Insert("k", addr(3), d("100")))

	members, err := b.Range("k", Unbounded(), Unbounded())
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, addr(1), members[0].ID)
	assert.Equal(t, addr(2), members[1].ID)
	assert.Equal(t, addr(3), members[2].ID)
}

func TestInMemoryBackend_BoundedRange(t *testing.T) {
	b := NewInMemoryBackend()
	require.NoError(t, b.Insert("k", addr(1), d("100")))
	require.NoError(t, b.Insert("k", addr(2), d("200")))
	require.NoError(t, b.Insert("k", addr(3), d("300")))

	members, err := b.Range("k", At(d("150")), At(d("250")))
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, addr(2), members[0].ID)
}

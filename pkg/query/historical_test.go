package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

type fakeTimestampLookup struct {
	timestamps map[uint64]int64
	latest     uint64
}

func (f *fakeTimestampLookup) BlockTimestamp(_ context.Context, _ event.ChainID, height uint64) (int64, bool, error) {
	ts, ok := f.timestamps[height]
	return ts, ok, nil
}

func (f *fakeTimestampLookup) LatestBlockHeight(_ context.Context, _ event.ChainID) (uint64, error) {
	return f.latest, nil
}

func TestResolveHeightFindsGreatestNotAfter(t *testing.T) {
	lookup := &fakeTimestampLookup{
		timestamps: map[uint64]int64{0: 100, 1: 110, 2: 120, 3: 130, 4: 140},
		latest:     4,
	}

	height, err := ResolveHeight(t.Context(), lookup, "ethereum-mainnet", 125)
	require.NoError(t, err)
	require.Equal(t, uint64(2), height)

	height, err = ResolveHeight(t.Context(), lookup, "ethereum-mainnet", 140)
	require.NoError(t, err)
	require.Equal(t, uint64(4), height)

	_, err = ResolveHeight(t.Context(), lookup, "ethereum-mainnet", 99)
	require.Error(t, err)
}

func TestPaginateMarksLastPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, cursor, total := Paginate(items, 2, 0)
	require.Equal(t, []int{1, 2}, page)
	require.False(t, cursor.IsLast)
	require.Equal(t, 5, total)

	page, cursor, total = Paginate(items, 2, 4)
	require.Equal(t, []int{5}, page)
	require.True(t, cursor.IsLast)
	require.Equal(t, 5, total)
}

package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

func TestRecordMatchesChainAndEventType(t *testing.T) {
	chain := event.ChainID("ethereum-mainnet")
	r := &Record{Filters: event.Filter{Chain: &chain, EventTypes: []string{"token_transfer"}}}

	require.True(t, r.Matches(event.Event{Chain: chain, EventType: "token_transfer"}))
	require.False(t, r.Matches(event.Event{Chain: chain, EventType: "token_swap"}))
	require.False(t, r.Matches(event.Event{Chain: "noble-1", EventType: "token_transfer"}))
}

func TestRecordMatchesBlockRangeInclusive(t *testing.T) {
	r := &Record{Filters: event.Filter{BlockRange: &[2]uint64{10, 20}}}
	require.True(t, r.Matches(event.Event{BlockNumber: 10}))
	require.True(t, r.Matches(event.Event{BlockNumber: 20}))
	require.False(t, r.Matches(event.Event{BlockNumber: 21}))
}

func TestMemoryStoreCleanupRemovesOldInactive(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Now()
	store.now = func() time.Time { return fixed }

	require.NoError(t, store.SaveSubscription(t.Context(), &Record{ID: "s1", ConnectionID: "c1", Active: true}))
	require.NoError(t, store.DeactivateSubscription(t.Context(), "s1"))

	n, err := store.CleanupOldSubscriptions(t.Context(), 24)
	require.NoError(t, err)
	require.Equal(t, 0, n, "just-deactivated subscription should not be cleaned up yet")

	store.now = func() time.Time { return fixed.Add(25 * time.Hour) }
	n, err = store.CleanupOldSubscriptions(t.Context(), 24)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestMemoryStoreLoadSubscriptionsOnlyActive(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveSubscription(t.Context(), &Record{ID: "s1", ConnectionID: "c1", Active: true}))
	require.NoError(t, store.SaveSubscription(t.Context(), &Record{ID: "s2", ConnectionID: "c1", Active: true}))
	require.NoError(t, store.DeactivateSubscription(t.Context(), "s2"))

	records, err := store.LoadSubscriptions(t.Context(), "c1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "s1", records[0].ID)
}

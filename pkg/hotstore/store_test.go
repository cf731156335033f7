package hotstore

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(dbm.NewMemDB())
}

func TestStoreEventReachableByCoordinates(t *testing.T) {
	s := newTestStore(t)
	chain := event.ChainID("ethereum-mainnet")
	e := &event.Event{
		ID: event.ID(chain, 100, 0, 0), Chain: chain, BlockNumber: 100,
		BlockHash: "0xabc", TxHash: "0xdef", Timestamp: 1000,
		EventType: "token_transfer", Payload: event.EVMPayload{Address: "0x1"},
	}
	require.NoError(t, s.StoreEvent(e))

	events, err := s.GetEvents(event.Filter{Chain: &chain})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, e.ID, events[0].ID)

	latest, err := s.GetLatestBlock(chain)
	require.NoError(t, err)
	require.Equal(t, uint64(100), latest)
}

func TestDeleteBlocksFromRemovesReorgedRange(t *testing.T) {
	s := newTestStore(t)
	chain := event.ChainID("test")
	for h := uint64(1); h <= 5; h++ {
		e := &event.Event{ID: event.ID(chain, h, 0, 0), Chain: chain, BlockNumber: h, BlockHash: "h", Timestamp: int64(h)}
		require.NoError(t, s.StoreEvent(e))
	}

	require.NoError(t, s.DeleteBlocksFrom(chain, 4))

	events, err := s.GetEvents(event.Filter{Chain: &chain})
	require.NoError(t, err)
	for _, e := range events {
		require.Less(t, e.BlockNumber, uint64(4))
	}

	latest, err := s.GetLatestBlock(chain)
	require.NoError(t, err)
	require.Equal(t, uint64(3), latest)
}

func TestUpdateBlockStatusNeverTouchesEvents(t *testing.T) {
	s := newTestStore(t)
	chain := event.ChainID("test")
	e := &event.Event{ID: event.ID(chain, 1, 0, 0), Chain: chain, BlockNumber: 1, BlockHash: "h"}
	require.NoError(t, s.StoreEvent(e))

	require.NoError(t, s.UpdateBlockStatus(chain, 1, event.StatusFinalized))

	finalized, err := s.GetLatestBlockWithStatus(chain, event.StatusFinalized)
	require.NoError(t, err)
	require.Equal(t, uint64(1), finalized)

	events, err := s.GetEvents(event.Filter{Chain: &chain})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

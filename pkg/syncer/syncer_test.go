package syncer

import (
	"context"
	"sync"
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
	"github.com/timewave-computer/almanac-sub002/pkg/hotstore"
)

type fakeWarm struct {
	mu           sync.Mutex
	events       []event.Event
	blocks       map[uint64]*event.Block
	syncedLatest uint64
	syncedSet    bool
}

func newFakeWarm() *fakeWarm { return &fakeWarm{blocks: make(map[uint64]*event.Block)} }

func (f *fakeWarm) SetSyncedLatestBlock(_ context.Context, _ event.ChainID, block uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncedLatest = block
	f.syncedSet = true
	return nil
}

func (f *fakeWarm) GetSyncedLatestBlock(_ context.Context, _ event.ChainID) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncedLatest, f.syncedSet, nil
}

func (f *fakeWarm) StoreEvent(_ context.Context, e *event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeWarm) UpsertBlock(_ context.Context, b *event.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.blocks[b.Number] = &cp
	return nil
}

func (f *fakeWarm) UpdateBlockStatus(_ context.Context, _ event.ChainID, number uint64, status event.BlockStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.blocks[number]; ok {
		b.Status = status
	}
	return nil
}

func (f *fakeWarm) GetLatestBlock(_ context.Context, chain event.ChainID) (*event.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max *event.Block
	for _, b := range f.blocks {
		if max == nil || b.Number > max.Number {
			max = b
		}
	}
	return max, nil
}

func TestSyncOnceReplicatesWindow(t *testing.T) {
	chain := event.ChainID("ethereum-mainnet")
	primary := hotstore.New(dbm.NewMemDB())

	for i := uint64(1); i <= 3; i++ {
		ev := event.Event{
			ID: event.ID(chain, i, 0, 0), Chain: chain, BlockNumber: i, BlockHash: "h", Timestamp: 100,
			EventType: "token_transfer", Payload: event.GenericPayload{Attributes: map[string]string{}},
		}
		require.NoError(t, primary.StoreEvent(&ev))
	}

	warm := newFakeWarm()
	s := New(chain, primary, warm, Config{SyncInterval: 0, BatchSize: 100, MaxConcurrentWrites: 4}, nil)

	require.NoError(t, s.syncOnce(t.Context()))

	warm.mu.Lock()
	defer warm.mu.Unlock()
	require.Len(t, warm.events, 3)
	require.Len(t, warm.blocks, 3)
}

func TestSyncOnceNoOpWhenCaughtUp(t *testing.T) {
	chain := event.ChainID("noble-1")
	primary := hotstore.New(dbm.NewMemDB())
	warm := newFakeWarm()
	s := New(chain, primary, warm, DefaultConfig(), nil)

	require.NoError(t, s.syncOnce(t.Context()))
	require.Empty(t, warm.events)
}

// TestSyncOnceAdvancesPastEmptyWindowViaSentinel reproduces spec.md §4.F step
// 7's stall case: a batch window advances the sentinel even when it carries
// no warm-store-visible blocks, so GetLatestBlock alone never re-floors
// secondaryLatest back to a window that was already replicated.
func TestSyncOnceAdvancesPastEmptyWindowViaSentinel(t *testing.T) {
	chain := event.ChainID("ethereum-mainnet")
	primary := hotstore.New(dbm.NewMemDB())
	warm := newFakeWarm()
	s := New(chain, primary, warm, Config{SyncInterval: 0, BatchSize: 100, MaxConcurrentWrites: 4}, nil)

	require.NoError(t, warm.SetSyncedLatestBlock(t.Context(), chain, 50))
	require.NoError(t, primary.StoreEvent(&event.Event{
		ID: event.ID(chain, 60, 0, 0), Chain: chain, BlockNumber: 60, BlockHash: "h", Timestamp: 1,
		EventType: "token_transfer", Payload: event.GenericPayload{Attributes: map[string]string{}},
	}))

	require.NoError(t, s.syncOnce(t.Context()))

	synced, ok, err := warm.GetSyncedLatestBlock(t.Context(), chain)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(60), synced)
}

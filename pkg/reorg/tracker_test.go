package reorg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

func block(n uint64, hash, parent string) event.Block {
	return event.Block{Chain: "test", Number: n, Hash: hash, ParentHash: parent}
}

func TestNoReorgOnMatchingParent(t *testing.T) {
	tr := New(DefaultConfig())
	_, err := tr.Observe("test", block(1, "h1", "h0"))
	require.NoError(t, err)
	ev, err := tr.Observe("test", block(2, "h2", "h1"))
	require.NoError(t, err)
	require.Nil(t, ev)
}

func TestReorgDetectedWithinMaxDepth(t *testing.T) {
	// Scenario 2 from spec.md §8: ingest 1-5, then a competing block 4
	// whose parent is block 3, not block 3's sibling (the old block 4).
	tr := New(DefaultConfig())
	for i, h := range []string{"h1", "h2", "h3", "h4", "h5"} {
		parent := "h0"
		if i > 0 {
			parent = []string{"h1", "h2", "h3", "h4"}[i-1]
		}
		_, err := tr.Observe("test", block(uint64(i+1), h, parent))
		require.NoError(t, err)
	}

	ev, err := tr.Observe("test", block(4, "h4b", "h3"))
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Len(t, ev.ReorganizedBlocks, 2)
	require.Equal(t, uint64(5), ev.ReorganizedBlocks[0].Block.Number)
	require.Equal(t, 1, ev.ReorganizedBlocks[0].Depth)
	require.Equal(t, uint64(4), ev.ReorganizedBlocks[1].Block.Number)
	require.Equal(t, 2, ev.ReorganizedBlocks[1].Depth)
	require.Equal(t, "h4b", ev.CanonicalTip.Hash)

	tip, ok := tr.CanonicalTip("test")
	require.True(t, ok)
	require.Equal(t, "h4b", tip.Hash)
}

func TestNoCommonAncestorBeyondMaxDepthEmitsNothing(t *testing.T) {
	tr := New(Config{MaxDepth: 2, Strategy: StrategyRevertAndReprocess, Confirmations: 12})
	for i, h := range []string{"h1", "h2", "h3", "h4", "h5"} {
		parent := "h0"
		if i > 0 {
			parent = []string{"h1", "h2", "h3", "h4"}[i-1]
		}
		_, err := tr.Observe("test", block(uint64(i+1), h, parent))
		require.NoError(t, err)
	}
	ev, err := tr.Observe("test", block(6, "h6", "unknown-ancestor"))
	require.NoError(t, err)
	require.Nil(t, ev)
}

type fakeDeleter struct {
	calledChain event.ChainID
	calledFrom  uint64
}

func (f *fakeDeleter) DeleteBlocksFrom(chain event.ChainID, from uint64) error {
	f.calledChain, f.calledFrom = chain, from
	return nil
}

func TestApplyRevertAndReprocessDeletesFromAncestorPlusOne(t *testing.T) {
	tr := New(DefaultConfig())
	ev := &Event{
		Chain: "test",
		ReorganizedBlocks: []ReorgedBlock{
			{Block: block(5, "h5", "h4"), Depth: 1},
			{Block: block(4, "h4", "h3"), Depth: 2},
		},
	}
	d := &fakeDeleter{}
	require.NoError(t, tr.Apply(d, ev))
	require.Equal(t, event.ChainID("test"), d.calledChain)
	require.Equal(t, uint64(4), d.calledFrom)
}

package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// BlockTimestampLookup resolves a block's unix timestamp, backed by the
// warm store's blocks table.
type BlockTimestampLookup interface {
	BlockTimestamp(ctx context.Context, chain event.ChainID, height uint64) (int64, bool, error)
	LatestBlockHeight(ctx context.Context, chain event.ChainID) (uint64, error)
}

// ResolveHeight implements spec.md §4.H's timestamp-to-height resolution:
// binary search in the warm store for the greatest block number with
// timestamp <= requested.
func ResolveHeight(ctx context.Context, lookup BlockTimestampLookup, chain event.ChainID, requested int64) (uint64, error) {
	hi, err := lookup.LatestBlockHeight(ctx, chain)
	if err != nil {
		return 0, fmt.Errorf("query: resolve height: %w", err)
	}
	if hi == 0 {
		return 0, fmt.Errorf("query: no blocks recorded for chain %s", chain)
	}

	var lo uint64 = 0
	var best uint64
	found := false

	for lo <= hi {
		mid := lo + (hi-lo)/2
		ts, ok, err := lookup.BlockTimestamp(ctx, chain, mid)
		if err != nil {
			return 0, fmt.Errorf("query: block %d timestamp: %w", mid, err)
		}
		if !ok {
			if mid == 0 {
				break
			}
			hi = mid - 1
			continue
		}
		if ts <= requested {
			best = mid
			found = true
			if mid == hi {
				break
			}
			lo = mid + 1
		} else {
			if mid == 0 {
				break
			}
			hi = mid - 1
		}
	}

	if !found {
		return 0, fmt.Errorf("query: no block with timestamp <= %d for chain %s", requested, chain)
	}
	return best, nil
}

// StateSnapshot is one record in a BlockRange state-transition query: the
// tracked entity's value at the block where it changed.
type StateSnapshot struct {
	BlockNumber uint64
	Value       []byte
}

// EntityHistory is the subset of hot-store behavior needed to answer
// state-transition queries (pkg/hotstore's valence account history
// satisfies this for Valence account state; other entities wrap their own
// per-block snapshots the same way).
type EntityHistory interface {
	SnapshotsInRange(ctx context.Context, blockRange [2]uint64) ([]StateSnapshot, error)
}

// StateTransitions returns one record per block at which the tracked
// entity's value changed within blockRange, deduplicating consecutive
// identical values.
func StateTransitions(ctx context.Context, history EntityHistory, blockRange [2]uint64) ([]StateSnapshot, error) {
	snapshots, err := history.SnapshotsInRange(ctx, blockRange)
	if err != nil {
		return nil, fmt.Errorf("query: state transitions: %w", err)
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].BlockNumber < snapshots[j].BlockNumber })

	var out []StateSnapshot
	var prev []byte
	havePrev := false
	for _, s := range snapshots {
		if havePrev && string(prev) == string(s.Value) {
			continue
		}
		out = append(out, s)
		prev = s.Value
		havePrev = true
	}
	return out, nil
}

// Cursor is the pagination cursor shape of spec.md §4.H.
type Cursor struct {
	Value  string `json:"value"`
	IsLast bool   `json:"is_last"`
}

// Paginate slices items per limit/offset and reports the resulting cursor.
// totalCount is the total-across-pages count spec.md requires callers to
// surface alongside a page.
func Paginate[T any](items []T, limit, offset int) (page []T, cursor Cursor, totalCount int) {
	totalCount = len(items)
	if offset >= totalCount {
		return nil, Cursor{IsLast: true}, totalCount
	}
	end := offset + limit
	if limit <= 0 || end > totalCount {
		end = totalCount
	}
	page = items[offset:end]
	isLast := end >= totalCount
	value := ""
	if !isLast && len(page) > 0 {
		value = fmt.Sprintf("%d", end)
	}
	return page, Cursor{Value: value, IsLast: isLast}, totalCount
}

package warmstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// SyncStateRepository persists the dual-store synchronizer's per-chain
// progress sentinel (spec.md §4.F step 7): the highest block number the
// synchronizer has confirmed replicated into this store, independent of
// what GetLatestBlock reports when a batch window carried no surviving
// events. Without this sentinel a window whose events all failed to
// materialize a block row would be retried forever.
type SyncStateRepository struct {
	db *sql.DB
}

// SetSyncedLatestBlock records block as the synchronizer's progress
// watermark for chain.
func (r *SyncStateRepository) SetSyncedLatestBlock(ctx context.Context, chain event.ChainID, block uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (chain, synced_latest_block)
		VALUES ($1, $2)
		ON CONFLICT (chain) DO UPDATE SET synced_latest_block = EXCLUDED.synced_latest_block`,
		string(chain), block,
	)
	if err != nil {
		return fmt.Errorf("warmstore: set synced latest block %s@%d: %w", chain, block, err)
	}
	return nil
}

// GetSyncedLatestBlock reads back the watermark set by SetSyncedLatestBlock.
// A chain with no recorded watermark returns (0, false, nil).
func (r *SyncStateRepository) GetSyncedLatestBlock(ctx context.Context, chain event.ChainID) (uint64, bool, error) {
	var block uint64
	err := r.db.QueryRowContext(ctx, `SELECT synced_latest_block FROM sync_state WHERE chain = $1`, string(chain)).Scan(&block)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("warmstore: get synced latest block %s: %w", chain, err)
	}
	return block, true, nil
}

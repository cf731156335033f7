package warmstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// BlockRepository implements the block side of spec.md §4.E: upsert,
// status transitions, and latest-with-status lookups.
type BlockRepository struct {
	db *sql.DB
}

// UpsertBlock inserts a block or, on (chain, block_number) conflict,
// overwrites its hash/parent/timestamp/status — mirroring the hot store's
// StoreEvent block upsert so both stores converge on the same shape after a
// sync pass.
func (r *BlockRepository) UpsertBlock(ctx context.Context, b *event.Block) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blocks (chain, block_number, block_hash, parent_hash, timestamp, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain, block_number) DO UPDATE SET
			block_hash = EXCLUDED.block_hash,
			parent_hash = EXCLUDED.parent_hash,
			timestamp = EXCLUDED.timestamp,
			status = EXCLUDED.status`,
		string(b.Chain), b.Number, b.Hash, b.ParentHash, b.Timestamp, int(b.Status),
	)
	if err != nil {
		return fmt.Errorf("warmstore: upsert block %s@%d: %w", b.Chain, b.Number, err)
	}
	return nil
}

// UpsertBlockTx is UpsertBlock over an explicit transaction.
func (r *BlockRepository) UpsertBlockTx(ctx context.Context, tx *sql.Tx, b *event.Block) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (chain, block_number, block_hash, parent_hash, timestamp, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain, block_number) DO UPDATE SET
			block_hash = EXCLUDED.block_hash,
			parent_hash = EXCLUDED.parent_hash,
			timestamp = EXCLUDED.timestamp,
			status = EXCLUDED.status`,
		string(b.Chain), b.Number, b.Hash, b.ParentHash, b.Timestamp, int(b.Status),
	)
	if err != nil {
		return fmt.Errorf("warmstore: upsert block tx %s@%d: %w", b.Chain, b.Number, err)
	}
	return nil
}

// UpdateBlockStatus mutates only the finality label of an existing block
// row, leaving its events untouched (spec.md's invariant that finality
// advances never rewrite event rows).
func (r *BlockRepository) UpdateBlockStatus(ctx context.Context, chain event.ChainID, number uint64, status event.BlockStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE blocks SET status = $1 WHERE chain = $2 AND block_number = $3`, int(status), string(chain), number)
	if err != nil {
		return fmt.Errorf("warmstore: update block status %s@%d: %w", chain, number, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("warmstore: update block status rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("warmstore: update block status %s@%d: %w", chain, number, sql.ErrNoRows)
	}
	return nil
}

// DeleteFrom removes all blocks for chain at or above fromBlock.
func (r *BlockRepository) DeleteFrom(ctx context.Context, chain event.ChainID, fromBlock uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blocks WHERE chain = $1 AND block_number >= $2`, string(chain), fromBlock)
	if err != nil {
		return fmt.Errorf("warmstore: delete blocks from %s@%d: %w", chain, fromBlock, err)
	}
	return nil
}

// GetLatestBlock returns the highest-numbered block for chain, regardless
// of status.
func (r *BlockRepository) GetLatestBlock(ctx context.Context, chain event.ChainID) (*event.Block, error) {
	return r.queryLatest(ctx, `
		SELECT chain, block_number, block_hash, parent_hash, timestamp, status
		FROM blocks WHERE chain = $1
		ORDER BY block_number DESC LIMIT 1`, string(chain))
}

// GetLatestBlockWithStatus returns the highest-numbered block for chain
// whose status exactly matches status (spec.md §4.E's
// get_latest_block_with_status: `SELECT MAX(block_number) WHERE chain=?
// AND status=?`), mirroring the hot store's exact-match semantics in
// GetLatestBlockWithStatus (pkg/hotstore/store.go).
func (r *BlockRepository) GetLatestBlockWithStatus(ctx context.Context, chain event.ChainID, status event.BlockStatus) (*event.Block, error) {
	return r.queryLatest(ctx, `
		SELECT chain, block_number, block_hash, parent_hash, timestamp, status
		FROM blocks WHERE chain = $1 AND status = $2
		ORDER BY block_number DESC LIMIT 1`, string(chain), int(status))
}

func (r *BlockRepository) queryLatest(ctx context.Context, query string, args ...any) (*event.Block, error) {
	row := r.db.QueryRowContext(ctx, query, args...)

	var (
		b      event.Block
		chain  string
		status int
	)
	if err := row.Scan(&chain, &b.Number, &b.Hash, &b.ParentHash, &b.Timestamp, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("warmstore: query latest block: %w", err)
	}
	b.Chain = event.ChainID(chain)
	b.Status = event.BlockStatus(status)
	return &b, nil
}

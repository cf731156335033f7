// Package syncer implements the Dual-Store Synchronizer (spec.md §4.F): a
// per-chain background loop that replays events from the primary (hot)
// store's GetEvents into the warm store, advancing a batch window and
// propagating block status transitions, grounded on the teacher's
// per-chain worker-goroutine shape in main.go's bootstrap sequence.
package syncer

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timewave-computer/almanac-sub002/pkg/chainadapter"
	"github.com/timewave-computer/almanac-sub002/pkg/event"
	"github.com/timewave-computer/almanac-sub002/pkg/hotstore"
	"github.com/timewave-computer/almanac-sub002/pkg/metrics"
)

// Config controls one chain's synchronization cadence.
type Config struct {
	SyncInterval      time.Duration
	BatchSize         uint64
	MaxConcurrentWrites int
}

// DefaultConfig matches spec.md §4.F's suggested defaults.
func DefaultConfig() Config {
	return Config{SyncInterval: 2 * time.Second, BatchSize: 100, MaxConcurrentWrites: 8}
}

// WarmWriter is the subset of the warm store the synchronizer needs,
// narrowed to an interface so tests can substitute a fake.
type WarmWriter interface {
	StoreEvent(ctx context.Context, e *event.Event) error
	UpsertBlock(ctx context.Context, b *event.Block) error
	UpdateBlockStatus(ctx context.Context, chain event.ChainID, number uint64, status event.BlockStatus) error
	GetLatestBlock(ctx context.Context, chain event.ChainID) (*event.Block, error)
	SetSyncedLatestBlock(ctx context.Context, chain event.ChainID, block uint64) error
	GetSyncedLatestBlock(ctx context.Context, chain event.ChainID) (uint64, bool, error)
}

// Synchronizer drives one chain's primary (hot store) to secondary (warm
// store) replication loop.
type Synchronizer struct {
	chain   event.ChainID
	primary *hotstore.Store
	warm    WarmWriter
	cfg     Config
	logger  *log.Logger
}

// New constructs a Synchronizer for a single chain.
func New(chain event.ChainID, primary *hotstore.Store, warm WarmWriter, cfg Config, logger *log.Logger) *Synchronizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Synchronizer{chain: chain, primary: primary, warm: warm, cfg: cfg, logger: logger}
}

// Run loops until ctx is cancelled, synchronizing one batch window per
// tick. A batch that errors partway is not retried piecemeal: the whole
// window is re-attempted on the next tick (spec.md §4.F's
// abort-whole-batch-on-error semantics), since warm-store writes are
// idempotent on primary key.
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Printf("syncer[%s]: batch failed: %v", s.chain, err)
			}
		}
	}
}

// syncOnce computes [secondary_latest+1, min(primary_latest, secondary_latest+batch_size)]
// and replicates every event and block status change in that window.
func (s *Synchronizer) syncOnce(ctx context.Context) error {
	primaryLatest, err := s.primary.GetLatestBlock(s.chain)
	if err != nil {
		return fmt.Errorf("syncer: primary latest: %w", err)
	}

	secondaryBlock, err := s.warm.GetLatestBlock(ctx, s.chain)
	if err != nil {
		return fmt.Errorf("syncer: secondary latest: %w", err)
	}
	var secondaryLatest uint64
	if secondaryBlock != nil {
		secondaryLatest = secondaryBlock.Number
	}

	// A batch window whose events all failed to materialize a block row
	// (replicateWindow's continue when a height has no surviving events)
	// leaves secondaryBlock unchanged even though that window was already
	// replicated. The synced-latest-block sentinel tracks replication
	// progress independent of what GetLatestBlock can see, so it floors
	// secondaryLatest and lets the window advance instead of stalling.
	syncedLatest, ok, err := s.warm.GetSyncedLatestBlock(ctx, s.chain)
	if err != nil {
		return fmt.Errorf("syncer: synced latest: %w", err)
	}
	if ok && syncedLatest > secondaryLatest {
		secondaryLatest = syncedLatest
	}

	if primaryLatest > secondaryLatest {
		metrics.SyncLagBlocks.WithLabelValues(string(s.chain)).Set(float64(primaryLatest - secondaryLatest))
	} else {
		metrics.SyncLagBlocks.WithLabelValues(string(s.chain)).Set(0)
	}

	if primaryLatest == 0 || secondaryLatest >= primaryLatest {
		return nil
	}

	start := secondaryLatest + 1
	end := primaryLatest
	if end > start+s.cfg.BatchSize-1 {
		end = start + s.cfg.BatchSize - 1
	}

	if err := s.replicateWindow(ctx, start, end); err != nil {
		return err
	}

	return s.warm.SetSyncedLatestBlock(ctx, s.chain, end)
}

func (s *Synchronizer) replicateWindow(ctx context.Context, start, end uint64) error {
	events, err := s.primary.GetEvents(event.Filter{Chain: &s.chain, BlockRange: &[2]uint64{start, end}})
	if err != nil {
		return fmt.Errorf("syncer: read primary events: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentWrites)
	for i := range events {
		ev := events[i]
		g.Go(func() error {
			if err := s.warm.StoreEvent(gctx, &ev); err != nil {
				return fmt.Errorf("store event %s: %w", ev.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for height := start; height <= end; height++ {
		blocks, err := s.primary.GetEvents(event.Filter{Chain: &s.chain, BlockRange: &[2]uint64{height, height}, Limit: 1})
		if err != nil {
			return fmt.Errorf("syncer: probe block %d: %w", height, err)
		}
		if len(blocks) == 0 {
			continue
		}
		// Any surviving event for this height carries its block's hash;
		// status propagation reads the canonical record from the hot store.
		status, err := s.resolveBlockStatus(height)
		if err != nil {
			return err
		}
		block := &event.Block{Chain: s.chain, Number: height, Hash: blocks[0].BlockHash, Status: status, Timestamp: blocks[0].Timestamp}
		if err := s.warm.UpsertBlock(ctx, block); err != nil {
			return fmt.Errorf("syncer: upsert block %d: %w", height, err)
		}
	}
	return nil
}

func (s *Synchronizer) resolveBlockStatus(height uint64) (event.BlockStatus, error) {
	for _, status := range []event.BlockStatus{event.StatusFinalized, event.StatusJustified, event.StatusSafe, event.StatusConfirmed} {
		latest, err := s.primary.GetLatestBlockWithStatus(s.chain, status)
		if err != nil {
			return event.StatusConfirmed, err
		}
		if latest >= height {
			return status, nil
		}
	}
	return event.StatusConfirmed, nil
}

// IngestSubscription drains a live chainadapter.EventSubscription into the
// hot store until the subscription closes or ctx is cancelled; this is the
// primary-store write path spec.md §4.F assumes already happened before
// synchronization begins.
func IngestSubscription(ctx context.Context, sub chainadapter.EventSubscription, primary *hotstore.Store, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Err():
			if !ok {
				return nil
			}
			if err != nil {
				logger.Printf("syncer: subscription error: %v", err)
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := primary.StoreEvent(&ev); err != nil {
				logger.Printf("syncer: store event %s failed: %v", ev.ID, err)
			}
		}
	}
}

package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/timewave-computer/almanac-sub002/pkg/chainadapter"
	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

type evmSubscription struct {
	events chan event.Event
	errs   chan error
	cancel context.CancelFunc
}

func (s *evmSubscription) Events() <-chan event.Event { return s.events }
func (s *evmSubscription) Err() <-chan error          { return s.errs }
func (s *evmSubscription) Close()                     { s.cancel() }

// Subscribe opens a new-heads subscription and, for each header, fetches
// and decodes that block's logs (spec.md §4.B's header-subscription +
// block/log fetch ingestion path).
func (a *Adapter) Subscribe(ctx context.Context) (chainadapter.EventSubscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	headers := make(chan *types.Header, 16)
	sub, err := a.client.SubscribeNewHead(subCtx, headers)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("evm: subscribe new heads: %w", err)
	}

	out := &evmSubscription{
		events: make(chan event.Event, 256),
		errs:   make(chan error, 1),
		cancel: cancel,
	}

	go a.pumpHeaders(subCtx, sub, headers, out)
	return out, nil
}

func (a *Adapter) pumpHeaders(ctx context.Context, sub ethereum.Subscription, headers chan *types.Header, out *evmSubscription) {
	defer sub.Unsubscribe()
	defer close(out.events)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				select {
				case out.errs <- fmt.Errorf("evm: head subscription: %w", err):
				default:
				}
			}
			return
		case header := <-headers:
			if err := a.emitBlockEvents(ctx, header, out); err != nil {
				a.logger.Printf("evm: block %d ingest failed: %v", header.Number.Uint64(), err)
				select {
				case out.errs <- err:
				default:
				}
			}
		}
	}
}

// emitBlockEvents fetches a block's logs and, in parallel, the receipt of
// every transaction those logs belong to (spec.md §4.B), grounded on
// original_source/crates/ethereum/src/subscription.rs's get_block_receipts:
// receipts are fetched concurrently and an individual failure is warned and
// skipped rather than failing the whole block.
func (a *Adapter) emitBlockEvents(ctx context.Context, header *types.Header, out *evmSubscription) error {
	logs, err := a.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: header.Number,
		ToBlock:   header.Number,
	})
	if err != nil {
		return fmt.Errorf("filter logs for block %d: %w", header.Number.Uint64(), err)
	}

	statuses := a.fetchReceiptStatuses(ctx, logs)

	timestamps := map[uint64]int64{header.Number.Uint64(): int64(header.Time)}
	for _, l := range logs {
		var status *uint64
		if s, ok := statuses[l.TxHash]; ok {
			status = &s
		}
		ev := a.decodeLog(l, timestamps[l.BlockNumber], status)
		select {
		case out.events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

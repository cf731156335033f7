package cosmos

import (
	"context"
	"fmt"
	"time"

	"github.com/timewave-computer/almanac-sub002/pkg/chainadapter"
	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

type cosmosSubscription struct {
	events chan event.Event
	errs   chan error
	cancel context.CancelFunc
}

func (s *cosmosSubscription) Events() <-chan event.Event { return s.events }
func (s *cosmosSubscription) Err() <-chan error          { return s.errs }
func (s *cosmosSubscription) Close()                     { s.cancel() }

// Subscribe starts the poll loop from original_source's CosmosSubscription:
// track the last-seen height, sleep poll_interval, re-check /status, and
// walk forward one height at a time when the chain has advanced.
func (a *Adapter) Subscribe(ctx context.Context) (chainadapter.EventSubscription, error) {
	height, err := a.latestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("cosmos: subscribe initial height: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := &cosmosSubscription{
		events: make(chan event.Event, 256),
		errs:   make(chan error, 1),
		cancel: cancel,
	}

	go a.pollLoop(subCtx, height, out)
	return out, nil
}

func (a *Adapter) pollLoop(ctx context.Context, fromHeight uint64, out *cosmosSubscription) {
	defer close(out.events)

	current := fromHeight
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latest, err := a.latestHeight(ctx)
			if err != nil {
				a.logger.Printf("cosmos: status poll failed: %v", err)
				continue
			}
			for current < latest {
				current++
				if err := a.emitHeight(ctx, current, out); err != nil {
					a.logger.Printf("cosmos: block %d ingest failed: %v", current, err)
					select {
					case out.errs <- err:
					default:
					}
				}
			}
		}
	}
}

func (a *Adapter) emitHeight(ctx context.Context, height uint64, out *cosmosSubscription) error {
	block, err := a.getBlockMeta(ctx, height, event.StatusConfirmed)
	if err != nil {
		return err
	}
	events, err := a.decodeBlockEvents(ctx, block)
	if err != nil {
		return err
	}
	for _, ev := range events {
		select {
		case out.events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

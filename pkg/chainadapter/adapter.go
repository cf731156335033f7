// Package chainadapter defines the ChainAdapter interface (spec.md §4.B):
// the uniform surface each chain family implements so the rest of Almanac
// never branches on chain kind. Concrete adapters live in
// pkg/chainadapter/evm and pkg/chainadapter/cosmos.
package chainadapter

import (
	"context"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// EventSubscription delivers newly observed events until Close is called or
// the adapter's context is done.
type EventSubscription interface {
	Events() <-chan event.Event
	Err() <-chan error
	Close()
}

// Adapter is implemented once per chain family. GetEvents serves historical
// queries; Subscribe serves live ingestion.
type Adapter interface {
	ChainID() event.ChainID
	GetEvents(ctx context.Context, filter event.Filter) ([]event.Event, error)
	Subscribe(ctx context.Context) (EventSubscription, error)
	GetLatestBlock(ctx context.Context) (*event.Block, error)
	GetLatestBlockWithStatus(ctx context.Context, status event.BlockStatus) (*event.Block, error)
	Close() error
}

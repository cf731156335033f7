package hotstore

import (
	"context"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// QueryAdapter narrows a *Store to pkg/query.Store's context-taking shape.
// The hot store itself has no I/O worth cancelling, so ctx is accepted and
// ignored, matching pkg/hotstore/smt_adapter.go's wrapping pattern for the
// causality tree's Backend interface.
type QueryAdapter struct {
	store *Store
}

// NewQueryAdapter wraps store for use as a query engine's primary Store.
func NewQueryAdapter(store *Store) *QueryAdapter {
	return &QueryAdapter{store: store}
}

func (a *QueryAdapter) GetEvents(_ context.Context, f event.Filter) ([]event.Event, error) {
	return a.store.GetEvents(f)
}

package query

import (
	"context"
	"fmt"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
	"github.com/timewave-computer/almanac-sub002/pkg/metrics"
)

func strategyLabel(s Strategy) string {
	switch s {
	case Primary:
		return "primary"
	case Replica:
		return "replica"
	case CacheFirst:
		return "cache_first"
	case CacheWrite:
		return "cache_write"
	case Auto:
		return "auto"
	default:
		return "unknown"
	}
}

// Strategy names the routing strategies of spec.md §4.H.
type Strategy int

const (
	Primary Strategy = iota
	Replica
	CacheFirst
	CacheWrite
	Auto
)

// Store is the subset of warm/hot store behavior the engine routes over.
// Both pkg/hotstore.Store and pkg/warmstore.Client's repositories satisfy
// this shape via thin adapters.
type Store interface {
	GetEvents(ctx context.Context, f event.Filter) ([]event.Event, error)
}

// Engine routes queries to a primary store, a replica store, or the result
// cache, per the explicit strategy given with each call.
type Engine struct {
	primary Store
	replica Store
	cache   *Cache
}

// NewEngine constructs a query engine. replica may be nil if no read
// replica is configured, in which case Replica/Auto routing falls back to
// primary.
func NewEngine(primary, replica Store, cache *Cache) *Engine {
	return &Engine{primary: primary, replica: replica, cache: cache}
}

func cacheKey(f event.Filter) string {
	return fmt.Sprintf("%+v", f)
}

// GetEvents executes f against the store selected by strategy.
func (e *Engine) GetEvents(ctx context.Context, f event.Filter, strategy Strategy) ([]event.Event, error) {
	label := strategyLabel(strategy)
	metrics.QueryRequestsTotal.WithLabelValues(label).Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, label)

	switch strategy {
	case Primary:
		return e.primary.GetEvents(ctx, f)
	case Replica:
		return e.storeFor(Replica).GetEvents(ctx, f)
	case CacheFirst:
		key := cacheKey(f)
		if cached, ok := e.cache.Get(key); ok {
			metrics.CacheHitsTotal.Inc()
			return cached.([]event.Event), nil
		}
		metrics.CacheMissesTotal.Inc()
		result, err := e.primary.GetEvents(ctx, f)
		if err != nil {
			return nil, err
		}
		e.cache.Set(key, result)
		return result, nil
	case CacheWrite:
		result, err := e.primary.GetEvents(ctx, f)
		if err != nil {
			return nil, err
		}
		e.cache.Set(cacheKey(f), result)
		return result, nil
	case Auto:
		return e.storeFor(Auto).GetEvents(ctx, f)
	default:
		return nil, fmt.Errorf("query: unknown routing strategy %d", strategy)
	}
}

func (e *Engine) storeFor(strategy Strategy) Store {
	if e.replica != nil {
		return e.replica
	}
	return e.primary
}

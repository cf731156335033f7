package query

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// AggregationFunction is one of spec.md §4.H's six supported reducers.
type AggregationFunction string

const (
	Count         AggregationFunction = "count"
	Sum           AggregationFunction = "sum"
	Avg           AggregationFunction = "avg"
	Min           AggregationFunction = "min"
	Max           AggregationFunction = "max"
	CountDistinct AggregationFunction = "count_distinct"
)

// ComparisonOperator is a having-clause comparator.
type ComparisonOperator string

const (
	OpEq ComparisonOperator = "eq"
	OpNe ComparisonOperator = "ne"
	OpGt ComparisonOperator = "gt"
	OpGe ComparisonOperator = "ge"
	OpLt ComparisonOperator = "lt"
	OpLe ComparisonOperator = "le"
)

// HavingClause filters aggregation results on one of the aggregated
// output fields.
type HavingClause struct {
	Field    string
	Operator ComparisonOperator
	Value    float64
}

// AggregationQuery mirrors original_source's AggregationQuery: an event
// filter plus group-by fields and named aggregations over numeric fields
// extracted from each event's payload attributes.
type AggregationQuery struct {
	Filter      event.Filter
	GroupBy     []string
	Aggregations map[string]AggregationFunction // output name -> function
	ValueField  string                          // attribute key the function reads numeric values from
	Having      *HavingClause
}

// AggregationResult is one group's reduced values.
type AggregationResult struct {
	Groups map[string]string
	Values map[string]float64
}

// MaterializedView is a precomputed aggregation the engine can serve
// instead of scanning raw events, refreshed on an interval or on demand.
type MaterializedView struct {
	Name            string
	GroupBy         []string
	Functions       map[string]AggregationFunction
	RefreshInterval int // seconds; 0 means manual refresh only
	results         []AggregationResult
	mu              sync.RWMutex
}

func (v *MaterializedView) setResults(results []AggregationResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results = results
}

func (v *MaterializedView) getResults() []AggregationResult {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]AggregationResult, len(v.results))
	copy(out, v.results)
	return out
}

// matches reports whether the view can satisfy query without falling back
// to a dynamic scan: every group-by field must be covered and every
// requested function must already be computed by the view.
func (v *MaterializedView) matches(q AggregationQuery) bool {
	groupSet := make(map[string]bool, len(v.GroupBy))
	for _, g := range v.GroupBy {
		groupSet[g] = true
	}
	for _, g := range q.GroupBy {
		if !groupSet[g] {
			return false
		}
	}
	for name, fn := range q.Aggregations {
		if v.Functions[name] != fn {
			return false
		}
	}
	return true
}

// AggregationManager registers materialized views and executes aggregation
// queries, preferring a matching view over a dynamic scan of the warm
// store (spec.md §4.H). Both paths are fully implemented, unlike the
// original Rust AggregationManager's placeholder execute_dynamic_query and
// query_materialized_view methods.
type AggregationManager struct {
	store Store

	mu    sync.RWMutex
	views map[string]*MaterializedView
}

// NewAggregationManager constructs a manager over the given event store.
func NewAggregationManager(store Store) *AggregationManager {
	return &AggregationManager{store: store, views: make(map[string]*MaterializedView)}
}

// RegisterView adds a materialized view definition. It errors if a view of
// the same name already exists.
func (m *AggregationManager) RegisterView(v *MaterializedView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.views[v.Name]; exists {
		return fmt.Errorf("query: materialized view %q already registered", v.Name)
	}
	m.views[v.Name] = v
	return nil
}

// RefreshView recomputes a registered view's results against the backing
// store using its own group-by/function definition, over the events that
// the caller-supplied filter selects.
func (m *AggregationManager) RefreshView(ctx context.Context, name string, filter event.Filter) error {
	m.mu.RLock()
	view, ok := m.views[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("query: materialized view %q not found", name)
	}

	results, err := m.executeDynamic(ctx, AggregationQuery{
		Filter:      filter,
		GroupBy:     view.GroupBy,
		Aggregations: view.Functions,
	})
	if err != nil {
		return fmt.Errorf("query: refresh view %q: %w", name, err)
	}
	view.setResults(results)
	return nil
}

// Execute runs an aggregation query, serving it from a matching
// materialized view when one covers every group-by field and function
// requested, else falling back to a dynamic scan.
func (m *AggregationManager) Execute(ctx context.Context, q AggregationQuery) ([]AggregationResult, error) {
	if view := m.findMatchingView(q); view != nil {
		return applyHaving(view.getResults(), q.Having), nil
	}
	results, err := m.executeDynamic(ctx, q)
	if err != nil {
		return nil, err
	}
	return applyHaving(results, q.Having), nil
}

func (m *AggregationManager) findMatchingView(q AggregationQuery) *MaterializedView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.views {
		if v.matches(q) {
			return v
		}
	}
	return nil
}

func (m *AggregationManager) executeDynamic(ctx context.Context, q AggregationQuery) ([]AggregationResult, error) {
	events, err := m.store.GetEvents(ctx, q.Filter)
	if err != nil {
		return nil, fmt.Errorf("query: dynamic aggregation scan: %w", err)
	}

	type groupKey string
	groups := make(map[groupKey][]event.Event)
	groupLabels := make(map[groupKey]map[string]string)

	for _, ev := range events {
		labels := groupLabelsFor(ev, q.GroupBy)
		key := groupKey(fmt.Sprintf("%+v", labels))
		groups[key] = append(groups[key], ev)
		groupLabels[key] = labels
	}

	var out []AggregationResult
	for key, evs := range groups {
		values := make(map[string]float64, len(q.Aggregations))
		for name, fn := range q.Aggregations {
			values[name] = reduce(evs, q.ValueField, fn)
		}
		out = append(out, AggregationResult{Groups: groupLabels[key], Values: values})
	}

	sort.Slice(out, func(i, j int) bool { return fmt.Sprint(out[i].Groups) < fmt.Sprint(out[j].Groups) })
	return out, nil
}

func groupLabelsFor(ev event.Event, groupBy []string) map[string]string {
	labels := make(map[string]string, len(groupBy))
	for _, field := range groupBy {
		switch field {
		case "chain":
			labels[field] = string(ev.Chain)
		case "event_type":
			labels[field] = ev.EventType
		default:
			labels[field] = attributeValue(ev, field)
		}
	}
	return labels
}

func attributeValue(ev event.Event, key string) string {
	switch p := ev.Payload.(type) {
	case event.GenericPayload:
		return p.Attributes[key]
	case event.CosmosPayload:
		for _, a := range p.Attributes {
			if a.Key == key {
				return a.Value
			}
		}
	}
	return ""
}

func numericAttributeValue(ev event.Event, field string) (float64, bool) {
	raw := attributeValue(ev, field)
	if raw == "" {
		return 0, false
	}
	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err != nil {
		return 0, false
	}
	return f, true
}

func reduce(events []event.Event, field string, fn AggregationFunction) float64 {
	switch fn {
	case Count:
		return float64(len(events))
	case CountDistinct:
		seen := make(map[string]bool)
		for _, ev := range events {
			seen[attributeValue(ev, field)] = true
		}
		return float64(len(seen))
	}

	var (
		sum   float64
		count int
		min   float64
		max   float64
		first = true
	)
	for _, ev := range events {
		v, ok := numericAttributeValue(ev, field)
		if !ok {
			continue
		}
		sum += v
		count++
		if first || v < min {
			min = v
		}
		if first || v > max {
			max = v
		}
		first = false
	}

	switch fn {
	case Sum:
		return sum
	case Avg:
		if count == 0 {
			return 0
		}
		return sum / float64(count)
	case Min:
		return min
	case Max:
		return max
	default:
		return 0
	}
}

func applyHaving(results []AggregationResult, having *HavingClause) []AggregationResult {
	if having == nil {
		return results
	}
	var out []AggregationResult
	for _, r := range results {
		v, ok := r.Values[having.Field]
		if !ok {
			continue
		}
		if compare(v, having.Operator, having.Value) {
			out = append(out, r)
		}
	}
	return out
}

func compare(v float64, op ComparisonOperator, target float64) bool {
	switch op {
	case OpEq:
		return v == target
	case OpNe:
		return v != target
	case OpGt:
		return v > target
	case OpGe:
		return v >= target
	case OpLt:
		return v < target
	case OpLe:
		return v <= target
	default:
		return false
	}
}

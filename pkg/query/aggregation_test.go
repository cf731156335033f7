package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

type fakeEventStore struct {
	events []event.Event
}

func (f *fakeEventStore) GetEvents(_ context.Context, _ event.Filter) ([]event.Event, error) {
	return f.events, nil
}

func genericEvent(eventType, amount string) event.Event {
	return event.Event{
		EventType: eventType,
		Payload:   event.GenericPayload{Attributes: map[string]string{"amount": amount}},
	}
}

func TestExecuteDynamicGroupsAndAggregates(t *testing.T) {
	store := &fakeEventStore{events: []event.Event{
		genericEvent("token_transfer", "10"),
		genericEvent("token_transfer", "20"),
		genericEvent("token_swap", "5"),
	}}
	mgr := NewAggregationManager(store)

	results, err := mgr.Execute(t.Context(), AggregationQuery{
		GroupBy:     []string{"event_type"},
		Aggregations: map[string]AggregationFunction{"total": Sum, "n": Count},
		ValueField:  "amount",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byType := make(map[string]AggregationResult)
	for _, r := range results {
		byType[r.Groups["event_type"]] = r
	}
	require.Equal(t, float64(30), byType["token_transfer"].Values["total"])
	require.Equal(t, float64(2), byType["token_transfer"].Values["n"])
	require.Equal(t, float64(5), byType["token_swap"].Values["total"])
}

func TestRegisterViewRejectsDuplicate(t *testing.T) {
	mgr := NewAggregationManager(&fakeEventStore{})
	view := &MaterializedView{Name: "v1", GroupBy: []string{"event_type"}, Functions: map[string]AggregationFunction{"n": Count}}
	require.NoError(t, mgr.RegisterView(view))
	require.Error(t, mgr.RegisterView(view))
}

func TestExecutePrefersMatchingView(t *testing.T) {
	store := &fakeEventStore{events: []event.Event{genericEvent("token_transfer", "1")}}
	mgr := NewAggregationManager(store)

	view := &MaterializedView{Name: "by_type", GroupBy: []string{"event_type"}, Functions: map[string]AggregationFunction{"n": Count}}
	require.NoError(t, mgr.RegisterView(view))
	require.NoError(t, mgr.RefreshView(t.Context(), "by_type", event.Filter{}))

	store.events = append(store.events, genericEvent("token_transfer", "2"))

	results, err := mgr.Execute(t.Context(), AggregationQuery{
		GroupBy:     []string{"event_type"},
		Aggregations: map[string]AggregationFunction{"n": Count},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, float64(1), results[0].Values["n"], "should serve the stale view snapshot, not rescan")
}

func TestApplyHavingFiltersResults(t *testing.T) {
	results := []AggregationResult{
		{Groups: map[string]string{"event_type": "a"}, Values: map[string]float64{"n": 5}},
		{Groups: map[string]string{"event_type": "b"}, Values: map[string]float64{"n": 1}},
	}
	filtered := applyHaving(results, &HavingClause{Field: "n", Operator: OpGe, Value: 3})
	require.Len(t, filtered, 1)
	require.Equal(t, "a", filtered[0].Groups["event_type"])
}

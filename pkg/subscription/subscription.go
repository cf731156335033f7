package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// Record is a durable subscription's persisted shape.
type Record struct {
	ID             string
	ConnectionID   string
	Filters        event.Filter
	Limit          int
	DeliveredCount int
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Matches reports whether ev satisfies every non-null field of the
// subscription's filter, per spec.md §4.I: attributes match when every
// required key is present and equal; block_range is inclusive.
func (r *Record) Matches(ev event.Event) bool {
	f := r.Filters
	if f.Chain != nil && *f.Chain != ev.Chain {
		return false
	}
	if f.BlockRange != nil && (ev.BlockNumber < f.BlockRange[0] || ev.BlockNumber > f.BlockRange[1]) {
		return false
	}
	if f.TimeRange != nil && (ev.Timestamp < f.TimeRange[0] || ev.Timestamp > f.TimeRange[1]) {
		return false
	}
	if len(f.EventTypes) > 0 {
		ok := false
		for _, t := range f.EventTypes {
			if t == ev.EventType {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !ev.MatchesAddress(f.Addresses) {
		return false
	}
	if !ev.MatchesContractTypes(f.ContractTypes) {
		return false
	}
	if !ev.MatchesEntityIDs(f.EntityIDs) {
		return false
	}
	if !ev.MatchesAttributes(f.Attributes) {
		return false
	}
	if !ev.MatchesTags(f.Tags) {
		return false
	}
	return true
}

// Store is the durable subscription store protocol from spec.md §4.I.
type Store interface {
	SaveSubscription(ctx context.Context, r *Record) error
	LoadSubscriptions(ctx context.Context, connectionID string) ([]Record, error)
	LoadAllSubscriptions(ctx context.Context) ([]Record, error)
	UpdateSubscriptionCount(ctx context.Context, id string, n int) error
	DeactivateSubscription(ctx context.Context, id string) error
	CleanupOldSubscriptions(ctx context.Context, hours int) (int, error)
}

// MemoryStore is an in-process Store, used when no relational backing is
// configured and by tests.
type memoryRecord struct {
	record       Record
	deactivatedAt time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time
}

// NewMemoryStore constructs an empty in-process subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord), now: time.Now}
}

func (s *MemoryStore) SaveSubscription(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	cp := *r
	s.records[r.ID] = &memoryRecord{record: cp}
	return nil
}

func (s *MemoryStore) LoadSubscriptions(_ context.Context, connectionID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, mr := range s.records {
		if mr.record.Active && mr.record.ConnectionID == connectionID {
			out = append(out, mr.record)
		}
	}
	return out, nil
}

func (s *MemoryStore) LoadAllSubscriptions(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, mr := range s.records {
		if mr.record.Active {
			out = append(out, mr.record)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateSubscriptionCount(_ context.Context, id string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mr, ok := s.records[id]; ok {
		mr.record.DeliveredCount = n
		mr.record.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) DeactivateSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mr, ok := s.records[id]; ok {
		mr.record.Active = false
		mr.record.UpdatedAt = s.now()
		mr.deactivatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) CleanupOldSubscriptions(_ context.Context, hours int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)
	removed := 0
	for id, mr := range s.records {
		if !mr.record.Active && !mr.deactivatedAt.IsZero() && mr.deactivatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

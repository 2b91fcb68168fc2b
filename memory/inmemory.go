package memory

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore is a process-local Store.
type InMemoryStore struct {
	mu        sync.RWMutex
	dimension int
	metric    Metric
	records   map[string]Record
	upserts   []string
}

// NewInMemoryStore creates an empty store for vectors of length dimension.
func NewInMemoryStore(dimension int, metric Metric) *InMemoryStore {
	if metric == "" {
		metric = MetricCosine
	}
	return &InMemoryStore{
		dimension: dimension,
		metric:    metric,
		records:   make(map[string]Record),
	}
}

// Upsert stores a copy of rec.
func (s *InMemoryStore) Upsert(_ context.Context, rec Record) error {
	if len(rec.Vector) != s.dimension {
		return fmt.Errorf("%w: memory: record %s has %d dimensions, want %d", ErrStore, rec.ID, len(rec.Vector), s.dimension)
	}
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = Record{ID: rec.ID, Vector: vec, Metadata: copyMetadata(rec.Metadata)}
	s.upserts = append(s.upserts, rec.ID)
	return nil
}

// Query returns the k records closest to vector.
func (s *InMemoryStore) Query(_ context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: memory: query has %d dimensions, want %d", ErrStore, len(vector), s.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.records))
	for _, rec := range s.records {
		matches = append(matches, Match{
			ID:       rec.ID,
			Score:    s.metric.Score(vector, rec.Vector),
			Metadata: copyMetadata(rec.Metadata),
		})
	}
	s.mu.RUnlock()
	return topK(matches, k), nil
}

// Get returns the record stored under id.
func (s *InMemoryStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Upserts returns every upserted id in call order, repeats included.
func (s *InMemoryStore) Upserts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.upserts))
	copy(out, s.upserts)
	return out
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

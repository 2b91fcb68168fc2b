package memory

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T, namespace string) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := NewSQLiteStore(SQLiteConfig{Path: path, Namespace: namespace, Dimension: 3})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, s Store) {
	t.Helper()
	recs := []Record{
		{ID: ResultID(1), Vector: []float32{1, 0, 0}, Metadata: map[string]string{KeyTask: "Develop a task list.", KeyResult: "r1"}},
		{ID: ResultID(2), Vector: []float32{0.7, 0.7, 0}, Metadata: map[string]string{KeyTask: "Buy materials", KeyResult: "r2"}},
		{ID: ResultID(3), Vector: []float32{0, 0, 1}, Metadata: map[string]string{KeyTask: "Build shelter", KeyResult: "r3"}},
	}
	for _, r := range recs {
		if err := s.Upsert(context.Background(), r); err != nil {
			t.Fatalf("Upsert %s: %v", r.ID, err)
		}
	}
}

func TestResultID(t *testing.T) {
	if got := ResultID(42); got != "result_42" {
		t.Errorf("ResultID(42) = %q", got)
	}
}

func TestStores_QueryOrderingAndLimit(t *testing.T) {
	stores := map[string]Store{
		"sqlite": newTestSQLiteStore(t, "ns"),
		"memory": NewInMemoryStore(3, MetricCosine),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			seed(t, s)
			matches, err := s.Query(context.Background(), []float32{1, 0.1, 0}, 2)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(matches) != 2 {
				t.Fatalf("got %d matches, want 2", len(matches))
			}
			if matches[0].ID != "result_1" || matches[1].ID != "result_2" {
				t.Errorf("order = %s, %s", matches[0].ID, matches[1].ID)
			}
			if matches[0].Score < matches[1].Score {
				t.Errorf("scores not descending: %v < %v", matches[0].Score, matches[1].Score)
			}
			if matches[0].Metadata[KeyTask] != "Develop a task list." {
				t.Errorf("metadata = %v", matches[0].Metadata)
			}

			all, err := s.Query(context.Background(), []float32{1, 0.1, 0}, 10)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(all) != 3 {
				t.Errorf("got %d matches, want all 3", len(all))
			}

			none, err := s.Query(context.Background(), []float32{1, 0, 0}, 0)
			if err != nil || len(none) != 0 {
				t.Errorf("k=0: got %v, %v", none, err)
			}
		})
	}
}

func TestStores_DimensionMismatch(t *testing.T) {
	stores := map[string]Store{
		"sqlite": newTestSQLiteStore(t, "ns"),
		"memory": NewInMemoryStore(3, MetricCosine),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			err := s.Upsert(context.Background(), Record{ID: "x", Vector: []float32{1, 2}})
			if !errors.Is(err, ErrStore) {
				t.Errorf("Upsert err = %v, want ErrStore", err)
			}
			_, err = s.Query(context.Background(), []float32{1}, 3)
			if !errors.Is(err, ErrStore) {
				t.Errorf("Query err = %v, want ErrStore", err)
			}
		})
	}
}

func TestSQLiteStore_UpsertReplaces(t *testing.T) {
	s := newTestSQLiteStore(t, "ns")
	ctx := context.Background()
	rec := Record{ID: "result_1", Vector: []float32{1, 0, 0}, Metadata: map[string]string{KeyTask: "old"}}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rec.Metadata = map[string]string{KeyTask: "new"}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	matches, _ := s.Query(ctx, []float32{1, 0, 0}, 1)
	if len(matches) != 1 || matches[0].Metadata[KeyTask] != "new" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestSQLiteStore_NamespacesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := NewSQLiteStore(SQLiteConfig{Path: path, Namespace: "a", Dimension: 3})
	if err != nil {
		t.Fatalf("NewSQLiteStore a: %v", err)
	}
	defer a.Close()
	if err := a.Upsert(context.Background(), Record{ID: "result_1", Vector: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	a.Close()

	b, err := NewSQLiteStore(SQLiteConfig{Path: path, Namespace: "b", Dimension: 3})
	if err != nil {
		t.Fatalf("NewSQLiteStore b: %v", err)
	}
	defer b.Close()
	matches, err := b.Query(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("namespace b sees %d records from a", len(matches))
	}
}

func TestNewSQLiteStore_BadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(blocker, "sub", "m.db"), Dimension: 3})
	if !errors.Is(err, ErrStore) {
		t.Errorf("err = %v, want ErrStore", err)
	}
	if _, err := NewSQLiteStore(SQLiteConfig{Path: ":memory:"}); !errors.Is(err, ErrStore) {
		t.Errorf("zero dimension err = %v, want ErrStore", err)
	}
}

func TestMetrics(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if got := MetricCosine.Score(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("cosine(a,a) = %v", got)
	}
	if got := MetricCosine.Score(a, b); got != 0 {
		t.Errorf("cosine(a,b) = %v", got)
	}
	if got := MetricCosine.Score(a, []float32{0, 0}); got != 0 {
		t.Errorf("cosine with zero vector = %v", got)
	}
	if got := MetricDotProduct.Score([]float32{2, 3}, []float32{4, 5}); got != 23 {
		t.Errorf("dot = %v", got)
	}
	if got := MetricEuclidean.Score(a, a); got != 1 {
		t.Errorf("euclidean(a,a) = %v, want 1", got)
	}
	if MetricEuclidean.Score(a, b) >= MetricEuclidean.Score(a, a) {
		t.Error("euclidean score should shrink with distance")
	}

	for _, name := range []string{"", "cosine", "dotproduct", "euclidean"} {
		if _, err := ParseMetric(name); err != nil {
			t.Errorf("ParseMetric(%q): %v", name, err)
		}
	}
	if _, err := ParseMetric("manhattan"); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestFloat32BlobRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3e-7}
	out := bytesToFloat32Slice(float32SliceToBytes(in))
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: %v != %v", i, in[i], out[i])
		}
	}
	if bytesToFloat32Slice([]byte{1, 2, 3}) != nil {
		t.Error("expected nil for truncated blob")
	}
}

func TestInMemoryStore_TracksUpserts(t *testing.T) {
	s := NewInMemoryStore(3, "")
	seed(t, s)
	got := s.Upserts()
	if len(got) != 3 || got[0] != "result_1" {
		t.Errorf("Upserts() = %v", got)
	}
	rec, ok := s.Get("result_2")
	if !ok || rec.Metadata[KeyTask] != "Buy materials" {
		t.Errorf("Get(result_2) = %+v, %v", rec, ok)
	}
}

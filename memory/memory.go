// Package memory stores task results as embedded records and answers
// top-k similarity queries over them.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrStore marks a failure of the vector index.
var ErrStore = errors.New("memory store failed")

// Metadata keys written for every task result.
const (
	KeyTask   = "task"
	KeyResult = "result"
)

// Record is one stored vector with its metadata.
type Record struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"-"`
	Metadata map[string]string `json:"metadata"`
}

// Match is a query hit. Higher Score means more similar.
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// Store is a vector index supporting upsert by id and top-k similarity
// queries. Implementations return errors wrapping ErrStore.
type Store interface {
	// Upsert writes rec, replacing any record with the same ID.
	Upsert(ctx context.Context, rec Record) error

	// Query returns up to k records most similar to vector, metadata
	// included, ordered by descending score.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)

	// Close releases underlying resources.
	Close() error
}

// ResultID is the record id of the result of task id.
func ResultID(taskID int) string {
	return "result_" + strconv.Itoa(taskID)
}

func storeErr(backend, op string, err error) error {
	return fmt.Errorf("%w: %s: %s: %w", ErrStore, backend, op, err)
}

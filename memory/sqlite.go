package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	namespace  TEXT NOT NULL,
	id         TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	embedding  BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (namespace, id)
);
`

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	Path      string // database file; ":memory:" is accepted
	Namespace string // partitions records sharing one database
	Dimension int    // required vector length
	Metric    Metric
}

// SQLiteStore is a Store backed by a SQLite table. Embeddings are stored as
// little-endian float32 BLOBs and scored in process, which suits the few
// thousand records a run produces.
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteConfig
}

// NewSQLiteStore opens (or creates) the database at cfg.Path and ensures the
// records table exists. The caller is responsible for calling Close.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: sqlite: dimension must be positive", ErrStore)
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, storeErr("sqlite", "open "+cfg.Path, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storeErr("sqlite", "create schema", err)
	}
	return &SQLiteStore{db: db, cfg: cfg}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Upsert inserts rec or replaces the record with the same id.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Vector) != s.cfg.Dimension {
		return fmt.Errorf("%w: sqlite: record %s has %d dimensions, want %d", ErrStore, rec.ID, len(rec.Vector), s.cfg.Dimension)
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return storeErr("sqlite", "marshal metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records (namespace, id, metadata, embedding, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(namespace, id) DO UPDATE SET
			metadata=excluded.metadata, embedding=excluded.embedding`,
		s.cfg.Namespace, rec.ID, string(meta), float32SliceToBytes(rec.Vector), time.Now().UTC(),
	)
	if err != nil {
		return storeErr("sqlite", "upsert "+rec.ID, err)
	}
	return nil
}

// Query scores every record in the namespace and returns the k best.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: sqlite: query has %d dimensions, want %d", ErrStore, len(vector), s.cfg.Dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metadata, embedding FROM memory_records WHERE namespace = ?`,
		s.cfg.Namespace,
	)
	if err != nil {
		return nil, storeErr("sqlite", "query", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var (
			id, meta string
			blob     []byte
		)
		if err := rows.Scan(&id, &meta, &blob); err != nil {
			return nil, storeErr("sqlite", "scan", err)
		}
		m := Match{ID: id, Score: s.cfg.Metric.Score(vector, bytesToFloat32Slice(blob))}
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, storeErr("sqlite", "decode metadata of "+id, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("sqlite", "iterate", err)
	}
	return topK(matches, k), nil
}

// Count returns the number of records in the namespace.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_records WHERE namespace = ?`, s.cfg.Namespace,
	).Scan(&n)
	if err != nil {
		return 0, storeErr("sqlite", "count", err)
	}
	return n, nil
}

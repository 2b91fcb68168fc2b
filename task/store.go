package task

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS journal (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	task_id      INTEGER NOT NULL,
	name         TEXT NOT NULL,
	result       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS journal_run ON journal (run_id, seq);
`

// SQLiteJournal persists journal entries in a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a SQLite database at dbPath and ensures
// the journal table exists. The caller is responsible for calling Close.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Close releases the underlying database connection.
func (j *SQLiteJournal) Close() error { return j.db.Close() }

// Record appends e to the journal.
func (j *SQLiteJournal) Record(ctx context.Context, e Entry) error {
	if e.RunID == "" {
		return fmt.Errorf("journal entry for task %d has no run id", e.TaskID)
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.CompletedAt
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal
			(run_id, task_id, name, result, status, error, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.RunID, e.TaskID, e.Name, e.Result, string(e.Status), e.Error,
		e.StartedAt.UTC(), e.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter in insertion order.
func (j *SQLiteJournal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT seq, run_id, task_id, name, result, status, error, started_at, completed_at
		FROM journal WHERE 1=1`)
	args := []any{}

	if filter.RunID != "" {
		q.WriteString(" AND run_id=?")
		args = append(args, filter.RunID)
	}
	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	q.WriteString(" ORDER BY seq ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := j.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status string
		err := rows.Scan(
			&e.Seq, &e.RunID, &e.TaskID, &e.Name, &e.Result, &status, &e.Error,
			&e.StartedAt, &e.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Status = Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Runs returns the distinct run ids in the order they first appear.
func (j *SQLiteJournal) Runs(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT run_id FROM journal GROUP BY run_id ORDER BY MIN(seq)`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}

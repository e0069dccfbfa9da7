//go:build sqlite

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite" // CGO-less SQLite driver

	"landingzone/internal/domain"
)

// SQLiteStore is a SQLite-backed Store for single-operator use: one
// local file carries the ledger across process restarts.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and if necessary initializes) a SQLite ledger
// at the given DSN.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS step_records (
		key        TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		status     TEXT NOT NULL,
		run_id     TEXT NOT NULL,
		diagnostic TEXT,
		output     TEXT,
		updated_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the record for key.
func (s *SQLiteStore) Get(ctx context.Context, key domain.StepKey) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, kind, status, run_id, diagnostic, output, updated_at FROM step_records WHERE key=?`,
		string(key))
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Put inserts or replaces the record for rec.Key.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	var output sql.NullString
	if rec.Output != nil {
		data, err := json.Marshal(rec.Output)
		if err != nil {
			return err
		}
		output = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_records (key, kind, status, run_id, diagnostic, output, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind=excluded.kind, status=excluded.status, run_id=excluded.run_id,
			diagnostic=excluded.diagnostic, output=excluded.output, updated_at=excluded.updated_at`,
		string(rec.Key), string(rec.Kind), string(rec.Status), rec.RunID,
		sql.NullString{String: rec.Diagnostic, Valid: rec.Diagnostic != ""},
		output,
		rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// Delete removes the record for key.
func (s *SQLiteStore) Delete(ctx context.Context, key domain.StepKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM step_records WHERE key=?`, string(key))
	return err
}

// List returns all records ordered by key.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, kind, status, run_id, diagnostic, output, updated_at FROM step_records ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var rec Record
	var key, kind, status, updatedAt string
	var diagnostic, output sql.NullString
	if err := scan(&key, &kind, &status, &rec.RunID, &diagnostic, &output, &updatedAt); err != nil {
		return Record{}, err
	}
	rec.Key = domain.StepKey(key)
	rec.Kind = domain.StepKind(kind)
	rec.Status = domain.StepStatus(status)
	rec.Diagnostic = diagnostic.String
	if output.Valid && output.String != "" {
		if err := json.Unmarshal([]byte(output.String), &rec.Output); err != nil {
			return Record{}, err
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

//go:build postgres

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"landingzone/internal/domain"
)

// PostgresStore is a PostgreSQL-backed Store for teams that share one
// ledger across operators and CI runners.
type PostgresStore struct {
	pool    *pgxpool.Pool
	ownPool bool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to PostgreSQL and initializes the schema.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool, ownPool: true}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromPool uses an existing pool; Close will not close it.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS step_records (
		key        TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		status     TEXT NOT NULL,
		run_id     TEXT NOT NULL,
		diagnostic TEXT,
		output     JSONB,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	return err
}

// Close closes the pool if this store created it.
func (s *PostgresStore) Close() error {
	if s.ownPool {
		s.pool.Close()
	}
	return nil
}

// Get returns the record for key.
func (s *PostgresStore) Get(ctx context.Context, key domain.StepKey) (Record, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, kind, status, run_id, diagnostic, output, updated_at FROM step_records WHERE key=$1`,
		string(key))
	rec, err := scanPGRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Put inserts or replaces the record for rec.Key.
func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	var output *string
	if rec.Output != nil {
		data, err := json.Marshal(rec.Output)
		if err != nil {
			return err
		}
		str := string(data)
		output = &str
	}
	var diagnostic *string
	if rec.Diagnostic != "" {
		diagnostic = &rec.Diagnostic
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO step_records (key, kind, status, run_id, diagnostic, output, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (key) DO UPDATE SET
			kind=excluded.kind, status=excluded.status, run_id=excluded.run_id,
			diagnostic=excluded.diagnostic, output=excluded.output, updated_at=excluded.updated_at`,
		string(rec.Key), string(rec.Kind), string(rec.Status), rec.RunID,
		diagnostic, output, rec.UpdatedAt)
	return err
}

// Delete removes the record for key.
func (s *PostgresStore) Delete(ctx context.Context, key domain.StepKey) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM step_records WHERE key=$1`, string(key))
	return err
}

// List returns all records ordered by key.
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, kind, status, run_id, diagnostic, output, updated_at FROM step_records ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPGRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanPGRecord(row pgx.Row) (Record, error) {
	var rec Record
	var key, kind, status string
	var diagnostic, output *string
	if err := row.Scan(&key, &kind, &status, &rec.RunID, &diagnostic, &output, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Key = domain.StepKey(key)
	rec.Kind = domain.StepKind(kind)
	rec.Status = domain.StepStatus(status)
	if diagnostic != nil {
		rec.Diagnostic = *diagnostic
	}
	if output != nil && *output != "" {
		if err := json.Unmarshal([]byte(*output), &rec.Output); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

// Package ledger persists workflow step records so that an interrupted
// run can resume without repeating completed work. The in-memory store
// is always available; SQLite and PostgreSQL backends are compiled in
// with the sqlite and postgres build tags.
package ledger

import (
	"context"
	"time"

	"landingzone/internal/domain"
)

// Record is the durable state of one workflow step.
type Record struct {
	// Key is the step's idempotency key.
	Key domain.StepKey
	// Kind is the step's operation kind.
	Kind domain.StepKind
	// Status is the step's current execution state.
	Status domain.StepStatus
	// RunID is the run that last touched this record.
	RunID string
	// Diagnostic describes the failure when Status is FAILED.
	Diagnostic string
	// Output holds provider-assigned identifiers produced by the step
	// (OU IDs, account IDs) so a resumed run can recover them without
	// re-querying the provider.
	Output map[string]string
	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time
}

// Store persists step records keyed by their idempotency key.
type Store interface {
	// Get returns the record for key. The bool reports whether a
	// record exists.
	Get(ctx context.Context, key domain.StepKey) (Record, bool, error)
	// Put inserts or replaces the record for rec.Key.
	Put(ctx context.Context, rec Record) error
	// Delete removes the record for key. Deleting a missing key is a
	// no-op.
	Delete(ctx context.Context, key domain.StepKey) error
	// List returns all records, ordered by key.
	List(ctx context.Context) ([]Record, error)
	// Close releases any underlying resources.
	Close() error
}

func copyOutput(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

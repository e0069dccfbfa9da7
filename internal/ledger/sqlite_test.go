//go:build sqlite

package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"landingzone/internal/domain"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	s, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLitePutGet(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	key := domain.AccountStepKey(domain.StepCreateAccount, "logging@example.com")
	err := s.Put(ctx, Record{
		Key:    key,
		Kind:   domain.StepCreateAccount,
		Status: domain.StepDone,
		RunID:  "run-1",
		Output: map[string]string{"account_id": "111111111111"},
	})
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, ok, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("Get() found no record")
	}
	if got.Status != domain.StepDone {
		t.Errorf("Status = %s, want %s", got.Status, domain.StepDone)
	}
	if got.Output["account_id"] != "111111111111" {
		t.Errorf("Output[account_id] = %q, want 111111111111", got.Output["account_id"])
	}
}

func TestSQLiteGetMissing(t *testing.T) {
	s := newSQLiteStore(t)

	_, ok, err := s.Get(context.Background(), "createOU/r-test/missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("Get() found a record in an empty store")
	}
}

func TestSQLiteUpsert(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	key := domain.OUStepKey(domain.StepCreateOU, "r-test", "workloads")

	if err := s.Put(ctx, Record{Key: key, Kind: domain.StepCreateOU, Status: domain.StepFailed, RunID: "run-1", Diagnostic: "throttled"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := s.Put(ctx, Record{Key: key, Kind: domain.StepCreateOU, Status: domain.StepDone, RunID: "run-2"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, _, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != domain.StepDone || got.RunID != "run-2" {
		t.Errorf("Get() = %+v, want DONE from run-2", got)
	}
	if got.Diagnostic != "" {
		t.Errorf("Diagnostic = %q, want empty after upsert", got.Diagnostic)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	key := domain.StepKey("createOU/r-test/workloads")

	s1, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	if err := s1.Put(ctx, Record{Key: key, Kind: domain.StepCreateOU, Status: domain.StepDone, RunID: "run-1"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s2, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("record did not survive reopen")
	}
	if got.Status != domain.StepDone {
		t.Errorf("Status = %s, want %s", got.Status, domain.StepDone)
	}
}

func TestSQLiteListOrdered(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	keys := []domain.StepKey{
		"deployStack/security@example.com/landing-zone-security",
		"createOU/r-test/workloads",
		"createAccount/logging@example.com",
	}
	for _, k := range keys {
		if err := s.Put(ctx, Record{Key: k, Kind: domain.StepCreateOU, Status: domain.StepDone, RunID: "run-1"}); err != nil {
			t.Fatalf("Put(%s) error: %v", k, err)
		}
	}

	recs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i-1].Key >= recs[i].Key {
			t.Errorf("List() not ordered: %s before %s", recs[i-1].Key, recs[i].Key)
		}
	}
}

func TestSQLiteDelete(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	key := domain.OUStepKey(domain.StepCreateOU, "r-1", "Security")
	if err := s.Put(ctx, Record{Key: key, Kind: domain.StepCreateOU, Status: domain.StepDone, RunID: "run-1"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok, err := s.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get() after delete: ok=%v err=%v, want missing", ok, err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() of missing key error: %v", err)
	}
}

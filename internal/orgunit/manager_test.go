package orgunit

import (
	"context"
	"errors"
	"testing"
	"time"

	"landingzone/internal/cloudcontrol"
	"landingzone/internal/testutil"
)

func newTestManager(t *testing.T) (*Manager, *testutil.FakeCloud) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cloud := testutil.NewFakeCloud()
	cloud.NowFunc = clock.Now
	cfg := Config{AccountPollInterval: time.Second, AccountPollTimeout: time.Minute}
	return New(cloud, clock, cfg, nil), cloud
}

func TestEnsureOUCreates(t *testing.T) {
	m, cloud := newTestManager(t)

	id, err := m.EnsureOU(context.Background(), "workloads", "r-test")
	if err != nil {
		t.Fatalf("EnsureOU() error: %v", err)
	}
	if id == "" {
		t.Fatal("EnsureOU() returned empty ID")
	}
	if got := cloud.Calls("CreateOU"); got != 1 {
		t.Errorf("CreateOU called %d times, want 1", got)
	}
}

func TestEnsureOUReusesExisting(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.AddOU("ou-seed-1", "r-test", "workloads")

	id, err := m.EnsureOU(context.Background(), "workloads", "r-test")
	if err != nil {
		t.Fatalf("EnsureOU() error: %v", err)
	}
	if id != "ou-seed-1" {
		t.Errorf("EnsureOU() = %s, want ou-seed-1", id)
	}
	if got := cloud.Calls("CreateOU"); got != 0 {
		t.Errorf("CreateOU called %d times, want 0", got)
	}
}

func TestEnsureOUSameNameDifferentParents(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.AddOU("ou-seed-1", "r-test", "prod")

	// The same name under a different parent is a different OU.
	id, err := m.EnsureOU(context.Background(), "prod", "ou-seed-1")
	if err != nil {
		t.Fatalf("EnsureOU() error: %v", err)
	}
	if id == "ou-seed-1" {
		t.Error("EnsureOU() reused an OU from a different parent")
	}
	if got := cloud.Calls("CreateOU"); got != 1 {
		t.Errorf("CreateOU called %d times, want 1", got)
	}
}

func TestEnsureAccountCreatesAndMoves(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.AddOU("ou-seed-1", "r-test", "workloads")
	cloud.PendingAccountPolls = 3

	id, err := m.EnsureAccount(context.Background(), "logging", "logging@example.com", "ou-seed-1")
	if err != nil {
		t.Fatalf("EnsureAccount() error: %v", err)
	}
	if id == "" {
		t.Fatal("EnsureAccount() returned empty ID")
	}
	if got := cloud.Calls("CreateAccount"); got != 1 {
		t.Errorf("CreateAccount called %d times, want 1", got)
	}
	// 3 IN_PROGRESS responses, then SUCCEEDED.
	if got := cloud.Calls("DescribeAccountRequest"); got != 4 {
		t.Errorf("DescribeAccountRequest called %d times, want 4", got)
	}
	parent, err := cloud.ParentID(context.Background(), id)
	if err != nil {
		t.Fatalf("ParentID() error: %v", err)
	}
	if parent != "ou-seed-1" {
		t.Errorf("account parent = %s, want ou-seed-1", parent)
	}
}

func TestEnsureAccountReusesExisting(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.AddOU("ou-seed-1", "r-test", "workloads")
	cloud.AddAccount("222222222222", "logging", "logging@example.com", "ou-seed-1")

	id, err := m.EnsureAccount(context.Background(), "logging", "logging@example.com", "ou-seed-1")
	if err != nil {
		t.Fatalf("EnsureAccount() error: %v", err)
	}
	if id != "222222222222" {
		t.Errorf("EnsureAccount() = %s, want 222222222222", id)
	}
	if got := cloud.Calls("CreateAccount"); got != 0 {
		t.Errorf("CreateAccount called %d times, want 0", got)
	}
	if got := cloud.Calls("MoveAccount"); got != 0 {
		t.Errorf("MoveAccount called %d times, want 0", got)
	}
}

func TestEnsureAccountMovesMisplacedExisting(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.AddOU("ou-seed-1", "r-test", "workloads")
	cloud.AddAccount("222222222222", "logging", "logging@example.com", "r-test")

	if _, err := m.EnsureAccount(context.Background(), "logging", "logging@example.com", "ou-seed-1"); err != nil {
		t.Fatalf("EnsureAccount() error: %v", err)
	}
	if got := cloud.Calls("MoveAccount"); got != 1 {
		t.Errorf("MoveAccount called %d times, want 1", got)
	}
	parent, err := cloud.ParentID(context.Background(), "222222222222")
	if err != nil {
		t.Fatalf("ParentID() error: %v", err)
	}
	if parent != "ou-seed-1" {
		t.Errorf("account parent = %s, want ou-seed-1", parent)
	}
}

func TestEnsureAccountCreationFailurePermanent(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.FailAccountEmails["taken@example.com"] = "EMAIL_ALREADY_EXISTS"

	_, err := m.EnsureAccount(context.Background(), "dup", "taken@example.com", "")
	if err == nil {
		t.Fatal("EnsureAccount() succeeded, want failure")
	}
	if !cloudcontrol.IsPermanent(err) {
		t.Errorf("EnsureAccount() error kind = %s, want permanent", cloudcontrol.KindOf(err))
	}
}

func TestEnsureAccountPollTimeout(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.PendingAccountPolls = 1000

	_, err := m.EnsureAccount(context.Background(), "slow", "slow@example.com", "")
	if !errors.Is(err, cloudcontrol.ErrTimedOut) {
		t.Errorf("EnsureAccount() error = %v, want ErrTimedOut", err)
	}
}

func TestCloseAccountMovesToRoot(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.AddOU("ou-seed-1", "r-test", "workloads")
	cloud.AddAccount("222222222222", "logging", "logging@example.com", "ou-seed-1")

	if err := m.CloseAccount(context.Background(), "222222222222"); err != nil {
		t.Fatalf("CloseAccount() error: %v", err)
	}
	if !cloud.Closed("222222222222") {
		t.Error("closure was not requested")
	}
	parent, err := cloud.ParentID(context.Background(), "222222222222")
	if err != nil {
		t.Fatalf("ParentID() error: %v", err)
	}
	if parent != "r-test" {
		t.Errorf("account parent = %s, want r-test", parent)
	}
}

func TestDeleteOUEmpty(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.AddOU("ou-seed-1", "r-test", "workloads")

	if err := m.DeleteOU(context.Background(), "ou-seed-1"); err != nil {
		t.Fatalf("DeleteOU() error: %v", err)
	}
	if got := cloud.Calls("DeleteOU"); got != 1 {
		t.Errorf("DeleteOU called %d times, want 1", got)
	}
}

func TestDeleteOUNotEmpty(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.AddOU("ou-seed-1", "r-test", "workloads")
	cloud.AddAccount("222222222222", "logging", "logging@example.com", "ou-seed-1")

	err := m.DeleteOU(context.Background(), "ou-seed-1")
	if !errors.Is(err, cloudcontrol.ErrOUNotEmpty) {
		t.Errorf("DeleteOU() error = %v, want ErrOUNotEmpty", err)
	}
	// The precondition check fails before the provider is asked.
	if got := cloud.Calls("DeleteOU"); got != 0 {
		t.Errorf("DeleteOU called %d times, want 0", got)
	}
}

func TestDeleteOUNotEmptyChildOU(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.AddOU("ou-seed-1", "r-test", "workloads")
	cloud.AddOU("ou-seed-2", "ou-seed-1", "prod")

	if err := m.DeleteOU(context.Background(), "ou-seed-1"); !errors.Is(err, cloudcontrol.ErrOUNotEmpty) {
		t.Errorf("DeleteOU() error = %v, want ErrOUNotEmpty", err)
	}
}

func TestRootIDCached(t *testing.T) {
	m, cloud := newTestManager(t)

	for i := 0; i < 3; i++ {
		id, err := m.RootID(context.Background())
		if err != nil {
			t.Fatalf("RootID() error: %v", err)
		}
		if id != "r-test" {
			t.Errorf("RootID() = %s, want r-test", id)
		}
	}
	if got := cloud.Calls("RootID"); got != 1 {
		t.Errorf("RootID called %d times, want 1", got)
	}
}

func TestAttachPolicy(t *testing.T) {
	m, cloud := newTestManager(t)
	cloud.AddOU("ou-seed-1", "r-test", "workloads")

	if err := m.AttachPolicy(context.Background(), "p-deny-regions", "ou-seed-1"); err != nil {
		t.Fatalf("AttachPolicy() error: %v", err)
	}
	got := cloud.AttachedPolicies("ou-seed-1")
	if len(got) != 1 || got[0] != "p-deny-regions" {
		t.Errorf("AttachedPolicies() = %v, want [p-deny-regions]", got)
	}
}

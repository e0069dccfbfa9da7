package stack

import (
	"context"
	"errors"
	"testing"
	"time"

	"landingzone/internal/assume"
	"landingzone/internal/cloudcontrol"
	"landingzone/internal/domain"
	"landingzone/internal/testutil"
)

const (
	testAccount = "111111111111"
	testRegion  = "us-east-1"
)

func newTestDeployer(t *testing.T) (*Deployer, *testutil.FakeCloud, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cloud := testutil.NewFakeCloud()
	cloud.NowFunc = clock.Now
	assumer := assume.New(cloud, clock, assume.Config{RunID: "run-1"}, nil)
	cfg := Config{PollInterval: time.Second, PollTimeout: 30 * time.Second, EventLimit: 5}
	return New(cloud, assumer, clock, cfg, nil), cloud, clock
}

func deployment(desired domain.DesiredState) domain.StackDeployment {
	return domain.StackDeployment{
		AccountID:    testAccount,
		Region:       testRegion,
		StackName:    "landing-zone-logging",
		Template:     domain.TemplateRef{Source: "logging.yaml"},
		DesiredState: desired,
	}
}

func TestReconcileCreatesMissingStack(t *testing.T) {
	d, cloud, _ := newTestDeployer(t)
	cloud.PendingStackPolls = 2

	res, err := d.Reconcile(context.Background(), deployment(domain.StatePresent))
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if res.Outcome != OutcomeSucceeded {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeSucceeded)
	}
	if res.Status != domain.StackStatusCreateComplete {
		t.Errorf("Status = %s, want %s", res.Status, domain.StackStatusCreateComplete)
	}
	if got := cloud.Calls("CreateStack"); got != 1 {
		t.Errorf("CreateStack called %d times, want 1", got)
	}
	if got := cloud.Calls("UpdateStack"); got != 0 {
		t.Errorf("UpdateStack called %d times, want 0", got)
	}
}

func TestReconcileNoOpUpdate(t *testing.T) {
	d, cloud, _ := newTestDeployer(t)
	cloud.SeedStack(testAccount, testRegion, "landing-zone-logging", domain.StackStatusCreateComplete)
	cloud.NoUpdateStacks[testAccount+"/"+testRegion+"/landing-zone-logging"] = true

	res, err := d.Reconcile(context.Background(), deployment(domain.StatePresent))
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if res.Outcome != OutcomeSucceeded {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeSucceeded)
	}
	// The no-op must not transition through UPDATE_IN_PROGRESS: one
	// describe before the update attempt, none after.
	if got := cloud.Calls("DescribeStack"); got != 1 {
		t.Errorf("DescribeStack called %d times, want 1", got)
	}
	if got := cloud.Calls("CreateStack"); got != 0 {
		t.Errorf("CreateStack called %d times, want 0", got)
	}
}

func TestReconcileUpdatesExistingStack(t *testing.T) {
	d, cloud, _ := newTestDeployer(t)
	cloud.SeedStack(testAccount, testRegion, "landing-zone-logging", domain.StackStatusCreateComplete)
	cloud.PendingStackPolls = 1

	res, err := d.Reconcile(context.Background(), deployment(domain.StatePresent))
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if res.Status != domain.StackStatusUpdateComplete {
		t.Errorf("Status = %s, want %s", res.Status, domain.StackStatusUpdateComplete)
	}
	if got := cloud.Calls("UpdateStack"); got != 1 {
		t.Errorf("UpdateStack called %d times, want 1", got)
	}
}

func TestReconcileAttachesToInProgressOperation(t *testing.T) {
	d, cloud, _ := newTestDeployer(t)
	cloud.SeedStackSequence(testAccount, testRegion, "landing-zone-logging",
		domain.StackStatusCreateInProgress,
		domain.StackStatusCreateInProgress,
		domain.StackStatusCreateComplete)

	res, err := d.Reconcile(context.Background(), deployment(domain.StatePresent))
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if res.Outcome != OutcomeSucceeded {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeSucceeded)
	}
	if cloud.Calls("CreateStack") != 0 || cloud.Calls("UpdateStack") != 0 {
		t.Error("attaching must not issue a new mutating operation")
	}
}

func TestReconcileCreateFailureCapturesEvents(t *testing.T) {
	d, cloud, _ := newTestDeployer(t)
	cloud.FailCreateStacks[testAccount+"/"+testRegion+"/landing-zone-logging"] = true

	res, err := d.Reconcile(context.Background(), deployment(domain.StatePresent))
	if err == nil {
		t.Fatal("Reconcile() should fail when the create rolls back")
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeFailed)
	}
	if len(res.Events) == 0 {
		t.Error("failure should capture stack events")
	}
}

func TestReconcileTimeout(t *testing.T) {
	d, cloud, _ := newTestDeployer(t)
	cloud.PendingStackPolls = 100

	res, err := d.Reconcile(context.Background(), deployment(domain.StatePresent))
	if !errors.Is(err, cloudcontrol.ErrTimedOut) {
		t.Fatalf("Reconcile() = %v, want ErrTimedOut", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeTimedOut)
	}
}

func TestReconcileAbsentAlreadyGone(t *testing.T) {
	d, cloud, _ := newTestDeployer(t)

	res, err := d.Reconcile(context.Background(), deployment(domain.StateAbsent))
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if res.Outcome != OutcomeSucceeded {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeSucceeded)
	}
	if got := cloud.Calls("DeleteStack"); got != 0 {
		t.Errorf("DeleteStack called %d times, want 0", got)
	}
}

func TestReconcileAbsentDeletesExistingStack(t *testing.T) {
	d, cloud, _ := newTestDeployer(t)
	cloud.SeedStack(testAccount, testRegion, "landing-zone-logging", domain.StackStatusCreateComplete)
	cloud.PendingStackPolls = 1

	res, err := d.Reconcile(context.Background(), deployment(domain.StateAbsent))
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if res.Outcome != OutcomeSucceeded {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeSucceeded)
	}
	if got := cloud.Calls("DeleteStack"); got != 1 {
		t.Errorf("DeleteStack called %d times, want 1", got)
	}
}

func TestReconcileSecondRunIsIdempotent(t *testing.T) {
	d, cloud, _ := newTestDeployer(t)

	if _, err := d.Reconcile(context.Background(), deployment(domain.StatePresent)); err != nil {
		t.Fatalf("first Reconcile() error: %v", err)
	}
	// Nothing changed remotely: the provider reports the update as a
	// no-op on the second pass.
	cloud.NoUpdateStacks[testAccount+"/"+testRegion+"/landing-zone-logging"] = true

	if _, err := d.Reconcile(context.Background(), deployment(domain.StatePresent)); err != nil {
		t.Fatalf("second Reconcile() error: %v", err)
	}
	if got := cloud.Calls("CreateStack"); got != 1 {
		t.Errorf("CreateStack called %d times across both runs, want 1", got)
	}
	// The second run's only mutating attempt is the rejected no-op update.
	if got := cloud.Calls("UpdateStack"); got != 1 {
		t.Errorf("UpdateStack called %d times, want 1", got)
	}
}

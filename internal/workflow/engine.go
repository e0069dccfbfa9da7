// Package workflow composes OU, account, and stack operations into the
// launch and cleanup workflows. Every step is recorded in the ledger
// under its idempotency key, so a rerun of the same topology skips
// completed work and retries only what failed or never started.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"landingzone/internal/cloudcontrol"
	"landingzone/internal/domain"
	"landingzone/internal/ledger"
	"landingzone/internal/observability"
	"landingzone/internal/orgunit"
	"landingzone/internal/stack"
)

// StackNamePrefix is prepended to a stack role to form the deployed
// stack's name.
const StackNamePrefix = "landing-zone-"

// Config tunes the engine.
type Config struct {
	// Concurrency bounds how many account branches run in parallel
	// within one OU. Zero or one means strictly sequential execution.
	Concurrency int
}

// Engine runs launch and cleanup workflows over a declared topology.
type Engine struct {
	org      *orgunit.Manager
	deployer *stack.Deployer
	store    ledger.Store
	cfg      Config
	logger   observability.Logger
	metrics  *observability.Metrics
}

// New creates an Engine. logger and metrics may be nil.
func New(org *orgunit.Manager, deployer *stack.Deployer, store ledger.Store, cfg Config, logger observability.Logger, metrics *observability.Metrics) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	if metrics == nil {
		metrics = observability.NewMetrics(observability.MetricsConfig{})
	}
	return &Engine{
		org:      org,
		deployer: deployer,
		store:    store,
		cfg:      cfg,
		logger:   logger.WithComponent("workflow"),
		metrics:  metrics,
	}
}

// runState collects step results across concurrent branches.
type runState struct {
	mu     sync.Mutex
	report *Report
}

func (s *runState) record(res StepResult) {
	s.mu.Lock()
	s.report.Steps = append(s.report.Steps, res)
	s.mu.Unlock()
}

// Launch provisions the topology: OUs, then accounts, then each
// account's stacks in dependency order. Independent account branches
// fail in isolation; the report lists every step outcome.
func (e *Engine) Launch(ctx context.Context, topo domain.Topology) (*Report, error) {
	return e.run(ctx, topo, e.launchOU)
}

// Cleanup reverses the topology: each account's stacks in reverse
// dependency order, then account closure, then OU deletion once the OU
// is empty.
func (e *Engine) Cleanup(ctx context.Context, topo domain.Topology) (*Report, error) {
	return e.run(ctx, topo, e.cleanupOU)
}

func (e *Engine) run(ctx context.Context, topo domain.Topology, ouFn func(context.Context, *runState, domain.TopologyOU, string) error) (*Report, error) {
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("validate topology: %w", err)
	}

	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	state := &runState{report: &Report{
		RunID:   runID,
		Status:  domain.RunRunning,
		Started: time.Now().UTC(),
	}}
	e.logger.InfoContext(ctx, "run started", "ous", len(topo.OUs), "region", topo.Region)

	for _, ou := range topo.OUs {
		if ctx.Err() != nil {
			break
		}
		if err := ouFn(ctx, state, ou, topo.Region); err != nil {
			return nil, err
		}
	}

	state.report.Finished = time.Now().UTC()
	state.report.resolve()
	e.logger.InfoContext(ctx, "run finished",
		"status", string(state.report.Status),
		"steps", len(state.report.Steps),
		"failed", len(state.report.FailedKeys()))
	return state.report, nil
}

// failBranch records a failure that happened outside a step, such as a
// provider lookup needed to build the step itself, against the branch's
// next step key. Only the run report carries it; the ledger is left
// untouched so a rerun retries the lookup. Returning nil from the
// branch afterwards keeps sibling branches running.
func (e *Engine) failBranch(ctx context.Context, state *runState, key domain.StepKey, kind domain.StepKind, err error) {
	diag := cloudcontrol.Diagnostic(err)
	e.logger.ErrorContext(ctx, "branch failed before step", "kind", string(kind), "step", string(key), "error", err)
	e.metrics.RecordStep(string(kind), string(domain.StepFailed))
	state.record(StepResult{Key: key, Kind: kind, Status: domain.StepFailed, Diagnostic: diag})
}

// clearSteps removes ledger records whose steps have been undone by the
// opposite workflow, so the next run re-executes them instead of
// skipping on a record from a previous generation.
func (e *Engine) clearSteps(ctx context.Context, keys ...domain.StepKey) error {
	for _, key := range keys {
		if err := e.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("ledger delete %s: %w", key, err)
		}
	}
	return nil
}

// launchOU ensures one OU and launches all of its account branches.
func (e *Engine) launchOU(ctx context.Context, state *runState, ou domain.TopologyOU, region string) error {
	ouKey := domain.OUStepKey(domain.StepCreateOU, ou.ParentID, ou.Name)
	out, ok, err := e.runStep(ctx, state, ouKey, domain.StepCreateOU, func(ctx context.Context) (map[string]string, error) {
		id, err := e.org.EnsureOU(ctx, ou.Name, ou.ParentID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"ou_id": id}, nil
	})
	if err != nil {
		return err
	}
	if !ok {
		// The OU is this branch's root; without it no account under it
		// can proceed.
		return nil
	}
	if err := e.clearSteps(ctx, domain.OUStepKey(domain.StepDeleteOU, ou.ParentID, ou.Name)); err != nil {
		return err
	}
	ouID := out["ou_id"]
	if ouID == "" {
		if ouID, _, err = e.org.FindOU(ctx, ou.Name, ou.ParentID); err != nil {
			e.failBranch(ctx, state, ouKey, domain.StepCreateOU, err)
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, acct := range ou.Accounts {
		g.Go(func() error {
			e.metrics.IncrementActiveBranches()
			defer e.metrics.DecrementActiveBranches()
			return e.launchAccount(gctx, state, acct, ouID, region)
		})
	}
	return g.Wait()
}

// launchAccount runs one account's chain: create, move into its OU,
// then deploy each stack in dependency order. The chain halts at the
// first failed step.
func (e *Engine) launchAccount(ctx context.Context, state *runState, acct domain.TopologyAccount, ouID, region string) error {
	createKey := domain.AccountStepKey(domain.StepCreateAccount, acct.Email)
	out, ok, err := e.runStep(ctx, state, createKey, domain.StepCreateAccount, func(ctx context.Context) (map[string]string, error) {
		id, err := e.org.EnsureAccount(ctx, acct.Name, acct.Email, "")
		if err != nil {
			return nil, err
		}
		return map[string]string{"account_id": id}, nil
	})
	if err != nil || !ok {
		return err
	}
	if err := e.clearSteps(ctx, domain.AccountStepKey(domain.StepCloseAccount, acct.Email)); err != nil {
		return err
	}
	moveKey := domain.AccountStepKey(domain.StepMoveAccount, acct.Email)
	accountID, err := e.resolveAccountID(ctx, acct.Email, out)
	if err != nil {
		e.failBranch(ctx, state, moveKey, domain.StepMoveAccount, err)
		return nil
	}

	if _, ok, err = e.runStep(ctx, state, moveKey, domain.StepMoveAccount, func(ctx context.Context) (map[string]string, error) {
		return nil, e.org.PlaceAccount(ctx, accountID, ouID)
	}); err != nil || !ok {
		return err
	}

	for _, role := range acct.StackRoles() {
		dep := stackDeployment(accountID, region, role, domain.StatePresent)
		key := domain.StackStepKey(domain.StepDeployStack, acct.Email, dep.StackName)
		if _, ok, err = e.runStep(ctx, state, key, domain.StepDeployStack, func(ctx context.Context) (map[string]string, error) {
			_, err := e.deployer.Reconcile(ctx, dep)
			return nil, err
		}); err != nil || !ok {
			return err
		}
		if err := e.clearSteps(ctx, domain.StackStepKey(domain.StepDeleteStack, acct.Email, dep.StackName)); err != nil {
			return err
		}
	}
	return nil
}

// cleanupOU tears down all account branches of one OU, then deletes the
// OU. OU deletion tolerates failure when the provider still counts
// accounts whose closure has not finished; a later rerun retries it.
func (e *Engine) cleanupOU(ctx context.Context, state *runState, ou domain.TopologyOU, region string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, acct := range ou.Accounts {
		g.Go(func() error {
			e.metrics.IncrementActiveBranches()
			defer e.metrics.DecrementActiveBranches()
			return e.cleanupAccount(gctx, state, acct, region)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	deleteKey := domain.OUStepKey(domain.StepDeleteOU, ou.ParentID, ou.Name)
	ouID, found, err := e.org.FindOU(ctx, ou.Name, ou.ParentID)
	if err != nil {
		e.failBranch(ctx, state, deleteKey, domain.StepDeleteOU, err)
		return nil
	}
	var ok bool
	_, ok, err = e.runStep(ctx, state, deleteKey, domain.StepDeleteOU, func(ctx context.Context) (map[string]string, error) {
		if !found {
			return nil, nil
		}
		return nil, e.org.DeleteOU(ctx, ouID)
	})
	if err != nil || !ok {
		return err
	}
	return e.clearSteps(ctx, domain.OUStepKey(domain.StepCreateOU, ou.ParentID, ou.Name))
}

// cleanupAccount deletes one account's stacks in reverse dependency
// order, then requests closure. An account that no longer exists is
// already converged and its steps complete trivially.
func (e *Engine) cleanupAccount(ctx context.Context, state *runState, acct domain.TopologyAccount, region string) error {
	roles := acct.StackRoles()
	accountID, _, err := e.org.AccountIDByEmail(ctx, acct.Email)
	if err != nil {
		firstKey := domain.StackStepKey(domain.StepDeleteStack, acct.Email, StackNamePrefix+roles[len(roles)-1])
		e.failBranch(ctx, state, firstKey, domain.StepDeleteStack, err)
		return nil
	}

	for i := len(roles) - 1; i >= 0; i-- {
		role := roles[i]
		dep := stackDeployment(accountID, region, role, domain.StateAbsent)
		key := domain.StackStepKey(domain.StepDeleteStack, acct.Email, dep.StackName)
		var ok bool
		if _, ok, err = e.runStep(ctx, state, key, domain.StepDeleteStack, func(ctx context.Context) (map[string]string, error) {
			if accountID == "" {
				return nil, nil
			}
			_, err := e.deployer.Reconcile(ctx, dep)
			return nil, err
		}); err != nil || !ok {
			return err
		}
		if err := e.clearSteps(ctx, domain.StackStepKey(domain.StepDeployStack, acct.Email, dep.StackName)); err != nil {
			return err
		}
	}

	closeKey := domain.AccountStepKey(domain.StepCloseAccount, acct.Email)
	var ok bool
	_, ok, err = e.runStep(ctx, state, closeKey, domain.StepCloseAccount, func(ctx context.Context) (map[string]string, error) {
		if accountID == "" {
			return nil, nil
		}
		return nil, e.org.CloseAccount(ctx, accountID)
	})
	if err != nil || !ok {
		return err
	}
	return e.clearSteps(ctx,
		domain.AccountStepKey(domain.StepCreateAccount, acct.Email),
		domain.AccountStepKey(domain.StepMoveAccount, acct.Email))
}

// runStep executes fn under the step's idempotency key. Steps already
// DONE in the ledger are skipped and their recorded output returned.
// The bool reports whether the chain may continue past this step.
func (e *Engine) runStep(ctx context.Context, state *runState, key domain.StepKey, kind domain.StepKind, fn func(context.Context) (map[string]string, error)) (map[string]string, bool, error) {
	prev, exists, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("ledger get %s: %w", key, err)
	}
	if exists && prev.Status == domain.StepDone {
		e.logger.DebugContext(ctx, "step already done, skipping", "step", string(key))
		state.record(StepResult{Key: key, Kind: kind, Status: domain.StepDone, Skipped: true})
		return prev.Output, true, nil
	}
	if ctx.Err() != nil {
		// Cancellation stops new steps; in-flight provider operations
		// are picked up again on the next run.
		return nil, false, nil
	}

	ctx = observability.WithStepKey(ctx, string(key))
	runID := observability.RunIDFromContext(ctx)
	if err := e.store.Put(ctx, ledger.Record{
		Key: key, Kind: kind, Status: domain.StepInProgress, RunID: runID,
	}); err != nil {
		return nil, false, fmt.Errorf("ledger put %s: %w", key, err)
	}

	e.logger.InfoContext(ctx, "step started", "kind", string(kind))
	out, stepErr := fn(ctx)
	if stepErr != nil {
		diag := cloudcontrol.Diagnostic(stepErr)
		e.logger.ErrorContext(ctx, "step failed", "kind", string(kind), "error", stepErr)
		e.metrics.RecordStep(string(kind), string(domain.StepFailed))
		state.record(StepResult{Key: key, Kind: kind, Status: domain.StepFailed, Diagnostic: diag})
		if err := e.store.Put(ctx, ledger.Record{
			Key: key, Kind: kind, Status: domain.StepFailed, RunID: runID, Diagnostic: diag,
		}); err != nil {
			return nil, false, fmt.Errorf("ledger put %s: %w", key, err)
		}
		return nil, false, nil
	}

	e.logger.InfoContext(ctx, "step done", "kind", string(kind))
	e.metrics.RecordStep(string(kind), string(domain.StepDone))
	state.record(StepResult{Key: key, Kind: kind, Status: domain.StepDone})
	if err := e.store.Put(ctx, ledger.Record{
		Key: key, Kind: kind, Status: domain.StepDone, RunID: runID, Output: out,
	}); err != nil {
		return nil, false, fmt.Errorf("ledger put %s: %w", key, err)
	}
	return out, true, nil
}

// resolveAccountID recovers the account ID from a step's recorded
// output, falling back to an email lookup when the ledger predates
// output capture.
func (e *Engine) resolveAccountID(ctx context.Context, email string, out map[string]string) (string, error) {
	if id := out["account_id"]; id != "" {
		return id, nil
	}
	id, found, err := e.org.AccountIDByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("account %s not found after creation", email)
	}
	return id, nil
}

func stackDeployment(accountID, region, role string, desired domain.DesiredState) domain.StackDeployment {
	return domain.StackDeployment{
		AccountID:    accountID,
		Region:       region,
		StackName:    StackNamePrefix + role,
		Template:     domain.TemplateRef{Source: role + ".yaml"},
		DesiredState: desired,
	}
}

// Package stack reconciles a single stack's desired state in one
// account and region, polling provider operations to a terminal status.
package stack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"landingzone/internal/assume"
	"landingzone/internal/cloudcontrol"
	"landingzone/internal/domain"
	"landingzone/internal/observability"
)

// Outcome is the terminal result of a reconcile.
type Outcome string

const (
	// OutcomeSucceeded means the stack converged to the desired state.
	OutcomeSucceeded Outcome = "SUCCEEDED"
	// OutcomeFailed means the provider reached a failure state.
	OutcomeFailed Outcome = "FAILED"
	// OutcomeTimedOut means the operation was still running when the
	// polling deadline expired; it continues remotely and a later run
	// re-attaches to it.
	OutcomeTimedOut Outcome = "TIMED_OUT"
)

// Config tunes polling and diagnostics capture.
type Config struct {
	// PollInterval between status queries.
	PollInterval time.Duration
	// PollTimeout is the wall-clock budget per stack operation.
	PollTimeout time.Duration
	// EventLimit caps how many stack events are captured on failure.
	EventLimit int
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		PollTimeout:  30 * time.Minute,
		EventLimit:   10,
	}
}

// Result reports how a reconcile ended. Events carry the provider's
// diagnostic payload when the outcome is a failure.
type Result struct {
	Outcome Outcome
	Status  string
	Reason  string
	Events  []domain.StackEvent
}

// Deployer converges one stack at a time. All provider calls go
// through the retrying client; credentials come from the assumer and
// are invalidated on permanent failures observed while using them.
type Deployer struct {
	client  cloudcontrol.Client
	assumer *assume.Assumer
	clock   cloudcontrol.Clock
	cfg     Config
	logger  observability.Logger
}

// New creates a Deployer. logger may be nil.
func New(client cloudcontrol.Client, assumer *assume.Assumer, clock cloudcontrol.Clock, cfg Config, logger observability.Logger) *Deployer {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.EventLimit <= 0 {
		cfg.EventLimit = def.EventLimit
	}
	if clock == nil {
		clock = cloudcontrol.RealClock{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Deployer{
		client:  client,
		assumer: assumer,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.WithComponent("stack"),
	}
}

// Reconcile converges the deployment to its desired state and returns
// the terminal result. The returned error is nil exactly when the
// outcome is OutcomeSucceeded.
func (d *Deployer) Reconcile(ctx context.Context, dep domain.StackDeployment) (Result, error) {
	creds, err := d.assumer.Acquire(ctx, dep.AccountID)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("acquire credentials for %s: %w", dep.AccountID, err)
	}

	switch dep.DesiredState {
	case domain.StateAbsent:
		return d.reconcileAbsent(ctx, creds, dep)
	default:
		return d.reconcilePresent(ctx, creds, dep)
	}
}

func (d *Deployer) reconcilePresent(ctx context.Context, creds domain.ScopedCredentials, dep domain.StackDeployment) (Result, error) {
	info, err := d.client.DescribeStack(ctx, creds, dep.Region, dep.StackName)
	switch {
	case errors.Is(err, cloudcontrol.ErrStackNotFound):
		d.logger.InfoContext(ctx, "creating stack",
			"account_id", dep.AccountID, "region", dep.Region, "stack", dep.StackName)
		if err := d.client.CreateStack(ctx, creds, dep.Region, dep.StackName, dep.Template); err != nil {
			return d.failed(ctx, creds, dep, err)
		}
	case err != nil:
		return d.failed(ctx, creds, dep, err)
	case domain.StackStatusInProgress(info.Status):
		// An operation is already running; attach to it instead of
		// issuing another and conflicting with it.
		d.logger.InfoContext(ctx, "attaching to in-progress stack operation",
			"stack", dep.StackName, "status", info.Status)
	default:
		d.logger.InfoContext(ctx, "updating stack",
			"account_id", dep.AccountID, "region", dep.Region, "stack", dep.StackName)
		err := d.client.UpdateStack(ctx, creds, dep.Region, dep.StackName, dep.Template)
		if errors.Is(err, cloudcontrol.ErrNoUpdates) {
			// Desired template and parameters already deployed.
			return Result{Outcome: OutcomeSucceeded, Status: info.Status}, nil
		}
		if err != nil {
			return d.failed(ctx, creds, dep, err)
		}
	}

	return d.awaitPresent(ctx, creds, dep)
}

// awaitPresent polls until the stack settles, then judges the end state.
func (d *Deployer) awaitPresent(ctx context.Context, creds domain.ScopedCredentials, dep domain.StackDeployment) (Result, error) {
	var last domain.StackInfo
	err := cloudcontrol.Poll(ctx, d.clock, d.cfg.PollInterval, d.cfg.PollTimeout,
		func(ctx context.Context) (bool, error) {
			info, err := d.client.DescribeStack(ctx, creds, dep.Region, dep.StackName)
			if err != nil {
				return false, err
			}
			last = info
			return !domain.StackStatusInProgress(info.Status), nil
		})
	if errors.Is(err, cloudcontrol.ErrTimedOut) {
		return Result{Outcome: OutcomeTimedOut, Status: last.Status},
			fmt.Errorf("stack %s: %w", dep.StackName, cloudcontrol.ErrTimedOut)
	}
	if err != nil {
		return d.failed(ctx, creds, dep, err)
	}

	switch last.Status {
	case domain.StackStatusCreateComplete, domain.StackStatusUpdateComplete:
		return Result{Outcome: OutcomeSucceeded, Status: last.Status}, nil
	default:
		return d.failed(ctx, creds, dep,
			fmt.Errorf("stack %s ended %s: %s", dep.StackName, last.Status, last.StatusReason))
	}
}

func (d *Deployer) reconcileAbsent(ctx context.Context, creds domain.ScopedCredentials, dep domain.StackDeployment) (Result, error) {
	info, err := d.client.DescribeStack(ctx, creds, dep.Region, dep.StackName)
	switch {
	case errors.Is(err, cloudcontrol.ErrStackNotFound):
		// Already absent.
		return Result{Outcome: OutcomeSucceeded, Status: domain.StackStatusDeleteComplete}, nil
	case err != nil:
		return d.failed(ctx, creds, dep, err)
	case domain.StackStatusInProgress(info.Status):
		d.logger.InfoContext(ctx, "attaching to in-progress stack operation",
			"stack", dep.StackName, "status", info.Status)
	default:
		d.logger.InfoContext(ctx, "deleting stack",
			"account_id", dep.AccountID, "region", dep.Region, "stack", dep.StackName)
		if err := d.client.DeleteStack(ctx, creds, dep.Region, dep.StackName); err != nil {
			return d.failed(ctx, creds, dep, err)
		}
	}

	var last domain.StackInfo
	err = cloudcontrol.Poll(ctx, d.clock, d.cfg.PollInterval, d.cfg.PollTimeout,
		func(ctx context.Context) (bool, error) {
			info, err := d.client.DescribeStack(ctx, creds, dep.Region, dep.StackName)
			if errors.Is(err, cloudcontrol.ErrStackNotFound) {
				last = domain.StackInfo{Status: domain.StackStatusDeleteComplete}
				return true, nil
			}
			if err != nil {
				return false, err
			}
			last = info
			return !domain.StackStatusInProgress(info.Status), nil
		})
	if errors.Is(err, cloudcontrol.ErrTimedOut) {
		return Result{Outcome: OutcomeTimedOut, Status: last.Status},
			fmt.Errorf("stack %s: %w", dep.StackName, cloudcontrol.ErrTimedOut)
	}
	if err != nil {
		return d.failed(ctx, creds, dep, err)
	}

	if last.Status == domain.StackStatusDeleteComplete {
		return Result{Outcome: OutcomeSucceeded, Status: last.Status}, nil
	}
	return d.failed(ctx, creds, dep,
		fmt.Errorf("stack %s ended %s: %s", dep.StackName, last.Status, last.StatusReason))
}

// isAuthFailure reports whether the provider rejected the credentials
// themselves, as opposed to the requested operation.
func isAuthFailure(err error) bool {
	var ce *cloudcontrol.Error
	if !errors.As(err, &ce) || ce.Kind != cloudcontrol.KindPermanent {
		return false
	}
	switch ce.Code {
	case "AccessDenied", "AccessDeniedException", "ExpiredToken", "ExpiredTokenException",
		"InvalidClientTokenId", "UnrecognizedClientException":
		return true
	}
	return false
}

// failed builds the failure result, capturing recent stack events as
// diagnostic payload and eagerly dropping credentials the provider
// rejected.
func (d *Deployer) failed(ctx context.Context, creds domain.ScopedCredentials, dep domain.StackDeployment, err error) (Result, error) {
	if isAuthFailure(err) {
		d.assumer.Invalidate(dep.AccountID)
	}

	events, evErr := d.client.StackEvents(ctx, creds, dep.Region, dep.StackName, d.cfg.EventLimit)
	if evErr != nil {
		d.logger.DebugContext(ctx, "could not capture stack events",
			"stack", dep.StackName, "error", evErr)
		events = nil
	}
	return Result{
		Outcome: OutcomeFailed,
		Reason:  err.Error(),
		Events:  events,
	}, fmt.Errorf("reconcile stack %s in %s/%s: %w", dep.StackName, dep.AccountID, dep.Region, err)
}

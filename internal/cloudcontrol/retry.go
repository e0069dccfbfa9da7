package cloudcontrol

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"landingzone/internal/domain"
	"landingzone/internal/observability"
)

// RetryConfig tunes the retry layer. The zero value disables rate
// limiting and uses the defaults below.
type RetryConfig struct {
	// MaxTransientTries bounds attempts for transient failures.
	// Throttled failures are retried for as long as the context allows.
	MaxTransientTries int
	// InitialInterval is the first backoff delay; subsequent delays grow
	// exponentially with jitter up to MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed caps the total retry time per call. Zero means the
	// calling context is the only bound.
	MaxElapsed time.Duration
	// RequestsPerSecond and Burst configure the provider-call rate
	// limiter. Zero RequestsPerSecond disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// DefaultRetryConfig returns the defaults used by the CLI.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTransientTries: 4,
		InitialInterval:   500 * time.Millisecond,
		MaxInterval:       30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// Retrying decorates a Client with rate limiting and exponential
// backoff with jitter. Throttled failures retry until the context is
// done, transient failures retry a bounded number of times, permanent
// failures abort immediately.
type Retrying struct {
	inner   Client
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  observability.Logger
	metrics *observability.Metrics
}

var _ Client = (*Retrying)(nil)

// NewRetrying wraps inner with the retry policy. logger and metrics
// may be nil.
func NewRetrying(inner Client, cfg RetryConfig, logger observability.Logger, metrics *observability.Metrics) *Retrying {
	if cfg.MaxTransientTries <= 0 {
		cfg.MaxTransientTries = DefaultRetryConfig().MaxTransientTries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultRetryConfig().MaxInterval
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Retrying{
		inner:   inner,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.WithComponent("cloudcontrol"),
		metrics: metrics,
	}
}

// do runs one provider call under the retry policy.
func (r *Retrying) do(ctx context.Context, op string, call func(context.Context) error) error {
	transient := 0
	operation := func() (struct{}, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		start := time.Now()
		err := call(ctx)
		if r.metrics != nil {
			r.metrics.RecordProviderCall(op, err == nil, time.Since(start))
		}
		switch {
		case err == nil:
			return struct{}{}, nil
		case IsThrottled(err):
			if r.metrics != nil {
				r.metrics.RecordThrottle(op)
			}
			r.logger.DebugContext(ctx, "provider call throttled, backing off", "op", op)
			return struct{}{}, err
		case IsTransient(err):
			transient++
			if transient > r.cfg.MaxTransientTries {
				return struct{}{}, backoff.Permanent(err)
			}
			if r.metrics != nil {
				r.metrics.RecordRetry(op)
			}
			r.logger.DebugContext(ctx, "provider call failed, retrying",
				"op", op, "attempt", transient, "error", err)
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if r.cfg.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(r.cfg.MaxElapsed))
	}
	_, err := backoff.Retry(ctx, operation, opts...)
	return err
}

func (r *Retrying) RootID(ctx context.Context) (string, error) {
	var out string
	err := r.do(ctx, "RootID", func(ctx context.Context) error {
		var err error
		out, err = r.inner.RootID(ctx)
		return err
	})
	return out, err
}

func (r *Retrying) CreateOU(ctx context.Context, parentID, name string) (domain.OrganizationalUnit, error) {
	var out domain.OrganizationalUnit
	err := r.do(ctx, "CreateOU", func(ctx context.Context) error {
		var err error
		out, err = r.inner.CreateOU(ctx, parentID, name)
		return err
	})
	return out, err
}

func (r *Retrying) ListOUs(ctx context.Context, parentID string) ([]domain.OrganizationalUnit, error) {
	var out []domain.OrganizationalUnit
	err := r.do(ctx, "ListOUs", func(ctx context.Context) error {
		var err error
		out, err = r.inner.ListOUs(ctx, parentID)
		return err
	})
	return out, err
}

func (r *Retrying) DeleteOU(ctx context.Context, ouID string) error {
	return r.do(ctx, "DeleteOU", func(ctx context.Context) error {
		return r.inner.DeleteOU(ctx, ouID)
	})
}

func (r *Retrying) CreateAccount(ctx context.Context, name, email string) (string, error) {
	var out string
	err := r.do(ctx, "CreateAccount", func(ctx context.Context) error {
		var err error
		out, err = r.inner.CreateAccount(ctx, name, email)
		return err
	})
	return out, err
}

func (r *Retrying) DescribeAccountRequest(ctx context.Context, requestID string) (domain.AccountRequest, error) {
	var out domain.AccountRequest
	err := r.do(ctx, "DescribeAccountRequest", func(ctx context.Context) error {
		var err error
		out, err = r.inner.DescribeAccountRequest(ctx, requestID)
		return err
	})
	return out, err
}

func (r *Retrying) MoveAccount(ctx context.Context, accountID, sourceParentID, destParentID string) error {
	return r.do(ctx, "MoveAccount", func(ctx context.Context) error {
		return r.inner.MoveAccount(ctx, accountID, sourceParentID, destParentID)
	})
}

func (r *Retrying) CloseAccount(ctx context.Context, accountID string) error {
	return r.do(ctx, "CloseAccount", func(ctx context.Context) error {
		return r.inner.CloseAccount(ctx, accountID)
	})
}

func (r *Retrying) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var out []domain.Account
	err := r.do(ctx, "ListAccounts", func(ctx context.Context) error {
		var err error
		out, err = r.inner.ListAccounts(ctx)
		return err
	})
	return out, err
}

func (r *Retrying) ListAccountsForParent(ctx context.Context, parentID string) ([]domain.Account, error) {
	var out []domain.Account
	err := r.do(ctx, "ListAccountsForParent", func(ctx context.Context) error {
		var err error
		out, err = r.inner.ListAccountsForParent(ctx, parentID)
		return err
	})
	return out, err
}

func (r *Retrying) ParentID(ctx context.Context, childID string) (string, error) {
	var out string
	err := r.do(ctx, "ParentID", func(ctx context.Context) error {
		var err error
		out, err = r.inner.ParentID(ctx, childID)
		return err
	})
	return out, err
}

func (r *Retrying) AttachPolicy(ctx context.Context, policyID, targetID string) error {
	return r.do(ctx, "AttachPolicy", func(ctx context.Context) error {
		return r.inner.AttachPolicy(ctx, policyID, targetID)
	})
}

func (r *Retrying) AssumeRole(ctx context.Context, accountID, roleName, sessionName string) (domain.ScopedCredentials, error) {
	var out domain.ScopedCredentials
	err := r.do(ctx, "AssumeRole", func(ctx context.Context) error {
		var err error
		out, err = r.inner.AssumeRole(ctx, accountID, roleName, sessionName)
		return err
	})
	return out, err
}

func (r *Retrying) DescribeStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string) (domain.StackInfo, error) {
	var out domain.StackInfo
	err := r.do(ctx, "DescribeStack", func(ctx context.Context) error {
		var err error
		out, err = r.inner.DescribeStack(ctx, creds, region, stackName)
		return err
	})
	return out, err
}

func (r *Retrying) CreateStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, tmpl domain.TemplateRef) error {
	return r.do(ctx, "CreateStack", func(ctx context.Context) error {
		return r.inner.CreateStack(ctx, creds, region, stackName, tmpl)
	})
}

func (r *Retrying) UpdateStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, tmpl domain.TemplateRef) error {
	return r.do(ctx, "UpdateStack", func(ctx context.Context) error {
		return r.inner.UpdateStack(ctx, creds, region, stackName, tmpl)
	})
}

func (r *Retrying) DeleteStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string) error {
	return r.do(ctx, "DeleteStack", func(ctx context.Context) error {
		return r.inner.DeleteStack(ctx, creds, region, stackName)
	})
}

func (r *Retrying) StackEvents(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, limit int) ([]domain.StackEvent, error) {
	var out []domain.StackEvent
	err := r.do(ctx, "StackEvents", func(ctx context.Context) error {
		var err error
		out, err = r.inner.StackEvents(ctx, creds, region, stackName, limit)
		return err
	})
	return out, err
}

// Package assume acquires and caches short-lived scoped credentials
// for member accounts by assuming the organization's well-known
// cross-account role.
package assume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"landingzone/internal/cloudcontrol"
	"landingzone/internal/domain"
	"landingzone/internal/observability"
)

// DefaultRoleName is the role the organization provisions in every
// member account at creation time.
const DefaultRoleName = "OrganizationAccountAccessRole"

// DefaultSessionPrefix names assumed sessions; the workflow run ID is
// appended so provider audit logs tie sessions to runs.
const DefaultSessionPrefix = "landing-zone-deployment"

// Config tunes the assumer.
type Config struct {
	// RoleName is the cross-account role to assume.
	RoleName string
	// SessionPrefix prefixes the role session name.
	SessionPrefix string
	// RunID is appended to the session name.
	RunID string
	// Margin is subtracted from the credential expiry when checking
	// cache validity, so callers never receive nearly-expired creds.
	Margin time.Duration
	// PropagationWindow bounds how long an AssumeRoleDenied failure is
	// retried. The role takes a little while to exist in a freshly
	// created account; past the window the failure is surfaced as-is.
	PropagationWindow time.Duration
	// PropagationInterval is the retry interval within the window.
	PropagationInterval time.Duration
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		RoleName:            DefaultRoleName,
		SessionPrefix:       DefaultSessionPrefix,
		Margin:              5 * time.Minute,
		PropagationWindow:   2 * time.Minute,
		PropagationInterval: 10 * time.Second,
	}
}

// Assumer caches per-account scoped credentials. The cache is the only
// state shared across concurrent workflow branches; refresh is
// serialized per account so a given interval triggers one provider
// call and every waiter shares its result.
type Assumer struct {
	client cloudcontrol.Client
	clock  cloudcontrol.Clock
	cfg    Config
	logger observability.Logger

	mu    sync.RWMutex
	cache map[string]domain.ScopedCredentials
	group singleflight.Group
}

// New creates an Assumer. logger may be nil.
func New(client cloudcontrol.Client, clock cloudcontrol.Clock, cfg Config, logger observability.Logger) *Assumer {
	def := DefaultConfig()
	if cfg.RoleName == "" {
		cfg.RoleName = def.RoleName
	}
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = def.SessionPrefix
	}
	if cfg.Margin <= 0 {
		cfg.Margin = def.Margin
	}
	if cfg.PropagationWindow <= 0 {
		cfg.PropagationWindow = def.PropagationWindow
	}
	if cfg.PropagationInterval <= 0 {
		cfg.PropagationInterval = def.PropagationInterval
	}
	if clock == nil {
		clock = cloudcontrol.RealClock{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Assumer{
		client: client,
		clock:  clock,
		cfg:    cfg,
		logger: logger.WithComponent("assume"),
		cache:  make(map[string]domain.ScopedCredentials),
	}
}

// SessionName returns the role session name used for assumed sessions.
func (a *Assumer) SessionName() string {
	if a.cfg.RunID == "" {
		return a.cfg.SessionPrefix
	}
	return fmt.Sprintf("%s-%s", a.cfg.SessionPrefix, a.cfg.RunID)
}

// Acquire returns valid scoped credentials for the account, from cache
// when possible. Concurrent callers for the same account share one
// provider call.
func (a *Assumer) Acquire(ctx context.Context, accountID string) (domain.ScopedCredentials, error) {
	if creds, ok := a.cached(accountID); ok {
		return creds, nil
	}

	v, err, _ := a.group.Do(accountID, func() (any, error) {
		// Another waiter may have refreshed while we queued.
		if creds, ok := a.cached(accountID); ok {
			return creds, nil
		}
		creds, err := a.refresh(ctx, accountID)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.cache[accountID] = creds
		a.mu.Unlock()
		return creds, nil
	})
	if err != nil {
		return domain.ScopedCredentials{}, err
	}
	return v.(domain.ScopedCredentials), nil
}

// Invalidate drops the cached credentials for an account. Callers do
// this on any authorization failure observed while using them.
func (a *Assumer) Invalidate(accountID string) {
	a.mu.Lock()
	delete(a.cache, accountID)
	a.mu.Unlock()
}

func (a *Assumer) cached(accountID string) (domain.ScopedCredentials, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	creds, ok := a.cache[accountID]
	if !ok || !creds.Valid(a.clock.Now(), a.cfg.Margin) {
		return domain.ScopedCredentials{}, false
	}
	return creds, true
}

// refresh assumes the role, retrying AssumeRoleDenied within the
// propagation window.
func (a *Assumer) refresh(ctx context.Context, accountID string) (domain.ScopedCredentials, error) {
	var creds domain.ScopedCredentials
	var lastErr error

	err := cloudcontrol.Poll(ctx, a.clock, a.cfg.PropagationInterval, a.cfg.PropagationWindow,
		func(ctx context.Context) (bool, error) {
			var err error
			creds, err = a.client.AssumeRole(ctx, accountID, a.cfg.RoleName, a.SessionName())
			if err == nil {
				return true, nil
			}
			if errors.Is(err, cloudcontrol.ErrAssumeRoleDenied) {
				lastErr = err
				a.logger.DebugContext(ctx, "assume role denied, waiting for role propagation",
					"account_id", accountID)
				return false, nil
			}
			return false, err
		})
	if err != nil {
		if errors.Is(err, cloudcontrol.ErrTimedOut) && lastErr != nil {
			return domain.ScopedCredentials{}, lastErr
		}
		return domain.ScopedCredentials{}, err
	}
	return creds, nil
}

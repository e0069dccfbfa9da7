// Package orgunit manages organizational units and member accounts:
// idempotent OU/account creation, account moves, closure requests, and
// precondition-checked OU deletion.
package orgunit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"landingzone/internal/cloudcontrol"
	"landingzone/internal/domain"
	"landingzone/internal/observability"
)

// Config tunes account-creation polling. Account creation is the
// slowest operation in the system and gets a longer interval and
// timeout than stack operations.
type Config struct {
	AccountPollInterval time.Duration
	AccountPollTimeout  time.Duration
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		AccountPollInterval: 30 * time.Second,
		AccountPollTimeout:  20 * time.Minute,
	}
}

// Manager performs organization-level operations through the retrying
// client. It caches the organization root ID for the process lifetime.
type Manager struct {
	client cloudcontrol.Client
	clock  cloudcontrol.Clock
	cfg    Config
	logger observability.Logger

	rootOnce sync.Once
	rootID   string
	rootErr  error
}

// New creates a Manager. logger may be nil.
func New(client cloudcontrol.Client, clock cloudcontrol.Clock, cfg Config, logger observability.Logger) *Manager {
	def := DefaultConfig()
	if cfg.AccountPollInterval <= 0 {
		cfg.AccountPollInterval = def.AccountPollInterval
	}
	if cfg.AccountPollTimeout <= 0 {
		cfg.AccountPollTimeout = def.AccountPollTimeout
	}
	if clock == nil {
		clock = cloudcontrol.RealClock{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Manager{
		client: client,
		clock:  clock,
		cfg:    cfg,
		logger: logger.WithComponent("orgunit"),
	}
}

// RootID returns the organization root ID, cached after the first call.
func (m *Manager) RootID(ctx context.Context) (string, error) {
	m.rootOnce.Do(func() {
		m.rootID, m.rootErr = m.client.RootID(ctx)
	})
	return m.rootID, m.rootErr
}

// EnsureOU returns the ID of the OU with the given name under parentID,
// creating it if it does not exist.
func (m *Manager) EnsureOU(ctx context.Context, name, parentID string) (string, error) {
	existing, err := m.client.ListOUs(ctx, parentID)
	if err != nil {
		return "", fmt.Errorf("list OUs under %s: %w", parentID, err)
	}
	for _, ou := range existing {
		if ou.Name == name {
			m.logger.DebugContext(ctx, "ou already exists", "name", name, "ou_id", ou.ID)
			return ou.ID, nil
		}
	}

	ou, err := m.client.CreateOU(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("create OU %q under %s: %w", name, parentID, err)
	}
	m.logger.InfoContext(ctx, "created organizational unit",
		"name", name, "ou_id", ou.ID, "parent_id", parentID)
	return ou.ID, nil
}

// EnsureAccount returns the ID of the account with the given email,
// creating it if necessary and moving it under ouID. Creation is
// asynchronous: the request is polled until it reaches a terminal
// state. An empty ouID leaves the account under the root.
func (m *Manager) EnsureAccount(ctx context.Context, name, email, ouID string) (string, error) {
	accountID, err := m.findAccountByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	if accountID == "" {
		accountID, err = m.createAccount(ctx, name, email)
		if err != nil {
			return "", err
		}
	} else {
		m.logger.DebugContext(ctx, "account already exists", "email", email, "account_id", accountID)
	}

	if ouID != "" {
		if err := m.ensurePlacement(ctx, accountID, ouID); err != nil {
			return "", err
		}
	}
	return accountID, nil
}

// FindOU returns the ID of the OU named name under parentID. The bool
// reports whether it exists.
func (m *Manager) FindOU(ctx context.Context, name, parentID string) (string, bool, error) {
	existing, err := m.client.ListOUs(ctx, parentID)
	if err != nil {
		return "", false, fmt.Errorf("list OUs under %s: %w", parentID, err)
	}
	for _, ou := range existing {
		if ou.Name == name {
			return ou.ID, true, nil
		}
	}
	return "", false, nil
}

// AccountIDByEmail returns the ID of the account with the given email.
// The bool reports whether it exists.
func (m *Manager) AccountIDByEmail(ctx context.Context, email string) (string, bool, error) {
	id, err := m.findAccountByEmail(ctx, email)
	if err != nil {
		return "", false, err
	}
	return id, id != "", nil
}

// PlaceAccount moves the account under ouID unless it is already there.
func (m *Manager) PlaceAccount(ctx context.Context, accountID, ouID string) error {
	return m.ensurePlacement(ctx, accountID, ouID)
}

func (m *Manager) findAccountByEmail(ctx context.Context, email string) (string, error) {
	accounts, err := m.client.ListAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("list accounts: %w", err)
	}
	for _, acct := range accounts {
		if acct.Email == email {
			return acct.ID, nil
		}
	}
	return "", nil
}

func (m *Manager) createAccount(ctx context.Context, name, email string) (string, error) {
	requestID, err := m.client.CreateAccount(ctx, name, email)
	if err != nil {
		return "", fmt.Errorf("create account %q: %w", name, err)
	}
	m.logger.InfoContext(ctx, "account creation requested",
		"name", name, "email", email, "request_id", requestID)

	var accountID string
	err = cloudcontrol.Poll(ctx, m.clock, m.cfg.AccountPollInterval, m.cfg.AccountPollTimeout,
		func(ctx context.Context) (bool, error) {
			req, err := m.client.DescribeAccountRequest(ctx, requestID)
			if err != nil {
				return false, err
			}
			switch req.State {
			case domain.AccountRequestSucceeded:
				accountID = req.AccountID
				return true, nil
			case domain.AccountRequestFailed:
				// Commonly a duplicate email; the provider will reject
				// the same request forever, so this is permanent.
				return false, cloudcontrol.NewError("CreateAccount", string(req.State),
					cloudcontrol.KindPermanent,
					fmt.Errorf("account creation failed: %s", req.FailureReason))
			default:
				return false, nil
			}
		})
	if err != nil {
		return "", fmt.Errorf("await account %q: %w", name, err)
	}

	m.logger.InfoContext(ctx, "account created", "name", name, "account_id", accountID)
	return accountID, nil
}

// ensurePlacement moves the account under ouID unless it is already there.
func (m *Manager) ensurePlacement(ctx context.Context, accountID, ouID string) error {
	current, err := m.client.ParentID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("resolve parent of %s: %w", accountID, err)
	}
	if current == ouID {
		return nil
	}
	if err := m.client.MoveAccount(ctx, accountID, current, ouID); err != nil {
		return fmt.Errorf("move account %s to %s: %w", accountID, ouID, err)
	}
	m.logger.InfoContext(ctx, "moved account", "account_id", accountID, "from", current, "to", ouID)
	return nil
}

// CloseAccount moves the account back under the root and requests
// closure. It returns once the request is accepted: closure itself
// completes out of band over a multi-day horizon and is not awaited.
func (m *Manager) CloseAccount(ctx context.Context, accountID string) error {
	rootID, err := m.RootID(ctx)
	if err != nil {
		return err
	}
	if err := m.ensurePlacement(ctx, accountID, rootID); err != nil {
		return err
	}
	if err := m.client.CloseAccount(ctx, accountID); err != nil {
		return fmt.Errorf("close account %s: %w", accountID, err)
	}
	m.logger.InfoContext(ctx, "account closure requested", "account_id", accountID)
	return nil
}

// DeleteOU deletes an empty OU. It fails with ErrOUNotEmpty while the
// OU still owns accounts or child OUs; callers must have removed or
// closed them first.
func (m *Manager) DeleteOU(ctx context.Context, ouID string) error {
	accounts, err := m.client.ListAccountsForParent(ctx, ouID)
	if err != nil {
		return fmt.Errorf("list accounts under %s: %w", ouID, err)
	}
	children, err := m.client.ListOUs(ctx, ouID)
	if err != nil {
		return fmt.Errorf("list child OUs under %s: %w", ouID, err)
	}
	if len(accounts) > 0 || len(children) > 0 {
		return cloudcontrol.NewError("DeleteOU", "", cloudcontrol.KindPermanent,
			fmt.Errorf("%w: %s owns %d accounts and %d OUs",
				cloudcontrol.ErrOUNotEmpty, ouID, len(accounts), len(children)))
	}

	if err := m.client.DeleteOU(ctx, ouID); err != nil {
		return fmt.Errorf("delete OU %s: %w", ouID, err)
	}
	m.logger.InfoContext(ctx, "deleted organizational unit", "ou_id", ouID)
	return nil
}

// AttachPolicy attaches a service control policy to an OU or account.
func (m *Manager) AttachPolicy(ctx context.Context, policyID, targetID string) error {
	if err := m.client.AttachPolicy(ctx, policyID, targetID); err != nil {
		return fmt.Errorf("attach policy %s to %s: %w", policyID, targetID, err)
	}
	m.logger.InfoContext(ctx, "attached policy", "policy_id", policyID, "target_id", targetID)
	return nil
}

// ListAccounts returns all active accounts in the organization.
func (m *Manager) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return m.client.ListAccounts(ctx)
}

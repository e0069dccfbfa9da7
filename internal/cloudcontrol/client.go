// Package cloudcontrol defines the capability interface over the cloud
// provider's organization, identity, and stack-deployment APIs, the
// three-way failure taxonomy every call is normalized into, and a
// retry layer that applies rate limiting and backoff uniformly.
package cloudcontrol

import (
	"context"

	"landingzone/internal/domain"
)

// Client is the narrow surface the orchestrator consumes. An
// implementation performs no business logic: it issues one provider
// call per method and normalizes failures into *Error values carrying
// a Kind plus the provider's diagnostic payload.
//
// Stack operations take explicit scoped credentials because they run
// in the target account, not the management account.
type Client interface {
	// Organization operations (management account).
	RootID(ctx context.Context) (string, error)
	CreateOU(ctx context.Context, parentID, name string) (domain.OrganizationalUnit, error)
	ListOUs(ctx context.Context, parentID string) ([]domain.OrganizationalUnit, error)
	DeleteOU(ctx context.Context, ouID string) error
	CreateAccount(ctx context.Context, name, email string) (requestID string, err error)
	DescribeAccountRequest(ctx context.Context, requestID string) (domain.AccountRequest, error)
	MoveAccount(ctx context.Context, accountID, sourceParentID, destParentID string) error
	CloseAccount(ctx context.Context, accountID string) error
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	ListAccountsForParent(ctx context.Context, parentID string) ([]domain.Account, error)
	ParentID(ctx context.Context, childID string) (string, error)
	AttachPolicy(ctx context.Context, policyID, targetID string) error

	// Identity operations.
	AssumeRole(ctx context.Context, accountID, roleName, sessionName string) (domain.ScopedCredentials, error)

	// Stack operations (target account, scoped credentials).
	DescribeStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string) (domain.StackInfo, error)
	CreateStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, tmpl domain.TemplateRef) error
	UpdateStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, tmpl domain.TemplateRef) error
	DeleteStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string) error
	StackEvents(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, limit int) ([]domain.StackEvent, error)
}

// Package domain holds the core types shared across the landing-zone
// orchestrator: organization entities, scoped credentials, stack
// deployments, and workflow step identities.
package domain

import "time"

// OrganizationalUnit is a grouping node in the account hierarchy.
// ID is assigned by the provider and empty until the OU is created.
type OrganizationalUnit struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

// Account is a member account of the organization.
// ID is assigned by the provider; Email is globally unique.
// An empty OUID means the account sits directly under the root.
type Account struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	OUID        string `json:"ou_id,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// AccountRequestState is the state of an asynchronous account-creation request.
type AccountRequestState string

const (
	AccountRequestInProgress AccountRequestState = "IN_PROGRESS"
	AccountRequestSucceeded  AccountRequestState = "SUCCEEDED"
	AccountRequestFailed     AccountRequestState = "FAILED"
)

// AccountRequest is the polled status of an account-creation request.
type AccountRequest struct {
	RequestID     string
	AccountID     string
	State         AccountRequestState
	FailureReason string
}

// ScopedCredentials are short-lived credentials for a single account,
// obtained by assuming the cross-account role. They are never persisted.
type ScopedCredentials struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ExpiresAt       time.Time
}

// Valid reports whether the credentials are still usable at the given
// time, leaving margin before the real expiry.
func (c ScopedCredentials) Valid(now time.Time, margin time.Duration) bool {
	if c.AccessKeyID == "" {
		return false
	}
	return now.Add(margin).Before(c.ExpiresAt)
}

// DesiredState is the target state of a stack deployment.
type DesiredState string

const (
	StatePresent DesiredState = "PRESENT"
	StateAbsent  DesiredState = "ABSENT"
)

// TemplateRef is an opaque handle to a stack template: a source locator
// plus deployment parameters. The orchestrator never interprets the
// template body.
type TemplateRef struct {
	Source     string            `json:"source" yaml:"source"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// StackDeployment describes the desired state of one stack in one
// account and region. Live status is never cached locally; it is always
// re-queried from the provider.
type StackDeployment struct {
	AccountID    string
	Region       string
	StackName    string
	Template     TemplateRef
	DesiredState DesiredState
}

// StackInfo is a point-in-time view of a stack at the provider.
type StackInfo struct {
	Name         string
	Status       string
	StatusReason string
}

// StackEvent is a single provider-side event for a stack, captured as
// diagnostic payload when an operation fails.
type StackEvent struct {
	Timestamp time.Time
	LogicalID string
	Status    string
	Reason    string
}

// Stack status values as reported by the provider.
const (
	StackStatusCreateInProgress         = "CREATE_IN_PROGRESS"
	StackStatusCreateComplete           = "CREATE_COMPLETE"
	StackStatusCreateFailed             = "CREATE_FAILED"
	StackStatusUpdateInProgress         = "UPDATE_IN_PROGRESS"
	StackStatusUpdateComplete           = "UPDATE_COMPLETE"
	StackStatusUpdateRollbackInProgress = "UPDATE_ROLLBACK_IN_PROGRESS"
	StackStatusUpdateRollbackComplete   = "UPDATE_ROLLBACK_COMPLETE"
	StackStatusRollbackInProgress       = "ROLLBACK_IN_PROGRESS"
	StackStatusRollbackComplete         = "ROLLBACK_COMPLETE"
	StackStatusDeleteInProgress         = "DELETE_IN_PROGRESS"
	StackStatusDeleteComplete           = "DELETE_COMPLETE"
	StackStatusDeleteFailed             = "DELETE_FAILED"
)

// StackStatusInProgress reports whether the given status is a transitional
// state with a provider-side operation still running.
func StackStatusInProgress(status string) bool {
	switch status {
	case StackStatusCreateInProgress,
		StackStatusUpdateInProgress,
		StackStatusUpdateRollbackInProgress,
		StackStatusRollbackInProgress,
		StackStatusDeleteInProgress:
		return true
	}
	return false
}

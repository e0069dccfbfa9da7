package domain

import "fmt"

// StepKind names a unit of work in a workflow.
type StepKind string

const (
	StepCreateOU      StepKind = "createOU"
	StepCreateAccount StepKind = "createAccount"
	StepMoveAccount   StepKind = "moveAccount"
	StepDeployStack   StepKind = "deployStack"
	StepDeleteStack   StepKind = "deleteStack"
	StepCloseAccount  StepKind = "closeAccount"
	StepDeleteOU      StepKind = "deleteOU"
	StepAttachPolicy  StepKind = "attachPolicy"
)

// StepStatus is the execution state of a single workflow step.
type StepStatus string

const (
	StepNotStarted StepStatus = "NOT_STARTED"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepDone       StepStatus = "DONE"
	StepFailed     StepStatus = "FAILED"
)

// RunStatus is the overall state of a workflow run.
type RunStatus string

const (
	RunPending            RunStatus = "PENDING"
	RunRunning            RunStatus = "RUNNING"
	RunCompleted          RunStatus = "COMPLETED"
	RunFailed             RunStatus = "FAILED"
	RunPartiallyCompleted RunStatus = "PARTIALLY_COMPLETED"
)

// StepKey is the natural idempotency key of a workflow step. Keys are
// built from topology-stable identifiers (names, emails) rather than
// provider-assigned IDs so that a rerun against the same topology
// produces the same keys before any IDs are known.
type StepKey string

// OUStepKey keys an OU-level step by parent and OU name.
func OUStepKey(kind StepKind, parentID, name string) StepKey {
	return StepKey(fmt.Sprintf("%s/%s/%s", kind, parentID, name))
}

// AccountStepKey keys an account-level step by the account's email,
// the one identifier the provider enforces as globally unique.
func AccountStepKey(kind StepKind, email string) StepKey {
	return StepKey(fmt.Sprintf("%s/%s", kind, email))
}

// StackStepKey keys a stack-level step by account email and stack name.
func StackStepKey(kind StepKind, email, stackName string) StepKey {
	return StepKey(fmt.Sprintf("%s/%s/%s", kind, email, stackName))
}

// PolicyStepKey keys a policy attachment by policy and target.
func PolicyStepKey(policyID, targetID string) StepKey {
	return StepKey(fmt.Sprintf("%s/%s/%s", StepAttachPolicy, policyID, targetID))
}

package workflow

import (
	"time"

	"landingzone/internal/domain"
)

// StepResult is the recorded outcome of one step in a run.
type StepResult struct {
	// Key is the step's idempotency key.
	Key domain.StepKey
	// Kind is the step's operation kind.
	Kind domain.StepKind
	// Status is the step's terminal status for this run.
	Status domain.StepStatus
	// Diagnostic carries the provider's failure detail when Status is
	// FAILED.
	Diagnostic string
	// Skipped reports that the step was already DONE in a previous run
	// and was not re-executed.
	Skipped bool
}

// Report summarizes one workflow run.
type Report struct {
	RunID    string
	Status   domain.RunStatus
	Started  time.Time
	Finished time.Time
	Steps    []StepResult
}

// FailedKeys returns the idempotency keys of all failed steps.
func (r *Report) FailedKeys() []domain.StepKey {
	var keys []domain.StepKey
	for _, s := range r.Steps {
		if s.Status == domain.StepFailed {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

// resolve computes the run status from the recorded steps: all clean
// means COMPLETED, all failed means FAILED, a mix means
// PARTIALLY_COMPLETED.
func (r *Report) resolve() {
	var done, failed int
	for _, s := range r.Steps {
		switch s.Status {
		case domain.StepFailed:
			failed++
		case domain.StepDone:
			done++
		}
	}
	switch {
	case failed == 0:
		r.Status = domain.RunCompleted
	case done == 0:
		r.Status = domain.RunFailed
	default:
		r.Status = domain.RunPartiallyCompleted
	}
}

package cloudcontrol

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure for retry decisions. Every error
// surfaced by a Client implementation carries exactly one kind.
type Kind int

const (
	// KindPermanent covers validation, duplicate, not-found, and other
	// 4xx-class failures. Never retried.
	KindPermanent Kind = iota
	// KindThrottled covers rate-limit rejections. Retried with backoff
	// for as long as the calling context allows.
	KindThrottled
	// KindTransient covers network failures and 5xx-class responses.
	// Retried a bounded number of times.
	KindTransient
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindThrottled:
		return "throttled"
	case KindTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// Sentinel errors surfaced by Client implementations. Callers match
// with errors.Is; each is wrapped in an *Error carrying the provider's
// diagnostic payload.
var (
	// ErrStackNotFound indicates the described stack does not exist.
	ErrStackNotFound = errors.New("stack not found")

	// ErrNoUpdates indicates an update was a no-op: the deployed
	// template and parameters already match the desired ones.
	ErrNoUpdates = errors.New("no updates to be performed")

	// ErrOUNotEmpty indicates the OU still owns accounts or child OUs.
	ErrOUNotEmpty = errors.New("organizational unit not empty")

	// ErrAssumeRoleDenied indicates the cross-account role could not be
	// assumed. Common right after account creation, before the role has
	// propagated; callers retry with backoff for a bounded window.
	ErrAssumeRoleDenied = errors.New("assume role denied")

	// ErrTimedOut indicates a provider operation was still pending when
	// the polling deadline expired. The operation continues remotely and
	// can be re-attached on a later run.
	ErrTimedOut = errors.New("operation timed out")
)

// Error is a classified provider failure. Op names the provider call,
// Code is the provider's error code when one was returned, and Err
// carries the raw diagnostic (possibly a sentinel).
type Error struct {
	Op   string
	Code string
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(op, code string, kind Kind, err error) *Error {
	return &Error{Op: op, Code: code, Kind: kind, Err: err}
}

// KindOf extracts the failure kind. Errors that did not come through a
// Client are treated as permanent.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindPermanent
}

// IsThrottled reports whether err is a rate-limit rejection.
func IsThrottled(err error) bool { return err != nil && KindOf(err) == KindThrottled }

// IsTransient reports whether err is a bounded-retry failure.
func IsTransient(err error) bool { return err != nil && KindOf(err) == KindTransient }

// IsPermanent reports whether err should abort without retry.
func IsPermanent(err error) bool { return err != nil && KindOf(err) == KindPermanent }

// Diagnostic returns the provider's raw diagnostic for reporting: the
// wrapped error text plus the provider code when present.
func Diagnostic(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Code != "" {
			return fmt.Sprintf("%s: %v", ce.Code, ce.Err)
		}
		return ce.Err.Error()
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

package cloudcontrol_test

import (
	"errors"
	"strings"
	"testing"

	"landingzone/internal/cloudcontrol"
)

func TestKindClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      cloudcontrol.Kind
		throttled bool
		transient bool
		permanent bool
	}{
		{
			name:      "permanent",
			err:       cloudcontrol.NewError("CreateOU", "DuplicateOrganizationalUnitException", cloudcontrol.KindPermanent, errors.New("duplicate")),
			kind:      cloudcontrol.KindPermanent,
			permanent: true,
		},
		{
			name:      "throttled",
			err:       cloudcontrol.NewError("ListAccounts", "TooManyRequestsException", cloudcontrol.KindThrottled, errors.New("slow down")),
			kind:      cloudcontrol.KindThrottled,
			throttled: true,
		},
		{
			name:      "transient",
			err:       cloudcontrol.NewError("DescribeStack", "ServiceUnavailable", cloudcontrol.KindTransient, errors.New("503")),
			kind:      cloudcontrol.KindTransient,
			transient: true,
		},
		{
			name:      "wrapped classified error",
			err:       errors.Join(errors.New("outer"), cloudcontrol.NewError("MoveAccount", "", cloudcontrol.KindThrottled, errors.New("slow down"))),
			kind:      cloudcontrol.KindThrottled,
			throttled: true,
		},
		{
			name:      "unclassified defaults to permanent",
			err:       errors.New("plain"),
			kind:      cloudcontrol.KindPermanent,
			permanent: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := cloudcontrol.KindOf(tc.err); got != tc.kind {
				t.Errorf("KindOf() = %v, want %v", got, tc.kind)
			}
			if got := cloudcontrol.IsThrottled(tc.err); got != tc.throttled {
				t.Errorf("IsThrottled() = %v, want %v", got, tc.throttled)
			}
			if got := cloudcontrol.IsTransient(tc.err); got != tc.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tc.transient)
			}
			if got := cloudcontrol.IsPermanent(tc.err); got != tc.permanent {
				t.Errorf("IsPermanent() = %v, want %v", got, tc.permanent)
			}
		})
	}
}

func TestHelpersOnNil(t *testing.T) {
	if cloudcontrol.IsThrottled(nil) || cloudcontrol.IsTransient(nil) || cloudcontrol.IsPermanent(nil) {
		t.Error("kind helpers reported true for nil error")
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	for _, sentinel := range []error{
		cloudcontrol.ErrStackNotFound,
		cloudcontrol.ErrNoUpdates,
		cloudcontrol.ErrOUNotEmpty,
		cloudcontrol.ErrAssumeRoleDenied,
		cloudcontrol.ErrTimedOut,
	} {
		wrapped := cloudcontrol.NewError("op", "code", cloudcontrol.KindPermanent, sentinel)
		if !errors.Is(wrapped, sentinel) {
			t.Errorf("errors.Is lost sentinel %v through *Error", sentinel)
		}
	}
}

func TestErrorString(t *testing.T) {
	withCode := cloudcontrol.NewError("CreateStack", "AccessDenied", cloudcontrol.KindPermanent, errors.New("not authorized"))
	if got := withCode.Error(); !strings.Contains(got, "CreateStack") || !strings.Contains(got, "AccessDenied") || !strings.Contains(got, "permanent") {
		t.Errorf("Error() = %q, missing op, code, or kind", got)
	}
	noCode := cloudcontrol.NewError("RootID", "", cloudcontrol.KindTransient, errors.New("timeout"))
	if got := noCode.Error(); strings.Contains(got, "()") {
		t.Errorf("Error() = %q, rendered empty code", got)
	}
}

func TestDiagnostic(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "classified with code",
			err:  cloudcontrol.NewError("CreateStack", "AccessDenied", cloudcontrol.KindPermanent, errors.New("not authorized")),
			want: "AccessDenied: not authorized",
		},
		{
			name: "classified without code",
			err:  cloudcontrol.NewError("RootID", "", cloudcontrol.KindTransient, errors.New("connection reset")),
			want: "connection reset",
		},
		{
			name: "plain error",
			err:  errors.New("plain"),
			want: "plain",
		},
		{
			name: "nil",
			err:  nil,
			want: "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := cloudcontrol.Diagnostic(tc.err); got != tc.want {
				t.Errorf("Diagnostic() = %q, want %q", got, tc.want)
			}
		})
	}
}

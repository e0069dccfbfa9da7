package awscloud

import (
	"errors"
	"fmt"
	"strings"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/smithy-go"

	"landingzone/internal/cloudcontrol"
)

// throttleCodes are provider error codes treated as rate-limit
// rejections, retried with backoff for as long as the context allows.
var throttleCodes = map[string]bool{
	"Throttling":               true,
	"ThrottlingException":      true,
	"TooManyRequestsException": true,
	"RequestLimitExceeded":     true,
}

// classify normalizes an SDK error into the three-way taxonomy.
func classify(op string, err error) error {
	var ouNotEmpty *orgtypes.OrganizationalUnitNotEmptyException
	if errors.As(err, &ouNotEmpty) {
		return cloudcontrol.NewError(op, ouNotEmpty.ErrorCode(), cloudcontrol.KindPermanent,
			fmt.Errorf("%w: %s", cloudcontrol.ErrOUNotEmpty, ouNotEmpty.ErrorMessage()))
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if throttleCodes[code] {
			return cloudcontrol.NewError(op, code, cloudcontrol.KindThrottled, err)
		}
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 500 {
			return cloudcontrol.NewError(op, code, cloudcontrol.KindTransient, err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return cloudcontrol.NewError(op, code, cloudcontrol.KindTransient, err)
		}
		return cloudcontrol.NewError(op, code, cloudcontrol.KindPermanent, err)
	}

	// No provider response at all: connection reset, DNS, timeout.
	return cloudcontrol.NewError(op, "", cloudcontrol.KindTransient, err)
}

// classifyStack adds the CloudFormation-specific mappings: the
// "does not exist" and "no updates" validation rejections are semantic
// outcomes, not failures, and get their own sentinels.
func classifyStack(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.ErrorMessage()
		switch {
		case strings.Contains(msg, "does not exist"):
			return cloudcontrol.NewError(op, apiErr.ErrorCode(), cloudcontrol.KindPermanent,
				fmt.Errorf("%w: %s", cloudcontrol.ErrStackNotFound, msg))
		case strings.Contains(msg, "No updates are to be performed"):
			return cloudcontrol.NewError(op, apiErr.ErrorCode(), cloudcontrol.KindPermanent,
				fmt.Errorf("%w: %s", cloudcontrol.ErrNoUpdates, msg))
		}
	}
	return classify(op, err)
}

// classifyAssumeRole maps authorization rejections to
// ErrAssumeRoleDenied. The role may simply not have propagated yet in a
// freshly created account, so callers retry this within a bounded
// window instead of treating it as permanent.
func classifyAssumeRole(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "AccessDenied" || code == "AccessDeniedException" {
			return cloudcontrol.NewError("AssumeRole", code, cloudcontrol.KindPermanent,
				fmt.Errorf("%w: %s", cloudcontrol.ErrAssumeRoleDenied, apiErr.ErrorMessage()))
		}
	}
	return classify("AssumeRole", err)
}

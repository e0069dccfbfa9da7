// Package awscloud implements cloudcontrol.Client against AWS
// Organizations, STS, and CloudFormation using aws-sdk-go-v2.
package awscloud

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"landingzone/internal/cloudcontrol"
	"landingzone/internal/domain"
)

// roleSessionDuration is requested for every assumed session. The
// assumer refreshes before this expires.
const roleSessionDuration = int32(3600)

// Client talks to AWS with management-account credentials from the
// default chain. Stack operations build a per-call CloudFormation
// client from the scoped credentials passed in.
type Client struct {
	base aws.Config
	org  *organizations.Client
	sts  *sts.Client

	// templateDir is where relative template source locators resolve.
	templateDir string
}

var _ cloudcontrol.Client = (*Client)(nil)

// New creates a Client using the default AWS credential chain
// (management account credentials).
func New(ctx context.Context, region, templateDir string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{
		base:        cfg,
		org:         organizations.NewFromConfig(cfg),
		sts:         sts.NewFromConfig(cfg),
		templateDir: templateDir,
	}, nil
}

// RootID returns the organization root ID.
func (c *Client) RootID(ctx context.Context) (string, error) {
	out, err := c.org.ListRoots(ctx, &organizations.ListRootsInput{})
	if err != nil {
		return "", classify("ListRoots", err)
	}
	if len(out.Roots) == 0 {
		return "", cloudcontrol.NewError("ListRoots", "", cloudcontrol.KindPermanent,
			fmt.Errorf("organization has no roots"))
	}
	return aws.ToString(out.Roots[0].Id), nil
}

// CreateOU creates an organizational unit under the given parent.
func (c *Client) CreateOU(ctx context.Context, parentID, name string) (domain.OrganizationalUnit, error) {
	out, err := c.org.CreateOrganizationalUnit(ctx, &organizations.CreateOrganizationalUnitInput{
		ParentId: aws.String(parentID),
		Name:     aws.String(name),
	})
	if err != nil {
		return domain.OrganizationalUnit{}, classify("CreateOrganizationalUnit", err)
	}
	return domain.OrganizationalUnit{
		ID:       aws.ToString(out.OrganizationalUnit.Id),
		Name:     aws.ToString(out.OrganizationalUnit.Name),
		ParentID: parentID,
	}, nil
}

// ListOUs enumerates the OUs directly under parentID.
func (c *Client) ListOUs(ctx context.Context, parentID string) ([]domain.OrganizationalUnit, error) {
	var ous []domain.OrganizationalUnit
	paginator := organizations.NewListOrganizationalUnitsForParentPaginator(c.org,
		&organizations.ListOrganizationalUnitsForParentInput{ParentId: aws.String(parentID)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("ListOrganizationalUnitsForParent", err)
		}
		for _, ou := range page.OrganizationalUnits {
			ous = append(ous, domain.OrganizationalUnit{
				ID:       aws.ToString(ou.Id),
				Name:     aws.ToString(ou.Name),
				ParentID: parentID,
			})
		}
	}
	return ous, nil
}

// DeleteOU deletes an organizational unit. The provider rejects the
// call while the OU still owns accounts or child OUs.
func (c *Client) DeleteOU(ctx context.Context, ouID string) error {
	_, err := c.org.DeleteOrganizationalUnit(ctx, &organizations.DeleteOrganizationalUnitInput{
		OrganizationalUnitId: aws.String(ouID),
	})
	if err != nil {
		return classify("DeleteOrganizationalUnit", err)
	}
	return nil
}

// CreateAccount submits an asynchronous account-creation request and
// returns its request ID for polling.
func (c *Client) CreateAccount(ctx context.Context, name, email string) (string, error) {
	out, err := c.org.CreateAccount(ctx, &organizations.CreateAccountInput{
		AccountName: aws.String(name),
		Email:       aws.String(email),
	})
	if err != nil {
		return "", classify("CreateAccount", err)
	}
	return aws.ToString(out.CreateAccountStatus.Id), nil
}

// DescribeAccountRequest polls an account-creation request.
func (c *Client) DescribeAccountRequest(ctx context.Context, requestID string) (domain.AccountRequest, error) {
	out, err := c.org.DescribeCreateAccountStatus(ctx, &organizations.DescribeCreateAccountStatusInput{
		CreateAccountRequestId: aws.String(requestID),
	})
	if err != nil {
		return domain.AccountRequest{}, classify("DescribeCreateAccountStatus", err)
	}
	st := out.CreateAccountStatus
	req := domain.AccountRequest{
		RequestID:     requestID,
		AccountID:     aws.ToString(st.AccountId),
		FailureReason: string(st.FailureReason),
	}
	switch st.State {
	case orgtypes.CreateAccountStateSucceeded:
		req.State = domain.AccountRequestSucceeded
	case orgtypes.CreateAccountStateFailed:
		req.State = domain.AccountRequestFailed
	default:
		req.State = domain.AccountRequestInProgress
	}
	return req, nil
}

// MoveAccount moves an account between parents.
func (c *Client) MoveAccount(ctx context.Context, accountID, sourceParentID, destParentID string) error {
	_, err := c.org.MoveAccount(ctx, &organizations.MoveAccountInput{
		AccountId:           aws.String(accountID),
		SourceParentId:      aws.String(sourceParentID),
		DestinationParentId: aws.String(destParentID),
	})
	if err != nil {
		return classify("MoveAccount", err)
	}
	return nil
}

// CloseAccount requests account closure. Closure completes out of band
// over a multi-day horizon; acceptance of the request is the success
// condition here.
func (c *Client) CloseAccount(ctx context.Context, accountID string) error {
	_, err := c.org.CloseAccount(ctx, &organizations.CloseAccountInput{
		AccountId: aws.String(accountID),
	})
	if err != nil {
		return classify("CloseAccount", err)
	}
	return nil
}

// ListAccounts enumerates all accounts in the organization.
func (c *Client) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	paginator := organizations.NewListAccountsPaginator(c.org, &organizations.ListAccountsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("ListAccounts", err)
		}
		for _, acct := range page.Accounts {
			if acct.Status != orgtypes.AccountStatusActive {
				continue
			}
			accounts = append(accounts, domain.Account{
				ID:    aws.ToString(acct.Id),
				Name:  aws.ToString(acct.Name),
				Email: aws.ToString(acct.Email),
			})
		}
	}
	return accounts, nil
}

// ListAccountsForParent enumerates the accounts directly under parentID.
func (c *Client) ListAccountsForParent(ctx context.Context, parentID string) ([]domain.Account, error) {
	var accounts []domain.Account
	paginator := organizations.NewListAccountsForParentPaginator(c.org,
		&organizations.ListAccountsForParentInput{ParentId: aws.String(parentID)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("ListAccountsForParent", err)
		}
		for _, acct := range page.Accounts {
			accounts = append(accounts, domain.Account{
				ID:    aws.ToString(acct.Id),
				Name:  aws.ToString(acct.Name),
				Email: aws.ToString(acct.Email),
				OUID:  parentID,
			})
		}
	}
	return accounts, nil
}

// ParentID returns the current parent (root or OU) of an account or OU.
func (c *Client) ParentID(ctx context.Context, childID string) (string, error) {
	out, err := c.org.ListParents(ctx, &organizations.ListParentsInput{
		ChildId: aws.String(childID),
	})
	if err != nil {
		return "", classify("ListParents", err)
	}
	if len(out.Parents) == 0 {
		return "", cloudcontrol.NewError("ListParents", "", cloudcontrol.KindPermanent,
			fmt.Errorf("no parent for %s", childID))
	}
	return aws.ToString(out.Parents[0].Id), nil
}

// AttachPolicy attaches a service control policy to an OU or account.
func (c *Client) AttachPolicy(ctx context.Context, policyID, targetID string) error {
	_, err := c.org.AttachPolicy(ctx, &organizations.AttachPolicyInput{
		PolicyId: aws.String(policyID),
		TargetId: aws.String(targetID),
	})
	if err != nil {
		return classify("AttachPolicy", err)
	}
	return nil
}

// AssumeRole obtains scoped credentials for the target account.
func (c *Client) AssumeRole(ctx context.Context, accountID, roleName, sessionName string) (domain.ScopedCredentials, error) {
	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
	out, err := c.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(roleSessionDuration),
	})
	if err != nil {
		return domain.ScopedCredentials{}, classifyAssumeRole(err)
	}
	creds := out.Credentials
	expires := time.Now().Add(time.Duration(roleSessionDuration) * time.Second)
	if creds.Expiration != nil {
		expires = *creds.Expiration
	}
	return domain.ScopedCredentials{
		AccountID:       accountID,
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		SecretAccessKey: aws.ToString(creds.SecretAccessKey),
		SessionToken:    aws.ToString(creds.SessionToken),
		ExpiresAt:       expires,
	}, nil
}

// cfn builds a CloudFormation client for the target account and region.
func (c *Client) cfn(creds domain.ScopedCredentials, region string) *cloudformation.Client {
	cfg := c.base.Copy()
	cfg.Region = region
	cfg.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken))
	return cloudformation.NewFromConfig(cfg)
}

// DescribeStack returns the stack's current status, or ErrStackNotFound.
func (c *Client) DescribeStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string) (domain.StackInfo, error) {
	out, err := c.cfn(creds, region).DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return domain.StackInfo{}, classifyStack("DescribeStacks", err)
	}
	if len(out.Stacks) == 0 {
		return domain.StackInfo{}, cloudcontrol.NewError("DescribeStacks", "", cloudcontrol.KindPermanent,
			fmt.Errorf("%w: %s", cloudcontrol.ErrStackNotFound, stackName))
	}
	stack := out.Stacks[0]
	return domain.StackInfo{
		Name:         aws.ToString(stack.StackName),
		Status:       string(stack.StackStatus),
		StatusReason: aws.ToString(stack.StackStatusReason),
	}, nil
}

// CreateStack issues a stack creation with the resolved template body.
func (c *Client) CreateStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, tmpl domain.TemplateRef) error {
	body, err := c.templateBody(tmpl)
	if err != nil {
		return err
	}
	_, err = c.cfn(creds, region).CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(body),
		Parameters:   cfnParameters(tmpl.Parameters),
		Capabilities: []cfntypes.Capability{cfntypes.CapabilityCapabilityNamedIam},
	})
	if err != nil {
		return classifyStack("CreateStack", err)
	}
	return nil
}

// UpdateStack issues a stack update. A provider "no updates" rejection
// surfaces as ErrNoUpdates for the deployer to treat as success.
func (c *Client) UpdateStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, tmpl domain.TemplateRef) error {
	body, err := c.templateBody(tmpl)
	if err != nil {
		return err
	}
	_, err = c.cfn(creds, region).UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(body),
		Parameters:   cfnParameters(tmpl.Parameters),
		Capabilities: []cfntypes.Capability{cfntypes.CapabilityCapabilityNamedIam},
	})
	if err != nil {
		return classifyStack("UpdateStack", err)
	}
	return nil
}

// DeleteStack issues a stack deletion.
func (c *Client) DeleteStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string) error {
	_, err := c.cfn(creds, region).DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return classifyStack("DeleteStack", err)
	}
	return nil
}

// StackEvents returns the most recent events for a stack, newest first.
func (c *Client) StackEvents(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, limit int) ([]domain.StackEvent, error) {
	out, err := c.cfn(creds, region).DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, classifyStack("DescribeStackEvents", err)
	}
	events := make([]domain.StackEvent, 0, limit)
	for _, ev := range out.StackEvents {
		if limit > 0 && len(events) >= limit {
			break
		}
		events = append(events, domain.StackEvent{
			Timestamp: aws.ToTime(ev.Timestamp),
			LogicalID: aws.ToString(ev.LogicalResourceId),
			Status:    string(ev.ResourceStatus),
			Reason:    aws.ToString(ev.ResourceStatusReason),
		})
	}
	return events, nil
}

// templateBody resolves the opaque source locator to the template text.
// Relative locators resolve against the configured template directory.
func (c *Client) templateBody(tmpl domain.TemplateRef) (string, error) {
	path := tmpl.Source
	if !filepath.IsAbs(path) && c.templateDir != "" {
		path = filepath.Join(c.templateDir, path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return "", cloudcontrol.NewError("ReadTemplate", "", cloudcontrol.KindPermanent,
			fmt.Errorf("read template %s: %w", tmpl.Source, err))
	}
	return string(body), nil
}

// cfnParameters converts the parameter map into SDK parameters in a
// deterministic order.
func cfnParameters(params map[string]string) []cfntypes.Parameter {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cfntypes.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, cfntypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(params[k]),
		})
	}
	return out
}

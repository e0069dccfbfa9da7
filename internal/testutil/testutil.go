// Package testutil provides a scriptable in-memory cloud provider and
// a fake clock for orchestrator tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"landingzone/internal/cloudcontrol"
	"landingzone/internal/domain"
)

// FakeClock is a manually driven clock. Sleep advances the clock
// instead of blocking, so polling loops run instantly in tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d without blocking.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var _ cloudcontrol.Clock = (*FakeClock)(nil)

// fakeStack tracks one stack's scripted status sequence. Each describe
// serves the next status; the last one repeats.
type fakeStack struct {
	statuses []string
	reason   string
	deleted  bool
}

func (s *fakeStack) next() string {
	if len(s.statuses) == 0 {
		return ""
	}
	st := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return st
}

// fakeRequest tracks one account-creation request.
type fakeRequest struct {
	polls     int // IN_PROGRESS responses remaining
	accountID string
	fail      string // failure reason; empty means success
}

// FakeCloud is an in-memory cloudcontrol.Client with scriptable
// failures. All mutating calls are counted per operation so tests can
// assert idempotence (no second mutation on a repeated invocation).
type FakeCloud struct {
	mu sync.Mutex

	// Root is the organization root ID.
	Root string
	// PendingAccountPolls is how many IN_PROGRESS responses an
	// account-creation request serves before finishing.
	PendingAccountPolls int
	// PendingStackPolls is how many IN_PROGRESS responses a stack
	// operation serves before reaching its terminal status.
	PendingStackPolls int
	// FailAccountEmails maps an email to a creation failure reason.
	FailAccountEmails map[string]string
	// FailCreateStacks maps "accountID/region/name" to a failure: the
	// create ends in ROLLBACK_COMPLETE instead of CREATE_COMPLETE.
	FailCreateStacks map[string]bool
	// NoUpdateStacks marks stacks whose update is a no-op.
	NoUpdateStacks map[string]bool
	// CredentialTTL is the lifetime of issued credentials.
	CredentialTTL time.Duration
	// NowFunc supplies the time for credential expiry (defaults to time.Now).
	NowFunc func() time.Time

	ouSeq    int
	acctSeq  int
	reqSeq   int
	ous      map[string][]domain.OrganizationalUnit // parent -> children
	accounts map[string]domain.Account              // id -> account
	parent   map[string]string                      // account/ou id -> parent id
	closed   map[string]bool
	requests map[string]*fakeRequest
	stacks   map[string]*fakeStack
	policies map[string][]string // targetID -> policy IDs
	assumes  map[string]int      // accountID -> assume count

	errq  map[string][]error
	calls map[string]int
}

var _ cloudcontrol.Client = (*FakeCloud)(nil)

// NewFakeCloud creates an empty fake organization with root "r-test".
func NewFakeCloud() *FakeCloud {
	return &FakeCloud{
		Root:              "r-test",
		CredentialTTL:     time.Hour,
		FailAccountEmails: make(map[string]string),
		FailCreateStacks:  make(map[string]bool),
		NoUpdateStacks:    make(map[string]bool),
		ous:               make(map[string][]domain.OrganizationalUnit),
		accounts:          make(map[string]domain.Account),
		parent:            make(map[string]string),
		closed:            make(map[string]bool),
		requests:          make(map[string]*fakeRequest),
		stacks:            make(map[string]*fakeStack),
		policies:          make(map[string][]string),
		assumes:           make(map[string]int),
		errq:              make(map[string][]error),
		calls:             make(map[string]int),
	}
}

// FailNext queues err for the next call to op. Queued errors are
// consumed in order before the normal behavior resumes.
func (f *FakeCloud) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errq[op] = append(f.errq[op], err)
}

// Calls returns how many times op was invoked.
func (f *FakeCloud) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// AssumeCount returns how many AssumeRole calls hit the given account.
func (f *FakeCloud) AssumeCount(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assumes[accountID]
}

// AddOU seeds an existing OU.
func (f *FakeCloud) AddOU(id, parentID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ous[parentID] = append(f.ous[parentID], domain.OrganizationalUnit{ID: id, Name: name, ParentID: parentID})
	f.parent[id] = parentID
}

// AddAccount seeds an existing account under the given parent.
func (f *FakeCloud) AddAccount(id, name, email, parentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[id] = domain.Account{ID: id, Name: name, Email: email}
	f.parent[id] = parentID
}

// SeedStack seeds a stack that already exists in the given status.
func (f *FakeCloud) SeedStack(accountID, region, name, status string) {
	f.SeedStackSequence(accountID, region, name, status)
}

// SeedStackSequence seeds a stack that serves the given statuses one
// describe at a time, repeating the last one.
func (f *FakeCloud) SeedStackSequence(accountID, region, name string, statuses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stacks[stackKey(accountID, region, name)] = &fakeStack{statuses: statuses}
}

// AttachedPolicies returns the policies attached to a target.
func (f *FakeCloud) AttachedPolicies(targetID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.policies[targetID]...)
}

// Closed reports whether closure was requested for the account.
func (f *FakeCloud) Closed(accountID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[accountID]
}

func (f *FakeCloud) begin(op string) error {
	f.calls[op]++
	if q := f.errq[op]; len(q) > 0 {
		err := q[0]
		f.errq[op] = q[1:]
		return err
	}
	return nil
}

func stackKey(accountID, region, name string) string {
	return fmt.Sprintf("%s/%s/%s", accountID, region, name)
}

func (f *FakeCloud) now() time.Time {
	if f.NowFunc != nil {
		return f.NowFunc()
	}
	return time.Now()
}

func (f *FakeCloud) RootID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("RootID"); err != nil {
		return "", err
	}
	return f.Root, nil
}

func (f *FakeCloud) CreateOU(ctx context.Context, parentID, name string) (domain.OrganizationalUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateOU"); err != nil {
		return domain.OrganizationalUnit{}, err
	}
	f.ouSeq++
	ou := domain.OrganizationalUnit{
		ID:       fmt.Sprintf("ou-test-%04d", f.ouSeq),
		Name:     name,
		ParentID: parentID,
	}
	f.ous[parentID] = append(f.ous[parentID], ou)
	f.parent[ou.ID] = parentID
	return ou, nil
}

func (f *FakeCloud) ListOUs(ctx context.Context, parentID string) ([]domain.OrganizationalUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListOUs"); err != nil {
		return nil, err
	}
	return append([]domain.OrganizationalUnit(nil), f.ous[parentID]...), nil
}

func (f *FakeCloud) DeleteOU(ctx context.Context, ouID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteOU"); err != nil {
		return err
	}
	if len(f.ous[ouID]) > 0 || f.accountsUnderLocked(ouID) > 0 {
		return cloudcontrol.NewError("DeleteOU", "OrganizationalUnitNotEmptyException",
			cloudcontrol.KindPermanent, cloudcontrol.ErrOUNotEmpty)
	}
	parentID := f.parent[ouID]
	children := f.ous[parentID]
	for i, ou := range children {
		if ou.ID == ouID {
			f.ous[parentID] = append(children[:i], children[i+1:]...)
			break
		}
	}
	delete(f.parent, ouID)
	return nil
}

func (f *FakeCloud) accountsUnderLocked(parentID string) int {
	n := 0
	for id, p := range f.parent {
		if p == parentID {
			if _, isAccount := f.accounts[id]; isAccount {
				n++
			}
		}
	}
	return n
}

func (f *FakeCloud) CreateAccount(ctx context.Context, name, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateAccount"); err != nil {
		return "", err
	}
	f.reqSeq++
	reqID := fmt.Sprintf("car-%04d", f.reqSeq)
	req := &fakeRequest{polls: f.PendingAccountPolls}
	if reason, bad := f.FailAccountEmails[email]; bad {
		req.fail = reason
	} else {
		f.acctSeq++
		req.accountID = fmt.Sprintf("%012d", f.acctSeq)
		f.accounts[req.accountID] = domain.Account{ID: req.accountID, Name: name, Email: email}
		f.parent[req.accountID] = f.Root
	}
	f.requests[reqID] = req
	return reqID, nil
}

func (f *FakeCloud) DescribeAccountRequest(ctx context.Context, requestID string) (domain.AccountRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DescribeAccountRequest"); err != nil {
		return domain.AccountRequest{}, err
	}
	req, ok := f.requests[requestID]
	if !ok {
		return domain.AccountRequest{}, cloudcontrol.NewError("DescribeAccountRequest",
			"CreateAccountStatusNotFoundException", cloudcontrol.KindPermanent,
			fmt.Errorf("no such request %s", requestID))
	}
	out := domain.AccountRequest{RequestID: requestID, AccountID: req.accountID}
	switch {
	case req.polls > 0:
		req.polls--
		out.State = domain.AccountRequestInProgress
	case req.fail != "":
		out.State = domain.AccountRequestFailed
		out.FailureReason = req.fail
	default:
		out.State = domain.AccountRequestSucceeded
	}
	return out, nil
}

func (f *FakeCloud) MoveAccount(ctx context.Context, accountID, sourceParentID, destParentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("MoveAccount"); err != nil {
		return err
	}
	if f.parent[accountID] != sourceParentID {
		return cloudcontrol.NewError("MoveAccount", "AccountNotFoundException",
			cloudcontrol.KindPermanent, fmt.Errorf("account %s is not under %s", accountID, sourceParentID))
	}
	f.parent[accountID] = destParentID
	return nil
}

func (f *FakeCloud) CloseAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CloseAccount"); err != nil {
		return err
	}
	f.closed[accountID] = true
	return nil
}

func (f *FakeCloud) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListAccounts"); err != nil {
		return nil, err
	}
	var out []domain.Account
	for _, acct := range f.accounts {
		if !f.closed[acct.ID] {
			out = append(out, acct)
		}
	}
	return out, nil
}

func (f *FakeCloud) ListAccountsForParent(ctx context.Context, parentID string) ([]domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListAccountsForParent"); err != nil {
		return nil, err
	}
	var out []domain.Account
	for id, p := range f.parent {
		if p != parentID {
			continue
		}
		if acct, isAccount := f.accounts[id]; isAccount && !f.closed[id] {
			out = append(out, acct)
		}
	}
	return out, nil
}

func (f *FakeCloud) ParentID(ctx context.Context, childID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ParentID"); err != nil {
		return "", err
	}
	p, ok := f.parent[childID]
	if !ok {
		return "", cloudcontrol.NewError("ParentID", "ChildNotFoundException",
			cloudcontrol.KindPermanent, fmt.Errorf("no parent for %s", childID))
	}
	return p, nil
}

func (f *FakeCloud) AttachPolicy(ctx context.Context, policyID, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("AttachPolicy"); err != nil {
		return err
	}
	f.policies[targetID] = append(f.policies[targetID], policyID)
	return nil
}

func (f *FakeCloud) AssumeRole(ctx context.Context, accountID, roleName, sessionName string) (domain.ScopedCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assumes[accountID]++
	if err := f.begin("AssumeRole"); err != nil {
		return domain.ScopedCredentials{}, err
	}
	return domain.ScopedCredentials{
		AccountID:       accountID,
		AccessKeyID:     "AKIA" + accountID,
		SecretAccessKey: "secret",
		SessionToken:    sessionName,
		ExpiresAt:       f.now().Add(f.CredentialTTL),
	}, nil
}

func (f *FakeCloud) DescribeStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string) (domain.StackInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DescribeStack"); err != nil {
		return domain.StackInfo{}, err
	}
	key := stackKey(creds.AccountID, region, stackName)
	stack, ok := f.stacks[key]
	if !ok || stack.deleted {
		return domain.StackInfo{}, cloudcontrol.NewError("DescribeStack", "ValidationError",
			cloudcontrol.KindPermanent,
			fmt.Errorf("%w: stack %s does not exist", cloudcontrol.ErrStackNotFound, stackName))
	}
	status := stack.next()
	if status == domain.StackStatusDeleteComplete {
		stack.deleted = true
	}
	return domain.StackInfo{Name: stackName, Status: status, StatusReason: stack.reason}, nil
}

func (f *FakeCloud) CreateStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, tmpl domain.TemplateRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateStack"); err != nil {
		return err
	}
	key := stackKey(creds.AccountID, region, stackName)
	stack := &fakeStack{}
	for i := 0; i < f.PendingStackPolls; i++ {
		stack.statuses = append(stack.statuses, domain.StackStatusCreateInProgress)
	}
	if f.FailCreateStacks[key] {
		stack.statuses = append(stack.statuses, domain.StackStatusRollbackComplete)
		stack.reason = "resource creation failed"
	} else {
		stack.statuses = append(stack.statuses, domain.StackStatusCreateComplete)
	}
	f.stacks[key] = stack
	return nil
}

func (f *FakeCloud) UpdateStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, tmpl domain.TemplateRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateStack"); err != nil {
		return err
	}
	key := stackKey(creds.AccountID, region, stackName)
	stack, ok := f.stacks[key]
	if !ok || stack.deleted {
		return cloudcontrol.NewError("UpdateStack", "ValidationError", cloudcontrol.KindPermanent,
			fmt.Errorf("%w: stack %s does not exist", cloudcontrol.ErrStackNotFound, stackName))
	}
	if f.NoUpdateStacks[key] {
		return cloudcontrol.NewError("UpdateStack", "ValidationError", cloudcontrol.KindPermanent,
			fmt.Errorf("%w", cloudcontrol.ErrNoUpdates))
	}
	stack.statuses = nil
	for i := 0; i < f.PendingStackPolls; i++ {
		stack.statuses = append(stack.statuses, domain.StackStatusUpdateInProgress)
	}
	stack.statuses = append(stack.statuses, domain.StackStatusUpdateComplete)
	return nil
}

func (f *FakeCloud) DeleteStack(ctx context.Context, creds domain.ScopedCredentials, region, stackName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteStack"); err != nil {
		return err
	}
	key := stackKey(creds.AccountID, region, stackName)
	stack, ok := f.stacks[key]
	if !ok || stack.deleted {
		return nil
	}
	stack.statuses = nil
	for i := 0; i < f.PendingStackPolls; i++ {
		stack.statuses = append(stack.statuses, domain.StackStatusDeleteInProgress)
	}
	stack.statuses = append(stack.statuses, domain.StackStatusDeleteComplete)
	return nil
}

func (f *FakeCloud) StackEvents(ctx context.Context, creds domain.ScopedCredentials, region, stackName string, limit int) ([]domain.StackEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("StackEvents"); err != nil {
		return nil, err
	}
	stack, ok := f.stacks[stackKey(creds.AccountID, region, stackName)]
	if !ok {
		return nil, nil
	}
	return []domain.StackEvent{{
		Timestamp: f.now(),
		LogicalID: stackName,
		Status:    domain.StackStatusCreateFailed,
		Reason:    stack.reason,
	}}, nil
}

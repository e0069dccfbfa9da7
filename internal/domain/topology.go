package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Stack roles in fixed dependency order: logging must exist before
// security, which must exist before shared services and networking.
const (
	StackRoleLogging        = "logging"
	StackRoleSecurity       = "security"
	StackRoleSharedServices = "shared-services"
)

// StackOrder is the canonical forward deployment order.
var StackOrder = []string{StackRoleLogging, StackRoleSecurity, StackRoleSharedServices}

// TopologyOU is one organizational unit in a declared topology, with
// the accounts it owns.
type TopologyOU struct {
	Name     string
	ParentID string
	Accounts []TopologyAccount
}

// TopologyAccount is one account in a declared topology. Stacks is the
// ordered list of stack roles to deploy; when empty the full canonical
// order applies.
type TopologyAccount struct {
	Name        string
	Email       string
	Environment string
	Stacks      []string
}

// Topology is the validated workflow input: ordered OUs, each owning
// accounts, each with an ordered stack list.
type Topology struct {
	Region string
	OUs    []TopologyOU
}

// StackRoles returns the account's ordered stack roles, defaulting to
// the canonical order.
func (a TopologyAccount) StackRoles() []string {
	if len(a.Stacks) == 0 {
		return StackOrder
	}
	return a.Stacks
}

// Validate checks structural invariants: non-empty names and emails,
// unique emails across the topology, and stack lists that respect the
// canonical dependency order.
func (t Topology) Validate() error {
	if len(t.OUs) == 0 {
		return errors.New("topology has no organizational units")
	}
	seenEmail := make(map[string]string)
	for _, ou := range t.OUs {
		if ou.Name == "" {
			return errors.New("organizational unit with empty name")
		}
		if ou.ParentID == "" {
			return fmt.Errorf("ou %q: parent_id is required", ou.Name)
		}
		for _, acct := range ou.Accounts {
			if acct.Name == "" {
				return fmt.Errorf("ou %q: account with empty name", ou.Name)
			}
			if acct.Email == "" || !strings.Contains(acct.Email, "@") {
				return fmt.Errorf("account %q: invalid email %q", acct.Name, acct.Email)
			}
			if prev, dup := seenEmail[acct.Email]; dup {
				return fmt.Errorf("account %q: email %q already used by account %q", acct.Name, acct.Email, prev)
			}
			seenEmail[acct.Email] = acct.Name
			if err := validateStackOrder(acct.Stacks); err != nil {
				return fmt.Errorf("account %q: %w", acct.Name, err)
			}
		}
	}
	return nil
}

// validateStackOrder requires stacks to be a subsequence of StackOrder.
func validateStackOrder(stacks []string) error {
	pos := 0
	for _, s := range stacks {
		found := false
		for ; pos < len(StackOrder); pos++ {
			if StackOrder[pos] == s {
				found = true
				pos++
				break
			}
		}
		if !found {
			return fmt.Errorf("stack %q unknown or out of dependency order", s)
		}
	}
	return nil
}

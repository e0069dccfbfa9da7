// Package topology loads the declared account topology from a YAML
// file. The loader produces an already-validated domain.Topology; the
// workflow engine never touches the file format.
package topology

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"landingzone/internal/domain"
)

// DefaultRegion is used when neither the file nor the environment
// names a deployment region.
const DefaultRegion = "us-east-1"

// fileAccount is one account entry in the topology file.
type fileAccount struct {
	Name        string   `yaml:"name"`
	Email       string   `yaml:"email"`
	Environment string   `yaml:"environment"`
	Stacks      []string `yaml:"stacks"`
}

// fileOU is one organizational unit entry in the topology file.
type fileOU struct {
	ParentID string        `yaml:"parent_id"`
	Accounts []fileAccount `yaml:"accounts"`
}

// file is the on-disk topology layout: a map of OU name to its
// definition, plus an optional region.
type file struct {
	Region              string            `yaml:"region"`
	OrganizationalUnits map[string]fileOU `yaml:"organizational_units"`
}

// Load reads, resolves, and validates a topology file. Environment
// variables override file values: LANDINGZONE_REGION sets the region,
// LANDINGZONE_PARENT_ID sets the parent of every OU that declares none.
func Load(path string) (domain.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Topology{}, fmt.Errorf("read topology file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (domain.Topology, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return domain.Topology{}, fmt.Errorf("parse topology file: %w", err)
	}

	if v := os.Getenv("LANDINGZONE_REGION"); v != "" {
		f.Region = v
	}
	if f.Region == "" {
		f.Region = DefaultRegion
	}
	defaultParent := os.Getenv("LANDINGZONE_PARENT_ID")

	topo := domain.Topology{Region: f.Region}

	// Map iteration order is random; sort OU names so runs over the
	// same file always produce the same step order.
	names := make([]string, 0, len(f.OrganizationalUnits))
	for name := range f.OrganizationalUnits {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ou := f.OrganizationalUnits[name]
		parent := ou.ParentID
		if parent == "" {
			parent = defaultParent
		}
		out := domain.TopologyOU{Name: name, ParentID: parent}
		for _, acct := range ou.Accounts {
			stacks := acct.Stacks
			if len(stacks) == 0 && acct.Environment != "" {
				stacks = stacksForEnvironment(acct.Environment)
			}
			out.Accounts = append(out.Accounts, domain.TopologyAccount{
				Name:        acct.Name,
				Email:       acct.Email,
				Environment: acct.Environment,
				Stacks:      stacks,
			})
		}
		topo.OUs = append(topo.OUs, out)
	}

	if err := topo.Validate(); err != nil {
		return domain.Topology{}, err
	}
	return topo, nil
}

// stacksForEnvironment maps an account's environment to its stack
// list. Baseline environments carry the full canonical order; an
// account dedicated to one role carries only the chain up to it.
func stacksForEnvironment(env string) []string {
	switch env {
	case domain.StackRoleLogging:
		return []string{domain.StackRoleLogging}
	case domain.StackRoleSecurity:
		return []string{domain.StackRoleLogging, domain.StackRoleSecurity}
	default:
		return domain.StackOrder
	}
}

// Package rolepolicy expands the roles granted by an identity provider
// into the effective roles checked by operation authorization rules.
package rolepolicy

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// StaticPolicy grants roles implied by other roles, read from a YAML file:
//
//	roles:
//	  shop-manager: [catalog-admin, fulfilment]
//
// Grants are transitive.
type StaticPolicy struct {
	path   string
	mu     sync.RWMutex
	grants map[string][]string
}

// NewStaticPolicy creates a policy that loads its grants from path.
func NewStaticPolicy(path string) (*StaticPolicy, error) {
	p := &StaticPolicy{path: path}
	if err := p.Sync(); err != nil {
		return nil, err
	}
	return p, nil
}

// Expand returns roles together with every role they imply, sorted and
// without duplicates.
func (p *StaticPolicy) Expand(roles []string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]bool, len(roles))
	queue := slices.Clone(roles)
	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		queue = append(queue, p.grants[role]...)
	}

	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	slices.Sort(out)
	return out
}

// Sync reloads the policy file from disk.
func (p *StaticPolicy) Sync() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("rolepolicy: reading policy file %s: %w", p.path, err)
	}

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("rolepolicy: parsing policy file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.grants = f.Roles
	p.mu.Unlock()

	return nil
}

package domain

import (
	"slices"
	"strings"
)

// Caller is the resolved identity handed to the core by the identity
// collaborator. It is immutable for the lifetime of one request.
//
// Invariant: roles are unique and unordered; a caller may hold several roles at once.
type Caller struct {
	ID    string
	roles map[string]struct{}
}

// NewCaller builds a Caller, de-duplicating roles and dropping blank ones.
func NewCaller(id string, roles ...string) Caller {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		set[r] = struct{}{}
	}
	return Caller{ID: id, roles: set}
}

// HasRole reports whether the caller holds role.
func (c Caller) HasRole(role string) bool {
	_, ok := c.roles[role]
	return ok
}

// Roles returns the caller's roles sorted for stable output.
func (c Caller) Roles() []string {
	out := make([]string, 0, len(c.roles))
	for r := range c.roles {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// IsAnonymous is true when the identity collaborator produced no subject.
func (c Caller) IsAnonymous() bool {
	return c.ID == ""
}

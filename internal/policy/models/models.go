// Package models holds the typed policy tables the engine evaluates against:
// entity types with classified fields, role grants and transition guards.
package models

import (
	"sort"

	"keeper/internal/classification"
	"keeper/pkg/domain"
)

// Instance is the engine's view of a record: opaque field values keyed by name.
type Instance struct {
	Type   string
	ID     string
	Fields map[string]any
}

// Field returns the named value. A present key holding nil reads as unset.
func (i Instance) Field(name string) (any, bool) {
	v, ok := i.Fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Overlay returns the post-change view of the instance. The receiver is not modified.
func (i Instance) Overlay(change Change) Instance {
	fields := make(map[string]any, len(i.Fields)+len(change))
	for k, v := range i.Fields {
		fields[k] = v
	}
	for k, v := range change {
		fields[k] = v
	}
	return Instance{Type: i.Type, ID: i.ID, Fields: fields}
}

// Change is a proposed set of field assignments.
type Change map[string]any

// FieldNames returns the changed field names in sorted order.
func (c Change) FieldNames() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Request is a single authorization question.
type Request struct {
	Caller     domain.Caller
	Operation  domain.Operation
	EntityType string
	Instance   Instance
	Change     Change
}

// Predicate is a pure instance-level restriction on a grant.
type Predicate interface {
	Name() string
	Eval(caller domain.Caller, inst Instance) (bool, error)
}

// Condition decides whether a transition guard fires.
type Condition interface {
	Name() string
	// Key identifies the condition together with its arguments.
	Key() string
	Holds(current Instance, change Change) (bool, error)
}

// Grant binds a role to operations on an entity type.
type Grant struct {
	EntityType string
	Role       string
	Operations map[domain.Operation]struct{}
	Predicate  Predicate
}

func (g Grant) Allows(op domain.Operation) bool {
	_, ok := g.Operations[op]
	return ok
}

// Guard is an additional necessary condition on update or delete.
type Guard struct {
	EntityType   string
	Operation    domain.Operation
	Condition    Condition
	RequiredRole string
	Message      string
}

// FieldSpec declares one field of an entity type.
type FieldSpec struct {
	Name           string
	Classification classification.Classification
}

// EntityType is a named schema with its policy tables.
type EntityType struct {
	Name   string
	Fields []FieldSpec
	Grants []Grant
	Guards []Guard
}

// Model is the complete, immutable policy loaded from configuration.
type Model struct {
	types    map[string]*EntityType
	names    []string
	registry *classification.Registry
}

// NewModel indexes entity types and derives the classification registry from
// their field declarations. Validation is the loader's job.
func NewModel(types []EntityType) *Model {
	m := &Model{types: make(map[string]*EntityType, len(types))}
	b := classification.NewBuilder()
	for i := range types {
		et := types[i]
		m.types[et.Name] = &et
		m.names = append(m.names, et.Name)
		for _, f := range et.Fields {
			b.Set(et.Name, f.Name, f.Classification)
		}
	}
	sort.Strings(m.names)
	m.registry = b.Build()
	return m
}

// Classifications returns the registry built from the model's field tags.
func (m *Model) Classifications() *classification.Registry {
	return m.registry
}

// EntityTypeNames lists declared entity types in sorted order.
func (m *Model) EntityTypeNames() []string {
	return append([]string(nil), m.names...)
}

func (m *Model) EntityType(name string) (*EntityType, bool) {
	et, ok := m.types[name]
	return et, ok
}

// GrantsFor returns the grants on (entityType, op) for any role the caller holds.
func (m *Model) GrantsFor(entityType string, op domain.Operation, caller domain.Caller) []Grant {
	et, ok := m.types[entityType]
	if !ok {
		return nil
	}
	var out []Grant
	for _, g := range et.Grants {
		if g.Allows(op) && caller.HasRole(g.Role) {
			out = append(out, g)
		}
	}
	return out
}

// RolesGranting lists the roles that hold any grant on (entityType, op).
func (m *Model) RolesGranting(entityType string, op domain.Operation) []string {
	et, ok := m.types[entityType]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var roles []string
	for _, g := range et.Grants {
		if !g.Allows(op) {
			continue
		}
		if _, dup := seen[g.Role]; dup {
			continue
		}
		seen[g.Role] = struct{}{}
		roles = append(roles, g.Role)
	}
	sort.Strings(roles)
	return roles
}

// GuardsFor returns the guards scoped to (entityType, op) in declaration order.
func (m *Model) GuardsFor(entityType string, op domain.Operation) []Guard {
	et, ok := m.types[entityType]
	if !ok {
		return nil
	}
	var out []Guard
	for _, g := range et.Guards {
		if g.Operation == op {
			out = append(out, g)
		}
	}
	return out
}

// Package predicates is the closed set of named instance predicates and guard
// conditions that policy configuration may reference.
package predicates

import (
	"fmt"
	"sort"

	"keeper/internal/policy/models"
	"keeper/pkg/domain"
)

const (
	defaultOwnerField = "owner"
	defaultStateField = "state"
)

type predicateFactory func(args Args) (models.Predicate, error)

var predicateFactories = map[string]predicateFactory{
	"ownerIsCaller":             newOwnerIsCaller(false),
	"ownerIsCallerOrUnassigned": newOwnerIsCaller(true),
	"fieldEquals":               newFieldEquals,
	"fieldIn":                   newFieldIn,
	"stateIs":                   newStateIs(false),
	"stateIsNot":                newStateIs(true),
}

// NewPredicate builds a named predicate, validating its arguments.
func NewPredicate(name string, args Args) (models.Predicate, error) {
	f, ok := predicateFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown predicate %q", name)
	}
	p, err := f(args)
	if err != nil {
		return nil, fmt.Errorf("predicate %s: %w", name, err)
	}
	return p, nil
}

// PredicateNames lists the supported predicates.
func PredicateNames() []string {
	names := make([]string, 0, len(predicateFactories))
	for n := range predicateFactories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type ownerIsCaller struct {
	field           string
	allowUnassigned bool
}

func newOwnerIsCaller(allowUnassigned bool) predicateFactory {
	return func(args Args) (models.Predicate, error) {
		if err := args.checkKnown("field"); err != nil {
			return nil, err
		}
		field, err := args.optionalString("field", defaultOwnerField)
		if err != nil {
			return nil, err
		}
		return ownerIsCaller{field: field, allowUnassigned: allowUnassigned}, nil
	}
}

func (p ownerIsCaller) Name() string {
	if p.allowUnassigned {
		return "ownerIsCallerOrUnassigned"
	}
	return "ownerIsCaller"
}

func (p ownerIsCaller) Eval(caller domain.Caller, inst models.Instance) (bool, error) {
	v, _ := inst.Field(p.field)
	owner, set, err := scalar(v)
	if err != nil {
		return false, fmt.Errorf("%s: field %s: %w", p.Name(), p.field, err)
	}
	if !set || owner == "" {
		return p.allowUnassigned, nil
	}
	return caller.ID != "" && owner == caller.ID, nil
}

type fieldEquals struct {
	field string
	value string
}

func newFieldEquals(args Args) (models.Predicate, error) {
	if err := args.checkKnown("field", "value"); err != nil {
		return nil, err
	}
	field, err := args.requireString("field")
	if err != nil {
		return nil, err
	}
	value, err := args.requireString("value")
	if err != nil {
		return nil, err
	}
	return fieldEquals{field: field, value: value}, nil
}

func (p fieldEquals) Name() string { return "fieldEquals" }

func (p fieldEquals) Eval(_ domain.Caller, inst models.Instance) (bool, error) {
	return fieldMatches(inst, p.field, p.value)
}

type fieldIn struct {
	field  string
	values map[string]struct{}
}

func newFieldIn(args Args) (models.Predicate, error) {
	if err := args.checkKnown("field", "values"); err != nil {
		return nil, err
	}
	field, err := args.requireString("field")
	if err != nil {
		return nil, err
	}
	values, err := args.requireStrings("values")
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return fieldIn{field: field, values: set}, nil
}

func (p fieldIn) Name() string { return "fieldIn" }

func (p fieldIn) Eval(_ domain.Caller, inst models.Instance) (bool, error) {
	v, _ := inst.Field(p.field)
	s, set, err := scalar(v)
	if err != nil {
		return false, fmt.Errorf("fieldIn: field %s: %w", p.field, err)
	}
	if !set {
		return false, nil
	}
	_, ok := p.values[s]
	return ok, nil
}

type stateIs struct {
	field  string
	value  string
	negate bool
}

func newStateIs(negate bool) predicateFactory {
	return func(args Args) (models.Predicate, error) {
		if err := args.checkKnown("field", "value"); err != nil {
			return nil, err
		}
		field, err := args.optionalString("field", defaultStateField)
		if err != nil {
			return nil, err
		}
		value, err := args.requireString("value")
		if err != nil {
			return nil, err
		}
		return stateIs{field: field, value: value, negate: negate}, nil
	}
}

func (p stateIs) Name() string {
	if p.negate {
		return "stateIsNot"
	}
	return "stateIs"
}

func (p stateIs) Eval(_ domain.Caller, inst models.Instance) (bool, error) {
	ok, err := fieldMatches(inst, p.field, p.value)
	if err != nil {
		return false, err
	}
	return ok != p.negate, nil
}

func fieldMatches(inst models.Instance, field, want string) (bool, error) {
	v, _ := inst.Field(field)
	s, set, err := scalar(v)
	if err != nil {
		return false, fmt.Errorf("field %s: %w", field, err)
	}
	return set && s == want, nil
}

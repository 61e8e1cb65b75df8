package predicates

import (
	"fmt"
	"sort"

	"keeper/internal/policy/models"
)

type conditionFactory func(args Args) (models.Condition, error)

var conditionFactories = map[string]conditionFactory{
	"always":         newAlways,
	"stateIs":        newStateCondition,
	"fieldEquals":    newFieldEqualsCondition,
	"transitionTo":   newTransitionTo,
	"transitionWhen": newTransitionWhen,
}

// NewCondition builds a named guard condition, validating its arguments.
func NewCondition(name string, args Args) (models.Condition, error) {
	f, ok := conditionFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown condition %q", name)
	}
	c, err := f(args)
	if err != nil {
		return nil, fmt.Errorf("condition %s: %w", name, err)
	}
	return c, nil
}

// ConditionNames lists the supported guard conditions.
func ConditionNames() []string {
	names := make([]string, 0, len(conditionFactories))
	for n := range conditionFactories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func pick(v view, current models.Instance, change models.Change) models.Instance {
	if v == viewProposed {
		return current.Overlay(change)
	}
	return current
}

type always struct{}

func newAlways(args Args) (models.Condition, error) {
	if err := args.checkKnown(); err != nil {
		return nil, err
	}
	return always{}, nil
}

func (always) Name() string                                       { return "always" }
func (always) Key() string                                        { return "always" }
func (always) Holds(models.Instance, models.Change) (bool, error) { return true, nil }

// fieldCondition covers stateIs and fieldEquals, which differ only in defaults.
type fieldCondition struct {
	name  string
	field string
	value string
	on    view
}

func newStateCondition(args Args) (models.Condition, error) {
	if err := args.checkKnown("field", "value", "on"); err != nil {
		return nil, err
	}
	field, err := args.optionalString("field", defaultStateField)
	if err != nil {
		return nil, err
	}
	return buildFieldCondition("stateIs", field, args)
}

func newFieldEqualsCondition(args Args) (models.Condition, error) {
	if err := args.checkKnown("field", "value", "on"); err != nil {
		return nil, err
	}
	field, err := args.requireString("field")
	if err != nil {
		return nil, err
	}
	return buildFieldCondition("fieldEquals", field, args)
}

func buildFieldCondition(name, field string, args Args) (models.Condition, error) {
	value, err := args.requireString("value")
	if err != nil {
		return nil, err
	}
	on, err := args.view()
	if err != nil {
		return nil, err
	}
	return fieldCondition{name: name, field: field, value: value, on: on}, nil
}

func (c fieldCondition) Name() string { return c.name }

func (c fieldCondition) Key() string {
	return fmt.Sprintf("%s(%s=%s,on=%s)", c.name, c.field, c.value, c.on)
}

func (c fieldCondition) Holds(current models.Instance, change models.Change) (bool, error) {
	return fieldMatches(pick(c.on, current, change), c.field, c.value)
}

// transition fires when the change moves field to the target value from a
// different one. transitionWhen additionally requires whenField=whenValue.
type transition struct {
	field     string
	to        string
	whenField string
	whenValue string
	on        view
}

func newTransitionTo(args Args) (models.Condition, error) {
	if err := args.checkKnown("field", "to"); err != nil {
		return nil, err
	}
	return buildTransition(args, false)
}

func newTransitionWhen(args Args) (models.Condition, error) {
	if err := args.checkKnown("field", "to", "whenField", "whenValue", "on"); err != nil {
		return nil, err
	}
	return buildTransition(args, true)
}

func buildTransition(args Args, when bool) (models.Condition, error) {
	field, err := args.optionalString("field", defaultStateField)
	if err != nil {
		return nil, err
	}
	to, err := args.requireString("to")
	if err != nil {
		return nil, err
	}
	t := transition{field: field, to: to, on: viewCurrent}
	if !when {
		return t, nil
	}
	if t.whenField, err = args.requireString("whenField"); err != nil {
		return nil, err
	}
	if t.whenValue, err = args.requireString("whenValue"); err != nil {
		return nil, err
	}
	if t.on, err = args.view(); err != nil {
		return nil, err
	}
	return t, nil
}

func (c transition) Name() string {
	if c.whenField != "" {
		return "transitionWhen"
	}
	return "transitionTo"
}

func (c transition) Key() string {
	if c.whenField != "" {
		return fmt.Sprintf("transitionWhen(%s->%s,%s=%s,on=%s)", c.field, c.to, c.whenField, c.whenValue, c.on)
	}
	return fmt.Sprintf("transitionTo(%s->%s)", c.field, c.to)
}

func (c transition) Holds(current models.Instance, change models.Change) (bool, error) {
	next, ok := change[c.field]
	if !ok {
		return false, nil
	}
	to, set, err := scalar(next)
	if err != nil {
		return false, fmt.Errorf("field %s: %w", c.field, err)
	}
	if !set || to != c.to {
		return false, nil
	}
	already, err := fieldMatches(current, c.field, c.to)
	if err != nil {
		return false, err
	}
	if already {
		return false, nil
	}
	if c.whenField == "" {
		return true, nil
	}
	return fieldMatches(pick(c.on, current, change), c.whenField, c.whenValue)
}

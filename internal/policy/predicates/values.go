package predicates

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// scalar normalizes a field or argument value to its comparable text form.
// JSON numbers, YAML ints and plain strings all compare by their printed value.
// Unset reports ok=false. Composite values are an evaluation error.
func scalar(v any) (s string, ok bool, err error) {
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	case json.Number:
		return t.String(), true, nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t), true, nil
	default:
		return "", false, fmt.Errorf("cannot compare value of type %T", v)
	}
}

// Args are the raw predicate or condition arguments from configuration.
type Args map[string]any

func (a Args) requireString(name string) (string, error) {
	v, ok := a[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, present, err := scalar(v)
	if err != nil || !present || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty scalar", name)
	}
	return s, nil
}

func (a Args) optionalString(name, def string) (string, error) {
	if _, ok := a[name]; !ok {
		return def, nil
	}
	return a.requireString(name)
}

func (a Args) requireStrings(name string) ([]string, error) {
	v, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", name)
	}
	list, ok := v.([]any)
	if !ok {
		if ss, isStrings := v.([]string); isStrings {
			list = make([]any, len(ss))
			for i := range ss {
				list[i] = ss[i]
			}
		} else {
			return nil, fmt.Errorf("argument %q must be a list", name)
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("argument %q must not be empty", name)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, present, err := scalar(item)
		if err != nil || !present {
			return nil, fmt.Errorf("argument %q must contain scalars", name)
		}
		out = append(out, s)
	}
	return out, nil
}

// view selects which side of a transition a condition inspects.
type view string

const (
	viewCurrent  view = "current"
	viewProposed view = "proposed"
)

func (a Args) view() (view, error) {
	s, err := a.optionalString("on", string(viewCurrent))
	if err != nil {
		return "", err
	}
	switch view(s) {
	case viewCurrent, viewProposed:
		return view(s), nil
	default:
		return "", fmt.Errorf("argument \"on\" must be %q or %q", viewCurrent, viewProposed)
	}
}

// checkKnown rejects argument names outside allowed.
func (a Args) checkKnown(allowed ...string) error {
	var unknown []string
	for k := range a {
		found := false
		for _, al := range allowed {
			if k == al {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown arguments: %s", strings.Join(unknown, ", "))
	}
	return nil
}

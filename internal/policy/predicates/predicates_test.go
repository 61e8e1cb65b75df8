package predicates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper/internal/policy/models"
	"keeper/pkg/domain"
)

func instance(fields map[string]any) models.Instance {
	return models.Instance{Type: "Incident", ID: "INC-1", Fields: fields}
}

func TestOwnerPredicates(t *testing.T) {
	alice := domain.NewCaller("alice", "support")
	anon := domain.NewCaller("", "support")

	own, err := NewPredicate("ownerIsCaller", nil)
	require.NoError(t, err)
	ownOrFree, err := NewPredicate("ownerIsCallerOrUnassigned", nil)
	require.NoError(t, err)

	tests := []struct {
		name      string
		caller    domain.Caller
		fields    map[string]any
		own       bool
		ownOrFree bool
	}{
		{"owned by caller", alice, map[string]any{"owner": "alice"}, true, true},
		{"owned by someone else", alice, map[string]any{"owner": "bob"}, false, false},
		{"null owner", alice, map[string]any{"owner": nil}, false, true},
		{"missing owner", alice, map[string]any{}, false, true},
		{"empty owner", alice, map[string]any{"owner": ""}, false, true},
		{"anonymous caller never owns", anon, map[string]any{"owner": ""}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := own.Eval(tt.caller, instance(tt.fields))
			require.NoError(t, err)
			assert.Equal(t, tt.own, got)

			got, err = ownOrFree.Eval(tt.caller, instance(tt.fields))
			require.NoError(t, err)
			assert.Equal(t, tt.ownOrFree, got)
		})
	}

	t.Run("composite owner is an evaluation error", func(t *testing.T) {
		_, err := own.Eval(alice, instance(map[string]any{"owner": map[string]any{"id": "alice"}}))
		require.Error(t, err)
	})

	t.Run("custom owner field", func(t *testing.T) {
		p, err := NewPredicate("ownerIsCaller", Args{"field": "assignee"})
		require.NoError(t, err)
		got, err := p.Eval(alice, instance(map[string]any{"assignee": "alice", "owner": "bob"}))
		require.NoError(t, err)
		assert.True(t, got)
	})
}

func TestFieldPredicates(t *testing.T) {
	caller := domain.NewCaller("alice")

	t.Run("fieldEquals normalizes numbers", func(t *testing.T) {
		p, err := NewPredicate("fieldEquals", Args{"field": "priority", "value": 3})
		require.NoError(t, err)
		got, err := p.Eval(caller, instance(map[string]any{"priority": float64(3)}))
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("fieldIn", func(t *testing.T) {
		p, err := NewPredicate("fieldIn", Args{"field": "region", "values": []any{"eu", "uk"}})
		require.NoError(t, err)

		got, err := p.Eval(caller, instance(map[string]any{"region": "uk"}))
		require.NoError(t, err)
		assert.True(t, got)

		got, err = p.Eval(caller, instance(map[string]any{"region": "us"}))
		require.NoError(t, err)
		assert.False(t, got)

		got, err = p.Eval(caller, instance(map[string]any{}))
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("stateIs and stateIsNot", func(t *testing.T) {
		is, err := NewPredicate("stateIs", Args{"value": "open"})
		require.NoError(t, err)
		isNot, err := NewPredicate("stateIsNot", Args{"value": "closed"})
		require.NoError(t, err)

		open := instance(map[string]any{"state": "open"})
		closed := instance(map[string]any{"state": "closed"})

		got, _ := is.Eval(caller, open)
		assert.True(t, got)
		got, _ = is.Eval(caller, closed)
		assert.False(t, got)
		got, _ = isNot.Eval(caller, open)
		assert.True(t, got)
		got, _ = isNot.Eval(caller, closed)
		assert.False(t, got)
	})
}

func TestNewPredicateRejectsBadConfiguration(t *testing.T) {
	tests := []struct {
		name string
		pred string
		args Args
	}{
		{"unknown name", "isWeekday", nil},
		{"missing field", "fieldEquals", Args{"value": "x"}},
		{"missing value", "fieldEquals", Args{"field": "x"}},
		{"empty value list", "fieldIn", Args{"field": "x", "values": []any{}}},
		{"values not a list", "fieldIn", Args{"field": "x", "values": "a"}},
		{"unknown argument", "ownerIsCaller", Args{"fiedl": "owner"}},
		{"composite value", "stateIs", Args{"value": []any{"open"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPredicate(tt.pred, tt.args)
			require.Error(t, err)
		})
	}
}

func TestConditions(t *testing.T) {
	open := instance(map[string]any{"state": "open", "severity": "high"})
	closedHigh := instance(map[string]any{"state": "closed", "severity": "high"})

	t.Run("transitionWhen fires on high severity closure", func(t *testing.T) {
		c, err := NewCondition("transitionWhen", Args{"field": "state", "to": "closed", "whenField": "severity", "whenValue": "high"})
		require.NoError(t, err)

		got, err := c.Holds(open, models.Change{"state": "closed"})
		require.NoError(t, err)
		assert.True(t, got)

		got, err = c.Holds(open, models.Change{"title": "x"})
		require.NoError(t, err)
		assert.False(t, got, "state untouched")

		medium := instance(map[string]any{"state": "open", "severity": "medium"})
		got, err = c.Holds(medium, models.Change{"state": "closed"})
		require.NoError(t, err)
		assert.False(t, got)

		got, err = c.Holds(closedHigh, models.Change{"state": "closed"})
		require.NoError(t, err)
		assert.False(t, got, "not a transition when already closed")
	})

	t.Run("transitionWhen on proposed sees the post-change severity", func(t *testing.T) {
		c, err := NewCondition("transitionWhen", Args{"to": "closed", "whenField": "severity", "whenValue": "high", "on": "proposed"})
		require.NoError(t, err)
		medium := instance(map[string]any{"state": "open", "severity": "medium"})

		got, err := c.Holds(medium, models.Change{"state": "closed", "severity": "high"})
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("stateIs on current", func(t *testing.T) {
		c, err := NewCondition("stateIs", Args{"value": "closed"})
		require.NoError(t, err)

		got, _ := c.Holds(closedHigh, nil)
		assert.True(t, got)
		got, _ = c.Holds(open, models.Change{"state": "closed"})
		assert.False(t, got)
	})

	t.Run("fieldEquals on proposed", func(t *testing.T) {
		c, err := NewCondition("fieldEquals", Args{"field": "severity", "value": "critical", "on": "proposed"})
		require.NoError(t, err)

		got, _ := c.Holds(open, models.Change{"severity": "critical"})
		assert.True(t, got)
		got, _ = c.Holds(open, nil)
		assert.False(t, got)
	})

	t.Run("always", func(t *testing.T) {
		c, err := NewCondition("always", nil)
		require.NoError(t, err)
		got, _ := c.Holds(open, nil)
		assert.True(t, got)
	})

	t.Run("keys distinguish arguments", func(t *testing.T) {
		a, _ := NewCondition("stateIs", Args{"value": "closed"})
		b, _ := NewCondition("stateIs", Args{"value": "closed", "on": "current"})
		c, _ := NewCondition("stateIs", Args{"value": "open"})
		assert.Equal(t, a.Key(), b.Key())
		assert.NotEqual(t, a.Key(), c.Key())
	})

	t.Run("bad arguments", func(t *testing.T) {
		_, err := NewCondition("stateIs", Args{"value": "closed", "on": "later"})
		require.Error(t, err)
		_, err = NewCondition("transitionTo", Args{"field": "state"})
		require.Error(t, err)
		_, err = NewCondition("always", Args{"x": 1})
		require.Error(t, err)
		_, err = NewCondition("whenever", nil)
		require.Error(t, err)
	})
}

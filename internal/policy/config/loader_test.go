package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper/internal/classification"
	"keeper/pkg/domain"
	dErrors "keeper/pkg/domain-errors"
)

const validPolicy = `
entityTypes:
  - name: Incident
    fields:
      - {name: title}
      - {name: reporterEmail, classification: personal}
    grants:
      - {role: support, operations: [read, update], predicate: ownerIsCallerOrUnassigned}
      - {role: admin, operations: [create, read, update, delete]}
    guards:
      - operation: update
        condition: transitionWhen
        args: {field: state, to: closed, whenField: severity, whenValue: high}
        requiredRole: admin
        message: closing a high-severity incident requires admin
  - name: Customer
    fields:
      - {name: ssn, classification: sensitive}
    grants:
      - {role: admin, operations: [read]}
`

func TestParseValidPolicy(t *testing.T) {
	model, err := Parse([]byte(validPolicy), "inline")
	require.NoError(t, err)

	assert.Equal(t, []string{"Customer", "Incident"}, model.EntityTypeNames())

	reg := model.Classifications()
	assert.Equal(t, classification.Personal, reg.Classify("Incident", "reporterEmail"))
	assert.Equal(t, classification.Sensitive, reg.Classify("Customer", "ssn"))
	assert.Equal(t, classification.Public, reg.Classify("Incident", "title"))

	support := domain.NewCaller("u1", "support")
	grants := model.GrantsFor("Incident", domain.OperationUpdate, support)
	require.Len(t, grants, 1)
	assert.Equal(t, "ownerIsCallerOrUnassigned", grants[0].Predicate.Name())

	assert.Empty(t, model.GrantsFor("Incident", domain.OperationDelete, support))
	assert.Equal(t, []string{"admin", "support"}, model.RolesGranting("Incident", domain.OperationRead))

	guards := model.GuardsFor("Incident", domain.OperationUpdate)
	require.Len(t, guards, 1)
	assert.Equal(t, "admin", guards[0].RequiredRole)
	assert.Empty(t, model.GuardsFor("Incident", domain.OperationDelete))
}

func TestParseRejectsInvalidPolicies(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		problem string
	}{
		{
			name:    "empty document",
			doc:     "",
			problem: "document is empty",
		},
		{
			name:    "no entity types",
			doc:     "entityTypes: []",
			problem: "EntityTypes",
		},
		{
			name:    "unknown top-level key",
			doc:     "entityTypes: [{name: A}]\nroles: []",
			problem: "yaml",
		},
		{
			name: "unknown operation",
			doc: `
entityTypes:
  - name: A
    grants: [{role: r, operations: [archive]}]`,
			problem: `unknown operation "archive"`,
		},
		{
			name: "unknown predicate",
			doc: `
entityTypes:
  - name: A
    grants: [{role: r, operations: [read], predicate: isFriday}]`,
			problem: `unknown predicate "isFriday"`,
		},
		{
			name: "predicate args without predicate",
			doc: `
entityTypes:
  - name: A
    grants: [{role: r, operations: [read], args: {field: owner}}]`,
			problem: "args given without a predicate",
		},
		{
			name: "malformed predicate args",
			doc: `
entityTypes:
  - name: A
    grants: [{role: r, operations: [read], predicate: fieldEquals, args: {field: tier}}]`,
			problem: `missing argument "value"`,
		},
		{
			name: "guard on read",
			doc: `
entityTypes:
  - name: A
    grants: [{role: r, operations: [read]}]
    guards: [{operation: read, condition: always, requiredRole: r, message: m}]`,
			problem: "guards apply to update or delete",
		},
		{
			name: "unknown condition",
			doc: `
entityTypes:
  - name: A
    grants: [{role: r, operations: [update]}]
    guards: [{operation: update, condition: sometimes, requiredRole: r, message: m}]`,
			problem: `unknown condition "sometimes"`,
		},
		{
			name: "guard role without grant",
			doc: `
entityTypes:
  - name: A
    grants: [{role: support, operations: [update]}]
    guards: [{operation: update, condition: always, requiredRole: admin, message: m}]`,
			problem: "requires role admin, which has no update grant",
		},
		{
			name: "conflicting guards",
			doc: `
entityTypes:
  - name: A
    grants:
      - {role: admin, operations: [update]}
      - {role: lead, operations: [update]}
    guards:
      - {operation: update, condition: stateIs, args: {value: closed}, requiredRole: admin, message: m}
      - {operation: update, condition: stateIs, args: {value: closed, on: current}, requiredRole: lead, message: m}`,
			problem: "conflicting guards",
		},
		{
			name: "duplicate guard",
			doc: `
entityTypes:
  - name: A
    grants: [{role: admin, operations: [delete]}]
    guards:
      - {operation: delete, condition: always, requiredRole: admin, message: m}
      - {operation: delete, condition: always, requiredRole: admin, message: other}`,
			problem: "duplicate guard",
		},
		{
			name: "duplicate entity type",
			doc: `
entityTypes:
  - {name: A}
  - {name: A}`,
			problem: "entity type A declared twice",
		},
		{
			name: "duplicate field",
			doc: `
entityTypes:
  - name: A
    fields: [{name: x}, {name: x}]`,
			problem: "field x declared twice",
		},
		{
			name: "unknown classification",
			doc: `
entityTypes:
  - name: A
    fields: [{name: x, classification: secret}]`,
			problem: `unknown classification "secret"`,
		},
		{
			name: "guard missing message",
			doc: `
entityTypes:
  - name: A
    grants: [{role: r, operations: [update]}]
    guards: [{operation: update, condition: always, requiredRole: r}]`,
			problem: "Message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := Parse([]byte(tt.doc), "inline")
			require.Error(t, err)
			assert.Nil(t, model)
			assert.True(t, IsConfigurationError(err))
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestParseCollectsAllProblems(t *testing.T) {
	doc := `
entityTypes:
  - name: A
    fields: [{name: x, classification: secret}]
    grants: [{role: r, operations: [archive]}]`

	_, err := Parse([]byte(doc), "inline")
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Problems, 2)
}

func TestLoad(t *testing.T) {
	t.Run("missing file is a configuration error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("shipped policy loads", func(t *testing.T) {
		model, err := Load(filepath.Join("..", "..", "..", "configs", "policy.yaml"))
		require.NoError(t, err)
		assert.Equal(t, []string{"Customer", "Incident"}, model.EntityTypeNames())
	})

	t.Run("reads from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(validPolicy), 0o600))
		_, err := Load(path)
		require.NoError(t, err)
	})
}

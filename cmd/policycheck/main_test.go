package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_ShippedPolicyIsValid(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"../../configs/policy.yaml"}, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Incident")
	assert.Contains(t, stdout.String(), "grant support: create,read,update when ownerIsCallerOrUnassigned")
	assert.Contains(t, stdout.String(), "guard update transitionWhen: requires admin")
}

func TestRun_ReportsConfigurationErrors(t *testing.T) {
	path := writePolicy(t, `
entityTypes:
  - name: Incident
    fields:
      - {name: title, classification: public}
    grants:
      - role: support
        operations: [read, archive]
`)
	var stdout, stderr bytes.Buffer
	code := run([]string{path}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "problem(s)")
	assert.Contains(t, stderr.String(), "archive")
	assert.Empty(t, stdout.String())
}

func TestRun_MissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{filepath.Join(t.TempDir(), "absent.yaml")}, &stdout, &stderr))
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: policycheck")
}

func TestRun_Quiet(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"-q", "../../configs/policy.yaml"}, &stdout, &stderr))
	assert.Empty(t, stdout.String())
}

func TestRun_ListsVocabulary(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"--list"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "predicates: fieldEquals, fieldIn, ownerIsCaller, ownerIsCallerOrUnassigned")
	assert.Contains(t, stdout.String(), "transitionWhen")
}

func TestRun_UnknownPredicateSuggestsKnownOnes(t *testing.T) {
	path := writePolicy(t, `
entityTypes:
  - name: Incident
    grants:
      - {role: support, operations: [read], predicate: isWeekday}
`)
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{path}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown predicate "isWeekday"`)
	assert.Contains(t, stderr.String(), "predicates: fieldEquals")
	assert.NotContains(t, stderr.String(), "conditions:")
}

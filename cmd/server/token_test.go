package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper/internal/identity"
	"keeper/pkg/platform/secrets"
)

func TestParseTokenSpec(t *testing.T) {
	tests := []struct {
		spec    string
		subject string
		roles   []string
		wantErr bool
	}{
		{spec: "alice:support,admin", subject: "alice", roles: []string{"support", "admin"}},
		{spec: "bob", subject: "bob"},
		{spec: "carol: auditor , ", subject: "carol", roles: []string{"auditor"}},
		{spec: ":admin", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			subject, roles, err := parseTokenSpec(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)
			assert.Equal(t, tt.roles, roles)
		})
	}
}

func TestIssueDevTokenRoundTrips(t *testing.T) {
	svc := identity.NewJWTService("test-key", "keeper")
	token, err := issueDevToken(svc, "alice:support", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	caller := claims.Caller()
	assert.Equal(t, "alice", caller.ID)
	assert.True(t, caller.HasRole("support"))
}

func TestPrintAdminToken(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printAdminToken(&out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	token := strings.TrimPrefix(lines[0], "X-Admin-Token: ")
	hash := strings.TrimPrefix(lines[1], "KEEPER_ADMIN_TOKEN_HASH=")
	assert.NoError(t, secrets.Verify(token, hash))
}

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"keeper/internal/identity"
	"keeper/pkg/platform/secrets"
)

// parseTokenSpec reads "subject:role1,role2". Roles may be empty.
func parseTokenSpec(spec string) (string, []string, error) {
	subject, roleList, _ := strings.Cut(spec, ":")
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", nil, fmt.Errorf("token spec %q: subject is required", spec)
	}
	var roles []string
	for _, r := range strings.Split(roleList, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return subject, roles, nil
}

func issueDevToken(jwtService *identity.JWTService, spec string, ttl time.Duration) (string, error) {
	subject, roles, err := parseTokenSpec(spec)
	if err != nil {
		return "", err
	}
	return jwtService.IssueToken(subject, roles, ttl)
}

// printAdminToken prints a new operator token once. Only the hash belongs in
// the server environment.
func printAdminToken(w io.Writer) error {
	token, err := secrets.Generate()
	if err != nil {
		return err
	}
	hash, err := secrets.Hash(token)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "X-Admin-Token: %s\nKEEPER_ADMIN_TOKEN_HASH=%s\n", token, hash)
	return nil
}

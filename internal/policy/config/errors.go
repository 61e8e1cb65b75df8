package config

import (
	"errors"
	"fmt"
	"strings"

	dErrors "keeper/pkg/domain-errors"
)

// ConfigurationError reports every problem found in a policy document.
// It is fatal at startup and rejects a hot reload.
type ConfigurationError struct {
	Source   string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid policy configuration %s: %s", e.Source, strings.Join(e.Problems, "; "))
}

// Unwrap exposes the error to dErrors.HasCode(err, dErrors.CodeConfiguration).
func (e *ConfigurationError) Unwrap() error {
	return dErrors.New(dErrors.CodeConfiguration, "invalid policy configuration")
}

func (e *ConfigurationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ConfigurationError) empty() bool {
	return len(e.Problems) == 0
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

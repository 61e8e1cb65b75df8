package domain

import (
	dErrors "keeper/pkg/domain-errors"
)

const maxIdentifierLength = 128

// RecordID identifies an entity instance within its entity type.
type RecordID string

// EntityTypeName names a configured entity schema (e.g. "Incident").
type EntityTypeName string

// ParseRecordID validates a record identifier at a trust boundary.
// Identifiers are 1-128 characters of [A-Za-z0-9._:-].
func ParseRecordID(s string) (RecordID, error) {
	if err := validateIdentifier(s, "record id"); err != nil {
		return "", err
	}
	return RecordID(s), nil
}

// ParseEntityTypeName validates an entity type name at a trust boundary.
func ParseEntityTypeName(s string) (EntityTypeName, error) {
	if err := validateIdentifier(s, "entity type"); err != nil {
		return "", err
	}
	return EntityTypeName(s), nil
}

func (id RecordID) String() string      { return string(id) }
func (n EntityTypeName) String() string { return string(n) }

func validateIdentifier(s, label string) error {
	if s == "" {
		return dErrors.New(dErrors.CodeValidation, label+" cannot be empty")
	}
	if len(s) > maxIdentifierLength {
		return dErrors.New(dErrors.CodeValidation, label+" is too long")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == ':', c == '-':
		default:
			return dErrors.New(dErrors.CodeValidation, label+" contains invalid characters")
		}
	}
	return nil
}

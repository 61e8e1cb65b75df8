package domain

import (
	"strings"

	dErrors "keeper/pkg/domain-errors"
)

// Operation is one of the four CRUD operations a grant may allow.
// Invariant: the value must be one of the supported operations.
//
// Usage: construct via ParseOperation at trust boundaries; direct casting
// bypasses validation.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// validOperations is the single source of truth for supported operations.
var validOperations = map[Operation]bool{
	OperationCreate: true,
	OperationRead:   true,
	OperationUpdate: true,
	OperationDelete: true,
}

// ParseOperation constructs an Operation from external input (case-insensitive).
//
// Errors: returns CodeValidation when the value is empty or unsupported.
func ParseOperation(s string) (Operation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "operation cannot be empty")
	}
	op := Operation(s)
	if !op.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "invalid operation")
	}
	return op, nil
}

// IsValid checks if the operation is one of the supported enum values.
func (o Operation) IsValid() bool {
	return validOperations[o]
}

// IsWrite is true for operations that change stored state.
func (o Operation) IsWrite() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

func (o Operation) String() string {
	return string(o)
}

// AllOperations lists operations in canonical order.
func AllOperations() []Operation {
	return []Operation{OperationCreate, OperationRead, OperationUpdate, OperationDelete}
}

package handler

import (
	"strings"

	"keeper/pkg/domain"
	dErrors "keeper/pkg/domain-errors"
)

const maxFields = 256

// WriteRequest is the body of POST /records/{type} and PATCH /records/{type}/{id}.
type WriteRequest struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

// Validate checks field names. ID is only meaningful on create and is parsed
// there.
func (r *WriteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Fields) > maxFields {
		return dErrors.New(dErrors.CodeValidation, "too many fields")
	}
	for name := range r.Fields {
		if strings.TrimSpace(name) == "" || len(name) > 128 {
			return dErrors.New(dErrors.CodeValidation, "invalid field name")
		}
	}
	r.ID = strings.TrimSpace(r.ID)
	if r.ID != "" {
		if _, err := domain.ParseRecordID(r.ID); err != nil {
			return err
		}
	}
	return nil
}

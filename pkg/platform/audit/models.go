package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the audit event taxonomy.
type Kind string

const (
	// KindSensitiveDataRead records that classified fields were returned to a caller.
	KindSensitiveDataRead Kind = "sensitive_data_read"
	// KindPersonalDataModified records that classified fields were written or erased.
	KindPersonalDataModified Kind = "personal_data_modified"
	// KindSecurityEvent records a denied or failed authorization.
	KindSecurityEvent Kind = "security_event"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindSensitiveDataRead, KindPersonalDataModified, KindSecurityEvent:
		return true
	}
	return false
}

// EventCategory selects the delivery path and retention of an event.
type EventCategory string

const (
	// CategoryCompliance events are delivered synchronously and fail closed.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity events are buffered and never block the request.
	CategorySecurity EventCategory = "security"
	// CategoryOperations events are sampled diagnostics.
	CategoryOperations EventCategory = "operations"
)

// Category returns the delivery category for k.
func (k Kind) Category() EventCategory {
	if k == KindSecurityEvent {
		return CategorySecurity
	}
	return CategoryCompliance
}

// Severity levels for SIEM routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Masked replaces the value of a Sensitive field wherever one would appear.
const Masked = "***"

// Attribute names one classified field touched by the operation. Values are
// present only for Personal fields on writes; Sensitive values are Masked.
type Attribute struct {
	Name     string `json:"name"`
	OldValue any    `json:"oldValue,omitempty"`
	NewValue any    `json:"newValue,omitempty"`
}

// Event is an immutable audit record. Emitters build it once and sinks only
// append it.
type Event struct {
	ID            string      `json:"id"`
	Kind          Kind        `json:"kind"`
	Actor         string      `json:"actor"`
	SubjectType   string      `json:"subjectType"`
	SubjectID     string      `json:"subjectId"`
	Attributes    []Attribute `json:"attributes"`
	Action        string      `json:"action,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Severity      Severity    `json:"severity"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID string      `json:"correlationId,omitempty"`
	ClientIP      string      `json:"clientIp,omitempty"`
	UserAgent     string      `json:"userAgent,omitempty"`
}

func (e Event) Category() EventCategory {
	return e.Kind.Category()
}

// AttributeNames lists the field names carried by the event in order.
func (e Event) AttributeNames() []string {
	names := make([]string, len(e.Attributes))
	for i, a := range e.Attributes {
		names[i] = a.Name
	}
	return names
}

// Validate checks the fields every sink relies on.
func (e Event) Validate() error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("audit event has invalid kind %q", e.Kind)
	}
	if e.ID == "" {
		return fmt.Errorf("audit event requires ID")
	}
	if e.SubjectType == "" {
		return fmt.Errorf("audit event requires SubjectType")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("audit event requires Timestamp")
	}
	return nil
}

// Marshal encodes an event for outbox rows, queues and topics.
func Marshal(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return b, nil
}

func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal audit event: %w", err)
	}
	return e, nil
}

// OpsEvent is a sampled operational diagnostic, such as an evaluation that
// timed out before completing.
type OpsEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Action        string    `json:"action"`
	Subject       string    `json:"subject"`
	Detail        string    `json:"detail,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Sink is the append-only destination for audit events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// OpsSink receives operational diagnostics.
type OpsSink interface {
	AppendOps(ctx context.Context, event OpsEvent) error
}

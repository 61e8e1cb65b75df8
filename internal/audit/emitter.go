// Package audit turns mediator outcomes into classification-driven audit
// events and routes them to the delivery path for their category.
//
// Compliance events (SensitiveDataRead, PersonalDataModified) fail closed:
// Record returns an error the caller must treat as a failed operation.
// Security events never change an already-decided Deny, so their delivery
// errors are logged and swallowed by Deny.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	auditevent "keeper/pkg/platform/audit"
	"keeper/pkg/requestcontext"
)

// Publisher delivers one event. The compliance and security publishers both
// satisfy it.
type Publisher interface {
	Emit(ctx context.Context, event auditevent.Event) error
}

// Tracker records operational diagnostics.
type Tracker interface {
	Track(ctx context.Context, event auditevent.OpsEvent)
}

type Emitter struct {
	compliance Publisher
	security   Publisher
	ops        Tracker
	logger     *slog.Logger
}

type Option func(*Emitter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		e.logger = logger
	}
}

func WithTracker(t Tracker) Option {
	return func(e *Emitter) {
		e.ops = t
	}
}

func New(compliance, security Publisher, opts ...Option) *Emitter {
	e := &Emitter{
		compliance: compliance,
		security:   security,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Record builds one event and hands it to the publisher for its category.
// An empty correlationID falls back to the request ID.
func (e *Emitter) Record(ctx context.Context, kind auditevent.Kind, actor, subjectType, subjectID string, attrs []auditevent.Attribute, correlationID string) error {
	return e.emit(ctx, e.build(ctx, kind, actor, subjectType, subjectID, attrs, correlationID))
}

func (e *Emitter) build(ctx context.Context, kind auditevent.Kind, actor, subjectType, subjectID string, attrs []auditevent.Attribute, correlationID string) auditevent.Event {
	if correlationID == "" {
		correlationID = requestcontext.RequestID(ctx)
	}
	if attrs == nil {
		attrs = []auditevent.Attribute{}
	}
	return auditevent.Event{
		ID:            uuid.NewString(),
		Kind:          kind,
		Actor:         actor,
		SubjectType:   subjectType,
		SubjectID:     subjectID,
		Attributes:    attrs,
		Severity:      auditevent.SeverityInfo,
		Timestamp:     requestcontext.Now(ctx),
		CorrelationID: correlationID,
		ClientIP:      requestcontext.ClientIP(ctx),
		UserAgent:     requestcontext.UserAgent(ctx),
	}
}

func (e *Emitter) emit(ctx context.Context, event auditevent.Event) error {
	publisher := e.compliance
	if event.Category() == auditevent.CategorySecurity {
		publisher = e.security
	}

	e.logger.InfoContext(ctx, string(event.Kind),
		"log_type", "audit",
		"event_id", event.ID,
		"actor", event.Actor,
		"entity_type", event.SubjectType,
		"entity_id", event.SubjectID,
		"attributes", event.AttributeNames(),
		"request_id", event.CorrelationID,
	)
	return publisher.Emit(ctx, event)
}

// Diagnose raises an operational diagnostic. It never fails the request.
func (e *Emitter) Diagnose(ctx context.Context, action, subject, detail string) {
	if e.ops == nil {
		return
	}
	e.ops.Track(ctx, auditevent.OpsEvent{
		Timestamp:     requestcontext.Now(ctx),
		Action:        action,
		Subject:       subject,
		Detail:        detail,
		CorrelationID: requestcontext.RequestID(ctx),
	})
}

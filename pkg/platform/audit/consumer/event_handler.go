package consumer

import (
	"context"
	"fmt"
	"log/slog"

	audit "keeper/pkg/platform/audit"
)

// EventWriter materializes audit events idempotently.
type EventWriter interface {
	AppendWithID(ctx context.Context, event audit.Event) error
}

// EventHandler writes audit events from the audit topic into queryable storage.
// Undecodable messages are logged and skipped; a storage failure is returned
// so the message is redelivered.
type EventHandler struct {
	store  EventWriter
	logger *slog.Logger
}

func NewEventHandler(store EventWriter, logger *slog.Logger) *EventHandler {
	return &EventHandler{store: store, logger: logger}
}

func (h *EventHandler) Handle(ctx context.Context, msg *Message) error {
	event, err := audit.Unmarshal(msg.Value)
	if err != nil {
		h.logger.Error("CRITICAL: failed to decode audit event",
			"key", string(msg.Key),
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if err := event.Validate(); err != nil {
		h.logger.Error("CRITICAL: invalid audit event",
			"key", string(msg.Key),
			"kind", msg.Headers["audit-kind"],
			"error", err,
		)
		return nil
	}

	if err := h.store.AppendWithID(ctx, event); err != nil {
		return fmt.Errorf("store audit event %s: %w", event.ID, err)
	}

	h.logger.Debug("materialized audit event",
		"event_id", event.ID,
		"kind", event.Kind,
		"subject_type", event.SubjectType,
		"subject_id", event.SubjectID,
	)
	return nil
}

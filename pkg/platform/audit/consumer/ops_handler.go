package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	audit "keeper/pkg/platform/audit"
)

// OpsHandler stores operational diagnostics. Ops events are best-effort:
// every failure is logged and the message is committed.
type OpsHandler struct {
	store  audit.OpsSink
	logger *slog.Logger
}

func NewOpsHandler(store audit.OpsSink, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{store: store, logger: logger}
}

func (h *OpsHandler) Handle(ctx context.Context, msg *Message) error {
	var event audit.OpsEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Debug("failed to unmarshal ops event",
			"key", string(msg.Key),
			"error", err,
		)
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := h.store.AppendOps(ctx, event); err != nil {
		h.logger.Debug("failed to store ops event",
			"action", event.Action,
			"error", err,
		)
	}
	return nil
}

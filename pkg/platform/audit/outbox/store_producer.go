package outbox

import (
	"context"
	"fmt"

	audit "keeper/pkg/platform/audit"
)

// EventWriter stores an audit event idempotently by its ID.
type EventWriter interface {
	AppendWithID(ctx context.Context, event audit.Event) error
}

// StoreProducer materializes outbox rows straight into the audit table. It
// stands in for the broker when none is configured.
type StoreProducer struct {
	store EventWriter
}

func NewStoreProducer(store EventWriter) *StoreProducer {
	return &StoreProducer{store: store}
}

func (p *StoreProducer) PublishRaw(ctx context.Context, key, _ string, payload []byte) error {
	event, err := audit.Unmarshal(payload)
	if err != nil {
		return fmt.Errorf("decode outbox row %s: %w", key, err)
	}
	return p.store.AppendWithID(ctx, event)
}

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "keeper/pkg/platform/audit"
)

type recordingWriter struct {
	events []audit.Event
	err    error
}

func (w *recordingWriter) AppendWithID(_ context.Context, e audit.Event) error {
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, e)
	return nil
}

func TestStoreProducer_Materializes(t *testing.T) {
	event := audit.Event{
		ID:          "7a4f4f0e-2f8a-4b7e-9d59-1f7c2a4e2b11",
		Kind:        audit.KindPersonalDataModified,
		Actor:       "alice",
		SubjectType: "Customer",
		SubjectID:   "C-1",
		Attributes:  []audit.Attribute{{Name: "email", OldValue: "a@x", NewValue: "b@x"}},
		Severity:    audit.SeverityInfo,
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	payload, err := audit.Marshal(event)
	require.NoError(t, err)

	w := &recordingWriter{}
	require.NoError(t, NewStoreProducer(w).PublishRaw(context.Background(), "Customer/C-1", string(event.Kind), payload))
	require.Len(t, w.events, 1)
	assert.Equal(t, event.ID, w.events[0].ID)
	assert.Equal(t, []string{"email"}, w.events[0].AttributeNames())
}

func TestStoreProducer_Errors(t *testing.T) {
	w := &recordingWriter{}
	err := NewStoreProducer(w).PublishRaw(context.Background(), "k", "", []byte("{not json"))
	assert.Error(t, err)

	payload, err := audit.Marshal(audit.Event{ID: "e-1", Kind: audit.KindSensitiveDataRead})
	require.NoError(t, err)
	w.err = errors.New("db down")
	assert.ErrorIs(t, NewStoreProducer(w).PublishRaw(context.Background(), "k", "", payload), w.err)
}

package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "keeper/pkg/platform/audit"
	"keeper/pkg/platform/audit/store/memory"
)

func denyEvent(id string) audit.Event {
	return audit.Event{
		ID:          id,
		Kind:        audit.KindSecurityEvent,
		Actor:       "alice",
		SubjectType: "Incident",
		SubjectID:   "INC-1",
		Attributes:  []audit.Attribute{},
		Action:      "update Incident/INC-1 denied: requires [admin], holds [support]",
		Reason:      "closing a high-severity incident requires admin",
		Severity:    audit.SeverityWarning,
		Timestamp:   time.Now(),
	}
}

type flakySink struct {
	mu    sync.Mutex
	fails int
	calls int
	store *memory.InMemoryStore
}

func (f *flakySink) Append(ctx context.Context, e audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("siem unavailable")
	}
	return f.store.Append(ctx, e)
}

type recordingFallback struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingFallback) Push(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func TestRingBuffer(t *testing.T) {
	b := NewRingBuffer(2)
	_, dropped := b.Enqueue(denyEvent("1"))
	assert.False(t, dropped)
	b.Enqueue(denyEvent("2"))

	displaced, dropped := b.Enqueue(denyEvent("3"))
	assert.True(t, dropped)
	assert.Equal(t, "1", displaced.ID)
	assert.Equal(t, int64(1), b.Dropped())

	batch := b.DequeueBatch(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "2", batch[0].ID)
	assert.Equal(t, "3", batch[1].ID)
	assert.Zero(t, b.Len())
	assert.Nil(t, b.DequeueBatch(1))
}

func TestPublisher_FlushDelivers(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithFlushInterval(time.Hour))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), denyEvent("1")))
	assert.Empty(t, store.Events(), "emission does not touch the sink")

	require.NoError(t, pub.Flush(context.Background()))
	require.Len(t, store.Events(), 1)
}

func TestPublisher_BackgroundLoopFlushes(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithFlushInterval(10*time.Millisecond))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), denyEvent("1")))
	assert.Eventually(t, func() bool { return len(store.Events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPublisher_CloseDrains(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithFlushInterval(time.Hour))

	for i := range 10 {
		require.NoError(t, pub.Emit(context.Background(), denyEvent(fmt.Sprint(i))))
	}
	require.NoError(t, pub.Close())
	assert.Len(t, store.Events(), 10)
	require.NoError(t, pub.Close(), "second close is a no-op")
}

func TestPublisher_RetriesTransientFailures(t *testing.T) {
	sink := &flakySink{fails: 2, store: memory.NewInMemoryStore()}
	pub := New(sink, WithFlushInterval(time.Hour), WithRetry(3, time.Millisecond))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), denyEvent("1")))
	require.NoError(t, pub.Flush(context.Background()))
	assert.Len(t, sink.store.Events(), 1)
	assert.Equal(t, 3, sink.calls)
}

func TestPublisher_SpillsUndeliverable(t *testing.T) {
	sink := &flakySink{fails: 100, store: memory.NewInMemoryStore()}
	fb := &recordingFallback{}
	pub := New(sink, WithFlushInterval(time.Hour), WithRetry(2, 0), WithFallback(fb))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), denyEvent("1")))
	err := pub.Flush(context.Background())
	require.Error(t, err)
	require.Len(t, fb.events, 1)
	assert.Equal(t, "1", fb.events[0].ID)
}

func TestPublisher_FullBufferSpillsOldest(t *testing.T) {
	store := memory.NewInMemoryStore()
	fb := &recordingFallback{}
	pub := New(store, WithFlushInterval(time.Hour), WithBuffer(1), WithFallback(fb))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), denyEvent("1")))
	require.NoError(t, pub.Emit(context.Background(), denyEvent("2")))

	assert.Equal(t, int64(1), pub.Dropped())
	require.Len(t, fb.events, 1)
	assert.Equal(t, "1", fb.events[0].ID)
}

func TestPublisher_RejectsOtherKinds(t *testing.T) {
	pub := New(memory.NewInMemoryStore(), WithFlushInterval(time.Hour))
	defer pub.Close()

	ev := denyEvent("1")
	ev.Kind = audit.KindSensitiveDataRead
	require.Error(t, pub.Emit(context.Background(), ev))
}

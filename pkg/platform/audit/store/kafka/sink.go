// Package kafka publishes audit events to a Kafka topic. It is used directly
// as a sink (KEEPER_AUDIT_SINK=kafka) and by the outbox relay.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "keeper/pkg/platform/audit"
)

const (
	// HeaderKind carries the event kind so consumers can route without decoding.
	HeaderKind = "audit-kind"
	opsSuffix  = ".ops"
)

// Sink produces audit events keyed by subject so events about one record
// keep their order within a partition.
type Sink struct {
	client *kgo.Client
	topic  string
	owned  bool
}

// New dials the brokers. Produce waits for all in-sync replicas.
func New(brokers []string, topic string, opts ...kgo.Opt) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchMaxBytes(1 << 20),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Sink{client: client, topic: topic, owned: true}, nil
}

// NewWithClient wraps an existing client; Close leaves it open.
func NewWithClient(client *kgo.Client, topic string) *Sink {
	return &Sink{client: client, topic: topic}
}

// Topic is the audit event topic.
func (s *Sink) Topic() string { return s.topic }

// OpsTopic is the topic for operational diagnostics.
func (s *Sink) OpsTopic() string { return s.topic + opsSuffix }

// EnsureTopics creates the event and ops topics if they do not exist.
func (s *Sink) EnsureTopics(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, s.Topic(), s.OpsTopic())
	if err != nil {
		return fmt.Errorf("create audit topics: %w", err)
	}
	var failed []string
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			failed = append(failed, fmt.Sprintf("%s: %v", t.Topic, t.Err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("create audit topics: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := audit.Marshal(event)
	if err != nil {
		return err
	}
	return s.PublishRaw(ctx, SubjectKey(event.SubjectType, event.SubjectID), string(event.Kind), payload)
}

// PublishRaw produces an already-encoded event. The outbox relay uses it to
// forward rows without decoding them.
func (s *Sink) PublishRaw(ctx context.Context, key, kind string, payload []byte) error {
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: HeaderKind, Value: []byte(kind)},
		},
	}
	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func (s *Sink) AppendOps(ctx context.Context, event audit.OpsEvent) error {
	payload, err := marshalOps(event)
	if err != nil {
		return err
	}
	rec := &kgo.Record{Topic: s.OpsTopic(), Key: []byte(event.Action), Value: payload}
	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce ops event: %w", err)
	}
	return nil
}

func (s *Sink) Close() {
	if s.owned {
		s.client.Close()
	}
}

// SubjectKey is the partition key for events about one record.
func SubjectKey(subjectType, subjectID string) string {
	return subjectType + "/" + subjectID
}

func marshalOps(event audit.OpsEvent) ([]byte, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal ops event: %w", err)
	}
	return b, nil
}

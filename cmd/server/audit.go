package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"keeper/internal/platform/config"
	redisclient "keeper/internal/platform/redis"
	auditevent "keeper/pkg/platform/audit"
	"keeper/pkg/platform/audit/consumer"
	"keeper/pkg/platform/audit/outbox"
	"keeper/pkg/platform/audit/publishers/compliance"
	"keeper/pkg/platform/audit/publishers/ops"
	"keeper/pkg/platform/audit/publishers/security"
	"keeper/pkg/platform/audit/retry"
	"keeper/pkg/platform/audit/store/kafka"
	auditmemory "keeper/pkg/platform/audit/store/memory"
	auditpostgres "keeper/pkg/platform/audit/store/postgres"
)

const (
	topicPartitions  = 3
	topicReplication = 1
)

// auditPipeline is the delivery side of the audit emitter: the sink chosen by
// KEEPER_AUDIT_SINK, the three publishers in front of it, and the background
// loops that move events onward.
type auditPipeline struct {
	compliance *compliance.Publisher
	security   *security.Publisher
	tracker    *ops.Tracker

	runners []func(ctx context.Context) error
	closers []func()
}

func buildAuditPipeline(ctx context.Context, cfg config.Server, db *sql.DB, rdb *redisclient.Client, logger *slog.Logger) (*auditPipeline, error) {
	p := &auditPipeline{}

	var (
		sink    auditevent.Sink
		opsSink auditevent.OpsSink
		broker  *kafka.Sink
	)
	if len(cfg.Kafka.Brokers) > 0 && cfg.Audit.Sink != config.SinkMemory {
		k, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		if err := k.EnsureTopics(ctx, topicPartitions, topicReplication); err != nil {
			logger.WarnContext(ctx, "audit topics not provisioned", "topic", k.Topic(), "error", err)
		}
		broker = k
		p.closers = append(p.closers, k.Close)
	}

	sinkKind := resolveSink(cfg.Audit.Sink, db != nil)
	if sinkKind != cfg.Audit.Sink {
		logger.InfoContext(ctx, "audit sink routed through postgres outbox",
			"configured", cfg.Audit.Sink,
			"relay_to_broker", broker != nil,
		)
	}

	switch sinkKind {
	case config.SinkMemory:
		store := auditmemory.NewInMemoryStore()
		sink, opsSink = store, store
	case config.SinkPostgres:
		store := auditpostgres.New(db)
		sink, opsSink = store, store
		var producer outbox.Producer = outbox.NewStoreProducer(store)
		if broker != nil {
			producer = broker
		}
		relay := outbox.NewRelay(db, producer, outbox.WithLogger(logger))
		p.runners = append(p.runners, relay.Run)
	case config.SinkKafka:
		sink, opsSink = broker, broker
	default:
		return nil, fmt.Errorf("unknown audit sink %q", cfg.Audit.Sink)
	}

	if broker != nil && db != nil {
		if err := p.addMaterializer(cfg, auditpostgres.New(db), broker, logger); err != nil {
			p.Close()
			return nil, err
		}
	}

	sampler, err := ops.NewSampler(cfg.Ops.SampleRates)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.tracker = ops.New(opsSink,
		ops.WithSampler(sampler),
		ops.WithCircuitBreaker(ops.NewCircuitBreaker(cfg.Ops.BreakerThreshold, cfg.Ops.BreakerCooldown)),
		ops.WithMetrics(ops.NewMetrics()),
		ops.WithLogger(logger),
	)

	complianceOpts := []compliance.Option{
		compliance.WithLogger(logger),
		compliance.WithMetrics(compliance.NewMetrics()),
		compliance.WithFallbackTimeout(cfg.Audit.Timeout),
		compliance.WithTracker(p.tracker),
	}
	securityOpts := []security.Option{
		security.WithLogger(logger),
		security.WithMetrics(security.NewMetrics()),
		security.WithBuffer(cfg.Audit.SecurityBuffer),
	}
	if rdb != nil {
		queue := retry.NewQueue(rdb.Client, retry.DefaultKey)
		complianceOpts = append(complianceOpts, compliance.WithFallback(queue))
		securityOpts = append(securityOpts, security.WithFallback(queue))
		worker := retry.NewWorker(queue, sink,
			retry.WithLogger(logger),
			retry.WithMetrics(retry.NewMetrics()),
		)
		p.runners = append(p.runners, worker.Run)
	}

	p.compliance = compliance.New(sink, complianceOpts...)
	p.security = security.New(sink, securityOpts...)
	p.closers = append([]func(){func() { _ = p.security.Close() }}, p.closers...)
	return p, nil
}

// resolveSink picks the sink compliance events are appended to. Records
// written to Postgres commit in the same transaction as their audit events,
// so with a database every sink goes through the outbox and the relay forwards
// to the broker after commit.
func resolveSink(configured string, hasDB bool) string {
	if hasDB {
		return config.SinkPostgres
	}
	return configured
}

// addMaterializer consumes the audit topics back into queryable Postgres tables.
func (p *auditPipeline) addMaterializer(cfg config.Server, store *auditpostgres.Store, broker *kafka.Sink, logger *slog.Logger) error {
	router := consumer.NewRouter(logger, nil)
	router.Register(broker.Topic(), consumer.NewEventHandler(store, logger))
	router.Register(broker.OpsTopic(), consumer.NewOpsHandler(store, logger))
	c, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, router.Topics(), router, logger)
	if err != nil {
		return err
	}
	p.runners = append(p.runners, c.Run)
	return nil
}

// Close drains the security buffer before releasing broker connections.
func (p *auditPipeline) Close() {
	for _, c := range p.closers {
		c()
	}
}

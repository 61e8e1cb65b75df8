// Package mediator sits between transports and the record store. Every
// request is fetched, evaluated by the policy engine, applied, and audited in
// that order; success is reported only after the audit event was accepted.
package mediator

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"keeper/internal/classification"
	"keeper/internal/mediator/metrics"
	policymodels "keeper/internal/policy/models"
	"keeper/internal/records/models"
	"keeper/pkg/domain"
	dErrors "keeper/pkg/domain-errors"
	"keeper/pkg/platform/audit/publishers/ops"
	"keeper/pkg/platform/sentinel"
	"keeper/pkg/requestcontext"
)

const (
	tracerName             = "keeper/internal/mediator"
	defaultListConcurrency = 8
)

type Service struct {
	store           RecordStore
	evaluator       Evaluator
	auditor         Auditor
	tx              TxRunner
	metrics         *metrics.Metrics
	logger          *slog.Logger
	tracer          trace.Tracer
	timeout         time.Duration
	listConcurrency int
}

type Option func(*Service)

func WithTxRunner(tx TxRunner) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithTimeout bounds each request, covering storage and audit delivery.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

func WithListConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.listConcurrency = n
		}
	}
}

func New(store RecordStore, evaluator Evaluator, auditor Auditor, opts ...Option) *Service {
	s := &Service{
		store:           store,
		evaluator:       evaluator,
		auditor:         auditor,
		tx:              NoTx{},
		logger:          slog.Default(),
		tracer:          otel.Tracer(tracerName),
		listConcurrency: defaultListConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle mediates one operation on one instance. For create an empty id is
// replaced with a generated one. Delete returns a nil record.
//
// Errors are limited to CodeNotFound, CodeForbidden (message is the decision
// reason), CodeBadRequest for malformed input, and a retryable CodeInternal
// that covers storage conflicts, timeouts and audit delivery failures.
func (s *Service) Handle(ctx context.Context, caller domain.Caller, op domain.Operation, entityType, id string, change policymodels.Change) (*models.Record, error) {
	var rec *models.Record
	err := s.traced(ctx, "mediator.Handle", op, entityType, func(ctx context.Context) error {
		var err error
		rec, err = s.dispatch(ctx, caller, op, entityType, id, change)
		return err
	})
	return rec, err
}

// List returns the instances of entityType the caller may read. Instances
// withheld by instance-level policy are filtered silently; a caller with no
// read grant on the type at all is denied.
func (s *Service) List(ctx context.Context, caller domain.Caller, entityType string) ([]*models.Record, error) {
	var out []*models.Record
	err := s.traced(ctx, "mediator.List", domain.OperationRead, entityType, func(ctx context.Context) error {
		var err error
		out, err = s.list(ctx, caller, entityType)
		return err
	})
	return out, err
}

func (s *Service) traced(ctx context.Context, name string, op domain.Operation, entityType string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("keeper.operation", op.String()),
		attribute.String("keeper.entity_type", entityType),
	))
	defer span.End()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err := fn(ctx)
	outcome := outcomeOf(err)
	span.SetAttributes(attribute.String("keeper.outcome", outcome))
	if outcome == metrics.OutcomeError {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mediated request failed")
	}
	s.metrics.ObserveRequest(op.String(), outcome, time.Since(start))
	return err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeAllow
	case dErrors.Is(err, dErrors.CodeForbidden):
		return metrics.OutcomeDeny
	case dErrors.Is(err, dErrors.CodeNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}

func (s *Service) dispatch(ctx context.Context, caller domain.Caller, op domain.Operation, entityType, id string, change policymodels.Change) (*models.Record, error) {
	switch op {
	case domain.OperationCreate:
		return s.create(ctx, caller, entityType, id, change)
	case domain.OperationRead:
		return s.read(ctx, caller, entityType, id)
	case domain.OperationUpdate:
		if len(change) == 0 {
			return nil, dErrors.New(dErrors.CodeBadRequest, "update requires at least one field")
		}
		return s.update(ctx, caller, entityType, id, change)
	case domain.OperationDelete:
		return nil, s.delete(ctx, caller, entityType, id)
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "unsupported operation")
	}
}

func (s *Service) create(ctx context.Context, caller domain.Caller, entityType, id string, change policymodels.Change) (*models.Record, error) {
	op := domain.OperationCreate
	if id == "" {
		id = uuid.NewString()
	}
	proposed := policymodels.Instance{Type: entityType, ID: id, Fields: maps.Clone(map[string]any(change))}
	if err := s.authorize(ctx, caller, op, proposed, change); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, op, entityType, id, err)
	}

	var created *models.Record
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rec, err := s.store.Create(ctx, &models.Record{Type: entityType, ID: id, Fields: maps.Clone(proposed.Fields)})
		if err != nil {
			return err
		}
		if err := s.auditor.Write(ctx, s.registry(), caller.ID, entityType, id, nil, change); err != nil {
			return err
		}
		created = rec
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, op, entityType, id, err)
	}
	return created, nil
}

func (s *Service) read(ctx context.Context, caller domain.Caller, entityType, id string) (*models.Record, error) {
	op := domain.OperationRead
	current, err := s.store.Fetch(ctx, entityType, id)
	if err != nil {
		return nil, s.fail(ctx, op, entityType, id, err)
	}
	inst := instanceOf(current)
	if err := s.authorize(ctx, caller, op, inst, nil); err != nil {
		return nil, err
	}
	if err := s.auditor.Read(ctx, s.registry(), caller.ID, inst); err != nil {
		return nil, s.fail(ctx, op, entityType, id, err)
	}
	return current, nil
}

func (s *Service) update(ctx context.Context, caller domain.Caller, entityType, id string, change policymodels.Change) (*models.Record, error) {
	op := domain.OperationUpdate
	current, err := s.store.Fetch(ctx, entityType, id)
	if err != nil {
		return nil, s.fail(ctx, op, entityType, id, err)
	}
	if err := s.authorize(ctx, caller, op, instanceOf(current), change); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, op, entityType, id, err)
	}

	var updated *models.Record
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rec, err := s.store.Apply(ctx, entityType, id, current.Version, change)
		if err != nil {
			return err
		}
		if err := s.auditor.Write(ctx, s.registry(), caller.ID, entityType, id, current.Fields, change); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, op, entityType, id, err)
	}
	return updated, nil
}

func (s *Service) delete(ctx context.Context, caller domain.Caller, entityType, id string) error {
	op := domain.OperationDelete
	current, err := s.store.Fetch(ctx, entityType, id)
	if err != nil {
		return s.fail(ctx, op, entityType, id, err)
	}
	inst := instanceOf(current)
	if err := s.authorize(ctx, caller, op, inst, nil); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, op, entityType, id, err)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Delete(ctx, entityType, id, current.Version); err != nil {
			return err
		}
		return s.auditor.Delete(ctx, s.registry(), caller.ID, inst)
	})
	if err != nil {
		return s.fail(ctx, op, entityType, id, err)
	}
	return nil
}

func (s *Service) list(ctx context.Context, caller domain.Caller, entityType string) ([]*models.Record, error) {
	op := domain.OperationRead
	model := s.evaluator.Model()
	if len(model.GrantsFor(entityType, op, caller)) == 0 {
		decision := policymodels.DenyDecision(policymodels.ReasonNoGrant, model.RolesGranting(entityType, op))
		return nil, s.deny(ctx, caller, op, entityType, "", decision)
	}

	recs, err := s.store.List(ctx, entityType)
	if err != nil {
		return nil, s.fail(ctx, op, entityType, "", err)
	}

	visible := make([]*models.Record, 0, len(recs))
	for _, rec := range recs {
		decision := s.evaluator.Evaluate(policymodels.Request{
			Caller:     caller,
			Operation:  op,
			EntityType: entityType,
			Instance:   instanceOf(rec),
		})
		switch {
		case decision.Allowed():
			visible = append(visible, rec)
		case decision.EvalError:
			s.auditor.Deny(ctx, caller, op, entityType, rec.ID, decision)
		}
	}
	s.metrics.AddListFiltered(len(recs) - len(visible))
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, op, entityType, "", err)
	}

	registry := model.Classifications()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.listConcurrency)
	for _, rec := range visible {
		g.Go(func() error {
			return s.auditor.Read(gctx, registry, caller.ID, instanceOf(rec))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.fail(ctx, op, entityType, "", err)
	}
	return visible, nil
}

func (s *Service) authorize(ctx context.Context, caller domain.Caller, op domain.Operation, inst policymodels.Instance, change policymodels.Change) error {
	decision := s.evaluator.Evaluate(policymodels.Request{
		Caller:     caller,
		Operation:  op,
		EntityType: inst.Type,
		Instance:   inst,
		Change:     change,
	})
	if decision.Allowed() {
		return nil
	}
	return s.deny(ctx, caller, op, inst.Type, inst.ID, decision)
}

func (s *Service) deny(ctx context.Context, caller domain.Caller, op domain.Operation, entityType, id string, decision policymodels.Decision) error {
	s.auditor.Deny(ctx, caller, op, entityType, id, decision)
	s.logger.InfoContext(ctx, "request denied",
		"request_id", requestcontext.RequestID(ctx),
		"actor", caller.ID,
		"operation", op,
		"entity_type", entityType,
		"entity_id", id,
		"reason", decision.Reason,
	)
	return dErrors.New(dErrors.CodeForbidden, decision.Reason)
}

// fail translates storage, timeout and audit failures into the errors callers
// may see.
func (s *Service) fail(ctx context.Context, op domain.Operation, entityType, id string, err error) error {
	subject := entityType
	if id != "" {
		subject += "/" + id
	}

	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "record not found")
	case errors.Is(err, sentinel.ErrConflict):
		s.auditor.Diagnose(ctx, ops.ActionStorageConflict, subject, op.String())
		return dErrors.Retry(dErrors.CodeInternal, "concurrent modification, retry the request", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.auditor.Diagnose(ctx, ops.ActionEvaluationIncomplete, subject, op.String()+": "+err.Error())
		return dErrors.Retry(dErrors.CodeInternal, "request did not complete in time", err)
	}

	s.logger.ErrorContext(ctx, "mediated request failed",
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"entity_type", entityType,
		"entity_id", id,
		"error", err,
	)
	if dErrors.HasCode(err, dErrors.CodeAuditDelivery) {
		return dErrors.Retry(dErrors.CodeInternal, "operation could not be audited", err)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "operation failed")
}

func (s *Service) registry() *classification.Registry {
	return s.evaluator.Model().Classifications()
}

func instanceOf(rec *models.Record) policymodels.Instance {
	return policymodels.Instance{Type: rec.Type, ID: rec.ID, Fields: rec.Fields}
}

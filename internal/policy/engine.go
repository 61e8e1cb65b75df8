// Package policy evaluates authorization requests against a loaded policy model.
//
// Evaluation order:
//  1. collect grants on (entity type, operation) for every role the caller holds
//  2. any grant without a predicate, or whose predicate holds, provisionally allows
//  3. guards on (entity type, operation) run only after a provisional allow and
//     can only turn it into a Deny
//
// The engine performs no I/O. Predicate and condition failures, including
// panics, become a Deny flagged EvalError so the caller can raise a security event.
package policy

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"keeper/internal/classification"
	"keeper/internal/policy/metrics"
	"keeper/internal/policy/models"
)

type Engine struct {
	model   atomic.Pointer[models.Model]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func New(model *models.Model, opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	e.model.Store(model)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the model currently in force.
func (e *Engine) Model() *models.Model {
	return e.model.Load()
}

// Classifications returns the registry of the model currently in force.
func (e *Engine) Classifications() *classification.Registry {
	return e.model.Load().Classifications()
}

// Swap replaces the model for subsequent evaluations. In-flight evaluations
// finish against the model they started with.
func (e *Engine) Swap(model *models.Model) {
	if model == nil {
		e.metrics.IncrementReload("rejected")
		return
	}
	e.model.Store(model)
	e.metrics.IncrementReload("applied")
}

// Evaluate decides a single request. It never returns an error: anything that
// prevents a clean decision is a Deny.
func (e *Engine) Evaluate(req models.Request) (decision models.Decision) {
	start := time.Now()
	model := e.model.Load()

	defer func() {
		if r := recover(); r != nil {
			decision = e.evalError(req, fmt.Errorf("panic: %v", r))
		}
		e.metrics.ObserveEvaluateLatency(time.Since(start))
		e.metrics.IncrementDecision(string(decision.Outcome), req.Operation.String(), req.EntityType)
	}()

	grants := model.GrantsFor(req.EntityType, req.Operation, req.Caller)
	if len(grants) == 0 {
		return models.DenyDecision(models.ReasonNoGrant, model.RolesGranting(req.EntityType, req.Operation))
	}

	// Any satisfied grant wins, so a failing predicate on one role cannot
	// weaken another role's grant.
	satisfied := false
	var grantErr error
	for _, g := range grants {
		if g.Predicate == nil {
			satisfied = true
			break
		}
		ok, err := g.Predicate.Eval(req.Caller, req.Instance)
		if err != nil {
			if grantErr == nil {
				grantErr = fmt.Errorf("grant %s/%s: %w", g.Role, g.Predicate.Name(), err)
			}
			continue
		}
		if ok {
			satisfied = true
			break
		}
	}
	if !satisfied && grantErr != nil {
		return e.evalError(req, grantErr)
	}
	if !satisfied {
		return models.DenyDecision(models.ReasonPredicateNotSatisfied, unconditionalRoles(model, req))
	}

	for _, guard := range model.GuardsFor(req.EntityType, req.Operation) {
		fires, err := guard.Condition.Holds(req.Instance, req.Change)
		if err != nil {
			return e.evalError(req, fmt.Errorf("guard %s: %w", guard.Condition.Key(), err))
		}
		if fires && !req.Caller.HasRole(guard.RequiredRole) {
			return models.DenyDecision(guard.Message, []string{guard.RequiredRole})
		}
	}

	return models.AllowDecision()
}

func (e *Engine) evalError(req models.Request, err error) models.Decision {
	e.metrics.IncrementEvalError(req.EntityType)
	e.logger.Error("policy evaluation failed",
		"entity_type", req.EntityType,
		"entity_id", req.Instance.ID,
		"operation", req.Operation.String(),
		"actor", req.Caller.ID,
		"error", err,
	)
	d := models.DenyDecision(models.ReasonEvaluationError, nil)
	d.EvalError = true
	return d
}

// unconditionalRoles names roles whose grant on the operation carries no
// predicate: the roles that would have passed regardless of the instance.
func unconditionalRoles(model *models.Model, req models.Request) []string {
	et, ok := model.EntityType(req.EntityType)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var roles []string
	for _, g := range et.Grants {
		if !g.Allows(req.Operation) || g.Predicate != nil {
			continue
		}
		if _, dup := seen[g.Role]; dup {
			continue
		}
		seen[g.Role] = struct{}{}
		roles = append(roles, g.Role)
	}
	return roles
}

package mediator

import (
	"context"

	"keeper/internal/classification"
	policymodels "keeper/internal/policy/models"
	"keeper/internal/records/models"
	"keeper/pkg/domain"
)

// RecordStore is the storage collaborator. Stores report missing records with
// sentinel.ErrNotFound and lost version races with sentinel.ErrConflict.
type RecordStore interface {
	Fetch(ctx context.Context, entityType, id string) (*models.Record, error)
	List(ctx context.Context, entityType string) ([]*models.Record, error)
	Create(ctx context.Context, rec *models.Record) (*models.Record, error)
	Apply(ctx context.Context, entityType, id string, expectedVersion int64, change map[string]any) (*models.Record, error)
	Delete(ctx context.Context, entityType, id string, expectedVersion int64) error
}

// Evaluator is the policy engine.
type Evaluator interface {
	Evaluate(req policymodels.Request) policymodels.Decision
	Model() *policymodels.Model
}

// Auditor turns outcomes into audit events. Read, Write and Delete fail
// closed; Deny and Diagnose never fail the request.
type Auditor interface {
	Read(ctx context.Context, registry *classification.Registry, actor string, inst policymodels.Instance) error
	Write(ctx context.Context, registry *classification.Registry, actor, entityType, id string, before map[string]any, change policymodels.Change) error
	Delete(ctx context.Context, registry *classification.Registry, actor string, inst policymodels.Instance) error
	Deny(ctx context.Context, caller domain.Caller, op domain.Operation, entityType, id string, decision policymodels.Decision)
	Diagnose(ctx context.Context, action, subject, detail string)
}

// TxRunner runs fn so that the record write and its audit event commit or
// roll back together. Stores and sinks find the transaction in ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

package audit

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"keeper/internal/classification"
	"keeper/internal/policy/models"
	"keeper/pkg/domain"
	auditevent "keeper/pkg/platform/audit"
)

// Read records that inst was returned to actor. The event names every
// classified field present on the instance and never carries values. An
// instance with no classified fields produces no event.
func (e *Emitter) Read(ctx context.Context, registry *classification.Registry, actor string, inst models.Instance) error {
	attrs := namesOnly(registry.Partition(inst.Type, sortedKeys(inst.Fields)))
	if len(attrs) == 0 {
		return nil
	}
	return e.Record(ctx, auditevent.KindSensitiveDataRead, actor, inst.Type, inst.ID, attrs, "")
}

// Write records a create or update. Only fields in change are considered.
// Personal fields carry their old and new values; Sensitive values are masked.
// before is nil for a create.
func (e *Emitter) Write(ctx context.Context, registry *classification.Registry, actor, entityType, id string, before map[string]any, change models.Change) error {
	parts := registry.Partition(entityType, change.FieldNames())
	var attrs []auditevent.Attribute
	for _, name := range parts[classification.Personal] {
		attrs = append(attrs, auditevent.Attribute{
			Name:     name,
			OldValue: before[name],
			NewValue: change[name],
		})
	}
	for _, name := range parts[classification.Sensitive] {
		attr := auditevent.Attribute{Name: name, NewValue: auditevent.Masked}
		if before[name] != nil {
			attr.OldValue = auditevent.Masked
		}
		attrs = append(attrs, attr)
	}
	sortByName(attrs)
	if len(attrs) == 0 {
		return nil
	}
	return e.Record(ctx, auditevent.KindPersonalDataModified, actor, entityType, id, attrs, "")
}

// Delete records the erasure of the classified fields held by inst.
func (e *Emitter) Delete(ctx context.Context, registry *classification.Registry, actor string, inst models.Instance) error {
	attrs := namesOnly(registry.Partition(inst.Type, sortedKeys(inst.Fields)))
	if len(attrs) == 0 {
		return nil
	}
	return e.Record(ctx, auditevent.KindPersonalDataModified, actor, inst.Type, inst.ID, attrs, "")
}

// Deny records exactly one SecurityEvent for a refused request. Delivery
// failures are logged; the Deny stands either way.
func (e *Emitter) Deny(ctx context.Context, caller domain.Caller, op domain.Operation, entityType, id string, decision models.Decision) {
	event := e.build(ctx, auditevent.KindSecurityEvent, caller.ID, entityType, id, nil, "")
	event.Action = DenyAction(caller, op, entityType, id, decision)
	event.Reason = decision.Reason
	event.Severity = auditevent.SeverityWarning
	if decision.EvalError {
		event.Severity = auditevent.SeverityCritical
	}

	if err := e.emit(ctx, event); err != nil {
		e.logger.ErrorContext(ctx, "security audit delivery failed",
			"log_type", "audit",
			"event_id", event.ID,
			"actor", caller.ID,
			"entity_type", entityType,
			"entity_id", id,
			"error", err,
		)
	}
}

// DenyAction describes a denial: the resource, the operation, and the roles
// that would have allowed it against the roles the caller holds.
func DenyAction(caller domain.Caller, op domain.Operation, entityType, id string, decision models.Decision) string {
	resource := entityType
	if id != "" {
		resource += "/" + id
	}
	return fmt.Sprintf("%s %s denied: requires role %s, caller holds %s",
		op, resource, roleList(decision.RequiredRoles), roleList(caller.Roles()))
}

func roleList(roles []string) string {
	if len(roles) == 0 {
		return "[none]"
	}
	return "[" + strings.Join(roles, ", ") + "]"
}

// namesOnly turns the classified part of a partition into value-free
// attributes ordered by name.
func namesOnly(parts map[classification.Classification][]string) []auditevent.Attribute {
	var attrs []auditevent.Attribute
	for _, c := range []classification.Classification{classification.Personal, classification.Sensitive} {
		for _, name := range parts[c] {
			attrs = append(attrs, auditevent.Attribute{Name: name})
		}
	}
	sortByName(attrs)
	return attrs
}

func sortByName(attrs []auditevent.Attribute) {
	slices.SortFunc(attrs, func(a, b auditevent.Attribute) int {
		return strings.Compare(a.Name, b.Name)
	})
}

func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

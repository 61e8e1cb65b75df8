package models

// Outcome of a policy evaluation.
type Outcome string

const (
	Allow Outcome = "allow"
	Deny  Outcome = "deny"
)

// Deny reasons produced by the engine itself. Guard denials carry the
// guard's configured message instead.
const (
	ReasonNoGrant               = "no role grants this operation"
	ReasonPredicateNotSatisfied = "instance-level predicate not satisfied"
	ReasonEvaluationError       = "policy evaluation error"
)

// Decision is the transient result of Evaluate.
type Decision struct {
	Outcome Outcome
	Reason  string
	// RequiredRoles names the roles that would have allowed the request.
	// Set on Deny only.
	RequiredRoles []string
	// EvalError is set when a predicate or condition failed to evaluate.
	EvalError bool
}

func AllowDecision() Decision {
	return Decision{Outcome: Allow}
}

func DenyDecision(reason string, requiredRoles []string) Decision {
	return Decision{Outcome: Deny, Reason: reason, RequiredRoles: requiredRoles}
}

func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

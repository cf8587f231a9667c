// Package policy evaluates configurable business rules before a payment
// attempt is created. Rules are boolean govaluate expressions over the
// request; a rule evaluating to false vetoes creation. Typical rules cap
// per-provider amounts or reserve the MANUAL provider for elevated callers.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// Rule pairs a name (reported on denial) with a boolean expression.
type Rule struct {
	Name       string
	Expression string
}

// CreateInput is the parameter set exposed to rule expressions.
type CreateInput struct {
	Amount   int64
	Currency string
	Provider string
	Role     string
}

// Decision is the evaluation result. DeniedBy names the first violated rule.
type Decision struct {
	Allowed  bool
	DeniedBy string
}

type compiledRule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// Enforcer holds compiled rules; construction fails on an unparsable
// expression so misconfiguration surfaces at startup, not per request.
type Enforcer struct {
	rules []compiledRule
}

func NewEnforcer(rules []Rule) (*Enforcer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("policy: compiling rule %q: %w", r.Name, err)
		}
		compiled = append(compiled, compiledRule{name: r.Name, expr: expr})
	}
	return &Enforcer{rules: compiled}, nil
}

// Evaluate runs every rule against the request. The first violation denies;
// an expression that errors or yields a non-boolean denies as well, since an
// unevaluable rule must fail closed.
func (e *Enforcer) Evaluate(in CreateInput) (Decision, error) {
	params := map[string]any{
		"amount":   float64(in.Amount),
		"currency": in.Currency,
		"provider": in.Provider,
		"role":     in.Role,
	}
	for _, r := range e.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			return Decision{DeniedBy: r.name}, fmt.Errorf("policy: evaluating rule %q: %w", r.name, err)
		}
		ok, isBool := result.(bool)
		if !isBool {
			return Decision{DeniedBy: r.name}, fmt.Errorf("policy: rule %q is not boolean", r.name)
		}
		if !ok {
			return Decision{Allowed: false, DeniedBy: r.name}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// DefaultRules is the baseline rule set wired at startup.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "PositiveAmount", Expression: "amount > 0"},
		{Name: "ManualRequiresAdmin", Expression: "provider != 'MANUAL' || role == 'admin'"},
		{Name: "StripeNoVND", Expression: "provider != 'STRIPE' || currency != 'VND'"},
	}
}

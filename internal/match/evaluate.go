// Package match evaluates rule sets against loaded metadata and ranks
// image candidates for viewport assignment.
package match

import (
	"github.com/mrsinham/dicomhang/internal/metadata"
	"github.com/mrsinham/dicomhang/internal/protocol"
)

// RuleOutcome records how a single rule fared, kept for diagnostics.
type RuleOutcome struct {
	Rule   protocol.Rule
	Reason string // set on failure
}

// Details lists every rule outcome of an evaluation, in rule order.
type Details struct {
	Passed []RuleOutcome
	Failed []RuleOutcome
}

// Result is the outcome of evaluating a rule set against one entity.
// Never mutated after creation.
type Result struct {
	Score          float64
	RequiredFailed bool
	Details        Details
}

// Usable reports whether the result may qualify its entity: a failed
// required rule disqualifies regardless of score.
func (r Result) Usable() bool { return !r.RequiredFailed }

// CustomAttributeFunc computes a derived attribute from an entity, e.g. a
// timepoint type from study attributes.
type CustomAttributeFunc func(entity metadata.Entity) any

// Evaluator evaluates rule sets. It carries the registry of custom
// attribute callbacks hosts may add for derived attributes.
type Evaluator struct {
	custom map[string]CustomAttributeFunc
}

// NewEvaluator creates an evaluator with no custom attributes.
func NewEvaluator() *Evaluator {
	return &Evaluator{custom: make(map[string]CustomAttributeFunc)}
}

// RegisterCustomAttribute adds a callback computing the named attribute
// on demand during evaluation. Computed values are cached on the entity.
func (e *Evaluator) RegisterCustomAttribute(id string, fn CustomAttributeFunc) {
	e.custom[id] = fn
}

// Evaluate runs every rule in the set against the entity. All rules are
// evaluated, no early exit, so Details is always complete. The score is
// the sum of the weights of passing rules and is reported even when a
// required rule failed; callers gate on Usable.
func (e *Evaluator) Evaluate(rules protocol.RuleSet, entity metadata.Entity) Result {
	var res Result
	for _, rule := range rules {
		value, ok := e.lookup(rule.Attribute, entity)
		if !ok {
			res.Details.Failed = append(res.Details.Failed, RuleOutcome{Rule: rule, Reason: "attribute not present"})
			if rule.Required {
				res.RequiredFailed = true
			}
			continue
		}
		if rule.Constraint.Evaluate(value) {
			res.Score += rule.Weight
			res.Details.Passed = append(res.Details.Passed, RuleOutcome{Rule: rule})
		} else {
			res.Details.Failed = append(res.Details.Failed, RuleOutcome{Rule: rule, Reason: "constraint not satisfied"})
			if rule.Required {
				res.RequiredFailed = true
			}
		}
	}
	return res
}

// lookup resolves an attribute value: custom attributes first, then the
// callback registry (caching the computed value), then raw metadata.
func (e *Evaluator) lookup(attribute string, entity metadata.Entity) (any, bool) {
	if v, ok := entity.CustomAttribute(attribute); ok {
		return v, true
	}
	if fn, ok := e.custom[attribute]; ok {
		v := fn(entity)
		entity.SetCustomAttribute(attribute, v)
		return v, true
	}
	return entity.Attribute(attribute)
}

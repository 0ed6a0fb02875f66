package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConstraintKind identifies one of the supported constraint operators.
// The set is closed: unknown operators are rejected when a protocol is
// loaded, and an invalid kind always evaluates to false.
type ConstraintKind int

const (
	ConstraintInvalid ConstraintKind = iota
	ConstraintEquals
	ConstraintContains
	ConstraintNumericality
	ConstraintRange
)

// String returns the operator name as it appears in protocol files.
func (k ConstraintKind) String() string {
	switch k {
	case ConstraintEquals:
		return "equals"
	case ConstraintContains:
		return "contains"
	case ConstraintNumericality:
		return "numericality"
	case ConstraintRange:
		return "range"
	default:
		return "invalid"
	}
}

// NumericBounds holds the sub-keys of a numericality constraint. Unset
// bounds are nil and are not checked.
type NumericBounds struct {
	EqualTo              *float64 `yaml:"equalTo"`
	GreaterThan          *float64 `yaml:"greaterThan"`
	GreaterThanOrEqualTo *float64 `yaml:"greaterThanOrEqualTo"`
	LessThan             *float64 `yaml:"lessThan"`
	LessThanOrEqualTo    *float64 `yaml:"lessThanOrEqualTo"`
}

func (b NumericBounds) empty() bool {
	return b.EqualTo == nil && b.GreaterThan == nil && b.GreaterThanOrEqualTo == nil &&
		b.LessThan == nil && b.LessThanOrEqualTo == nil
}

// Constraint is a single test applied to an attribute value.
//
// In protocol files a constraint keeps the shape the rule library has
// always used, one operator key mapping to its operand:
//
//	constraint:
//	  contains:
//	    value: "CT CHEST"
type Constraint struct {
	Kind   ConstraintKind
	Value  any           // operand for equals and contains
	Bounds NumericBounds // numericality sub-keys
	Min    float64       // range lower bound, inclusive
	Max    float64       // range upper bound, inclusive
}

// Equals builds an equals constraint.
func Equals(value any) Constraint {
	return Constraint{Kind: ConstraintEquals, Value: value}
}

// Contains builds a contains constraint.
func Contains(value any) Constraint {
	return Constraint{Kind: ConstraintContains, Value: value}
}

// GreaterThanOrEqual builds a numericality constraint with a single lower bound.
func GreaterThanOrEqual(n float64) Constraint {
	return Constraint{Kind: ConstraintNumericality, Bounds: NumericBounds{GreaterThanOrEqualTo: &n}}
}

// Range builds an inclusive range constraint.
func Range(min, max float64) Constraint {
	return Constraint{Kind: ConstraintRange, Min: min, Max: max}
}

// Validate reports whether the constraint is well formed. Protocols with
// malformed constraints are rejected at load time rather than silently
// failing every evaluation.
func (c Constraint) Validate() error {
	switch c.Kind {
	case ConstraintEquals, ConstraintContains:
		if c.Value == nil {
			return fmt.Errorf("%s constraint requires a value", c.Kind)
		}
	case ConstraintNumericality:
		if c.Bounds.empty() {
			return fmt.Errorf("numericality constraint requires at least one bound")
		}
	case ConstraintRange:
		if c.Min > c.Max {
			return fmt.Errorf("range constraint has min %v > max %v", c.Min, c.Max)
		}
	default:
		return fmt.Errorf("unknown constraint operator")
	}
	return nil
}

// Evaluate tests an attribute value against the constraint. A nil actual
// value always fails, and so does an invalid constraint kind.
func (c Constraint) Evaluate(actual any) bool {
	if actual == nil {
		return false
	}

	switch c.Kind {
	case ConstraintEquals:
		return valuesEqual(actual, c.Value)

	case ConstraintContains:
		switch v := actual.(type) {
		case string:
			return strings.Contains(v, stringValue(c.Value))
		case []string:
			for _, item := range v {
				if valuesEqual(item, c.Value) {
					return true
				}
			}
			return false
		case []any:
			for _, item := range v {
				if valuesEqual(item, c.Value) {
					return true
				}
			}
			return false
		default:
			return strings.Contains(stringValue(actual), stringValue(c.Value))
		}

	case ConstraintNumericality:
		n, ok := floatValue(actual)
		if !ok {
			return false
		}
		if c.Bounds.EqualTo != nil && n != *c.Bounds.EqualTo {
			return false
		}
		if c.Bounds.GreaterThan != nil && !(n > *c.Bounds.GreaterThan) {
			return false
		}
		if c.Bounds.GreaterThanOrEqualTo != nil && !(n >= *c.Bounds.GreaterThanOrEqualTo) {
			return false
		}
		if c.Bounds.LessThan != nil && !(n < *c.Bounds.LessThan) {
			return false
		}
		if c.Bounds.LessThanOrEqualTo != nil && !(n <= *c.Bounds.LessThanOrEqualTo) {
			return false
		}
		return true

	case ConstraintRange:
		n, ok := floatValue(actual)
		if !ok {
			return false
		}
		return n >= c.Min && n <= c.Max

	default:
		// Fail closed on operators the registry does not know.
		return false
	}
}

// OperandNumber extracts the numeric operand of a constraint, used to
// read the prior index out of an abstractPriorValue rule regardless of
// which operator it was written with.
func OperandNumber(c Constraint) (float64, bool) {
	return c.operandNumber()
}

func (c Constraint) operandNumber() (float64, bool) {
	switch c.Kind {
	case ConstraintEquals, ConstraintContains:
		return floatValue(c.Value)
	case ConstraintNumericality:
		for _, b := range []*float64{
			c.Bounds.EqualTo,
			c.Bounds.GreaterThanOrEqualTo,
			c.Bounds.GreaterThan,
			c.Bounds.LessThanOrEqualTo,
			c.Bounds.LessThan,
		} {
			if b != nil {
				return *b, true
			}
		}
		return 0, false
	case ConstraintRange:
		return c.Max, true
	default:
		return 0, false
	}
}

// valuesEqual compares two values after coercing them to a common type:
// numerically when both sides are numeric, string equality otherwise.
func valuesEqual(actual, operand any) bool {
	if an, ok := floatValue(actual); ok {
		if on, ok := floatValue(operand); ok {
			return an == on
		}
	}
	return stringValue(actual) == stringValue(operand)
}

// floatValue coerces a value to float64. Strings are parsed; anything that
// does not parse cleanly reports false, so NaN never enters a comparison.
func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// constraintFile mirrors the on-disk shape of a constraint: one operator
// key mapping to its operand block.
type constraintFile struct {
	Equals *struct {
		Value any `yaml:"value"`
	} `yaml:"equals"`
	Contains *struct {
		Value any `yaml:"value"`
	} `yaml:"contains"`
	Numericality *NumericBounds `yaml:"numericality"`
	Range        *struct {
		Min float64 `yaml:"min"`
		Max float64 `yaml:"max"`
	} `yaml:"range"`
}

// UnmarshalYAML decodes the operator-keyed file form into the tagged
// variant, rejecting operators outside the known set.
func (c *Constraint) UnmarshalYAML(node *yaml.Node) error {
	known := map[string]bool{"equals": true, "contains": true, "numericality": true, "range": true}
	for i := 0; i < len(node.Content); i += 2 {
		if key := node.Content[i].Value; !known[key] {
			return fmt.Errorf("unknown constraint operator %q", key)
		}
	}

	var file constraintFile
	if err := node.Decode(&file); err != nil {
		return err
	}

	switch {
	case file.Equals != nil:
		*c = Equals(file.Equals.Value)
	case file.Contains != nil:
		*c = Contains(file.Contains.Value)
	case file.Numericality != nil:
		*c = Constraint{Kind: ConstraintNumericality, Bounds: *file.Numericality}
	case file.Range != nil:
		*c = Range(file.Range.Min, file.Range.Max)
	default:
		return fmt.Errorf("constraint has no operator")
	}
	return c.Validate()
}

// MarshalYAML encodes the constraint back into its file form.
func (c Constraint) MarshalYAML() (any, error) {
	switch c.Kind {
	case ConstraintEquals, ConstraintContains:
		return map[string]any{c.Kind.String(): map[string]any{"value": c.Value}}, nil
	case ConstraintNumericality:
		return map[string]any{"numericality": c.Bounds}, nil
	case ConstraintRange:
		return map[string]any{"range": map[string]float64{"min": c.Min, "max": c.Max}}, nil
	default:
		return nil, fmt.Errorf("cannot marshal invalid constraint")
	}
}

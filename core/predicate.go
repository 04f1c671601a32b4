package core

import "fmt"

// PredicateKind discriminates the tagged predicate variant.
type PredicateKind string

const (
	// PredicateEquals matches a field against a literal value.
	PredicateEquals PredicateKind = "equals"
	// PredicateRange matches a numeric field against [Min, Max] bounds.
	PredicateRange PredicateKind = "range"
	// PredicatePattern matches a string field against a regular expression.
	PredicatePattern PredicateKind = "pattern"
	// PredicateHasTag matches tag membership on the event.
	PredicateHasTag PredicateKind = "has_tag"
	// PredicateAllOf is the boolean conjunction of its children.
	PredicateAllOf PredicateKind = "all_of"
	// PredicateAnyOf is the boolean disjunction of its children.
	PredicateAnyOf PredicateKind = "any_of"
	// PredicateNot negates its single child.
	PredicateNot PredicateKind = "not"
)

// Predicate is a structured boolean condition over event attributes,
// evaluated by the small interpreter in the detect package. One variant
// per Kind; unused fields stay zero. Serializes to JSON, BSON and YAML.
type Predicate struct {
	Kind PredicateKind `json:"kind" bson:"kind" yaml:"kind" validate:"required"`

	// Field names the event attribute for equals, range and pattern.
	Field string `json:"field,omitempty" bson:"field,omitempty" yaml:"field,omitempty"`

	// Value is the literal for equals.
	Value interface{} `json:"value,omitempty" bson:"value,omitempty" yaml:"value,omitempty"`

	// Min and Max bound range; either may be omitted for a half-open range.
	Min *float64 `json:"min,omitempty" bson:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" bson:"max,omitempty" yaml:"max,omitempty"`

	// Pattern is the regular expression for pattern.
	Pattern string `json:"pattern,omitempty" bson:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Tag is the label for has_tag.
	Tag string `json:"tag,omitempty" bson:"tag,omitempty" yaml:"tag,omitempty"`

	// Children hold the operands of all_of, any_of and not.
	Children []Predicate `json:"children,omitempty" bson:"children,omitempty" yaml:"children,omitempty"`
}

const maxPredicateDepth = 16

// Validate checks the predicate shape. Malformed predicates are reported
// as ErrInvalidRule; the detect engine isolates the failure to the owning
// rule.
func (p *Predicate) Validate() error {
	return p.validate(0)
}

func (p *Predicate) validate(depth int) error {
	if depth > maxPredicateDepth {
		return fmt.Errorf("%w: nesting exceeds depth %d", ErrInvalidRule, maxPredicateDepth)
	}

	switch p.Kind {
	case PredicateEquals:
		if p.Field == "" {
			return fmt.Errorf("%w: equals requires a field", ErrInvalidRule)
		}
		if p.Value == nil {
			return fmt.Errorf("%w: equals requires a value", ErrInvalidRule)
		}
	case PredicateRange:
		if p.Field == "" {
			return fmt.Errorf("%w: range requires a field", ErrInvalidRule)
		}
		if p.Min == nil && p.Max == nil {
			return fmt.Errorf("%w: range requires min or max", ErrInvalidRule)
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return fmt.Errorf("%w: range min %v exceeds max %v", ErrInvalidRule, *p.Min, *p.Max)
		}
	case PredicatePattern:
		if p.Field == "" {
			return fmt.Errorf("%w: pattern requires a field", ErrInvalidRule)
		}
		if p.Pattern == "" {
			return fmt.Errorf("%w: pattern requires an expression", ErrInvalidRule)
		}
	case PredicateHasTag:
		if p.Tag == "" {
			return fmt.Errorf("%w: has_tag requires a tag", ErrInvalidRule)
		}
	case PredicateAllOf, PredicateAnyOf:
		if len(p.Children) == 0 {
			return fmt.Errorf("%w: %s requires at least one child", ErrInvalidRule, p.Kind)
		}
		for i := range p.Children {
			if err := p.Children[i].validate(depth + 1); err != nil {
				return err
			}
		}
	case PredicateNot:
		if len(p.Children) != 1 {
			return fmt.Errorf("%w: not requires exactly one child", ErrInvalidRule)
		}
		if err := p.Children[0].validate(depth + 1); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown predicate kind %q", ErrInvalidRule, p.Kind)
	}

	return nil
}

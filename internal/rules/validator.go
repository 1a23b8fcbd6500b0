package rules

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the structural validators.
var (
	ErrInvalidRule          = errors.New("invalid rule")
	ErrInvalidClause        = errors.New("invalid clause")
	ErrInvalidOperator      = errors.New("invalid operator")
	ErrInvalidServe         = errors.New("invalid serve")
	ErrInvalidDistribution  = errors.New("invalid distribution")
	ErrDistributionOverflow = errors.New("distribution weights exceed 100")
)

// ValidateRule performs strict validation of a targeting Rule.
// It is a pure function: it never mutates r and has no side effects.
func ValidateRule(r Rule) error {
	if r.RuleID == "" {
		return fmt.Errorf("%w: rule id must not be empty", ErrInvalidRule)
	}

	if len(r.Clauses) == 0 {
		return fmt.Errorf("%w: rule %q must have at least one clause", ErrInvalidRule, r.RuleID)
	}

	for i, c := range r.Clauses {
		if err := ValidateClause(i, c); err != nil {
			return fmt.Errorf("rule %q: %w", r.RuleID, err)
		}
	}

	if err := ValidateServe(r.Serve); err != nil {
		return fmt.Errorf("rule %q: %w", r.RuleID, err)
	}
	return nil
}

// ValidateClause checks attribute, operator and value arity of the clause at index i.
func ValidateClause(i int, c Clause) error {
	if c.Attribute == "" && c.Op != OpSegmentMatch {
		return fmt.Errorf("%w: clause[%d] attribute must not be empty", ErrInvalidClause, i)
	}

	if !c.Op.IsValid() {
		return fmt.Errorf("%w: clause[%d] operator %q is not supported", ErrInvalidOperator, i, c.Op)
	}

	if len(c.Values) == 0 {
		return fmt.Errorf("%w: clause[%d] requires at least one value", ErrInvalidClause, i)
	}
	if !c.Op.IsMultiValued() && len(c.Values) > 1 {
		return fmt.Errorf("%w: clause[%d] operator %q accepts exactly one value, got %d", ErrInvalidClause, i, c.Op, len(c.Values))
	}
	return nil
}

// ValidateServe rejects an unset serve and validates a percentage distribution.
func ValidateServe(s Serve) error {
	switch s.Kind() {
	case ServeFixed:
		if v, _ := s.Variation(); v == "" {
			return fmt.Errorf("%w: variation must not be empty", ErrInvalidServe)
		}
		return nil
	case ServePercentage:
		d, _ := s.Distribution()
		return ValidateDistribution(d)
	}
	return fmt.Errorf("%w: neither variation nor distribution set", ErrInvalidServe)
}

// ValidateDistribution checks weights are in [0,100], variations are unique and the
// total does not exceed 100. A total below 100 leaves the remainder unallocated.
func ValidateDistribution(d Distribution) error {
	if len(d.Variations) == 0 {
		return fmt.Errorf("%w: distribution must not be empty", ErrInvalidDistribution)
	}

	seen := make(map[string]struct{}, len(d.Variations))
	for _, wv := range d.Variations {
		if wv.Variation == "" {
			return fmt.Errorf("%w: variation id must not be empty", ErrInvalidDistribution)
		}
		if _, dup := seen[wv.Variation]; dup {
			return fmt.Errorf("%w: duplicate variation %q", ErrInvalidDistribution, wv.Variation)
		}
		seen[wv.Variation] = struct{}{}
		if wv.Weight < 0 || wv.Weight > 100 {
			return fmt.Errorf("%w: variation %q has weight %d outside 0..100", ErrInvalidDistribution, wv.Variation, wv.Weight)
		}
	}

	if sum := d.Sum(); sum > 100 {
		return fmt.Errorf("%w: got %d", ErrDistributionOverflow, sum)
	}
	return nil
}

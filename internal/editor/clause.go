// Package editor implements the draft editing model for a feature's rule-set.
// Every operation is copy-on-write: inputs are never mutated, results are fresh
// slices, so a previous draft stays valid for undo and change detection.
package editor

import (
	"errors"

	"github.com/TimurManjosov/flagrules/internal/rules"
	"github.com/TimurManjosov/flagrules/internal/validation"
)

var (
	// ErrLastClause is returned when removing the only clause of a rule.
	ErrLastClause = errors.New("a rule must keep at least one clause")
	// ErrIndexOutOfRange is returned when an index does not address an element.
	ErrIndexOutOfRange = errors.New("index out of range")
)

func cloneClauses(clauses []rules.Clause) []rules.Clause {
	out := make([]rules.Clause, len(clauses))
	for i, c := range clauses {
		out[i] = c.Clone()
	}
	return out
}

func editClause(clauses []rules.Clause, index int, fn func(*rules.Clause)) []rules.Clause {
	out := cloneClauses(clauses)
	if index < 0 || index >= len(out) {
		return out
	}
	fn(&out[index])
	return out
}

// OnAttributeChange sets the attribute of the clause at index.
func OnAttributeChange(clauses []rules.Clause, index int, attribute string) []rules.Clause {
	return editClause(clauses, index, func(c *rules.Clause) { c.Attribute = attribute })
}

// OnOperatorChange sets the operator of the clause at index. A single-valued operator
// keeps only the first value; the dropped values are gone for good.
func OnOperatorChange(clauses []rules.Clause, index int, op rules.Operator) []rules.Clause {
	return editClause(clauses, index, func(c *rules.Clause) {
		c.Op = op
		if !op.IsMultiValued() && len(c.Values) > 1 {
			c.Values = c.Values[:1:1]
		}
	})
}

// OnValuesChange replaces the values of the clause at index.
func OnValuesChange(clauses []rules.Clause, index int, values []string) []rules.Clause {
	return editClause(clauses, index, func(c *rules.Clause) {
		c.Values = append([]string(nil), values...)
	})
}

// OnNegateChange sets the negate flag of the clause at index.
func OnNegateChange(clauses []rules.Clause, index int, negate bool) []rules.Clause {
	return editClause(clauses, index, func(c *rules.Clause) { c.Negate = negate })
}

// ClauseErrors returns the inline error per clause index. A multi-valued clause with no
// values is "Required".
func ClauseErrors(clauses []rules.Clause) map[int]string {
	errs := make(map[int]string)
	for i, c := range clauses {
		if c.Op.IsMultiValued() && len(c.Values) == 0 {
			errs[i] = validation.MsgRequired
		}
	}
	return errs
}

// AddClause appends a clause.
func AddClause(clauses []rules.Clause, clause rules.Clause) []rules.Clause {
	return append(cloneClauses(clauses), clause.Clone())
}

// CanRemoveClause reports whether a clause may be removed without leaving the rule empty.
func CanRemoveClause(clauses []rules.Clause) bool {
	return len(clauses) > 1
}

// RemoveClause removes the clause at index.
func RemoveClause(clauses []rules.Clause, index int) ([]rules.Clause, error) {
	if index < 0 || index >= len(clauses) {
		return cloneClauses(clauses), ErrIndexOutOfRange
	}
	if !CanRemoveClause(clauses) {
		return cloneClauses(clauses), ErrLastClause
	}
	out := make([]rules.Clause, 0, len(clauses)-1)
	for i, c := range clauses {
		if i != index {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

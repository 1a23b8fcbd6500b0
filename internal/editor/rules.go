package editor

import (
	"github.com/google/uuid"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

// PriorityStep is the gap between consecutive rule priorities.
const PriorityStep = 100

// ArrayMove returns a copy of list with the element at from removed and re-inserted at to.
// Out-of-range indexes return an unchanged copy.
func ArrayMove[T any](list []T, from, to int) []T {
	out := append([]T(nil), list...)
	if from < 0 || from >= len(out) || to < 0 || to >= len(out) || from == to {
		return out
	}
	item := out[from]
	out = append(out[:from], out[from+1:]...)
	out = append(out[:to], append([]T{item}, out[to:]...)...)
	return out
}

func cloneRules(rs []rules.Rule) []rules.Rule {
	out := make([]rules.Rule, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}

// NextPriority returns the priority for a newly appended rule: the current maximum plus 100.
func NextPriority(rs []rules.Rule) int {
	highest := 0
	for _, r := range rs {
		if r.Priority > highest {
			highest = r.Priority
		}
	}
	return highest + PriorityStep
}

// AddRule appends a rule with a fresh id, placed after every existing rule.
func AddRule(rs []rules.Rule, clauses []rules.Clause, serve rules.Serve) []rules.Rule {
	r := rules.Rule{
		RuleID:   uuid.NewString(),
		Clauses:  cloneClauses(clauses),
		Serve:    serve.Clone(),
		Priority: NextPriority(rs),
	}
	return append(cloneRules(rs), r)
}

// RemoveRule drops the rule with the given id.
func RemoveRule(rs []rules.Rule, ruleID string) []rules.Rule {
	out := make([]rules.Rule, 0, len(rs))
	for _, r := range rs {
		if r.RuleID != ruleID {
			out = append(out, r.Clone())
		}
	}
	return out
}

// UpdateRule replaces the rule with the given id by fn's result. fn receives a copy.
func UpdateRule(rs []rules.Rule, ruleID string, fn func(rules.Rule) rules.Rule) []rules.Rule {
	out := cloneRules(rs)
	for i := range out {
		if out[i].RuleID == ruleID {
			out[i] = fn(out[i])
		}
	}
	return out
}

// MoveRule reorders the list. Priorities are left alone until Renumber.
func MoveRule(rs []rules.Rule, from, to int) []rules.Rule {
	return ArrayMove(cloneRules(rs), from, to)
}

// Renumber assigns priorities 100, 200, ... in list order.
func Renumber(rs []rules.Rule) []rules.Rule {
	out := cloneRules(rs)
	for i := range out {
		out[i].Priority = (i + 1) * PriorityStep
	}
	return out
}

package cli

import (
	"fmt"
	"strings"

	"github.com/TimurManjosov/flagrules/internal/engine"
	"github.com/TimurManjosov/flagrules/internal/rules"
)

// ParseClause reads a clause written as "[not] <attribute> <op> <v1,v2,...>".
// segmentMatch takes no attribute: "[not] segmentMatch <segment,...>".
func ParseClause(s string) (rules.Clause, error) {
	var c rules.Clause
	fields := strings.Fields(s)
	if len(fields) > 0 && strings.EqualFold(fields[0], "not") {
		c.Negate = true
		fields = fields[1:]
	}

	switch {
	case len(fields) == 2 && rules.Operator(fields[0]) == rules.OpSegmentMatch:
		c.Op = rules.OpSegmentMatch
		c.Values = splitValues(fields[1])
	case len(fields) >= 3:
		c.Attribute = fields[0]
		c.Op = rules.Operator(fields[1])
		c.Values = splitValues(strings.Join(fields[2:], " "))
	default:
		return c, fmt.Errorf("invalid clause %q: want \"<attribute> <op> <values>\"", s)
	}

	if !c.Op.IsValid() {
		return c, fmt.Errorf("invalid clause %q: unsupported operator %q", s, c.Op)
	}
	return c, nil
}

func splitValues(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParseTarget builds an evaluation target from an identifier and "key=value" attributes.
func ParseTarget(identifier, name string, attrs []string) (engine.Target, error) {
	t := engine.Target{Identifier: identifier, Name: name}
	if len(attrs) > 0 {
		t.Attributes = make(map[string]any, len(attrs))
	}
	for _, kv := range attrs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return t, fmt.Errorf("invalid attribute %q: want key=value", kv)
		}
		t.Attributes[strings.TrimSpace(k)] = v
	}
	return t, nil
}

// Package validation provides form-level validation for feature rule-sets.
// Every check returns field-addressed issues instead of failing fast, so an editor
// can show all problems next to the offending inputs at once.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

const (
	// MaxKeyLength is the maximum length for feature identifiers
	MaxKeyLength = 64
	// MaxEnvLength is the maximum length for environment names
	MaxEnvLength = 32
)

// Messages shown next to the offending control.
const (
	MsgRequired           = "Required"
	MsgPercentageOverflow = "Percentage total must not exceed 100"
	MsgWeightRange        = "Weight must be between 0 and 100"
	MsgUnknownVariation   = "Unknown variation"
	MsgDuplicateVariation = "Variation is already part of this rollout"
	MsgUnknownOperator    = "Unsupported operator"
	MsgSingleValue        = "Operator accepts a single value"
	MsgServeUnset         = "Select a variation or a percentage rollout"
	MsgDuplicateTarget    = "Target is already mapped to another variation"
	MsgNoClauses          = "Rule must have at least one clause"
)

// keyPattern matches alphanumeric characters, underscores, and hyphens
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Issue is one validation problem attached to a field path.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result collects issues in the order they were found.
type Result struct {
	Issues []Issue `json:"issues"`
}

// NewResult creates an empty (valid) result.
func NewResult() *Result {
	return &Result{Issues: []Issue{}}
}

// Valid reports whether no issue was recorded.
func (r *Result) Valid() bool {
	return len(r.Issues) == 0
}

// Add records an issue.
func (r *Result) Add(field, message string) {
	r.Issues = append(r.Issues, Issue{Field: field, Message: message})
}

// Merge appends another result's issues.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
}

// Fields returns the first message per field, for callers that want a flat map.
func (r *Result) Fields() map[string]string {
	fields := make(map[string]string, len(r.Issues))
	for _, is := range r.Issues {
		if _, ok := fields[is.Field]; !ok {
			fields[is.Field] = is.Message
		}
	}
	return fields
}

// IncompleteRules returns the indexes of rules that have at least one issue.
func (r *Result) IncompleteRules() []int {
	seen := make(map[int]bool)
	var out []int
	for _, is := range r.Issues {
		var idx int
		if _, err := fmt.Sscanf(is.Field, "rules[%d]", &idx); err != nil {
			continue
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

// ValidateKey validates a feature identifier
func ValidateKey(key string) *Result {
	result := NewResult()
	key = strings.TrimSpace(key)

	if key == "" {
		result.Add("identifier", "Identifier is required")
		return result
	}

	if utf8.RuneCountInString(key) > MaxKeyLength {
		result.Add("identifier", "Identifier must not exceed 64 characters")
		return result
	}

	if !keyPattern.MatchString(key) {
		result.Add("identifier", "Identifier must contain only alphanumeric characters, underscores, and hyphens")
	}
	return result
}

// ValidateEnv validates an environment name
func ValidateEnv(env string) *Result {
	result := NewResult()
	env = strings.TrimSpace(env)

	if env == "" {
		result.Add("environment", "Environment is required")
		return result
	}

	if utf8.RuneCountInString(env) > MaxEnvLength {
		result.Add("environment", "Environment must not exceed 32 characters")
	}
	return result
}

// ValidateClause validates one clause. An empty value list is "Required" whatever the operator.
func ValidateClause(path string, c rules.Clause) *Result {
	result := NewResult()

	if strings.TrimSpace(c.Attribute) == "" && c.Op != rules.OpSegmentMatch {
		result.Add(path+".attribute", MsgRequired)
	}

	if !c.Op.IsValid() {
		result.Add(path+".op", MsgUnknownOperator)
		return result
	}

	switch {
	case len(c.Values) == 0:
		result.Add(path+".values", MsgRequired)
	case !c.Op.IsMultiValued() && len(c.Values) > 1:
		result.Add(path+".values", MsgSingleValue)
	}
	return result
}

// ValidateDistribution validates a percentage rollout against the declared variations.
// A total below 100 is not an issue; the remainder stays unallocated.
func ValidateDistribution(path string, d rules.Distribution, variations map[string]struct{}) *Result {
	result := NewResult()

	if len(d.Variations) == 0 {
		result.Add(path+".variations", MsgRequired)
		return result
	}

	seen := make(map[string]bool, len(d.Variations))
	for i, wv := range d.Variations {
		field := fmt.Sprintf("%s.variations[%d]", path, i)
		switch _, ok := variations[wv.Variation]; {
		case !ok:
			result.Add(field+".variation", MsgUnknownVariation)
		case seen[wv.Variation]:
			result.Add(field+".variation", MsgDuplicateVariation)
		}
		seen[wv.Variation] = true
		if wv.Weight < 0 || wv.Weight > 100 {
			result.Add(field+".weight", MsgWeightRange)
		}
	}

	if d.Sum() > 100 {
		result.Add(path, MsgPercentageOverflow)
	}
	return result
}

// ValidateServe validates a serve. An unset serve is always an issue.
func ValidateServe(path string, s rules.Serve, variations map[string]struct{}) *Result {
	result := NewResult()

	switch s.Kind() {
	case rules.ServeFixed:
		v, _ := s.Variation()
		if v == "" {
			result.Add(path+".variation", MsgRequired)
		} else if _, ok := variations[v]; !ok {
			result.Add(path+".variation", MsgUnknownVariation)
		}
	case rules.ServePercentage:
		d, _ := s.Distribution()
		result.Merge(ValidateDistribution(path+".distribution", d, variations))
	default:
		result.Add(path, MsgServeUnset)
	}
	return result
}

// ValidateRule validates clauses and serve of one rule.
func ValidateRule(path string, r rules.Rule, variations map[string]struct{}) *Result {
	result := NewResult()

	if len(r.Clauses) == 0 {
		result.Add(path+".clauses", MsgNoClauses)
	}
	for i, c := range r.Clauses {
		result.Merge(ValidateClause(fmt.Sprintf("%s.clauses[%d]", path, i), c))
	}
	result.Merge(ValidateServe(path+".serve", r.Serve, variations))
	return result
}

// ValidateServing validates one variation map row.
func ValidateServing(path string, s rules.Serving, variations map[string]struct{}) *Result {
	result := NewResult()

	if s.Variation == "" {
		result.Add(path+".variation", MsgRequired)
	} else if _, ok := variations[s.Variation]; !ok {
		result.Add(path+".variation", MsgUnknownVariation)
	}
	if len(s.Targets) == 0 {
		result.Add(path+".targets", MsgRequired)
	}
	return result
}

// ValidateVariationMap validates each row and that a target appears in at most one row.
func ValidateVariationMap(entries []rules.Serving, variations map[string]struct{}) *Result {
	result := NewResult()
	owner := make(map[string]int)

	for i, s := range entries {
		path := fmt.Sprintf("variationMap[%d]", i)
		result.Merge(ValidateServing(path, s, variations))
		for j, t := range s.Targets {
			if prev, dup := owner[t.Identifier]; dup && prev != i {
				result.Add(fmt.Sprintf("%s.targets[%d]", path, j), MsgDuplicateTarget)
				continue
			}
			owner[t.Identifier] = i
		}
	}
	return result
}

// ValidateEnvProperties validates the full rule-set of a feature.
func ValidateEnvProperties(f rules.Feature) *Result {
	result := NewResult()
	variations := f.VariationIDs()
	props := f.EnvProperties

	result.Merge(ValidateEnv(props.Environment))

	for i, r := range props.Rules {
		result.Merge(ValidateRule(fmt.Sprintf("rules[%d]", i), r, variations))
	}
	result.Merge(ValidateVariationMap(props.VariationMap, variations))
	result.Merge(ValidateServe("defaultServe", props.DefaultServe, variations))

	if props.OffVariation == "" {
		result.Add("offVariation", MsgRequired)
	} else if _, ok := variations[props.OffVariation]; !ok {
		result.Add("offVariation", MsgUnknownVariation)
	}
	return result
}

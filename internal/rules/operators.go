package rules

// Operator represents a comparison operator used in targeting clauses.
type Operator string

// Supported clause operators (string values for clean JSON serialization).
const (
	OpEqual          Operator = "equal"
	OpEqualSensitive Operator = "equal_sensitive"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpContains       Operator = "contains"
	OpMatch          Operator = "match"
	OpIn             Operator = "in"
	OpSegmentMatch   Operator = "segmentMatch"
	OpGt             Operator = "gt"
	OpGte            Operator = "gte"
	OpLt             Operator = "lt"
	OpLte            Operator = "lte"
	OpSemVerGt       Operator = "semver_gt"
	OpSemVerLt       Operator = "semver_lt"
)

// operatorArity records whether each supported operator accepts a list of values.
var operatorArity = map[Operator]bool{
	OpEqual:          false,
	OpEqualSensitive: false,
	OpStartsWith:     true,
	OpEndsWith:       true,
	OpContains:       true,
	OpMatch:          false,
	OpIn:             true,
	OpSegmentMatch:   true,
	OpGt:             false,
	OpGte:            false,
	OpLt:             false,
	OpLte:            false,
	OpSemVerGt:       false,
	OpSemVerLt:       false,
}

// IsValid reports whether op is a supported operator.
func (op Operator) IsValid() bool {
	_, ok := operatorArity[op]
	return ok
}

// IsMultiValued reports whether op matches against a list of values.
// Single-valued operators hold exactly one value.
func (op Operator) IsMultiValued() bool {
	return operatorArity[op]
}

// Operators returns all supported operators in a stable order.
func Operators() []Operator {
	return []Operator{
		OpEqual, OpEqualSensitive, OpStartsWith, OpEndsWith, OpContains, OpMatch,
		OpIn, OpSegmentMatch, OpGt, OpGte, OpLt, OpLte, OpSemVerGt, OpSemVerLt,
	}
}

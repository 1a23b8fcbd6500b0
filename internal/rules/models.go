package rules

import (
	"sort"
)

// Variation is one possible outcome of a feature flag.
type Variation struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Value      string `json:"value" yaml:"value"`
}

// Clause represents a single targeting predicate.
// When multiple clauses belong to one Rule, they are evaluated with AND semantics:
// all clauses must match for the rule to apply.
type Clause struct {
	ID        string   `json:"id,omitempty" yaml:"id,omitempty"`
	Attribute string   `json:"attribute" yaml:"attribute"`
	Op        Operator `json:"op" yaml:"op"`
	Values    []string `json:"values" yaml:"values"`
	Negate    bool     `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// Clone returns a deep copy of the clause.
func (c Clause) Clone() Clause {
	c.Values = append([]string(nil), c.Values...)
	return c
}

// Rule represents a custom targeting rule: ANDed clauses plus the serve applied on match.
// Rules are evaluated in ascending Priority order.
type Rule struct {
	RuleID   string   `json:"ruleId" yaml:"ruleId"`
	Clauses  []Clause `json:"clauses" yaml:"clauses"`
	Serve    Serve    `json:"serve" yaml:"serve"`
	Priority int      `json:"priority" yaml:"priority"`
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	clauses := make([]Clause, len(r.Clauses))
	for i, c := range r.Clauses {
		clauses[i] = c.Clone()
	}
	r.Clauses = clauses
	r.Serve = r.Serve.Clone()
	return r
}

// WeightedVariation is one bucket of a percentage rollout.
type WeightedVariation struct {
	Variation string `json:"variation" yaml:"variation"`
	Weight    int    `json:"weight" yaml:"weight"`
}

// Distribution is a percentage rollout: the bucketBy attribute is hashed to place a
// subject into one of the weighted ranges, in declaration order.
type Distribution struct {
	BucketBy   string              `json:"bucketBy" yaml:"bucketBy"`
	Variations []WeightedVariation `json:"variations" yaml:"variations"`
}

// DefaultBucketBy is the attribute hashed when a distribution does not name one.
const DefaultBucketBy = "identifier"

// Sum returns the total of all weights.
func (d Distribution) Sum() int {
	total := 0
	for _, v := range d.Variations {
		total += v.Weight
	}
	return total
}

// Unallocated returns the share of 100 not assigned to any variation (never negative).
func (d Distribution) Unallocated() int {
	if rest := 100 - d.Sum(); rest > 0 {
		return rest
	}
	return 0
}

// Clone returns a deep copy of the distribution.
func (d Distribution) Clone() Distribution {
	d.Variations = append([]WeightedVariation(nil), d.Variations...)
	return d
}

// Target is an individually addressable subject (user, device, service).
type Target struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Serving maps explicit targets to a variation. It takes precedence over all rules.
type Serving struct {
	Variation string   `json:"variation" yaml:"variation"`
	Targets   []Target `json:"targets" yaml:"targets"`
}

// Segment is a reusable target group referenced by segmentMatch clauses.
type Segment struct {
	Identifier string   `json:"identifier" yaml:"identifier"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	Included   []string `json:"included,omitempty" yaml:"included,omitempty"`
	Excluded   []string `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	Rules      []Clause `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// State is the on/off state of a flag in one environment.
type State string

const (
	StateOn  State = "on"
	StateOff State = "off"
)

// Kind is the value type of a flag's variations.
type Kind string

const (
	KindBoolean Kind = "boolean"
	KindString  Kind = "string"
	KindInt     Kind = "int"
	KindJSON    Kind = "json"
)

// EnvProperties is the per-environment rule-set of a feature.
type EnvProperties struct {
	Environment        string    `json:"environment" yaml:"environment"`
	State              State     `json:"state" yaml:"state"`
	DefaultServe       Serve     `json:"defaultServe" yaml:"defaultServe"`
	OffVariation       string    `json:"offVariation" yaml:"offVariation"`
	DefaultOnVariation string    `json:"defaultOnVariation,omitempty" yaml:"defaultOnVariation,omitempty"`
	Rules              []Rule    `json:"rules" yaml:"rules"`
	VariationMap       []Serving `json:"variationMap" yaml:"variationMap"`
	Version            int64     `json:"version" yaml:"version"`
}

// Clone returns a deep copy of the env properties.
func (p EnvProperties) Clone() EnvProperties {
	rs := make([]Rule, len(p.Rules))
	for i, r := range p.Rules {
		rs[i] = r.Clone()
	}
	p.Rules = rs
	vm := make([]Serving, len(p.VariationMap))
	for i, s := range p.VariationMap {
		vm[i] = Serving{Variation: s.Variation, Targets: append([]Target(nil), s.Targets...)}
	}
	p.VariationMap = vm
	p.DefaultServe = p.DefaultServe.Clone()
	return p
}

// Feature is a flag definition together with its rule-set for one environment.
type Feature struct {
	Identifier          string        `json:"identifier" yaml:"identifier"`
	Name                string        `json:"name,omitempty" yaml:"name,omitempty"`
	Kind                Kind          `json:"kind" yaml:"kind"`
	Variations          []Variation   `json:"variations" yaml:"variations"`
	DefaultOnVariation  string        `json:"defaultOnVariation" yaml:"defaultOnVariation"`
	DefaultOffVariation string        `json:"defaultOffVariation" yaml:"defaultOffVariation"`
	EnvProperties       EnvProperties `json:"envProperties" yaml:"envProperties"`
}

// Clone returns a deep copy of the feature.
func (f Feature) Clone() Feature {
	f.Variations = append([]Variation(nil), f.Variations...)
	f.EnvProperties = f.EnvProperties.Clone()
	return f
}

// VariationByID looks up a variation by identifier.
func (f Feature) VariationByID(id string) (Variation, bool) {
	for _, v := range f.Variations {
		if v.Identifier == id {
			return v, true
		}
	}
	return Variation{}, false
}

// VariationIDs returns the set of declared variation identifiers.
func (f Feature) VariationIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(f.Variations))
	for _, v := range f.Variations {
		ids[v.Identifier] = struct{}{}
	}
	return ids
}

// SortedRules returns a copy of rs ordered by ascending priority.
// Rules sharing a priority keep their relative order.
func SortedRules(rs []Rule) []Rule {
	out := append([]Rule(nil), rs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

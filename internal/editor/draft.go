package editor

import (
	"github.com/TimurManjosov/flagrules/internal/rules"
	"github.com/TimurManjosov/flagrules/internal/validation"
)

// State describes which layers of the rule-set are in effect.
type State int

const (
	// NoOverride: only the default serve applies.
	NoOverride State = iota
	// HasServingTargets: individual targets are mapped to variations.
	HasServingTargets
	// HasCustomRules: priority-ordered clause rules exist.
	HasCustomRules
	// HasPercentageDefault: the default serve is a percentage rollout.
	HasPercentageDefault
)

func (s State) String() string {
	switch s {
	case HasServingTargets:
		return "HAS_SERVING_TARGETS"
	case HasCustomRules:
		return "HAS_CUSTOM_RULES"
	case HasPercentageDefault:
		return "HAS_PERCENTAGE_DEFAULT"
	default:
		return "NO_OVERRIDE"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Draft is an in-progress edit of one feature's rule-set. Edit methods return a new
// Draft and leave the receiver untouched.
type Draft struct {
	Feature      rules.Feature
	Rules        []rules.Rule
	Targets      *TargetMap
	DefaultServe rules.Serve
}

// NewDraft starts editing f. Rules are shown in evaluation order.
func NewDraft(f rules.Feature) Draft {
	f = f.Clone()
	return Draft{
		Feature:      f,
		Rules:        rules.SortedRules(f.EnvProperties.Rules),
		Targets:      FromVariationMap(f.EnvProperties.VariationMap),
		DefaultServe: f.EnvProperties.DefaultServe.Clone(),
	}
}

func (d Draft) clone() Draft {
	targets := NewTargetMap()
	if d.Targets != nil {
		targets = d.Targets.Clone()
	}
	return Draft{
		Feature:      d.Feature,
		Rules:        cloneRules(d.Rules),
		Targets:      targets,
		DefaultServe: d.DefaultServe.Clone(),
	}
}

// States returns every state that currently holds, lowest first. NoOverride holds
// only when nothing else does.
func (d Draft) States() []State {
	var out []State
	if d.Targets != nil && d.Targets.Len() > 0 {
		out = append(out, HasServingTargets)
	}
	if len(d.Rules) > 0 {
		out = append(out, HasCustomRules)
	}
	if d.DefaultServe.Kind() == rules.ServePercentage {
		out = append(out, HasPercentageDefault)
	}
	if len(out) == 0 {
		out = append(out, NoOverride)
	}
	return out
}

// State returns the highest state that holds.
func (d Draft) State() State {
	s := d.States()
	return s[len(s)-1]
}

// AddRule appends a rule after all existing ones.
func (d Draft) AddRule(clauses []rules.Clause, serve rules.Serve) Draft {
	out := d.clone()
	out.Rules = AddRule(d.Rules, clauses, serve)
	return out
}

// RemoveRule drops a rule by id.
func (d Draft) RemoveRule(ruleID string) Draft {
	out := d.clone()
	out.Rules = RemoveRule(d.Rules, ruleID)
	return out
}

// UpdateRule rewrites a rule by id.
func (d Draft) UpdateRule(ruleID string, fn func(rules.Rule) rules.Rule) Draft {
	out := d.clone()
	out.Rules = UpdateRule(d.Rules, ruleID, fn)
	return out
}

// MoveRule reorders the rule list.
func (d Draft) MoveRule(from, to int) Draft {
	out := d.clone()
	out.Rules = MoveRule(d.Rules, from, to)
	return out
}

// AssignTarget serves variation to target.
func (d Draft) AssignTarget(target rules.Target, variation string) Draft {
	out := d.clone()
	out.Targets.Assign(target, variation)
	return out
}

// UnassignTarget removes an individual target override.
func (d Draft) UnassignTarget(identifier string) Draft {
	out := d.clone()
	out.Targets.Unassign(identifier)
	return out
}

// SetDefaultServe replaces the default serve.
func (d Draft) SetDefaultServe(s rules.Serve) Draft {
	out := d.clone()
	out.DefaultServe = s.Clone()
	return out
}

// SetDefaultPercentage switches the default serve to a percentage rollout, starting from
// the current distribution when there is one.
func (d Draft) SetDefaultPercentage() Draft {
	var prior *rules.Distribution
	if dist, ok := d.DefaultServe.Distribution(); ok {
		prior = &dist
	}
	return d.SetDefaultServe(rules.PercentageServe(InitialDistribution(d.Feature.Variations, prior)))
}

// Commit returns the rule-set to save: rules renumbered in on-screen order, the variation
// map rebuilt from the target map and the current default serve.
func (d Draft) Commit() rules.EnvProperties {
	props := d.Feature.EnvProperties.Clone()
	props.Rules = Renumber(d.Rules)
	if d.Targets != nil {
		props.VariationMap = d.Targets.VariationMap()
	} else {
		props.VariationMap = []rules.Serving{}
	}
	props.DefaultServe = d.DefaultServe.Clone()
	return props
}

// Validate checks the rule-set Commit would produce.
func (d Draft) Validate() *validation.Result {
	f := d.Feature.Clone()
	f.EnvProperties = d.Commit()
	return validation.ValidateEnvProperties(f)
}

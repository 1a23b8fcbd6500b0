package engine

import (
	"errors"
	"fmt"
)

// Reason explains which layer of the rule-set produced a result.
type Reason string

const (
	ReasonDisabled    Reason = "DISABLED"
	ReasonTargetMatch Reason = "TARGET_MATCH"
	ReasonRuleMatch   Reason = "RULE_MATCH"
	ReasonDefault     Reason = "DEFAULT"
	// ReasonUnallocated: a percentage serve placed the subject in the share no variation owns.
	ReasonUnallocated Reason = "UNALLOCATED"
)

// ErrUnknownVariation is returned when a serve names a variation the feature does not declare.
var ErrUnknownVariation = errors.New("unknown variation")

// Target is the subject a feature is evaluated for.
type Target struct {
	Identifier string         `json:"identifier"`
	Name       string         `json:"name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Result is the deterministic output of Evaluate.
type Result struct {
	Feature   string `json:"feature"`
	Variation string `json:"variation"`
	Value     string `json:"value"`
	Reason    Reason `json:"reason"`
	RuleID    string `json:"ruleId,omitempty"`
}

// EvaluationError reports a rule-set that cannot produce a variation.
type EvaluationError struct {
	Feature string
	Err     error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %s: %v", e.Feature, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

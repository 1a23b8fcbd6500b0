package rules

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Serve encoding
// ---------------------------------------------------------------------------

func TestServeJSONRoundtrip(t *testing.T) {
	tests := []struct {
		name  string
		serve Serve
		want  string
	}{
		{name: "fixed", serve: FixedServe("on"), want: `{"variation":"on"}`},
		{
			name: "percentage",
			serve: PercentageServe(Distribution{
				BucketBy:   "identifier",
				Variations: []WeightedVariation{{Variation: "on", Weight: 60}, {Variation: "off", Weight: 40}},
			}),
			want: `{"distribution":{"bucketBy":"identifier","variations":[{"variation":"on","weight":60},{"variation":"off","weight":40}]}}`,
		},
		{name: "unset", serve: Serve{}, want: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.serve)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Fatalf("marshal = %s, want %s", data, tt.want)
			}

			var decoded Serve
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if decoded.Kind() != tt.serve.Kind() {
				t.Errorf("kind = %v, want %v", decoded.Kind(), tt.serve.Kind())
			}
		})
	}
}

func TestServeUnmarshal_BothArmsRejected(t *testing.T) {
	var s Serve
	err := json.Unmarshal([]byte(`{"variation":"on","distribution":{"bucketBy":"identifier","variations":[]}}`), &s)
	if !errors.Is(err, ErrInvalidServe) {
		t.Fatalf("err = %v, want ErrInvalidServe", err)
	}
}

func TestServeYAMLRoundtrip(t *testing.T) {
	in := Rule{
		RuleID:   "r1",
		Clauses:  []Clause{{Attribute: "email", Op: OpEndsWith, Values: []string{"@harness.io"}}},
		Serve:    PercentageServe(Distribution{BucketBy: "identifier", Variations: []WeightedVariation{{Variation: "a", Weight: 100}}}),
		Priority: 100,
	}
	data, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "distribution:") {
		t.Fatalf("yaml missing distribution:\n%s", data)
	}

	var out Rule
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	d, ok := out.Serve.Distribution()
	if !ok || len(d.Variations) != 1 || d.Variations[0].Weight != 100 {
		t.Fatalf("distribution = %+v (ok=%v)", d, ok)
	}
}

func TestServeAccessorsAreExclusive(t *testing.T) {
	fixed := FixedServe("on")
	if _, ok := fixed.Distribution(); ok {
		t.Error("fixed serve must not expose a distribution")
	}
	pct := PercentageServe(Distribution{Variations: []WeightedVariation{{Variation: "on", Weight: 100}}})
	if _, ok := pct.Variation(); ok {
		t.Error("percentage serve must not expose a variation")
	}
}

func TestPercentageServe_CopiesDistribution(t *testing.T) {
	d := Distribution{Variations: []WeightedVariation{{Variation: "on", Weight: 50}}}
	s := PercentageServe(d)
	d.Variations[0].Weight = 99

	got, _ := s.Distribution()
	if got.Variations[0].Weight != 50 {
		t.Fatalf("serve shares storage with caller: weight = %d", got.Variations[0].Weight)
	}
}

// ---------------------------------------------------------------------------
// Model helpers
// ---------------------------------------------------------------------------

func TestSortedRules_AscendingAndStable(t *testing.T) {
	in := []Rule{
		{RuleID: "c", Priority: 300},
		{RuleID: "a", Priority: 100},
		{RuleID: "b1", Priority: 200},
		{RuleID: "b2", Priority: 200},
	}
	got := SortedRules(in)
	want := []string{"a", "b1", "b2", "c"}
	for i, id := range want {
		if got[i].RuleID != id {
			t.Fatalf("order[%d] = %s, want %s", i, got[i].RuleID, id)
		}
	}
	if in[0].RuleID != "c" {
		t.Error("SortedRules must not reorder its input")
	}
}

func TestDistributionSumAndUnallocated(t *testing.T) {
	d := Distribution{Variations: []WeightedVariation{{Variation: "a", Weight: 33}, {Variation: "b", Weight: 33}, {Variation: "c", Weight: 33}}}
	if d.Sum() != 99 {
		t.Errorf("Sum = %d, want 99", d.Sum())
	}
	if d.Unallocated() != 1 {
		t.Errorf("Unallocated = %d, want 1", d.Unallocated())
	}

	over := Distribution{Variations: []WeightedVariation{{Variation: "a", Weight: 80}, {Variation: "b", Weight: 40}}}
	if over.Unallocated() != 0 {
		t.Errorf("Unallocated = %d, want 0 on overflow", over.Unallocated())
	}
}

func TestRuleClone_IsDeep(t *testing.T) {
	r := Rule{RuleID: "r", Clauses: []Clause{{Attribute: "a", Op: OpIn, Values: []string{"x"}}}}
	c := r.Clone()
	c.Clauses[0].Values[0] = "y"
	if r.Clauses[0].Values[0] != "x" {
		t.Fatal("Clone shares clause values with the original")
	}
}

func TestOperatorArity(t *testing.T) {
	multi := []Operator{OpIn, OpContains, OpStartsWith, OpEndsWith, OpSegmentMatch}
	for _, op := range multi {
		if !op.IsMultiValued() {
			t.Errorf("%s should be multi-valued", op)
		}
	}
	single := []Operator{OpEqual, OpEqualSensitive, OpMatch, OpGt, OpSemVerLt}
	for _, op := range single {
		if op.IsMultiValued() {
			t.Errorf("%s should be single-valued", op)
		}
	}
	if Operator("nope").IsValid() {
		t.Error("unknown operator reported valid")
	}
	if len(Operators()) != len(operatorArity) {
		t.Errorf("Operators() lists %d, table has %d", len(Operators()), len(operatorArity))
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidateRule_Success(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{
			name: "fixed serve, multi-valued clause",
			rule: Rule{
				RuleID:  "r1",
				Clauses: []Clause{{Attribute: "country", Op: OpIn, Values: []string{"DE", "AT"}}},
				Serve:   FixedServe("on"),
			},
		},
		{
			name: "percentage under 100 is tolerated",
			rule: Rule{
				RuleID:  "r2",
				Clauses: []Clause{{Attribute: "email", Op: OpEqual, Values: []string{"a@b.c"}}},
				Serve: PercentageServe(Distribution{BucketBy: "identifier", Variations: []WeightedVariation{
					{Variation: "on", Weight: 30}, {Variation: "off", Weight: 30},
				}}),
			},
		},
		{
			name: "segment match without attribute",
			rule: Rule{
				RuleID:  "r3",
				Clauses: []Clause{{Op: OpSegmentMatch, Values: []string{"beta"}}},
				Serve:   FixedServe("on"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRule(tt.rule); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateRule_Failures(t *testing.T) {
	base := func(mods ...func(*Rule)) Rule {
		r := Rule{
			RuleID:  "r1",
			Clauses: []Clause{{Attribute: "x", Op: OpEqual, Values: []string{"hello"}}},
			Serve:   FixedServe("on"),
		}
		for _, m := range mods {
			m(&r)
		}
		return r
	}

	tests := []struct {
		name         string
		rule         Rule
		wantSentinel error
	}{
		{name: "empty rule id", rule: base(func(r *Rule) { r.RuleID = "" }), wantSentinel: ErrInvalidRule},
		{name: "no clauses", rule: base(func(r *Rule) { r.Clauses = nil }), wantSentinel: ErrInvalidRule},
		{name: "empty attribute", rule: base(func(r *Rule) { r.Clauses[0].Attribute = "" }), wantSentinel: ErrInvalidClause},
		{name: "invalid operator", rule: base(func(r *Rule) { r.Clauses[0].Op = "nope" }), wantSentinel: ErrInvalidOperator},
		{name: "no values", rule: base(func(r *Rule) { r.Clauses[0].Values = nil }), wantSentinel: ErrInvalidClause},
		{
			name:         "single-valued with two values",
			rule:         base(func(r *Rule) { r.Clauses[0].Values = []string{"a", "b"} }),
			wantSentinel: ErrInvalidClause,
		},
		{name: "unset serve", rule: base(func(r *Rule) { r.Serve = Serve{} }), wantSentinel: ErrInvalidServe},
		{name: "empty fixed variation", rule: base(func(r *Rule) { r.Serve = FixedServe("") }), wantSentinel: ErrInvalidServe},
		{
			name: "overflow",
			rule: base(func(r *Rule) {
				r.Serve = PercentageServe(Distribution{Variations: []WeightedVariation{
					{Variation: "a", Weight: 50}, {Variation: "b", Weight: 40}, {Variation: "c", Weight: 20},
				}})
			}),
			wantSentinel: ErrDistributionOverflow,
		},
		{
			name:         "empty distribution",
			rule:         base(func(r *Rule) { r.Serve = PercentageServe(Distribution{}) }),
			wantSentinel: ErrInvalidDistribution,
		},
		{
			name: "negative weight",
			rule: base(func(r *Rule) {
				r.Serve = PercentageServe(Distribution{Variations: []WeightedVariation{{Variation: "a", Weight: -1}}})
			}),
			wantSentinel: ErrInvalidDistribution,
		},
		{
			name: "duplicate variation",
			rule: base(func(r *Rule) {
				r.Serve = PercentageServe(Distribution{Variations: []WeightedVariation{
					{Variation: "a", Weight: 10}, {Variation: "a", Weight: 10},
				}})
			}),
			wantSentinel: ErrInvalidDistribution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRule(tt.rule)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.wantSentinel) {
				t.Errorf("error = %v; want sentinel %v", err, tt.wantSentinel)
			}
		})
	}
}

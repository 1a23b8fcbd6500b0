package store

import (
	"testing"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

func TestDecodeFeature(t *testing.T) {
	tests := []struct {
		name      string
		doc       []byte
		wantRules int
		wantErr   bool
	}{
		{name: "nil", doc: nil},
		{name: "null", doc: []byte("null")},
		{name: "empty object", doc: []byte("{}")},
		{
			name: "single rule",
			doc: []byte(`{"identifier":"f","envProperties":{"environment":"prod","rules":[
				{"ruleId":"r1","clauses":[{"attribute":"plan","op":"equal","values":["pro"]}],"serve":{"variation":"on"},"priority":100}
			]}}`),
			wantRules: 1,
		},
		{name: "invalid", doc: []byte("{"), wantErr: true},
		{
			name:    "serve with both arms",
			doc:     []byte(`{"envProperties":{"defaultServe":{"variation":"on","distribution":{"variations":[]}}}}`),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeFeature(tt.doc, 7)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.EnvProperties.Rules == nil || got.EnvProperties.VariationMap == nil {
				t.Fatalf("expected non-nil slices")
			}
			if len(got.EnvProperties.Rules) != tt.wantRules {
				t.Fatalf("expected %d rules, got %d", tt.wantRules, len(got.EnvProperties.Rules))
			}
			if got.EnvProperties.Version != 7 {
				t.Fatalf("version = %d, want column value 7", got.EnvProperties.Version)
			}
		})
	}
}

func TestEncodeFeature_DropsVersion(t *testing.T) {
	f := rules.Feature{Identifier: "f", EnvProperties: rules.EnvProperties{Environment: "prod", Version: 9, DefaultServe: rules.FixedServe("on")}}
	doc, err := encodeFeature(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := decodeFeature(doc, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.EnvProperties.Version != 1 {
		t.Errorf("version = %d, want 1", got.EnvProperties.Version)
	}
	if v, ok := got.EnvProperties.DefaultServe.Variation(); !ok || v != "on" {
		t.Errorf("default serve lost in round trip: %v %v", v, ok)
	}
	if f.EnvProperties.Version != 9 {
		t.Errorf("encodeFeature mutated its input")
	}
}

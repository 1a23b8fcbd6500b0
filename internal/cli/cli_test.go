package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TimurManjosov/flagrules/internal/engine"
	"github.com/TimurManjosov/flagrules/internal/rules"
	"github.com/TimurManjosov/flagrules/internal/validation"
)

func sampleFeature() rules.Feature {
	return rules.Feature{
		Identifier: "dark_mode",
		Kind:       rules.KindBoolean,
		Variations: []rules.Variation{{Identifier: "on", Value: "true"}, {Identifier: "off", Value: "false"}},
		EnvProperties: rules.EnvProperties{
			Environment:  "prod",
			State:        rules.StateOn,
			OffVariation: "off",
			DefaultServe: rules.PercentageServe(rules.Distribution{Variations: []rules.WeightedVariation{
				{Variation: "on", Weight: 30}, {Variation: "off", Weight: 70},
			}}),
			Rules: []rules.Rule{
				{RuleID: "second", Priority: 200, Serve: rules.FixedServe("off"),
					Clauses: []rules.Clause{{Attribute: "country", Op: rules.OpIn, Values: []string{"DE", "AT"}}}},
				{RuleID: "first", Priority: 100, Serve: rules.FixedServe("on"),
					Clauses: []rules.Clause{{Op: rules.OpSegmentMatch, Values: []string{"beta"}, Negate: true}}},
			},
			VariationMap: []rules.Serving{{Variation: "on", Targets: []rules.Target{{Identifier: "alice"}}}},
			Version:      4,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{in: "table", want: FormatTable},
		{in: "JSON", want: FormatJSON},
		{in: "yaml", want: FormatYAML},
		{in: "csv", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestDescribeServe(t *testing.T) {
	if got := DescribeServe(rules.FixedServe("on")); got != "on" {
		t.Errorf("fixed = %q", got)
	}
	if got := DescribeServe(rules.Serve{}); got != "(unset)" {
		t.Errorf("unset = %q", got)
	}
	got := DescribeServe(sampleFeature().EnvProperties.DefaultServe)
	if got != "30% on / 70% off by identifier" {
		t.Errorf("percentage = %q", got)
	}
}

func TestDescribeClauses(t *testing.T) {
	clauses := []rules.Clause{
		{Attribute: "country", Op: rules.OpIn, Values: []string{"DE", "AT"}},
		{Op: rules.OpSegmentMatch, Values: []string{"beta"}, Negate: true},
	}
	want := "country in [DE, AT] and not segmentMatch [beta]"
	if got := DescribeClauses(clauses); got != want {
		t.Errorf("DescribeClauses = %q, want %q", got, want)
	}
}

func TestPrinter_FeatureTableListsRulesInOrder(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinter(&buf, FormatTable).Feature(sampleFeature()); err != nil {
		t.Fatalf("Feature() error = %v", err)
	}
	out := buf.String()
	first, second := strings.Index(out, "first"), strings.Index(out, "second")
	if first < 0 || second < 0 || first > second {
		t.Errorf("rules not printed in priority order:\n%s", out)
	}
	for _, want := range []string{"alice", "version=4", "30% on / 70% off"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter_FeaturesJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinter(&buf, FormatJSON).Features([]rules.Feature{sampleFeature()}); err != nil {
		t.Fatalf("Features() error = %v", err)
	}
	var decoded FeatureFile
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if len(decoded.Features) != 1 || decoded.Features[0].Identifier != "dark_mode" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestPrinter_FeaturesTable(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinter(&buf, FormatTable).Features([]rules.Feature{sampleFeature()}); err != nil {
		t.Fatalf("Features() error = %v", err)
	}
	if !strings.Contains(buf.String(), "dark_mode") || !strings.Contains(buf.String(), "on,off") {
		t.Errorf("table output:\n%s", buf.String())
	}
}

func TestPrinter_Results(t *testing.T) {
	var buf bytes.Buffer
	results := []engine.Result{{Feature: "dark_mode", Variation: "on", Value: "true", Reason: engine.ReasonTargetMatch}}
	if err := NewPrinter(&buf, FormatYAML).Results(results); err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if !strings.Contains(buf.String(), "reason: TARGET_MATCH") {
		t.Errorf("yaml output:\n%s", buf.String())
	}
}

func TestPrinter_Validation(t *testing.T) {
	var buf bytes.Buffer
	report := Report{
		States: []string{"HAS_CUSTOM_RULES"},
		Issues: []validation.Issue{{Field: "rules[0].clauses[0].values", Message: validation.MsgRequired}},
	}
	if err := NewPrinter(&buf, FormatTable).Validation(report); err != nil {
		t.Fatalf("Validation() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "HAS_CUSTOM_RULES") || !strings.Contains(out, "rules[0].clauses[0].values") {
		t.Errorf("output:\n%s", out)
	}

	buf.Reset()
	_ = NewPrinter(&buf, FormatTable).Validation(Report{Valid: true})
	if strings.TrimSpace(buf.String()) != "valid" {
		t.Errorf("valid output = %q", buf.String())
	}
}

func TestWriteReadFeature(t *testing.T) {
	for _, name := range []string{"feature.yaml", "feature.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := WriteFeature(path, sampleFeature()); err != nil {
				t.Fatalf("WriteFeature() error = %v", err)
			}
			got, err := ReadFeature(path)
			if err != nil {
				t.Fatalf("ReadFeature() error = %v", err)
			}
			if got.Identifier != "dark_mode" || len(got.EnvProperties.Rules) != 2 || got.EnvProperties.Version != 4 {
				t.Errorf("read back %+v", got)
			}
			if d, ok := got.EnvProperties.DefaultServe.Distribution(); !ok || d.Variations[1].Weight != 70 {
				t.Errorf("default serve = %+v", got.EnvProperties.DefaultServe)
			}
		})
	}
}

func TestReadFeature_MissingIdentifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.yaml")
	if err := os.WriteFile(path, []byte("kind: boolean\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFeature(path); err == nil {
		t.Fatal("expected error for feature without identifier")
	}
}

func TestReadFeatureFile_AcceptsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	data, _ := json.Marshal(FeatureFile{Features: []rules.Feature{sampleFeature()}})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	ff, err := ReadFeatureFile(path)
	if err != nil {
		t.Fatalf("ReadFeatureFile() error = %v", err)
	}
	if len(ff.Features) != 1 || ff.Features[0].EnvProperties.Rules[0].RuleID != "second" {
		t.Errorf("features = %+v", ff.Features)
	}
}

func TestGetEnvConfig(t *testing.T) {
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvAPIKey, "")

	if err := InitConfig(); err != nil {
		t.Fatalf("InitConfig() error = %v", err)
	}

	cfg, env, err := GetEnvConfig("", "", "")
	if err != nil {
		t.Fatalf("GetEnvConfig() error = %v", err)
	}
	if env != "prod" || cfg.BaseURL != "https://flagrules.example.com" {
		t.Errorf("got %s %+v", env, cfg)
	}

	cfg, _, err = GetEnvConfig("dev", "", "override")
	if err != nil || cfg.APIKey != "override" || cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("flag override: %+v, %v", cfg, err)
	}

	t.Setenv(EnvBaseURL, "http://env:1")
	t.Setenv(EnvAPIKey, "env-key")
	if _, _, err := GetEnvConfig("", "", ""); err == nil {
		t.Error("expected --env to be required with environment credentials")
	}
	cfg, env, err = GetEnvConfig("qa", "", "")
	if err != nil || env != "qa" || cfg.APIKey != "env-key" {
		t.Errorf("env vars: %s %+v %v", env, cfg, err)
	}

	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvAPIKey, "")
	if _, _, err := GetEnvConfig("missing", "http://x", ""); err == nil {
		t.Error("expected error for unknown environment")
	}
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/flagrules/internal/engine"
	"github.com/TimurManjosov/flagrules/internal/rules"
	"github.com/TimurManjosov/flagrules/internal/validation"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat checks a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// Printer renders command results to W.
type Printer struct {
	W      io.Writer
	Format OutputFormat
}

// NewPrinter creates a printer for format.
func NewPrinter(w io.Writer, format OutputFormat) *Printer {
	return &Printer{W: w, Format: format}
}

func (p *Printer) encode(v any) error {
	switch p.Format {
	case FormatJSON:
		enc := json.NewEncoder(p.W)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(p.W)
		defer enc.Close()
		enc.SetIndent(2)
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported format: %s", p.Format)
	}
}

// Features prints a feature list.
func (p *Printer) Features(features []rules.Feature) error {
	if p.Format != FormatTable {
		return p.encode(map[string][]rules.Feature{"features": features})
	}

	table := tablewriter.NewWriter(p.W)
	table.Header("Identifier", "Kind", "State", "Env", "Variations", "Rules", "Targets", "Default", "Version")
	for _, f := range features {
		props := f.EnvProperties
		ids := make([]string, 0, len(f.Variations))
		for _, v := range f.Variations {
			ids = append(ids, v.Identifier)
		}
		targets := 0
		for _, s := range props.VariationMap {
			targets += len(s.Targets)
		}
		if err := table.Append(
			f.Identifier,
			string(f.Kind),
			string(props.State),
			props.Environment,
			strings.Join(ids, ","),
			strconv.Itoa(len(props.Rules)),
			strconv.Itoa(targets),
			DescribeServe(props.DefaultServe),
			strconv.FormatInt(props.Version, 10),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

// Feature prints one feature; the table format lists its rules in evaluation order.
func (p *Printer) Feature(f rules.Feature) error {
	if p.Format != FormatTable {
		return p.encode(f)
	}

	props := f.EnvProperties
	fmt.Fprintf(p.W, "%s (%s) env=%s state=%s version=%d\n",
		f.Identifier, f.Kind, props.Environment, props.State, props.Version)
	fmt.Fprintf(p.W, "off variation: %s\n", props.OffVariation)

	if len(props.VariationMap) > 0 {
		table := tablewriter.NewWriter(p.W)
		table.Header("Variation", "Targets")
		for _, s := range props.VariationMap {
			ids := make([]string, 0, len(s.Targets))
			for _, t := range s.Targets {
				ids = append(ids, t.Identifier)
			}
			if err := table.Append(s.Variation, strings.Join(ids, ", ")); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	table := tablewriter.NewWriter(p.W)
	table.Header("#", "Priority", "Rule", "Clauses", "Serve")
	for i, r := range rules.SortedRules(props.Rules) {
		if err := table.Append(
			strconv.Itoa(i),
			strconv.Itoa(r.Priority),
			r.RuleID,
			DescribeClauses(r.Clauses),
			DescribeServe(r.Serve),
		); err != nil {
			return err
		}
	}
	if err := table.Append("", "", "default", "", DescribeServe(props.DefaultServe)); err != nil {
		return err
	}
	return table.Render()
}

// Results prints evaluation results.
func (p *Printer) Results(results []engine.Result) error {
	if p.Format != FormatTable {
		return p.encode(map[string][]engine.Result{"results": results})
	}

	table := tablewriter.NewWriter(p.W)
	table.Header("Feature", "Variation", "Value", "Reason", "Rule")
	for _, r := range results {
		if err := table.Append(r.Feature, r.Variation, r.Value, string(r.Reason), r.RuleID); err != nil {
			return err
		}
	}
	return table.Render()
}

// Report is a validation outcome as printed by the CLI.
type Report struct {
	Valid           bool               `json:"valid" yaml:"valid"`
	States          []string           `json:"states,omitempty" yaml:"states,omitempty"`
	Issues          []validation.Issue `json:"issues" yaml:"issues"`
	IncompleteRules []int              `json:"incompleteRules,omitempty" yaml:"incompleteRules,omitempty"`
}

// Validation prints a validation report.
func (p *Printer) Validation(r Report) error {
	if p.Format != FormatTable {
		return p.encode(r)
	}

	if len(r.States) > 0 {
		fmt.Fprintf(p.W, "states: %s\n", strings.Join(r.States, ", "))
	}
	if r.Valid {
		fmt.Fprintln(p.W, "valid")
		return nil
	}

	table := tablewriter.NewWriter(p.W)
	table.Header("Field", "Issue")
	for _, is := range r.Issues {
		if err := table.Append(is.Field, is.Message); err != nil {
			return err
		}
	}
	return table.Render()
}

// DescribeServe renders a serve in one cell, e.g. "on" or "50% on / 50% off by identifier".
func DescribeServe(s rules.Serve) string {
	if v, ok := s.Variation(); ok {
		return v
	}
	d, ok := s.Distribution()
	if !ok {
		return "(unset)"
	}
	parts := make([]string, 0, len(d.Variations))
	for _, wv := range d.Variations {
		parts = append(parts, fmt.Sprintf("%d%% %s", wv.Weight, wv.Variation))
	}
	bucketBy := d.BucketBy
	if bucketBy == "" {
		bucketBy = rules.DefaultBucketBy
	}
	return strings.Join(parts, " / ") + " by " + bucketBy
}

// DescribeClauses renders ANDed clauses in one cell.
func DescribeClauses(clauses []rules.Clause) string {
	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		s := fmt.Sprintf("%s %s [%s]", c.Attribute, c.Op, strings.Join(c.Values, ", "))
		if c.Op == rules.OpSegmentMatch {
			s = fmt.Sprintf("%s [%s]", c.Op, strings.Join(c.Values, ", "))
		}
		if c.Negate {
			s = "not " + s
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " and ")
}

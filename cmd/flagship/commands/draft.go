package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagrules/internal/cli"
	"github.com/TimurManjosov/flagrules/internal/editor"
	"github.com/TimurManjosov/flagrules/internal/rules"
	"github.com/TimurManjosov/flagrules/internal/validation"
)

type draftOptions struct {
	clauses    []string
	serve      string
	percentage bool
	ruleID     string
	remove     bool
}

// editDraft loads path, applies fn and writes the committed result back.
func editDraft(cmd *cobra.Command, path string, fn func(editor.Draft) (editor.Draft, error)) error {
	f, err := cli.ReadFeature(path)
	if err != nil {
		return err
	}
	d, err := fn(editor.NewDraft(f))
	if err != nil {
		return err
	}
	f.EnvProperties = d.Commit()
	if err := cli.WriteFeature(path, f); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", f.Identifier, statesOf(d))
	}
	return nil
}

func statesOf(d editor.Draft) []string {
	states := d.States()
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.String()
	}
	return out
}

func ruleIndex(d editor.Draft, ruleID string) (int, error) {
	for i, r := range d.Rules {
		if r.RuleID == ruleID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("rule %q not found", ruleID)
}

// serveFromFlags builds the serve selected by --serve or --percentage.
func (o *draftOptions) serveFromFlags(d editor.Draft, prior rules.Serve) (rules.Serve, error) {
	switch {
	case o.serve != "" && o.percentage:
		return rules.Serve{}, errors.New("--serve and --percentage are mutually exclusive")
	case o.serve != "":
		if _, ok := d.Feature.VariationByID(o.serve); !ok {
			return rules.Serve{}, fmt.Errorf("unknown variation %q", o.serve)
		}
		return rules.FixedServe(o.serve), nil
	case o.percentage:
		var dist *rules.Distribution
		if pd, ok := prior.Distribution(); ok {
			dist = &pd
		}
		return rules.PercentageServe(editor.InitialDistribution(d.Feature.Variations, dist)), nil
	default:
		return rules.Serve{}, errors.New("one of --serve or --percentage is required")
	}
}

func (o *draftOptions) addRule(cmd *cobra.Command, args []string) error {
	if len(o.clauses) == 0 {
		return errors.New("at least one --clause is required")
	}
	clauses := make([]rules.Clause, 0, len(o.clauses))
	for _, s := range o.clauses {
		c, err := cli.ParseClause(s)
		if err != nil {
			return err
		}
		clauses = append(clauses, c)
	}
	return editDraft(cmd, args[0], func(d editor.Draft) (editor.Draft, error) {
		serve, err := o.serveFromFlags(d, rules.Serve{})
		if err != nil {
			return d, err
		}
		return d.AddRule(clauses, serve), nil
	})
}

func removeRule(cmd *cobra.Command, args []string) error {
	return editDraft(cmd, args[0], func(d editor.Draft) (editor.Draft, error) {
		if _, err := ruleIndex(d, args[1]); err != nil {
			return d, err
		}
		return d.RemoveRule(args[1]), nil
	})
}

func moveRule(cmd *cobra.Command, args []string) error {
	from, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid position %q", args[1])
	}
	to, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid position %q", args[2])
	}
	return editDraft(cmd, args[0], func(d editor.Draft) (editor.Draft, error) {
		n := len(d.Rules)
		if from < 0 || from >= n || to < 0 || to >= n {
			return d, fmt.Errorf("positions must be between 0 and %d", n-1)
		}
		return d.MoveRule(from, to), nil
	})
}

func setOperator(cmd *cobra.Command, args []string) error {
	idx, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid clause index %q", args[2])
	}
	op := rules.Operator(args[3])
	if !op.IsValid() {
		return fmt.Errorf("unsupported operator %q", op)
	}
	return editDraft(cmd, args[0], func(d editor.Draft) (editor.Draft, error) {
		i, err := ruleIndex(d, args[1])
		if err != nil {
			return d, err
		}
		if idx < 0 || idx >= len(d.Rules[i].Clauses) {
			return d, fmt.Errorf("rule %q has no clause %d", args[1], idx)
		}
		return d.UpdateRule(args[1], func(r rules.Rule) rules.Rule {
			r.Clauses = editor.OnOperatorChange(r.Clauses, idx, op)
			return r
		}), nil
	})
}

func (o *draftOptions) setWeight(cmd *cobra.Command, args []string) error {
	weight, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid weight %q", args[2])
	}
	variation := args[1]

	reweigh := func(d editor.Draft, s rules.Serve) (rules.Serve, error) {
		if _, ok := d.Feature.VariationByID(variation); !ok {
			return s, fmt.Errorf("unknown variation %q", variation)
		}
		var prior *rules.Distribution
		if pd, ok := s.Distribution(); ok {
			prior = &pd
		}
		dist := editor.SetWeight(editor.InitialDistribution(d.Feature.Variations, prior), variation, weight)
		if editor.Overflow(dist) && !quiet {
			fmt.Fprintln(cmd.ErrOrStderr(), validation.MsgPercentageOverflow)
		}
		return rules.PercentageServe(dist), nil
	}

	return editDraft(cmd, args[0], func(d editor.Draft) (editor.Draft, error) {
		if o.ruleID == "" {
			s, err := reweigh(d, d.DefaultServe)
			if err != nil {
				return d, err
			}
			return d.SetDefaultServe(s), nil
		}
		i, err := ruleIndex(d, o.ruleID)
		if err != nil {
			return d, err
		}
		s, err := reweigh(d, d.Rules[i].Serve)
		if err != nil {
			return d, err
		}
		return d.UpdateRule(o.ruleID, func(r rules.Rule) rules.Rule {
			r.Serve = s
			return r
		}), nil
	})
}

func (o *draftOptions) setDefault(cmd *cobra.Command, args []string) error {
	return editDraft(cmd, args[0], func(d editor.Draft) (editor.Draft, error) {
		if o.percentage && o.serve == "" {
			return d.SetDefaultPercentage(), nil
		}
		s, err := o.serveFromFlags(d, d.DefaultServe)
		if err != nil {
			return d, err
		}
		return d.SetDefaultServe(s), nil
	})
}

func (o *draftOptions) assignTarget(cmd *cobra.Command, args []string) error {
	return editDraft(cmd, args[0], func(d editor.Draft) (editor.Draft, error) {
		if o.remove {
			return d.UnassignTarget(args[1]), nil
		}
		if len(args) != 3 {
			return d, errors.New("a variation is required unless --remove is set")
		}
		if _, ok := d.Feature.VariationByID(args[2]); !ok {
			return d, fmt.Errorf("unknown variation %q", args[2])
		}
		return d.AssignTarget(rules.Target{Identifier: args[1]}, args[2]), nil
	})
}

func validateDraft(cmd *cobra.Command, args []string) error {
	f, err := cli.ReadFeature(args[0])
	if err != nil {
		return err
	}
	result := validation.ValidateKey(f.Identifier)
	result.Merge(validation.ValidateEnvProperties(f))

	report := cli.Report{
		Valid:           result.Valid(),
		States:          statesOf(editor.NewDraft(f)),
		Issues:          result.Issues,
		IncompleteRules: result.IncompleteRules(),
	}
	if !quiet {
		p, err := printer(cmd)
		if err != nil {
			return err
		}
		if err := p.Validation(report); err != nil {
			return err
		}
	}
	if !report.Valid {
		return fmt.Errorf("%d validation issue(s)", len(report.Issues))
	}
	return nil
}

func newDraftCmd() *cobra.Command {
	o := &draftOptions{}

	draftCmd := &cobra.Command{
		Use:   "draft",
		Short: "Edit a feature file's rule-set offline",
		Long: `Edit the rule-set in a feature file written by 'flagship get --output'.

Each command loads the file, applies one edit, renumbers rule priorities in list
order and writes the file back. Nothing is sent to the service until push.`,
	}

	addRuleCmd := &cobra.Command{
		Use:   "add-rule <file>",
		Short: "Append a rule after all existing rules",
		Long: `Append a rule. Clauses are ANDed and written as "[not] <attribute> <op> <v1,v2>".

Examples:
  flagship draft add-rule dark_mode.yaml --clause "country in DE,AT" --serve on
  flagship draft add-rule dark_mode.yaml --clause "segmentMatch beta" --clause "not plan equal free" --percentage`,
		Args: cobra.ExactArgs(1),
		RunE: o.addRule,
	}
	addRuleCmd.Flags().StringArrayVar(&o.clauses, "clause", nil, `Clause as "[not] <attribute> <op> <v1,v2>" (repeatable)`)

	removeRuleCmd := &cobra.Command{
		Use:   "remove-rule <file> <rule-id>",
		Short: "Remove a rule",
		Args:  cobra.ExactArgs(2),
		RunE:  removeRule,
	}

	moveRuleCmd := &cobra.Command{
		Use:   "move-rule <file> <from> <to>",
		Short: "Move a rule to another position",
		Long: `Move the rule at position <from> to position <to> (0-based, evaluation order).

Example:
  flagship draft move-rule dark_mode.yaml 0 2`,
		Args: cobra.ExactArgs(3),
		RunE: moveRule,
	}

	setOperatorCmd := &cobra.Command{
		Use:   "set-operator <file> <rule-id> <clause-index> <operator>",
		Short: "Change a clause's operator",
		Long: `Change the operator of one clause. Switching from a multi-valued operator to a
single-valued one keeps only the first value.`,
		Args: cobra.ExactArgs(4),
		RunE: setOperator,
	}

	setWeightCmd := &cobra.Command{
		Use:   "set-weight <file> <variation> <weight>",
		Short: "Set one variation's percentage",
		Long: `Set a variation's weight in the default serve, or in a rule's serve with --rule.
A fixed serve is first turned into a percentage rollout. With two variations the
other one receives the complement; with more, a total above 100 is reported by
validate.

Examples:
  flagship draft set-weight dark_mode.yaml on 30
  flagship draft set-weight dark_mode.yaml blue 50 --rule <rule-id>`,
		Args: cobra.ExactArgs(3),
		RunE: o.setWeight,
	}
	setWeightCmd.Flags().StringVar(&o.ruleID, "rule", "", "Rule whose serve to change (default: the default serve)")

	setDefaultCmd := &cobra.Command{
		Use:   "set-default <file>",
		Short: "Set the default serve",
		Long: `Set what is served when no target or rule matches.

Examples:
  flagship draft set-default dark_mode.yaml --serve off
  flagship draft set-default dark_mode.yaml --percentage`,
		Args: cobra.ExactArgs(1),
		RunE: o.setDefault,
	}

	for _, c := range []*cobra.Command{addRuleCmd, setDefaultCmd} {
		c.Flags().StringVar(&o.serve, "serve", "", "Serve a fixed variation")
		c.Flags().BoolVar(&o.percentage, "percentage", false, "Serve a percentage rollout with even default weights")
	}

	assignTargetCmd := &cobra.Command{
		Use:   "assign-target <file> <target> [variation]",
		Short: "Serve a variation to an individual target",
		Long: `Map a target to a variation. A target is served by at most one variation, so
assigning it again moves it. --remove drops the mapping.

Examples:
  flagship draft assign-target dark_mode.yaml alice on
  flagship draft assign-target dark_mode.yaml alice --remove`,
		Args: cobra.RangeArgs(2, 3),
		RunE: o.assignTarget,
	}
	assignTargetCmd.Flags().BoolVar(&o.remove, "remove", false, "Remove the target's mapping")

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a feature file",
		Long: `Validate the rule-set in a feature file and list every issue by field. Exits
non-zero when the rule-set cannot be saved.`,
		Args: cobra.ExactArgs(1),
		RunE: validateDraft,
	}

	draftCmd.AddCommand(addRuleCmd, removeRuleCmd, moveRuleCmd, setOperatorCmd,
		setWeightCmd, setDefaultCmd, assignTargetCmd, validateCmd)
	return draftCmd
}

func init() {
	rootCmd.AddCommand(newDraftCmd())
}

package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagrules/internal/cli"
)

var (
	evalTarget string
	evalName   string
	evalAttrs  []string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [feature]",
	Short: "Evaluate features for a target",
	Long: `Ask the service which variation a target receives, and why.

Without a feature argument every feature in the snapshot is evaluated.

Examples:
  flagship evaluate dark_mode --target user-1 --attr plan=pro --attr country=DE
  flagship evaluate --target user-1 --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if evalTarget == "" {
			return errors.New("--target is required")
		}
		target, err := cli.ParseTarget(evalTarget, evalName, evalAttrs)
		if err != nil {
			return err
		}

		c, _, err := newClient()
		if err != nil {
			return err
		}

		var feature string
		if len(args) == 1 {
			feature = args[0]
		}
		results, err := c.Evaluate(cmd.Context(), feature, target)
		if err != nil {
			return fmt.Errorf("failed to evaluate: %w", err)
		}

		if quiet {
			return nil
		}
		p, err := printer(cmd)
		if err != nil {
			return err
		}
		return p.Results(results)
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evalTarget, "target", "", "Target identifier")
	evaluateCmd.Flags().StringVar(&evalName, "name", "", "Target display name")
	evaluateCmd.Flags().StringArrayVar(&evalAttrs, "attr", nil, "Target attribute as key=value (repeatable)")
}

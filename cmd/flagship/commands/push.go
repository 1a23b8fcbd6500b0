package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagrules/internal/cli"
)

var pushRulesOnly bool

var pushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Send a feature file to the service",
	Long: `Send a feature file to the service.

By default the whole feature definition is created or replaced. With --rules-only
only the rule-set is saved, guarded by the version recorded in the file: if someone
else saved in between, the push is rejected and nothing is overwritten.

Examples:
  flagship push dark_mode.yaml --env prod
  flagship push dark_mode.yaml --env prod --rules-only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := cli.ReadFeature(args[0])
		if err != nil {
			return err
		}

		c, effectiveEnv, err := newClient()
		if err != nil {
			return err
		}
		if f.EnvProperties.Environment == "" {
			f.EnvProperties.Environment = effectiveEnv
		}

		if pushRulesOnly {
			saved, err := c.SaveRules(cmd.Context(), f.Identifier, effectiveEnv, f.EnvProperties)
			if err != nil {
				return explainAPIError(cmd, fmt.Errorf("failed to save rules: %w", err))
			}
			f.EnvProperties = *saved
			if err := cli.WriteFeature(args[0], f); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Saved rules for '%s' (version %d)\n", f.Identifier, saved.Version)
			}
			return nil
		}

		saved, err := c.UpsertFeature(cmd.Context(), f)
		if err != nil {
			return explainAPIError(cmd, fmt.Errorf("failed to push feature: %w", err))
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed feature '%s' to environment '%s' (version %d)\n",
				saved.Identifier, saved.EnvProperties.Environment, saved.EnvProperties.Version)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().BoolVar(&pushRulesOnly, "rules-only", false, "Save only the rule-set, checking the file's version")
}

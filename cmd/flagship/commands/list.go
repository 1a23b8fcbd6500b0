package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

var (
	listEnabledOnly bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all features",
	Long: `List all features in the specified environment.

Examples:
  flagship list --env prod
  flagship list --env prod --format json
  flagship list --env prod --enabled-only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, effectiveEnv, err := newClient()
		if err != nil {
			return err
		}

		features, err := c.ListFeatures(cmd.Context(), effectiveEnv)
		if err != nil {
			return fmt.Errorf("failed to list features: %w", err)
		}

		if listEnabledOnly {
			var on []rules.Feature
			for _, f := range features {
				if f.EnvProperties.State == rules.StateOn {
					on = append(on, f)
				}
			}
			features = on
		}

		if quiet {
			return nil
		}
		if len(features) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No features found")
			return nil
		}
		p, err := printer(cmd)
		if err != nil {
			return err
		}
		return p.Features(features)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listEnabledOnly, "enabled-only", false, "Show only features that are on")
}

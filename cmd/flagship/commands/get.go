package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagrules/internal/cli"
)

var getOutput string

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a feature and its rule-set",
	Long: `Get a feature with its rule-set. Rules are listed in evaluation order.

With --output the feature is written to a file that the draft commands can edit and
push can send back.

Examples:
  flagship get dark_mode --env prod
  flagship get dark_mode --env prod --format json
  flagship get dark_mode --env prod --output dark_mode.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, effectiveEnv, err := newClient()
		if err != nil {
			return err
		}

		f, err := c.GetFeature(cmd.Context(), args[0], effectiveEnv)
		if err != nil {
			return fmt.Errorf("failed to get feature: %w", err)
		}

		if getOutput != "" {
			if err := cli.WriteFeature(getOutput, *f); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (version %d) to %s\n", f.Identifier, f.EnvProperties.Version, getOutput)
			}
			return nil
		}

		if quiet {
			return nil
		}
		p, err := printer(cmd)
		if err != nil {
			return err
		}
		return p.Feature(*f)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "Write the feature to a YAML or JSON file")
}

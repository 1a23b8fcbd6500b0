package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagrules/internal/cli"
	"github.com/TimurManjosov/flagrules/internal/validation"
)

var (
	importDryRun bool
	importForce  bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import features from a file",
	Long: `Import features from a YAML or JSON file written by export.

Every feature is validated locally first; --dry-run stops after that.

Examples:
  flagship import features.yaml --env prod
  flagship import features.yaml --env staging --dry-run
  flagship import features.yaml --env prod --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		importData, err := cli.ReadFeatureFile(args[0])
		if err != nil {
			return err
		}
		if len(importData.Features) == 0 {
			return errors.New("no features found in file")
		}

		out := cmd.OutOrStdout()
		if verbose {
			fmt.Fprintf(out, "Found %d feature(s) to import\n", len(importData.Features))
		}

		if importDryRun {
			fmt.Fprintln(out, "Dry run mode - the following features would be imported:")
			invalid := 0
			for _, f := range importData.Features {
				result := validation.ValidateKey(f.Identifier)
				result.Merge(validation.ValidateEnvProperties(f))
				status := "ok"
				if !result.Valid() {
					invalid++
					status = fmt.Sprintf("%d issue(s)", len(result.Issues))
				}
				fmt.Fprintf(out, "  - %s (state: %s, rules: %d, default: %s) %s\n",
					f.Identifier, f.EnvProperties.State, len(f.EnvProperties.Rules),
					cli.DescribeServe(f.EnvProperties.DefaultServe), status)
			}
			if invalid > 0 {
				return fmt.Errorf("%d feature(s) failed validation", invalid)
			}
			return nil
		}

		c, effectiveEnv, err := newClient()
		if err != nil {
			return err
		}

		successCount := 0
		errorCount := 0
		for _, f := range importData.Features {
			// --env overrides the environment recorded in the file
			f.EnvProperties.Environment = effectiveEnv

			if verbose {
				fmt.Fprintf(out, "Importing feature: %s\n", f.Identifier)
			}

			if _, err := c.UpsertFeature(cmd.Context(), f); err != nil {
				errorCount++
				fmt.Fprintf(cmd.ErrOrStderr(), "Failed to import feature '%s': %v\n", f.Identifier, err)
				if !importForce {
					return errors.New("import failed, use --force to continue on errors")
				}
				continue
			}
			successCount++
		}

		if !quiet {
			fmt.Fprintf(out, "Import complete: %d succeeded, %d failed\n", successCount, errorCount)
		}
		if errorCount > 0 && !importForce {
			return errors.New("import completed with errors")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate without importing")
	importCmd.Flags().BoolVar(&importForce, "force", false, "Continue on errors")
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagrules/internal/cli"
	"github.com/TimurManjosov/flagrules/internal/client"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flagship",
	Short: "CLI tool for managing feature flag rule-sets",
	Long: `Flagship is a command-line tool for managing feature flags and their targeting
rules in a flagrules service.

Rule-sets are edited offline as YAML files with the draft commands and pushed with
optimistic versioning, so a concurrent change is reported instead of overwritten.

Examples:
  flagship list --env prod
  flagship get dark_mode --env prod --output dark_mode.yaml
  flagship draft add-rule dark_mode.yaml --clause "country in DE,AT" --serve on
  flagship push dark_mode.yaml --rules-only --env prod
  flagship evaluate dark_mode --target user-1 --attr plan=pro --env prod`,
	SilenceUsage: true,
}

// Execute runs the root command. Interrupts cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the flagrules API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment (dev, staging, prod)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

// newClient resolves credentials and returns a client plus the effective environment.
func newClient() (*client.Client, string, error) {
	envCfg, effectiveEnv, err := cli.GetEnvConfig(env, baseURL, apiKey)
	if err != nil {
		return nil, "", fmt.Errorf("configuration error: %w", err)
	}
	return client.NewClient(envCfg.BaseURL, envCfg.APIKey), effectiveEnv, nil
}

func printer(cmd *cobra.Command) (*cli.Printer, error) {
	f, err := cli.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return cli.NewPrinter(cmd.OutOrStdout(), f), nil
}

// explainAPIError prints validation issues carried by a 422 and adds a hint to a 409.
func explainAPIError(cmd *cobra.Command, err error) error {
	if errors.Is(err, client.ErrConflict) {
		return fmt.Errorf("%w: fetch the feature again with 'flagship get --output' and re-apply your edits", err)
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && len(apiErr.Issues) > 0 {
		p := cli.NewPrinter(cmd.ErrOrStderr(), cli.FormatTable)
		_ = p.Validation(cli.Report{Issues: apiErr.Issues, IncompleteRules: apiErr.IncompleteRules})
	}
	return err
}

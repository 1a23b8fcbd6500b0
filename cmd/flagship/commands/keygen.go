package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagrules/internal/auth"
	"github.com/TimurManjosov/flagrules/internal/webhook"
)

func newKeygenCmd() *cobra.Command {
	var withWebhookSecret bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key and its bcrypt hash",
		Long: `Generate a random API key together with the bcrypt hash the server accepts in
ADMIN_API_KEY_HASH, so the plain key never has to be stored on the server.

With --webhook-secret a signing secret for WEBHOOK_SECRET is printed as well.

Example:
  flagship keygen
  flagship keygen --webhook-secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := auth.GenerateAPIKey()
			if err != nil {
				return err
			}
			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:  %s\n", key)
			fmt.Fprintf(out, "hash: %s\n", hash)

			if withWebhookSecret {
				secret, err := webhook.NewSecret()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "webhook secret: %s\n", secret)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withWebhookSecret, "webhook-secret", false, "Also generate a webhook signing secret")
	return cmd
}

func init() {
	rootCmd.AddCommand(newKeygenCmd())
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagrules/internal/webhook"
)

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Work with webhook deliveries",
	}
	cmd.AddCommand(newWebhookListenCmd())
	return cmd
}

func newWebhookListenCmd() *cobra.Command {
	var addr, secret string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive webhook deliveries and print them",
		Long: `Start a local endpoint that verifies each delivery's signature and prints one
line per event. Point WEBHOOK_URLS at it to watch rule changes as they are saved.

Example:
  flagship webhook listen --addr :9000 --secret whsec_...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("WEBHOOK_SECRET")
			}
			if secret == "" {
				return errors.New("a signing secret is required (--secret or WEBHOOK_SECRET)")
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           newWebhookPrinter(cmd.OutOrStdout(), secret),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s\n", addr)

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9000", "Address to listen on")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to WEBHOOK_SECRET)")
	return cmd
}

// newWebhookPrinter verifies deliveries and writes one line per event to out.
func newWebhookPrinter(out io.Writer, secret string) *webhook.Receiver {
	return &webhook.Receiver{
		Secret: secret,
		Handle: func(_ context.Context, delivery string, e webhook.Event) error {
			line := fmt.Sprintf("%s %s %s/%s", e.Timestamp.Format(time.RFC3339), e.Type, e.Resource.Type, e.Resource.Key)
			if e.Environment != "" {
				line += " env=" + e.Environment
			}
			if e.Data.Version > 0 {
				line += fmt.Sprintf(" version=%d", e.Data.Version)
			}
			if e.Metadata.Actor != "" {
				line += " actor=" + e.Metadata.Actor
			}
			_, err := fmt.Fprintf(out, "%s delivery=%s\n", line, delivery)
			return err
		},
	}
}

func init() {
	rootCmd.AddCommand(newWebhookCmd())
}

package webhook

import (
	"fmt"

	"github.com/felixgeelhaar/tollgate/adapter/cli"
	"github.com/felixgeelhaar/tollgate/internal/purchases/infrastructure/stripe"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/security"
	"github.com/spf13/cobra"
)

var (
	eventFile string
	signature string
	provider  string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Push a stored webhook delivery through reconciliation",
	Long: `Replay a webhook body exactly as the processor sent it. The signature
is verified and deduplication applies, so replaying an event that was
already processed reports the stored outcome and changes nothing.

Examples:
  tollgate webhook replay --event evt.json --signature "t=1700000000,v1=..."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Webhooks == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}

		payload, err := security.SafeReadFile(eventFile)
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		result, err := app.Webhooks.Handle(cmd.Context(), provider, payload, signature)
		if err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Event %s (%s): %s\n", result.EventID, result.EventType, result.Outcome)
		if result.PaymentReference != "" {
			fmt.Fprintf(out, "   Reference: %s\n", result.PaymentReference)
		}
		if result.Detail != "" {
			fmt.Fprintf(out, "   Detail:    %s\n", result.Detail)
		}
		if result.Replayed {
			fmt.Fprintln(out, "   Already processed; nothing changed.")
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&eventFile, "event", "", "file holding the raw webhook body")
	replayCmd.Flags().StringVar(&signature, "signature", "", "signature header sent with the body")
	replayCmd.Flags().StringVar(&provider, "provider", stripe.ProviderName, "payment processor")
	_ = replayCmd.MarkFlagRequired("event")
	_ = replayCmd.MarkFlagRequired("signature")
}

package webhook

import (
	"github.com/spf13/cobra"
)

// Cmd is the webhook command group
var Cmd = &cobra.Command{
	Use:   "webhook",
	Short: "Operate on payment processor webhooks",
}

func init() {
	Cmd.AddCommand(replayCmd)
}

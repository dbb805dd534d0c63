package ledger

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/tollgate/adapter/cli"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:     "history <user-id>",
	Short:   "List every purchase attempt of a user",
	Aliases: []string{"ls"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Ledger == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}

		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		records, err := app.Ledger.ListByUser(cmd.Context(), userID)
		if err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No purchases found.")
			return nil
		}

		fmt.Fprintf(out, "Purchases (%d):\n", len(records))
		fmt.Fprintln(out, strings.Repeat("-", 60))
		for _, rec := range records {
			printRecord(out, rec)
			fmt.Fprintln(out)
		}
		return nil
	},
}

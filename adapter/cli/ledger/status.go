package ledger

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/tollgate/adapter/cli"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <user-id> <content-id>",
	Short: "Show the dominant purchase for a user and content",
	Long: `Show the record that decides access for a user and content item.
A completed record wins over pending, pending over refunded, refunded over failed.

Examples:
  tollgate ledger status 6f1c...e2 a1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Ledger == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}

		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		rec, err := app.Ledger.Current(cmd.Context(), userID, args[1])
		if errors.Is(err, purchaseDomain.ErrPurchaseNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "No purchase found.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}

		printRecord(cmd.OutOrStdout(), *rec)
		return nil
	},
}

package ledger

import (
	"fmt"
	"io"
	"time"

	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Cmd is the ledger command group
var Cmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the purchase ledger",
	Long:  `Show the dominant purchase status for a user and content item, or a user's full purchase history.`,
}

func init() {
	Cmd.AddCommand(statusCmd)
	Cmd.AddCommand(historyCmd)
}

func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q: %w", raw, err)
	}
	return id, nil
}

func printRecord(out io.Writer, rec purchaseDomain.Record) {
	fmt.Fprintf(out, "%s %s  %s\n", statusIcon(rec.Status), rec.ContentID, rec.Amount)
	fmt.Fprintf(out, "   Status:    %s\n", rec.Status)
	fmt.Fprintf(out, "   Reference: %s\n", rec.PaymentReference)
	fmt.Fprintf(out, "   Created:   %s\n", rec.CreatedAt.Format(time.RFC3339))
	if rec.CompletedAt != nil {
		fmt.Fprintf(out, "   Completed: %s\n", rec.CompletedAt.Format(time.RFC3339))
	}
	if rec.RefundedAt != nil {
		fmt.Fprintf(out, "   Refunded:  %s\n", rec.RefundedAt.Format(time.RFC3339))
	}
	if rec.FailureReason != "" {
		fmt.Fprintf(out, "   Reason:    %s\n", rec.FailureReason)
	}
}

func statusIcon(status purchaseDomain.Status) string {
	switch status {
	case purchaseDomain.StatusCompleted:
		return "[x]"
	case purchaseDomain.StatusPending:
		return "[>]"
	case purchaseDomain.StatusRefunded:
		return "[<]"
	default:
		return "[-]"
	}
}

package access

import (
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/tollgate/adapter/cli"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const anonymousUser = "anonymous"

var checkCmd = &cobra.Command{
	Use:   "check <user-id|anonymous> <content-id|slug>",
	Short: "Resolve one access verdict",
	Long: `Resolve the verdict the API would return for a user and content item.
The user must have called the API at least once so their email is known.

Examples:
  tollgate access check anonymous welcome
  tollgate access check 6f1c...e2 go-course`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Access == nil || app.Users == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}
		ctx := cmd.Context()

		identity := identityDomain.Anonymous
		if !strings.EqualFold(args[0], anonymousUser) {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			identity, err = app.Users.Lookup(ctx, userID)
			if errors.Is(err, identityDomain.ErrUserNotFound) {
				return fmt.Errorf("user %s has not been seen yet", userID)
			}
			if err != nil {
				return fmt.Errorf("failed to look up user: %w", err)
			}
		}

		verdict, desc, err := app.Access.ResolveContent(ctx, identity, args[1])
		if err != nil {
			return fmt.Errorf("failed to resolve access: %w", err)
		}

		out := cmd.OutOrStdout()
		decision := "DENIED"
		if verdict.Granted {
			decision = "GRANTED"
		}
		fmt.Fprintf(out, "%s %s (%s, %s)\n", decision, desc.ID, desc.Kind, desc.Tier)
		fmt.Fprintf(out, "   Reason: %s\n", verdict.Reason)
		if !verdict.Granted {
			fmt.Fprintf(out, "   Next:   %s\n", verdict.NextAction)
		}
		if verdict.Degraded {
			fmt.Fprintln(out, "   A collaborator was unreachable; retry later.")
		}
		return nil
	},
}

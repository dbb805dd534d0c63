package access

import (
	"github.com/spf13/cobra"
)

// Cmd is the access command group
var Cmd = &cobra.Command{
	Use:   "access",
	Short: "Resolve access verdicts",
	Long:  `Resolve what a known user, or an anonymous visitor, may do with a content item.`,
}

func init() {
	Cmd.AddCommand(checkCmd)
}

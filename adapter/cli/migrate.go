package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Migrations run whenever tollgate opens its database. This command
opens it and lists the migration files now applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Schema up to date (%s, %d migrations)\n", app.Driver, len(app.Migrations))
		if Verbose() {
			for _, name := range app.Migrations {
				fmt.Fprintf(out, "  %s\n", name)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

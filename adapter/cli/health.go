package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check backing services",
	Long:  `Run the same health checks the API serves on /health and print one line per component.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Health == nil {
			return fmt.Errorf("app not initialized")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		health := app.Health.GetOverallHealth(ctx)

		names := make([]string, 0, len(health.Checks))
		for name := range health.Checks {
			names = append(names, name)
		}
		sort.Strings(names)

		out := cmd.OutOrStdout()
		for _, name := range names {
			check := health.Checks[name]
			line := fmt.Sprintf("%-10s %s", name, check.Status)
			if check.Message != "" {
				line += "  " + check.Message
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "overall    %s\n", health.Status)

		if health.Status == observability.HealthStatusUnhealthy {
			return fmt.Errorf("unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

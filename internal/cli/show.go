package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/app"
)

var (
	showLimit    int
	showTriggers bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price observations or trigger events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Triggers: showTriggers,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showTriggers, "triggers", false, "Show trigger events instead of price observations")
}

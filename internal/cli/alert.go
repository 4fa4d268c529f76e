package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/app"
)

var (
	alertOwner      string
	alertSymbol     string
	alertKind       string
	alertComparison string
	alertThreshold  string
	alertDuration   int
	alertDeleteID   int64
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage alert rules",
}

var alertAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new alert rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertOwner == "" || alertSymbol == "" || alertThreshold == "" {
			return fmt.Errorf("--owner, --symbol and --threshold are required")
		}

		return getApp().AddAlert(cmd.Context(), app.AddAlertOptions{
			Owner:           alertOwner,
			Symbol:          alertSymbol,
			Kind:            alertKind,
			Comparison:      alertComparison,
			Threshold:       alertThreshold,
			DurationMinutes: alertDuration,
		})
	},
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active alert rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context())
	},
}

var alertDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete an alert rule and its trigger history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertDeleteID <= 0 {
			return fmt.Errorf("--rule must be a positive rule id")
		}
		return getApp().DeleteAlert(cmd.Context(), alertDeleteID)
	},
}

func init() {
	alertAddCmd.Flags().StringVar(&alertOwner, "owner", "", "Owner email address to notify")
	alertAddCmd.Flags().StringVar(&alertSymbol, "symbol", "", "Instrument symbol the rule watches")
	alertAddCmd.Flags().StringVar(&alertKind, "kind", "threshold", "Rule kind: threshold or duration")
	alertAddCmd.Flags().StringVar(&alertComparison, "comparison", "above", "Comparison: above or below")
	alertAddCmd.Flags().StringVar(&alertThreshold, "threshold", "", "Threshold price")
	alertAddCmd.Flags().IntVar(&alertDuration, "duration", 0, "Hold duration in minutes (duration rules only)")

	alertDeleteCmd.Flags().Int64Var(&alertDeleteID, "rule", 0, "Alert rule id to delete")

	alertCmd.AddCommand(alertAddCmd)
	alertCmd.AddCommand(alertListCmd)
	alertCmd.AddCommand(alertDeleteCmd)
}

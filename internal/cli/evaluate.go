package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var evaluateRuleID int64

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one alert rule against the latest price now",
	RunE: func(cmd *cobra.Command, args []string) error {
		if evaluateRuleID <= 0 {
			return fmt.Errorf("--rule must be a positive rule id")
		}
		return getApp().EvaluateOne(cmd.Context(), evaluateRuleID)
	},
}

func init() {
	evaluateCmd.Flags().Int64Var(&evaluateRuleID, "rule", 0, "Alert rule id to evaluate")
}

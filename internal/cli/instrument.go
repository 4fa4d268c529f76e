package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var instrumentSymbol string

var instrumentCmd = &cobra.Command{
	Use:   "instrument",
	Short: "Manage monitored instruments",
}

var instrumentEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Resume fetching for an instrument",
	RunE: func(cmd *cobra.Command, args []string) error {
		if instrumentSymbol == "" {
			return fmt.Errorf("--symbol is required")
		}
		return getApp().SetInstrumentActive(cmd.Context(), instrumentSymbol, true)
	},
}

var instrumentDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop fetching for an instrument without deleting its history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if instrumentSymbol == "" {
			return fmt.Errorf("--symbol is required")
		}
		return getApp().SetInstrumentActive(cmd.Context(), instrumentSymbol, false)
	},
}

var instrumentQuotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's outbound API call count",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowQuota(cmd.Context())
	},
}

func init() {
	instrumentCmd.PersistentFlags().StringVar(&instrumentSymbol, "symbol", "", "Instrument symbol")

	instrumentCmd.AddCommand(instrumentEnableCmd)
	instrumentCmd.AddCommand(instrumentDisableCmd)
	instrumentCmd.AddCommand(instrumentQuotaCmd)
}

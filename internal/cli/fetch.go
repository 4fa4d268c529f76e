package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fetchSymbol string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the current price for one instrument now",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fetchSymbol == "" {
			return fmt.Errorf("--symbol is required")
		}
		return getApp().FetchOne(cmd.Context(), fetchSymbol)
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchSymbol, "symbol", "", "Instrument symbol to refresh")
}

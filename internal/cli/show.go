package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vesu-liquidator/internal/app"
)

var (
	showLimit  int
	showPrices bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display tracked positions and recent liquidations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:      showLimit,
			WithPrices: showPrices,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of liquidations to display")
	showCmd.Flags().BoolVar(&showPrices, "prices", false, "Fetch oracle prices and show current LTV")
}

package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"vesu-liquidator/internal/app"
)

var (
	simulateCollateralAsset string
	simulateDebtAsset       string
	simulateCollateral      string
	simulateDebt            string
	simulateFactor          string
	simulateFees            string
	simulateMode            string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Compute the profitability of a hypothetical liquidation",
	RunE: func(cmd *cobra.Command, args []string) error {
		values := map[string]string{
			"collateral": simulateCollateral,
			"debt":       simulateDebt,
			"factor":     simulateFactor,
			"fees":       simulateFees,
		}
		parsed := make(map[string]decimal.Decimal, len(values))
		for flag, raw := range values {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("invalid --%s value: %w", flag, err)
			}
			parsed[flag] = d
		}

		_, err := getApp().Simulate(cmd.Context(), app.SimulateOptions{
			CollateralAsset: simulateCollateralAsset,
			DebtAsset:       simulateDebtAsset,
			Collateral:      parsed["collateral"],
			Debt:            parsed["debt"],
			Factor:          parsed["factor"],
			Fees:            parsed["fees"],
			Mode:            simulateMode,
		})
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCollateralAsset, "collateral-asset", "ETH", "Collateral asset name")
	simulateCmd.Flags().StringVar(&simulateDebtAsset, "debt-asset", "USDC", "Debt asset name")
	simulateCmd.Flags().StringVar(&simulateCollateral, "collateral", "0", "Liquidable collateral amount")
	simulateCmd.Flags().StringVar(&simulateDebt, "debt", "0", "Liquidable debt amount")
	simulateCmd.Flags().StringVar(&simulateFactor, "factor", "0", "Liquidation factor in [0,1]")
	simulateCmd.Flags().StringVar(&simulateFees, "fees", "0", "Estimated execution fees")
	simulateCmd.Flags().StringVar(&simulateMode, "mode", "", "Liquidation mode override (full|partial)")
}
